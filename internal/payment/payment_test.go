package payment_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avstrong/bnb/internal/availability"
	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/identity"
	"github.com/avstrong/bnb/internal/idgen/simple"
	"github.com/avstrong/bnb/internal/logger"
	"github.com/avstrong/bnb/internal/payment"
	"github.com/avstrong/bnb/internal/pricing"
	"github.com/avstrong/bnb/internal/storage/memory"
)

type fixture struct {
	db       *memory.DB
	index    *availability.Index
	ledger   *booking.Ledger
	checkout *payment.Checkout
	room     *booking.Room
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{db: memory.New(memory.Config{L: logger.Nop()})}
	f.index = availability.New(logger.Nop(), f.db, nil)
	f.ledger = booking.New(logger.Nop(), f.db, f.index, simple.New("b-"), booking.WithClock(func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}))
	f.checkout = payment.NewCheckout(logger.Nop(), f.ledger, payment.NewSandbox(), "USD")

	f.room = &booking.Room{
		ID:       "r1",
		Name:     "Deluxe King",
		Capacity: 2,
		Pricing:  pricing.Pricing{BasePrice: pricing.FromFloat(200), WeekendPrice: pricing.FromFloat(230)},
		IsActive: true,
	}
	require.NoError(t, f.db.SaveRoom(context.Background(), f.room))

	return f
}

func ctx() context.Context {
	return identity.WithPrincipal(context.Background(), identity.Principal{ID: "u1", Role: identity.RoleGuest})
}

func (f *fixture) book(t *testing.T) *booking.Booking {
	t.Helper()

	b, err := f.ledger.CreateBooking(ctx(), &booking.CreateInput{
		RoomID:   "r1",
		Guest:    booking.GuestInfo{Name: "Jane", Email: "jane@example.com", Phone: "555-0100"},
		CheckIn:  time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC),
		CheckOut: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
		Guests:   1,
	})
	require.NoError(t, err)

	return b
}

func TestPayConfirmsBooking(t *testing.T) {
	f := newFixture(t)
	b := f.book(t)

	paid, err := f.checkout.Pay(ctx(), b.ID, booking.PaymentStripe, "4242 4242 4242 4242")
	require.NoError(t, err)

	assert.Equal(t, booking.StatusConfirmed, paid.Status)
	assert.Equal(t, booking.PaymentCompleted, paid.Payment.Status)
	assert.Equal(t, booking.PaymentStripe, paid.Payment.Method)
	assert.NotEmpty(t, paid.Payment.TransactionID)

	_, err = f.checkout.Pay(ctx(), b.ID, booking.PaymentStripe, "4242 4242 4242 4242")
	require.ErrorIs(t, err, payment.ErrAlreadyPaid)
}

func TestDeclinedCardLeavesBookingPending(t *testing.T) {
	f := newFixture(t)
	b := f.book(t)

	_, err := f.checkout.Pay(ctx(), b.ID, booking.PaymentStripe, payment.DeclinedCard)
	require.ErrorIs(t, err, payment.ErrDeclined)

	stored, err := f.ledger.GetBooking(ctx(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, stored.Status)
	assert.Equal(t, booking.PaymentPending, stored.Payment.Status)
}

func TestPayPal(t *testing.T) {
	f := newFixture(t)
	b := f.book(t)

	_, err := f.checkout.Pay(ctx(), b.ID, booking.PaymentPayPal, "not-an-email")
	require.ErrorIs(t, err, payment.ErrInvalidSource)

	paid, err := f.checkout.Pay(ctx(), b.ID, booking.PaymentPayPal, "jane@example.com")
	require.NoError(t, err)
	assert.Contains(t, paid.Payment.TransactionID, "PAYID-")
}

func TestPayCancelledBooking(t *testing.T) {
	f := newFixture(t)
	b := f.book(t)

	_, err := f.ledger.Cancel(ctx(), b.ID, "")
	require.NoError(t, err)

	_, err = f.checkout.Pay(ctx(), b.ID, booking.PaymentStripe, "4242424242424242")
	require.NotNil(t, booking.IsInvalidTransitionError(err))
}

func TestCancelRefundsPaidBooking(t *testing.T) {
	f := newFixture(t)
	b := f.book(t)

	_, err := f.checkout.Pay(ctx(), b.ID, booking.PaymentStripe, "4242424242424242")
	require.NoError(t, err)

	cancelled, err := f.checkout.Cancel(ctx(), b.ID, "change of plans")
	require.NoError(t, err)

	assert.Equal(t, booking.StatusCancelled, cancelled.Status)
	assert.Equal(t, booking.PaymentRefunded, cancelled.Payment.Status)

	free, err := f.index.IsRangeFree(context.Background(), "r1", b.CheckIn, b.CheckOut)
	require.NoError(t, err)
	assert.True(t, free)
}

func TestSandboxRefundUnknown(t *testing.T) {
	_, err := payment.NewSandbox().Refund(context.Background(), "ch_missing")
	require.ErrorIs(t, err, payment.ErrUnknownTransaction)
}

func TestReceiptIsPDF(t *testing.T) {
	f := newFixture(t)
	b := f.book(t)

	doc, err := payment.Receipt(b, f.room, "USD")
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF-")))
}

// gatedProcessor lets every Capture through only once gate is closed.
type gatedProcessor struct {
	*payment.Sandbox
	gate    chan struct{}
	entered chan struct{}

	mu       sync.Mutex
	captured []string
	refunded []string
}

func newGatedProcessor() *gatedProcessor {
	return &gatedProcessor{
		Sandbox: payment.NewSandbox(),
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 8),
	}
}

func (g *gatedProcessor) Capture(ctx context.Context, charge payment.Charge) (payment.Result, error) {
	g.entered <- struct{}{}
	<-g.gate

	res, err := g.Sandbox.Capture(ctx, charge)
	if err == nil {
		g.mu.Lock()
		g.captured = append(g.captured, res.TransactionID)
		g.mu.Unlock()
	}

	return res, err
}

func (g *gatedProcessor) Refund(ctx context.Context, transactionID string) (payment.Result, error) {
	g.mu.Lock()
	g.refunded = append(g.refunded, transactionID)
	g.mu.Unlock()

	return g.Sandbox.Refund(ctx, transactionID)
}

func TestConcurrentPayCapturesOnce(t *testing.T) {
	f := newFixture(t)
	b := f.book(t)
	proc := newGatedProcessor()
	checkout := payment.NewCheckout(logger.Nop(), f.ledger, proc, "USD")

	var (
		wg       sync.WaitGroup
		firstErr error
		paid     *booking.Booking
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		paid, firstErr = checkout.Pay(ctx(), b.ID, booking.PaymentStripe, "4242424242424242")
	}()

	<-proc.entered

	_, err := checkout.Pay(ctx(), b.ID, booking.PaymentStripe, "4242424242424242")
	require.ErrorIs(t, err, payment.ErrPaymentInProgress)

	close(proc.gate)
	wg.Wait()

	require.NoError(t, firstErr)
	assert.Equal(t, booking.StatusConfirmed, paid.Status)
	assert.Len(t, proc.captured, 1)
	assert.Empty(t, proc.refunded)
}

func TestRacingCheckoutsKeepWinnerPayment(t *testing.T) {
	f := newFixture(t)
	b := f.book(t)
	proc := newGatedProcessor()

	// Two checkouts over one ledger behave like two API instances.
	checkouts := []*payment.Checkout{
		payment.NewCheckout(logger.Nop(), f.ledger, proc, "USD"),
		payment.NewCheckout(logger.Nop(), f.ledger, proc, "USD"),
	}

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(checkouts))
	)

	for i, c := range checkouts {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = c.Pay(ctx(), b.ID, booking.PaymentStripe, "4242424242424242")
		}()
	}

	<-proc.entered
	<-proc.entered
	close(proc.gate)
	wg.Wait()

	var ok, alreadyPaid int

	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, payment.ErrAlreadyPaid):
			alreadyPaid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, alreadyPaid)
	require.Len(t, proc.captured, 2)
	require.Len(t, proc.refunded, 1)

	stored, err := f.ledger.GetBooking(ctx(), b.ID)
	require.NoError(t, err)

	assert.Equal(t, booking.StatusConfirmed, stored.Status)
	assert.Equal(t, booking.PaymentCompleted, stored.Payment.Status)
	assert.NotEqual(t, proc.refunded[0], stored.Payment.TransactionID)
	assert.Contains(t, proc.captured, stored.Payment.TransactionID)
}
