package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/logger"
)

var (
	ErrAlreadyPaid       = booking.ErrAlreadyPaid
	ErrPaymentInProgress = errors.New("payment already in progress")
)

type ledger interface {
	GetBooking(ctx context.Context, id string) (*booking.Booking, error)
	ConfirmPayment(ctx context.Context, id string, payment booking.Payment) (*booking.Booking, error)
	RecordPayment(ctx context.Context, id string, payment booking.Payment) (*booking.Booking, error)
	Cancel(ctx context.Context, id, reason string) (*booking.Booking, error)
}

// Checkout ties captures and refunds to the booking lifecycle.
type Checkout struct {
	l         *logger.Logger
	ledger    ledger
	processor Processor
	currency  string

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewCheckout(l *logger.Logger, ledger ledger, processor Processor, currency string) *Checkout {
	//nolint:exhaustruct
	return &Checkout{
		l:         l,
		ledger:    ledger,
		processor: processor,
		currency:  currency,
		inFlight:  make(map[string]struct{}),
	}
}

// claim marks a payment of bookingID as running. Only one capture per booking runs
// at a time in this process; the ledger settles races between processes.
func (c *Checkout) claim(bookingID string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.inFlight[bookingID]; busy {
		return nil, fmt.Errorf("pay booking %s: %w", bookingID, ErrPaymentInProgress)
	}

	c.inFlight[bookingID] = struct{}{}

	return func() {
		c.mu.Lock()
		delete(c.inFlight, bookingID)
		c.mu.Unlock()
	}, nil
}

// Pay captures the booking total, then records the payment and confirms the
// booking in one step. A capture that cannot be recorded is refunded.
func (c *Checkout) Pay(ctx context.Context, bookingID string, method booking.PaymentMethod, source string) (*booking.Booking, error) {
	done, err := c.claim(bookingID)
	if err != nil {
		return nil, err
	}
	defer done()

	b, err := c.ledger.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if b.Payment.Status == booking.PaymentCompleted {
		return nil, fmt.Errorf("pay booking %s: %w", bookingID, ErrAlreadyPaid)
	}

	if b.Status != booking.StatusPending {
		return nil, &booking.InvalidTransitionError{BookingID: bookingID, From: b.Status, To: booking.StatusConfirmed}
	}

	res, err := c.processor.Capture(ctx, Charge{
		BookingID: b.ID,
		Amount:    b.TotalPrice,
		Currency:  c.currency,
		Method:    method,
		Source:    source,
	})
	if err != nil {
		return nil, fmt.Errorf("capture payment of booking %s: %w", bookingID, err)
	}

	payment := booking.Payment{Method: method, Status: res.Status, TransactionID: res.TransactionID}

	confirmed, err := c.ledger.ConfirmPayment(ctx, bookingID, payment)
	if err != nil {
		c.refund(ctx, bookingID, payment)

		return nil, err
	}

	c.l.LogInfo("Booking %s paid with %s, transaction %s", bookingID, method, res.TransactionID)

	return confirmed, nil
}

// refund returns a capture that never made it onto the booking. The stored payment
// belongs to somebody else or is still pending, so it is left alone.
func (c *Checkout) refund(ctx context.Context, bookingID string, payment booking.Payment) {
	ctx = context.WithoutCancel(ctx)

	if _, err := c.processor.Refund(ctx, payment.TransactionID); err != nil {
		c.l.LogErrorf("Could not refund transaction %s of booking %s: %v", payment.TransactionID, bookingID, err.Error())

		return
	}

	c.l.LogWarnf("Transaction %s of booking %s refunded, payment was not recorded", payment.TransactionID, bookingID)
}

// Cancel cancels the booking and refunds a completed payment.
func (c *Checkout) Cancel(ctx context.Context, bookingID, reason string) (*booking.Booking, error) {
	b, err := c.ledger.Cancel(ctx, bookingID, reason)
	if err != nil {
		return nil, err
	}

	if b.Payment.Status != booking.PaymentCompleted {
		return b, nil
	}

	if _, err := c.processor.Refund(ctx, b.Payment.TransactionID); err != nil {
		return nil, fmt.Errorf("refund booking %s: %w", bookingID, err)
	}

	payment := b.Payment
	payment.Status = booking.PaymentRefunded

	refunded, err := c.ledger.RecordPayment(ctx, bookingID, payment)
	if err != nil {
		return nil, err
	}

	c.l.LogInfo("Booking %s cancelled and refunded", bookingID)

	return refunded, nil
}
