package booking_test

import (
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
	"github.com/avstrong/bnb/internal/pricing"
	"github.com/avstrong/bnb/internal/storage/memory"
)

var (
	today = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	guest = identity.Principal{ID: "u-guest", Email: "jane@example.com", Role: identity.RoleGuest}
	admin = identity.Principal{ID: "u-admin", Email: "admin@example.com", Role: identity.RoleAdmin}
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}

	return d
}

type fixture struct {
	db     *memory.DB
	index  *availability.Index
	ledger *booking.Ledger
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{clock: today}
	f.db = memory.New(memory.Config{L: logger.Nop()})
	f.index = availability.New(logger.Nop(), f.db, nil)
	f.ledger = booking.New(logger.Nop(), f.db, f.index, simple.New("b-"), booking.WithClock(func() time.Time { return f.clock }))

	require.NoError(t, f.db.SaveRoom(context.Background(), &booking.Room{
		ID:       "r1",
		Name:     "Ocean View Suite",
		Type:     booking.RoomTypeRoom,
		Capacity: 2,
		Pricing:  pricing.Pricing{BasePrice: pricing.FromFloat(100), WeekendPrice: pricing.FromFloat(150)},
		IsActive: true,
	}))

	return f
}

func input(roomID, checkIn, checkOut string) *booking.CreateInput {
	return &booking.CreateInput{
		RoomID:   roomID,
		Guest:    booking.GuestInfo{Name: "Jane Doe", Email: "jane@example.com", Phone: "+1 555 0100"},
		CheckIn:  day(checkIn),
		CheckOut: day(checkOut),
		Guests:   2,
	}
}

func asGuest() context.Context {
	return identity.WithPrincipal(context.Background(), guest)
}

func asAdmin() context.Context {
	return identity.WithPrincipal(context.Background(), admin)
}

func TestCreateBookingPricesAndReserves(t *testing.T) {
	f := newFixture(t)

	b, err := f.ledger.CreateBooking(asGuest(), input("r1", "2024-06-07", "2024-06-10"))
	require.NoError(t, err)

	assert.Equal(t, booking.StatusPending, b.Status)
	assert.Equal(t, pricing.FromFloat(400), b.TotalPrice)
	assert.Equal(t, guest.ID, b.UserID)
	assert.Equal(t, booking.PaymentPending, b.Payment.Status)
	assert.Equal(t, 3, b.Nights())

	free, err := f.index.IsRangeFree(context.Background(), "r1", day("2024-06-07"), day("2024-06-10"))
	require.NoError(t, err)
	assert.False(t, free)
}

func TestOverlappingBookingIsRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.CreateBooking(asGuest(), input("r1", "2024-06-10", "2024-06-15"))
	require.NoError(t, err)

	_, err = f.ledger.CreateBooking(asGuest(), input("r1", "2024-06-14", "2024-06-16"))

	unavailable := booking.IsRoomUnavailableError(err)
	require.NotNil(t, unavailable)
	assert.Equal(t, "r1", unavailable.RoomID)

	_, err = f.ledger.CreateBooking(asGuest(), input("r1", "2024-06-12", "2024-06-14"))

	inside := booking.IsRoomUnavailableError(err)
	require.NotNil(t, inside)
	assert.Equal(t, day("2024-06-12"), inside.CheckIn)
	assert.Equal(t, day("2024-06-14"), inside.CheckOut)

	// Back-to-back stays share the check-out day.
	_, err = f.ledger.CreateBooking(asGuest(), input("r1", "2024-06-15", "2024-06-18"))
	require.NoError(t, err)
}

func TestCreateBookingValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *booking.CreateInput)
		field  string
	}{
		{
			name:   "too many guests",
			mutate: func(in *booking.CreateInput) { in.Guests = 3 },
			field:  "guests",
		},
		{
			name:   "no guests",
			mutate: func(in *booking.CreateInput) { in.Guests = 0 },
			field:  "guests",
		},
		{
			name:   "check-out before check-in",
			mutate: func(in *booking.CreateInput) { in.CheckOut = day("2024-06-09") },
			field:  "checkOut",
		},
		{
			name:   "same day",
			mutate: func(in *booking.CreateInput) { in.CheckOut = in.CheckIn },
			field:  "checkOut",
		},
		{
			name:   "past check-in",
			mutate: func(in *booking.CreateInput) { in.CheckIn = day("2023-12-30") },
			field:  "checkIn",
		},
		{
			name:   "missing check-in",
			mutate: func(in *booking.CreateInput) { in.CheckIn = time.Time{} },
			field:  "checkIn",
		},
		{
			name:   "bad email",
			mutate: func(in *booking.CreateInput) { in.Guest.Email = "nope" },
			field:  "guestInfo.email",
		},
		{
			name:   "bad phone",
			mutate: func(in *booking.CreateInput) { in.Guest.Phone = "call me" },
			field:  "guestInfo.phone",
		},
		{
			name:   "unknown room",
			mutate: func(in *booking.CreateInput) { in.RoomID = "missing" },
			field:  "roomId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := input("r1", "2024-06-10", "2024-06-12")
			tt.mutate(in)

			_, err := f.ledger.CreateBooking(asGuest(), in)

			validationErr := booking.IsValidationError(err)
			require.NotNil(t, validationErr, "got %v", err)
			assert.Contains(t, validationErr.Fields(), tt.field)

			stored, err := f.db.ListBookings(context.Background(), booking.Filter{})
			require.NoError(t, err)
			assert.Empty(t, stored)

			free, err := f.index.IsRangeFree(context.Background(), "r1", day("2024-06-10"), day("2024-06-12"))
			require.NoError(t, err)
			assert.True(t, free)
		})
	}
}

func TestInactiveRoomIsRejected(t *testing.T) {
	f := newFixture(t)

	room, err := f.db.GetRoom(context.Background(), "r1")
	require.NoError(t, err)

	room.IsActive = false
	require.NoError(t, f.db.SaveRoom(context.Background(), room))

	_, err = f.ledger.CreateBooking(asGuest(), input("r1", "2024-06-10", "2024-06-12"))
	require.NotNil(t, booking.IsValidationError(err))
}

func TestConfirmedCreateNeedsAdmin(t *testing.T) {
	f := newFixture(t)

	in := input("r1", "2024-06-10", "2024-06-12")
	in.Confirmed = true

	_, err := f.ledger.CreateBooking(asGuest(), in)
	require.ErrorIs(t, err, booking.ErrForbidden)

	b, err := f.ledger.CreateBooking(asAdmin(), in)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, b.Status)
}

func TestIdempotencyKeyReturnsFirstBooking(t *testing.T) {
	f := newFixture(t)
	ctx := booking.WithIdempotencyKey(asGuest(), " key-1 ")

	first, err := f.ledger.CreateBooking(ctx, input("r1", "2024-06-10", "2024-06-12"))
	require.NoError(t, err)

	second, err := f.ledger.CreateBooking(ctx, input("r1", "2024-06-10", "2024-06-12"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	list, err := f.ledger.ListBookings(asAdmin(), booking.Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestIdempotencyKeyIsScopedToUser(t *testing.T) {
	f := newFixture(t)
	bob := identity.Principal{ID: "u-bob", Email: "bob@example.com", Role: identity.RoleGuest}

	first, err := f.ledger.CreateBooking(booking.WithIdempotencyKey(asGuest(), "k1"), input("r1", "2024-06-10", "2024-06-12"))
	require.NoError(t, err)

	bobCtx := booking.WithIdempotencyKey(identity.WithPrincipal(context.Background(), bob), "k1")

	second, err := f.ledger.CreateBooking(bobCtx, input("r1", "2024-06-20", "2024-06-22"))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, bob.ID, second.UserID)
	assert.Equal(t, day("2024-06-20"), second.CheckIn)

	again, err := f.ledger.CreateBooking(bobCtx, input("r1", "2024-06-20", "2024-06-22"))
	require.NoError(t, err)
	assert.Equal(t, second.ID, again.ID)
}

func TestFailedCreateDoesNotUseUpKey(t *testing.T) {
	f := newFixture(t)
	broken := booking.New(logger.Nop(), f.db, failingIndex{f.index}, simple.New("x-"), booking.WithClock(func() time.Time { return today }))
	ctx := booking.WithIdempotencyKey(asGuest(), "k1")

	_, err := broken.CreateBooking(ctx, input("r1", "2024-06-10", "2024-06-12"))
	require.Error(t, err)

	b, err := f.ledger.CreateBooking(ctx, input("r1", "2024-06-10", "2024-06-12"))
	require.NoError(t, err)

	assert.Equal(t, "b-1", b.ID)
	assert.Equal(t, booking.StatusPending, b.Status)
}

func TestConcurrentCreateHasOneWinner(t *testing.T) {
	f := newFixture(t)

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		created     int
		unavailable int
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := f.ledger.CreateBooking(asGuest(), input("r1", "2024-06-10", "2024-06-15"))

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				created++
			case booking.IsRoomUnavailableError(err) != nil:
				unavailable++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 9, unavailable)
}

func TestCancelFreesNights(t *testing.T) {
	f := newFixture(t)

	b, err := f.ledger.CreateBooking(asGuest(), input("r1", "2024-06-10", "2024-06-15"))
	require.NoError(t, err)

	cancelled, err := f.ledger.Cancel(asGuest(), b.ID, "plans changed")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, cancelled.Status)
	assert.Equal(t, "plans changed", cancelled.CancelReason)
	assert.True(t, cancelled.UpdatedAt.After(b.UpdatedAt))

	free, err := f.index.IsRangeFree(context.Background(), "r1", day("2024-06-10"), day("2024-06-15"))
	require.NoError(t, err)
	assert.True(t, free)

	_, err = f.ledger.CreateBooking(asGuest(), input("r1", "2024-06-10", "2024-06-15"))
	require.NoError(t, err)
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)

	b, err := f.ledger.CreateBooking(asGuest(), input("r1", "2024-06-10", "2024-06-12"))
	require.NoError(t, err)

	confirmed, err := f.ledger.UpdateStatus(asAdmin(), b.ID, booking.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, confirmed.Status)

	_, err = f.ledger.UpdateStatus(asAdmin(), b.ID, booking.StatusPending)
	require.NotNil(t, booking.IsInvalidTransitionError(err))

	_, err = f.ledger.UpdateStatus(asAdmin(), b.ID, booking.StatusCancelled)
	require.NoError(t, err)

	for _, to := range []booking.Status{booking.StatusPending, booking.StatusConfirmed, booking.StatusCancelled} {
		_, err = f.ledger.UpdateStatus(asAdmin(), b.ID, to)

		transitionErr := booking.IsInvalidTransitionError(err)
		require.NotNil(t, transitionErr, "cancelled -> %s", to)
		assert.Equal(t, booking.StatusCancelled, transitionErr.From)
	}

	_, err = f.ledger.UpdateStatus(asAdmin(), b.ID, booking.Status("archived"))
	require.NotNil(t, booking.IsValidationError(err))
}

func TestGuestCannotCancelAfterCheckIn(t *testing.T) {
	f := newFixture(t)

	b, err := f.ledger.CreateBooking(asGuest(), input("r1", "2024-06-10", "2024-06-12"))
	require.NoError(t, err)

	f.clock = time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)

	_, err = f.ledger.Cancel(asGuest(), b.ID, "")
	require.ErrorIs(t, err, booking.ErrForbidden)

	_, err = f.ledger.Cancel(asAdmin(), b.ID, "no show")
	require.NoError(t, err)
}

func TestGuestsOnlySeeOwnBookings(t *testing.T) {
	f := newFixture(t)

	b, err := f.ledger.CreateBooking(asGuest(), input("r1", "2024-06-10", "2024-06-12"))
	require.NoError(t, err)

	_, err = f.ledger.CreateBooking(asAdmin(), input("r1", "2024-07-10", "2024-07-12"))
	require.NoError(t, err)

	stranger := identity.WithPrincipal(context.Background(), identity.Principal{ID: "u-other", Role: identity.RoleGuest})

	_, err = f.ledger.GetBooking(stranger, b.ID)
	require.ErrorIs(t, err, booking.ErrForbidden)

	_, err = f.ledger.Cancel(stranger, b.ID, "")
	require.ErrorIs(t, err, booking.ErrForbidden)

	mine, err := f.ledger.ListBookings(asGuest(), booking.Filter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)

	all, err := f.ledger.ListBookings(asAdmin(), booking.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, day("2024-07-10"), all[0].CheckIn)
}

func TestRecordPaymentKeepsStatus(t *testing.T) {
	f := newFixture(t)

	b, err := f.ledger.CreateBooking(asGuest(), input("r1", "2024-06-10", "2024-06-12"))
	require.NoError(t, err)

	paid, err := f.ledger.RecordPayment(asGuest(), b.ID, booking.Payment{
		Method:        booking.PaymentStripe,
		Status:        booking.PaymentCompleted,
		TransactionID: "tx-1",
	})
	require.NoError(t, err)

	assert.Equal(t, booking.StatusPending, paid.Status)
	assert.Equal(t, "tx-1", paid.Payment.TransactionID)
}

func TestGetBookingNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.GetBooking(asAdmin(), "missing")
	require.ErrorIs(t, err, booking.ErrRecordNotFound)
}

var errStoreDown = errors.New("store down")

// failingIndex fails every reservation with a store fault.
type failingIndex struct {
	*availability.Index
}

func (failingIndex) Reserve(context.Context, string, time.Time, time.Time, string) error {
	return errStoreDown
}

func TestFailedReservationCancelsBooking(t *testing.T) {
	f := newFixture(t)
	ledger := booking.New(logger.Nop(), f.db, failingIndex{f.index}, simple.New("x-"), booking.WithClock(func() time.Time { return today }))

	_, err := ledger.CreateBooking(asGuest(), input("r1", "2024-06-10", "2024-06-12"))

	storeErr := booking.IsBackingStoreError(err)
	require.NotNil(t, storeErr)
	require.ErrorIs(t, err, errStoreDown)

	stored, err := f.db.GetBooking(context.Background(), "x-1")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, stored.Status)
	assert.NotEmpty(t, stored.CancelReason)

	free, err := f.index.IsRangeFree(context.Background(), "r1", day("2024-06-10"), day("2024-06-12"))
	require.NoError(t, err)
	assert.True(t, free)
}

func TestSortByCheckInDesc(t *testing.T) {
	bookings := []*booking.Booking{
		{ID: "b", CheckIn: day("2024-06-10"), CreatedAt: today},
		{ID: "a", CheckIn: day("2024-06-10"), CreatedAt: today},
		{ID: "c", CheckIn: day("2024-07-01"), CreatedAt: today},
		{ID: "d", CheckIn: day("2024-06-10"), CreatedAt: today.Add(time.Hour)},
	}

	booking.SortByCheckInDesc(bookings)

	ids := make([]string, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
	}

	assert.Equal(t, []string{"c", "d", "a", "b"}, ids)
}

// flakyIndex fails Release while fail is set.
type flakyIndex struct {
	*availability.Index
	fail bool
}

func (i *flakyIndex) Release(ctx context.Context, roomID string, checkIn, checkOut time.Time, bookingID string) error {
	if i.fail {
		return errStoreDown
	}

	return i.Index.Release(ctx, roomID, checkIn, checkOut, bookingID)
}

func TestFailedReleaseKeepsCancelRetryable(t *testing.T) {
	f := newFixture(t)
	idx := &flakyIndex{Index: f.index}
	ledger := booking.New(logger.Nop(), f.db, idx, simple.New("y-"), booking.WithClock(func() time.Time { return today }))

	b, err := ledger.CreateBooking(asGuest(), input("r1", "2024-06-10", "2024-06-12"))
	require.NoError(t, err)

	idx.fail = true

	_, err = ledger.Cancel(asGuest(), b.ID, "")
	require.NotNil(t, booking.IsBackingStoreError(err))

	stored, err := f.db.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, stored.Status)

	idx.fail = false

	cancelled, err := ledger.Cancel(asGuest(), b.ID, "")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, cancelled.Status)

	_, err = ledger.CreateBooking(asGuest(), input("r1", "2024-06-10", "2024-06-12"))
	require.NoError(t, err)
}

// flakyStore fails SaveBooking while fail is set.
type flakyStore struct {
	*memory.DB
	fail bool
}

func (s *flakyStore) SaveBooking(ctx context.Context, b *booking.Booking) error {
	if s.fail {
		return errStoreDown
	}

	return s.DB.SaveBooking(ctx, b)
}

func TestFailedCancelWriteKeepsNightsHeld(t *testing.T) {
	f := newFixture(t)
	store := &flakyStore{DB: f.db}
	ledger := booking.New(logger.Nop(), store, f.index, simple.New("z-"), booking.WithClock(func() time.Time { return today }))

	b, err := ledger.CreateBooking(asGuest(), input("r1", "2024-06-10", "2024-06-12"))
	require.NoError(t, err)

	store.fail = true

	_, err = ledger.Cancel(asGuest(), b.ID, "")
	require.ErrorIs(t, err, errStoreDown)

	free, err := f.index.IsRangeFree(context.Background(), "r1", b.CheckIn, b.CheckOut)
	require.NoError(t, err)
	assert.False(t, free)

	store.fail = false

	_, err = ledger.Cancel(asGuest(), b.ID, "")
	require.NoError(t, err)

	free, err = f.index.IsRangeFree(context.Background(), "r1", b.CheckIn, b.CheckOut)
	require.NoError(t, err)
	assert.True(t, free)
}
