package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/avstrong/bnb/internal/availability"
	"github.com/avstrong/bnb/internal/identity"
	"github.com/avstrong/bnb/internal/logger"
	"github.com/avstrong/bnb/internal/pricing"
	"github.com/avstrong/bnb/internal/validation"
)

var tracer = otel.Tracer("github.com/avstrong/bnb/internal/booking")

type idGenerator interface {
	GetID(ctx context.Context) (string, error)
}

type storageReader interface {
	GetRoom(ctx context.Context, id string) (*Room, error)
	GetBooking(ctx context.Context, id string) (*Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, key string) (*Booking, error)
	ListBookings(ctx context.Context, filter Filter) ([]*Booking, error)
}

type storageWriter interface {
	BeginTransaction(ctx context.Context, level string) (context.Context, error)
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
	SaveBooking(ctx context.Context, booking *Booking) error
}

type storage interface {
	storageReader
	storageWriter
}

type index interface {
	Lock(ctx context.Context, roomID string) (func(), error)
	IsRangeFree(ctx context.Context, roomID string, checkIn, checkOut time.Time) (bool, error)
	Reserve(ctx context.Context, roomID string, checkIn, checkOut time.Time, bookingID string) error
	Release(ctx context.Context, roomID string, checkIn, checkOut time.Time, bookingID string) error
}

// Observer receives ledger events, e.g. for metrics.
type Observer interface {
	BookingCreated(status Status)
	BookingRejected(reason string)
	StatusChanged(from, to Status)
}

type nopObserver struct{}

func (nopObserver) BookingCreated(Status)        {}
func (nopObserver) BookingRejected(string)       {}
func (nopObserver) StatusChanged(Status, Status) {}

type Option func(*Ledger)

func WithObserver(o Observer) Option {
	return func(l *Ledger) {
		l.observer = o
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Ledger owns booking lifecycles and keeps them consistent with the availability index.
type Ledger struct {
	l           *logger.Logger
	storage     storage
	index       index
	idGenerator idGenerator
	validate    *validator.Validate
	observer    Observer
	now         func() time.Time
}

func New(l *logger.Logger, storage storage, index index, idGenerator idGenerator, opts ...Option) *Ledger {
	ledger := &Ledger{
		l:           l,
		storage:     storage,
		index:       index,
		idGenerator: idGenerator,
		validate:    validation.New(),
		observer:    nopObserver{},
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(ledger)
	}

	return ledger
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

func (m *Ledger) validateInput(input *CreateInput, room *Room) error {
	validationErr := NewValidationError()

	if err := m.validate.Struct(input); err != nil {
		fields := validation.Fields(err)
		if fields == nil {
			return fmt.Errorf("validate booking input: %w", err)
		}

		validationErr.merge(fields)
	}

	if input.CheckIn.IsZero() {
		validationErr.AddError("checkIn", "is required")
	}

	if input.CheckOut.IsZero() {
		validationErr.AddError("checkOut", "is required")
	}

	checkIn, checkOut := pricing.Day(input.CheckIn), pricing.Day(input.CheckOut)

	if !input.CheckIn.IsZero() && !input.CheckOut.IsZero() && !checkIn.Before(checkOut) {
		validationErr.AddError("checkOut", "checkOut must be after checkIn")
	}

	if !input.CheckIn.IsZero() && checkIn.Before(pricing.Day(m.now())) {
		validationErr.AddError("checkIn", "checkIn must not be in the past")
	}

	switch {
	case room == nil:
		if input.RoomID != "" {
			validationErr.AddError("roomId", "room not found")
		}
	case !room.IsActive:
		validationErr.AddError("roomId", "room is not available for booking")
	case input.Guests > room.Capacity:
		validationErr.AddError("guests", fmt.Sprintf("must be at most %d", room.Capacity))
	}

	if validationErr.FieldsCount() > 0 {
		return validationErr
	}

	return nil
}

func (m *Ledger) loadRoom(ctx context.Context, id string) (*Room, error) {
	if id == "" {
		return nil, nil
	}

	room, err := m.storage.GetRoom(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, storeErr("get room "+id, err)
	}

	return room, nil
}

func (m *Ledger) findByIdempotencyKey(ctx context.Context) (*Booking, error) {
	key := idempotencyKeyFrom(ctx)
	if key == "" {
		return nil, nil
	}

	b, err := m.storage.GetBookingByIdempotencyKey(ctx, key)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, storeErr("get booking by idempotency key", err)
	}

	return b, nil
}

func (m *Ledger) buildBooking(ctx context.Context, input *CreateInput, room *Room) (*Booking, error) {
	id, err := m.idGenerator.GetID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNextID, err)
	}

	checkIn, checkOut := pricing.Day(input.CheckIn), pricing.Day(input.CheckOut)
	now := m.now().UTC()

	b := &Booking{
		ID:              id,
		RoomID:          room.ID,
		Guest:           input.Guest,
		CheckIn:         checkIn,
		CheckOut:        checkOut,
		Guests:          input.Guests,
		TotalPrice:      pricing.ComputePrice(room.Pricing, checkIn, checkOut),
		Status:          StatusPending,
		Payment:         Payment{Method: PaymentUnset, Status: PaymentPending},
		SpecialRequests: input.SpecialRequests,
		IdempotencyKey:  idempotencyKeyFrom(ctx),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if p, ok := identity.PrincipalFromContext(ctx); ok {
		b.UserID = p.ID

		if input.Confirmed && p.IsAdmin() {
			b.Status = StatusConfirmed
		}
	}

	return b, nil
}

// CreateBooking validates input, prices the stay and commits its nights. The booking
// is persisted as pending first; the nights are reserved afterwards and a failed
// reservation cancels the booking again.
//
//nolint:funlen,cyclop // it's linear simple code
func (m *Ledger) CreateBooking(ctx context.Context, input *CreateInput) (_ *Booking, err error) {
	ctx, span := tracer.Start(ctx, "booking.CreateBooking")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	span.SetAttributes(attribute.String("room.id", input.RoomID))

	if input.Confirmed {
		if p, ok := identity.PrincipalFromContext(ctx); !ok || !p.IsAdmin() {
			return nil, fmt.Errorf("create confirmed booking: %w", ErrForbidden)
		}
	}

	room, err := m.loadRoom(ctx, input.RoomID)
	if err != nil {
		return nil, err
	}

	if err := m.validateInput(input, room); err != nil {
		m.observer.BookingRejected("validation")

		return nil, err
	}

	unlock, err := m.index.Lock(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("lock room: %w", err)
	}
	defer unlock()

	existing, err := m.findByIdempotencyKey(ctx)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if err := m.authorize(ctx, existing); err != nil {
			return nil, err
		}

		m.l.LogInfo("Booking %s returned for repeated idempotency key", existing.ID)

		return existing, nil
	}

	checkIn, checkOut := pricing.Day(input.CheckIn), pricing.Day(input.CheckOut)

	free, err := m.index.IsRangeFree(ctx, room.ID, checkIn, checkOut)
	if err != nil {
		return nil, storeErr("check availability", err)
	}

	if !free {
		m.observer.BookingRejected("unavailable")

		return nil, &RoomUnavailableError{RoomID: room.ID, CheckIn: checkIn, CheckOut: checkOut}
	}

	b, err := m.buildBooking(ctx, input, room)
	if err != nil {
		return nil, fmt.Errorf("build booking: %w", err)
	}

	if err = m.persist(ctx, b); err != nil {
		return nil, err
	}

	if err = m.reserve(ctx, b); err != nil {
		return nil, err
	}

	m.observer.BookingCreated(b.Status)
	m.l.LogInfo("Booking %s created for room %s, %d nights, total %s", b.ID, b.RoomID, b.Nights(), b.TotalPrice)

	return b, nil
}

func (m *Ledger) reserve(ctx context.Context, b *Booking) error {
	err := m.index.Reserve(ctx, b.RoomID, b.CheckIn, b.CheckOut, b.ID)
	if availability.IsConflictError(err) != nil {
		// One silent retry when the competing hold is already gone.
		if free, ferr := m.index.IsRangeFree(ctx, b.RoomID, b.CheckIn, b.CheckOut); ferr == nil && free {
			err = m.index.Reserve(ctx, b.RoomID, b.CheckIn, b.CheckOut, b.ID)
		}
	}

	if err == nil {
		return nil
	}

	m.compensate(ctx, b, err)

	if availability.IsConflictError(err) != nil {
		m.observer.BookingRejected("conflict")

		return &RoomUnavailableError{RoomID: b.RoomID, CheckIn: b.CheckIn, CheckOut: b.CheckOut}
	}

	return storeErr("reserve nights", err)
}

// compensate cancels a booking whose nights could not be reserved.
func (m *Ledger) compensate(ctx context.Context, b *Booking, cause error) {
	ctx = context.WithoutCancel(ctx)

	if err := m.index.Release(ctx, b.RoomID, b.CheckIn, b.CheckOut, b.ID); err != nil {
		m.l.LogErrorf("Could not release nights of booking %s: %v", b.ID, err.Error())
	}

	b.Status = StatusCancelled
	b.CancelReason = "reservation failed: " + cause.Error()
	// A failed create does not use up its key; the client may retry with it.
	b.IdempotencyKey = ""
	b.UpdatedAt = m.nextUpdatedAt(b.UpdatedAt)

	if err := m.persist(ctx, b); err != nil {
		m.l.LogErrorf("Could not cancel booking %s after failed reservation: %v", b.ID, err.Error())

		return
	}

	m.l.LogWarnf("Booking %s cancelled after failed reservation: %v", b.ID, cause.Error())
}

func (m *Ledger) persist(ctx context.Context, b *Booking) (err error) {
	ctx, err = m.storage.BeginTransaction(ctx, "READ COMMITTED")
	if err != nil {
		return storeErr("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rErr := m.storage.RollbackTransaction(ctx); rErr != nil {
				m.l.LogErrorf("Could not rollback booking transaction after panic %v", p)
			}

			m.l.LogInfo("Transaction has been roll backed after panic")

			panic(p)
		}

		if err != nil {
			if rErr := m.storage.RollbackTransaction(ctx); rErr != nil {
				m.l.LogErrorf("Could not rollback booking transaction after error %v", rErr.Error())
			}

			return
		}

		if cErr := m.storage.CommitTransaction(ctx); cErr != nil {
			err = storeErr("commit booking "+b.ID, cErr)
		}
	}()

	if err = m.storage.SaveBooking(ctx, b); err != nil {
		return storeErr("save booking "+b.ID, err)
	}

	return nil
}

func (m *Ledger) nextUpdatedAt(prev time.Time) time.Time {
	next := m.now().UTC()
	if !next.After(prev) {
		next = prev.Add(time.Microsecond)
	}

	return next
}

func (m *Ledger) authorize(ctx context.Context, b *Booking) error {
	p, ok := identity.PrincipalFromContext(ctx)
	if !ok || p.IsAdmin() || b.UserID == p.ID {
		return nil
	}

	return fmt.Errorf("booking %s: %w", b.ID, ErrForbidden)
}

func (m *Ledger) GetBooking(ctx context.Context, id string) (*Booking, error) {
	b, err := m.storage.GetBooking(ctx, id)
	if err != nil {
		return nil, storeErr("get booking "+id, err)
	}

	if err := m.authorize(ctx, b); err != nil {
		return nil, err
	}

	return b, nil
}

// UpdateStatus moves a booking along pending -> confirmed -> cancelled. Entering
// cancelled frees the booking's nights.
func (m *Ledger) UpdateStatus(ctx context.Context, id string, to Status) (*Booking, error) {
	return m.transition(ctx, id, to, "")
}

// Cancel cancels a booking. Guests may cancel their own bookings before check-in,
// admins any booking at any time.
func (m *Ledger) Cancel(ctx context.Context, id, reason string) (*Booking, error) {
	b, err := m.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	if p, ok := identity.PrincipalFromContext(ctx); ok && !p.IsAdmin() {
		if !pricing.Day(m.now()).Before(b.CheckIn) {
			return nil, fmt.Errorf("cancel booking %s on or after check-in: %w", id, ErrForbidden)
		}
	}

	return m.transition(ctx, id, StatusCancelled, reason)
}

//nolint:cyclop
func (m *Ledger) transition(ctx context.Context, id string, to Status, reason string) (_ *Booking, err error) {
	ctx, span := tracer.Start(ctx, "booking.UpdateStatus")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	span.SetAttributes(attribute.String("booking.id", id), attribute.String("booking.status", string(to)))

	if !to.Valid() {
		validationErr := NewValidationError()
		validationErr.AddError("status", "must be one of pending confirmed cancelled")

		return nil, validationErr
	}

	b, err := m.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock, err := m.index.Lock(ctx, b.RoomID)
	if err != nil {
		return nil, fmt.Errorf("lock room: %w", err)
	}
	defer unlock()

	// Re-read under the room lock; a concurrent transition may have won.
	if b, err = m.storage.GetBooking(ctx, id); err != nil {
		return nil, storeErr("get booking "+id, err)
	}

	from := b.Status
	if !canTransition(from, to) {
		return nil, &InvalidTransitionError{BookingID: id, From: from, To: to}
	}

	b.Status = to
	b.UpdatedAt = m.nextUpdatedAt(b.UpdatedAt)

	if to == StatusCancelled {
		b.CancelReason = reason
	}

	// Nights are freed before the status is stored. Until the booking reads
	// cancelled a failed step can be retried with the same call.
	if to == StatusCancelled {
		if err = m.index.Release(ctx, b.RoomID, b.CheckIn, b.CheckOut, b.ID); err != nil {
			return nil, storeErr("release nights of booking "+id, err)
		}
	}

	if err = m.persist(ctx, b); err != nil {
		if to == StatusCancelled {
			m.rehold(ctx, b)
		}

		return nil, err
	}

	m.observer.StatusChanged(from, to)
	m.l.LogInfo("Booking %s moved from %s to %s", id, from, to)

	return b, nil
}

// rehold takes back the nights of a booking whose cancellation could not be stored.
// The room lock is still held, so nobody else can have claimed them.
func (m *Ledger) rehold(ctx context.Context, b *Booking) {
	ctx = context.WithoutCancel(ctx)

	if err := m.index.Reserve(ctx, b.RoomID, b.CheckIn, b.CheckOut, b.ID); err != nil {
		m.l.LogErrorf("Could not take back nights of booking %s after failed cancel: %v", b.ID, err.Error())
	}
}

// RecordPayment stores the payment outcome of a booking without touching its status.
func (m *Ledger) RecordPayment(ctx context.Context, id string, payment Payment) (*Booking, error) {
	b, err := m.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock, err := m.index.Lock(ctx, b.RoomID)
	if err != nil {
		return nil, fmt.Errorf("lock room: %w", err)
	}
	defer unlock()

	if b, err = m.storage.GetBooking(ctx, id); err != nil {
		return nil, storeErr("get booking "+id, err)
	}

	b.Payment = payment
	b.UpdatedAt = m.nextUpdatedAt(b.UpdatedAt)

	if err = m.persist(ctx, b); err != nil {
		return nil, err
	}

	return b, nil
}

// ConfirmPayment stores a completed payment and confirms the booking in one write.
// Only a pending booking without a completed payment qualifies, so of two
// concurrent payments exactly one is kept.
func (m *Ledger) ConfirmPayment(ctx context.Context, id string, payment Payment) (*Booking, error) {
	b, err := m.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock, err := m.index.Lock(ctx, b.RoomID)
	if err != nil {
		return nil, fmt.Errorf("lock room: %w", err)
	}
	defer unlock()

	if b, err = m.storage.GetBooking(ctx, id); err != nil {
		return nil, storeErr("get booking "+id, err)
	}

	if b.Payment.Status == PaymentCompleted {
		return nil, fmt.Errorf("booking %s: %w", id, ErrAlreadyPaid)
	}

	if b.Status != StatusPending {
		return nil, &InvalidTransitionError{BookingID: id, From: b.Status, To: StatusConfirmed}
	}

	b.Payment = payment
	b.Status = StatusConfirmed
	b.UpdatedAt = m.nextUpdatedAt(b.UpdatedAt)

	if err = m.persist(ctx, b); err != nil {
		return nil, err
	}

	m.observer.StatusChanged(StatusPending, StatusConfirmed)
	m.l.LogInfo("Booking %s paid with transaction %s and confirmed", id, payment.TransactionID)

	return b, nil
}

// ListBookings returns bookings ordered by check-in, latest first. Guests only see
// their own bookings.
func (m *Ledger) ListBookings(ctx context.Context, filter Filter) ([]*Booking, error) {
	if p, ok := identity.PrincipalFromContext(ctx); ok && !p.IsAdmin() {
		filter.UserID = p.ID
	}

	bookings, err := m.storage.ListBookings(ctx, filter)
	if err != nil {
		return nil, storeErr("list bookings", err)
	}

	SortByCheckInDesc(bookings)

	return bookings, nil
}

func SortByCheckInDesc(bookings []*Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		a, b := bookings[i], bookings[j]

		if !a.CheckIn.Equal(b.CheckIn) {
			return a.CheckIn.After(b.CheckIn)
		}

		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}

		return a.ID < b.ID
	})
}
