package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/avstrong/bnb/internal/availability"
	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/identity"
	"github.com/avstrong/bnb/internal/logger"
)

type Config struct {
	L *logger.Logger
}

type releaseSpec struct {
	roomID    string
	bookingID string
	from, to  time.Time
}

type transaction struct {
	id                   string
	bookingModifications map[string]*booking.Booking
	recordModifications  map[string]*availability.Record
	releaseSpecs         []releaseSpec
}

// releases reports whether the transaction frees r before writing its own records.
func (t *transaction) releases(r *availability.Record) bool {
	for _, spec := range t.releaseSpecs {
		if spec.roomID == r.RoomID && spec.bookingID == r.BookingID &&
			!r.Date.Before(spec.from) && r.Date.Before(spec.to) {
			return true
		}
	}

	return false
}

type DB struct {
	mu                     sync.Mutex
	l                      *logger.Logger
	rooms                  map[string]*booking.Room
	bookings               map[string]*booking.Booking
	records                map[string]*availability.Record
	users                  map[string]*identity.User
	transactions           map[string]*transaction
	nextTrxID              int64
	bookingIdempotencyKeys map[string]string
}

func New(conf Config) *DB {
	//nolint:exhaustruct
	return &DB{
		l:                      conf.L,
		rooms:                  make(map[string]*booking.Room),
		bookings:               make(map[string]*booking.Booking),
		records:                make(map[string]*availability.Record),
		users:                  make(map[string]*identity.User),
		transactions:           make(map[string]*transaction),
		bookingIdempotencyKeys: make(map[string]string),
	}
}

func recordKey(roomID string, date time.Time) string {
	return fmt.Sprintf("%s_%s", roomID, date.UTC().Format("2006-01-02"))
}

// trx returns the open transaction of ctx, or nil when the write should apply at once.
// Callers hold db.mu.
func (db *DB) trx(ctx context.Context) (*transaction, error) {
	trxID, ok := transactionIDFromContext(ctx)
	if !ok || trxID == "" {
		return nil, nil
	}

	trx, exists := db.transactions[trxID]
	if !exists {
		return nil, fmt.Errorf("transaction %s not found: %w", trxID, ErrTransactionNotFound)
	}

	return trx, nil
}

func (db *DB) BeginTransaction(ctx context.Context, _ string) (context.Context, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	trxID := fmt.Sprintf("trx-%d", db.nextTrxID)
	db.nextTrxID++

	db.transactions[trxID] = &transaction{
		id:                   trxID,
		bookingModifications: make(map[string]*booking.Booking),
		recordModifications:  make(map[string]*availability.Record),
	}

	return withTransactionID(ctx, trxID), nil
}

func (db *DB) CommitTransaction(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	trxID, ok := transactionIDFromContext(ctx)
	if !ok || trxID == "" {
		return ErrTransactionIDNotFoundInCtx
	}

	trx, exists := db.transactions[trxID]
	if !exists {
		return fmt.Errorf("transaction %s not found: %w", trxID, ErrTransactionNotFound)
	}

	delete(db.transactions, trxID)

	for key, record := range trx.recordModifications {
		current, taken := db.records[key]
		if taken && current.BookingID != record.BookingID && !trx.releases(current) {
			return fmt.Errorf("commit %s: %s held by booking %s: %w", trxID, key, current.BookingID, availability.ErrDuplicate)
		}
	}

	for _, release := range trx.releaseSpecs {
		db.applyRelease(release)
	}

	for key, record := range trx.recordModifications {
		db.records[key] = record
	}

	for _, b := range trx.bookingModifications {
		db.applyBooking(b)
	}

	return nil
}

func (db *DB) RollbackTransaction(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	trxID, ok := transactionIDFromContext(ctx)
	if !ok || trxID == "" {
		return ErrTransactionIDNotFoundInCtx
	}

	if _, exists := db.transactions[trxID]; !exists {
		return fmt.Errorf("transaction %s not found: %w", trxID, ErrTransactionNotFound)
	}

	delete(db.transactions, trxID)

	return nil
}

func (db *DB) applyRelease(r releaseSpec) {
	for d := r.from; d.Before(r.to); d = d.AddDate(0, 0, 1) {
		key := recordKey(r.roomID, d)
		if current, ok := db.records[key]; ok && current.BookingID == r.bookingID {
			delete(db.records, key)
		}
	}
}

func (db *DB) applyBooking(b *booking.Booking) {
	if prev, ok := db.bookings[b.ID]; ok && prev.IdempotencyKey != "" && prev.IdempotencyKey != b.IdempotencyKey {
		delete(db.bookingIdempotencyKeys, prev.IdempotencyKey)
	}

	db.bookings[b.ID] = b
	if b.IdempotencyKey != "" {
		db.bookingIdempotencyKeys[b.IdempotencyKey] = b.ID
	}
}

func (db *DB) SaveAvailabilityRecords(ctx context.Context, records []*availability.Record) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	trx, err := db.trx(ctx)
	if err != nil {
		return err
	}

	for _, record := range records {
		key := recordKey(record.RoomID, record.Date)
		cp := *record

		if trx != nil {
			trx.recordModifications[key] = &cp

			continue
		}

		if current, taken := db.records[key]; taken && current.BookingID != record.BookingID {
			return fmt.Errorf("save %s: %w", key, availability.ErrDuplicate)
		}

		db.records[key] = &cp
	}

	return nil
}

func (db *DB) DeleteAvailabilityRecords(ctx context.Context, roomID, bookingID string, from, to time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	trx, err := db.trx(ctx)
	if err != nil {
		return err
	}

	spec := releaseSpec{roomID: roomID, bookingID: bookingID, from: from, to: to}

	if trx != nil {
		trx.releaseSpecs = append(trx.releaseSpecs, spec)

		return nil
	}

	db.applyRelease(spec)

	return nil
}

func (db *DB) GetAvailabilityRecords(_ context.Context, roomID string, from, to time.Time) ([]*availability.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []*availability.Record

	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		if record, ok := db.records[recordKey(roomID, d)]; ok {
			cp := *record
			result = append(result, &cp)
		}
	}

	return result, nil
}

func (db *DB) SaveBooking(ctx context.Context, b *booking.Booking) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	trx, err := db.trx(ctx)
	if err != nil {
		return err
	}

	cp := *b

	if trx != nil {
		trx.bookingModifications[b.ID] = &cp

		return nil
	}

	db.applyBooking(&cp)

	return nil
}

func (db *DB) GetBooking(_ context.Context, id string) (*booking.Booking, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	b, ok := db.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, booking.ErrRecordNotFound)
	}

	cp := *b

	return &cp, nil
}

func (db *DB) GetBookingByIdempotencyKey(_ context.Context, key string) (*booking.Booking, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id, ok := db.bookingIdempotencyKeys[key]
	if !ok {
		return nil, booking.ErrRecordNotFound
	}

	cp := *db.bookings[id]

	return &cp, nil
}

func (db *DB) ListBookings(_ context.Context, filter booking.Filter) ([]*booking.Booking, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := make([]*booking.Booking, 0, len(db.bookings))

	for _, b := range db.bookings {
		if filter.UserID != "" && b.UserID != filter.UserID {
			continue
		}

		if filter.RoomID != "" && b.RoomID != filter.RoomID {
			continue
		}

		if filter.Status != "" && b.Status != filter.Status {
			continue
		}

		cp := *b
		result = append(result, &cp)
	}

	return result, nil
}

func (db *DB) CountRoomBookings(_ context.Context, roomID string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var n int

	for _, b := range db.bookings {
		if b.RoomID == roomID {
			n++
		}
	}

	return n, nil
}

func cloneRoom(r *booking.Room) *booking.Room {
	cp := *r
	cp.Amenities = slices.Clone(r.Amenities)
	cp.Images = slices.Clone(r.Images)
	cp.Pricing.Seasonal = slices.Clone(r.Pricing.Seasonal)

	return &cp
}

func (db *DB) SaveRoom(_ context.Context, room *booking.Room) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.rooms[room.ID] = cloneRoom(room)

	return nil
}

func (db *DB) GetRoom(_ context.Context, id string) (*booking.Room, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	room, ok := db.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, booking.ErrRecordNotFound)
	}

	return cloneRoom(room), nil
}

func (db *DB) ListRooms(_ context.Context, onlyActive bool) ([]*booking.Room, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := make([]*booking.Room, 0, len(db.rooms))

	for _, room := range db.rooms {
		if onlyActive && !room.IsActive {
			continue
		}

		result = append(result, cloneRoom(room))
	}

	return result, nil
}

func (db *DB) DeleteRoom(_ context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.rooms[id]; !ok {
		return fmt.Errorf("room %s: %w", id, booking.ErrRecordNotFound)
	}

	delete(db.rooms, id)

	return nil
}

func (db *DB) SaveUser(_ context.Context, user *identity.User) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	email := strings.ToLower(user.Email)

	for _, u := range db.users {
		if u.ID != user.ID && strings.ToLower(u.Email) == email {
			return fmt.Errorf("user %s: %w", user.Email, identity.ErrEmailTaken)
		}
	}

	cp := *user
	db.users[user.ID] = &cp

	return nil
}

func (db *DB) GetUser(_ context.Context, id string) (*identity.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, identity.ErrUserNotFound)
	}

	cp := *u

	return &cp, nil
}

func (db *DB) GetUserByEmail(_ context.Context, email string) (*identity.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	email = strings.ToLower(email)

	for _, u := range db.users {
		if strings.ToLower(u.Email) == email {
			cp := *u

			return &cp, nil
		}
	}

	return nil, fmt.Errorf("user %s: %w", email, identity.ErrUserNotFound)
}
