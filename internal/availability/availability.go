package availability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avstrong/bnb/internal/logger"
	"github.com/avstrong/bnb/internal/pricing"
)

type storageReader interface {
	// GetAvailabilityRecords returns committed records of a room with dates in [from, to).
	GetAvailabilityRecords(ctx context.Context, roomID string, from, to time.Time) ([]*Record, error)
}

type storageWriter interface {
	BeginTransaction(ctx context.Context, level string) (context.Context, error)
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
	SaveAvailabilityRecords(ctx context.Context, records []*Record) error
	DeleteAvailabilityRecords(ctx context.Context, roomID, bookingID string, from, to time.Time) error
}

type storage interface {
	storageReader
	storageWriter
}

type Index struct {
	l       *logger.Logger
	storage storage
	locker  Locker

	subMu  sync.RWMutex
	nextID int
	subs   map[int]func(Change)
}

func New(l *logger.Logger, storage storage, locker Locker) *Index {
	if locker == nil {
		locker = NewMutexLocker()
	}

	//nolint:exhaustruct
	return &Index{
		l:       l,
		storage: storage,
		locker:  locker,
		subs:    make(map[int]func(Change)),
	}
}

func nightsOf(from, to time.Time) []time.Time {
	var dates []time.Time

	for d := pricing.Day(from); d.Before(pricing.Day(to)); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}

	return dates
}

// Lock serializes reservations of one room. Callers must call unlock.
func (i *Index) Lock(ctx context.Context, roomID string) (func(), error) {
	unlock, err := i.locker.Lock(ctx, "room:"+roomID)
	if err != nil {
		return nil, fmt.Errorf("lock room %s: %w", roomID, err)
	}

	return unlock, nil
}

func (i *Index) IsRangeFree(ctx context.Context, roomID string, checkIn, checkOut time.Time) (bool, error) {
	records, err := i.storage.GetAvailabilityRecords(ctx, roomID, pricing.Day(checkIn), pricing.Day(checkOut))
	if err != nil {
		return false, fmt.Errorf("get availability records of room %s: %w", roomID, err)
	}

	return len(records) == 0, nil
}

// Calendar reports every day in [from, to) as free or committed.
func (i *Index) Calendar(ctx context.Context, roomID string, from, to time.Time) ([]Day, error) {
	records, err := i.storage.GetAvailabilityRecords(ctx, roomID, pricing.Day(from), pricing.Day(to))
	if err != nil {
		return nil, fmt.Errorf("get availability records of room %s: %w", roomID, err)
	}

	taken := make(map[time.Time]struct{}, len(records))
	for _, r := range records {
		taken[pricing.Day(r.Date)] = struct{}{}
	}

	nights := nightsOf(from, to)
	days := make([]Day, 0, len(nights))

	for _, d := range nights {
		_, committed := taken[d]
		days = append(days, Day{Date: d, Available: !committed})
	}

	return days, nil
}

// Reserve commits every night in [checkIn, checkOut) to bookingID. The check for
// already committed nights runs inside the same transaction as the write.
func (i *Index) Reserve(ctx context.Context, roomID string, checkIn, checkOut time.Time, bookingID string) (err error) {
	nights := nightsOf(checkIn, checkOut)
	if len(nights) == 0 {
		return fmt.Errorf("reserve room %s: %w", roomID, ErrEmptyRange)
	}

	ctx, err = i.storage.BeginTransaction(ctx, "SERIALIZABLE")
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rErr := i.storage.RollbackTransaction(ctx); rErr != nil {
				i.l.LogErrorf("Could not rollback reserve transaction after panic %v", p)
			}

			panic(p)
		}

		if err != nil {
			if rErr := i.storage.RollbackTransaction(ctx); rErr != nil {
				i.l.LogErrorf("Could not rollback reserve transaction after error %v", rErr.Error())
			}

			return
		}

		if err = i.storage.CommitTransaction(ctx); err != nil {
			err = i.conflictOrErr(roomID, nights, err)

			return
		}

		i.publish(Change{RoomID: roomID, BookingID: bookingID, Dates: nights, Reserved: true})
	}()

	existing, err := i.storage.GetAvailabilityRecords(ctx, roomID, nights[0], pricing.Day(checkOut))
	if isDuplicate(err) {
		return &ConflictError{RoomID: roomID, Dates: nights}
	}

	if err != nil {
		return fmt.Errorf("get availability records of room %s: %w", roomID, err)
	}

	var taken []time.Time

	owned := make(map[time.Time]struct{})

	for _, r := range existing {
		if r.BookingID != bookingID {
			taken = append(taken, pricing.Day(r.Date))

			continue
		}

		owned[pricing.Day(r.Date)] = struct{}{}
	}

	if len(taken) > 0 {
		return &ConflictError{RoomID: roomID, Dates: taken}
	}

	records := make([]*Record, 0, len(nights))

	for _, d := range nights {
		if _, ok := owned[d]; ok {
			continue
		}

		records = append(records, &Record{RoomID: roomID, Date: d, IsAvailable: false, BookingID: bookingID})
	}

	if len(records) == 0 {
		return nil
	}

	if err = i.storage.SaveAvailabilityRecords(ctx, records); err != nil {
		return i.conflictOrErr(roomID, nights, err)
	}

	return nil
}

func (i *Index) conflictOrErr(roomID string, nights []time.Time, err error) error {
	if isDuplicate(err) {
		return &ConflictError{RoomID: roomID, Dates: nights}
	}

	return fmt.Errorf("save availability records of room %s: %w", roomID, err)
}

// Release frees the nights of [checkIn, checkOut) held by bookingID. Releasing
// nights that are not held is a no-op.
func (i *Index) Release(ctx context.Context, roomID string, checkIn, checkOut time.Time, bookingID string) (err error) {
	nights := nightsOf(checkIn, checkOut)
	if len(nights) == 0 {
		return nil
	}

	ctx, err = i.storage.BeginTransaction(ctx, "READ COMMITTED")
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rErr := i.storage.RollbackTransaction(ctx); rErr != nil {
				i.l.LogErrorf("Could not rollback release transaction after panic %v", p)
			}

			panic(p)
		}

		if err != nil {
			if rErr := i.storage.RollbackTransaction(ctx); rErr != nil {
				i.l.LogErrorf("Could not rollback release transaction after error %v", rErr.Error())
			}

			return
		}

		if err = i.storage.CommitTransaction(ctx); err != nil {
			err = fmt.Errorf("commit release of room %s: %w", roomID, err)

			return
		}

		i.publish(Change{RoomID: roomID, BookingID: bookingID, Dates: nights, Reserved: false})
	}()

	if err = i.storage.DeleteAvailabilityRecords(ctx, roomID, bookingID, nights[0], pricing.Day(checkOut)); err != nil {
		return fmt.Errorf("delete availability records of booking %s: %w", bookingID, err)
	}

	return nil
}

// Subscribe registers fn for committed changes. The returned func unregisters it.
func (i *Index) Subscribe(fn func(Change)) func() {
	i.subMu.Lock()
	defer i.subMu.Unlock()

	id := i.nextID
	i.nextID++
	i.subs[id] = fn

	return func() {
		i.subMu.Lock()
		defer i.subMu.Unlock()

		delete(i.subs, id)
	}
}

func (i *Index) publish(c Change) {
	i.subMu.RLock()
	defer i.subMu.RUnlock()

	for _, fn := range i.subs {
		fn(c)
	}
}
