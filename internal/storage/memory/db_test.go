package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avstrong/bnb/internal/availability"
	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/identity"
	"github.com/avstrong/bnb/internal/logger"
	"github.com/avstrong/bnb/internal/storage/memory"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}

	return d
}

func TestTransactionIsInvisibleUntilCommit(t *testing.T) {
	db := memory.New(memory.Config{L: logger.Nop()})
	ctx := context.Background()

	trxCtx, err := db.BeginTransaction(ctx, "READ COMMITTED")
	require.NoError(t, err)

	require.NoError(t, db.SaveBooking(trxCtx, &booking.Booking{ID: "b1", RoomID: "r1"}))

	_, err = db.GetBooking(ctx, "b1")
	require.ErrorIs(t, err, booking.ErrRecordNotFound)

	require.NoError(t, db.CommitTransaction(trxCtx))

	b, err := db.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "r1", b.RoomID)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	db := memory.New(memory.Config{L: logger.Nop()})
	ctx := context.Background()

	trxCtx, err := db.BeginTransaction(ctx, "READ COMMITTED")
	require.NoError(t, err)

	require.NoError(t, db.SaveAvailabilityRecords(trxCtx, []*availability.Record{
		{RoomID: "r1", Date: day("2024-06-10"), BookingID: "b1"},
	}))
	require.NoError(t, db.RollbackTransaction(trxCtx))

	records, err := db.GetAvailabilityRecords(ctx, "r1", day("2024-06-01"), day("2024-06-30"))
	require.NoError(t, err)
	assert.Empty(t, records)

	require.ErrorIs(t, db.CommitTransaction(trxCtx), memory.ErrTransactionNotFound)
}

func TestCommitWithoutTransaction(t *testing.T) {
	db := memory.New(memory.Config{L: logger.Nop()})

	require.ErrorIs(t, db.CommitTransaction(context.Background()), memory.ErrTransactionIDNotFoundInCtx)
}

func TestCommitRejectsDuplicateNight(t *testing.T) {
	db := memory.New(memory.Config{L: logger.Nop()})
	ctx := context.Background()

	first, err := db.BeginTransaction(ctx, "SERIALIZABLE")
	require.NoError(t, err)

	second, err := db.BeginTransaction(ctx, "SERIALIZABLE")
	require.NoError(t, err)

	night := []*availability.Record{{RoomID: "r1", Date: day("2024-06-10")}}

	night[0].BookingID = "b1"
	require.NoError(t, db.SaveAvailabilityRecords(first, night))

	night[0].BookingID = "b2"
	require.NoError(t, db.SaveAvailabilityRecords(second, night))

	require.NoError(t, db.CommitTransaction(first))
	require.ErrorIs(t, db.CommitTransaction(second), availability.ErrDuplicate)

	records, err := db.GetAvailabilityRecords(ctx, "r1", day("2024-06-10"), day("2024-06-11"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b1", records[0].BookingID)
}

func TestDeleteOnlyTouchesOwnRecords(t *testing.T) {
	db := memory.New(memory.Config{L: logger.Nop()})
	ctx := context.Background()

	require.NoError(t, db.SaveAvailabilityRecords(ctx, []*availability.Record{
		{RoomID: "r1", Date: day("2024-06-10"), BookingID: "b1"},
		{RoomID: "r1", Date: day("2024-06-11"), BookingID: "b2"},
	}))

	require.NoError(t, db.DeleteAvailabilityRecords(ctx, "r1", "b1", day("2024-06-10"), day("2024-06-12")))

	records, err := db.GetAvailabilityRecords(ctx, "r1", day("2024-06-01"), day("2024-06-30"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b2", records[0].BookingID)
}

func TestIdempotencyKeyLookup(t *testing.T) {
	db := memory.New(memory.Config{L: logger.Nop()})
	ctx := context.Background()

	require.NoError(t, db.SaveBooking(ctx, &booking.Booking{ID: "b1", IdempotencyKey: "k-1"}))

	b, err := db.GetBookingByIdempotencyKey(ctx, "k-1")
	require.NoError(t, err)
	assert.Equal(t, "b1", b.ID)

	_, err = db.GetBookingByIdempotencyKey(ctx, "k-2")
	require.ErrorIs(t, err, booking.ErrRecordNotFound)

	require.NoError(t, db.SaveBooking(ctx, &booking.Booking{ID: "b1", Status: booking.StatusCancelled}))

	_, err = db.GetBookingByIdempotencyKey(ctx, "k-1")
	require.ErrorIs(t, err, booking.ErrRecordNotFound)
}

func TestListBookingsFilter(t *testing.T) {
	db := memory.New(memory.Config{L: logger.Nop()})
	ctx := context.Background()

	require.NoError(t, db.SaveBooking(ctx, &booking.Booking{ID: "b1", RoomID: "r1", UserID: "u1", Status: booking.StatusPending}))
	require.NoError(t, db.SaveBooking(ctx, &booking.Booking{ID: "b2", RoomID: "r2", UserID: "u1", Status: booking.StatusConfirmed}))
	require.NoError(t, db.SaveBooking(ctx, &booking.Booking{ID: "b3", RoomID: "r1", UserID: "u2", Status: booking.StatusConfirmed}))

	list, err := db.ListBookings(ctx, booking.Filter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = db.ListBookings(ctx, booking.Filter{RoomID: "r1", Status: booking.StatusConfirmed})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b3", list[0].ID)

	n, err := db.CountRoomBookings(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRoomsAreCopied(t *testing.T) {
	db := memory.New(memory.Config{L: logger.Nop()})
	ctx := context.Background()

	room := &booking.Room{ID: "r1", Amenities: []string{"wifi"}, IsActive: true}
	require.NoError(t, db.SaveRoom(ctx, room))

	room.Amenities[0] = "changed"

	got, err := db.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"wifi"}, got.Amenities)

	require.NoError(t, db.SaveRoom(ctx, &booking.Room{ID: "r2"}))

	active, err := db.ListRooms(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, db.DeleteRoom(ctx, "r2"))
	require.ErrorIs(t, db.DeleteRoom(ctx, "r2"), booking.ErrRecordNotFound)
}

func TestUsersByEmail(t *testing.T) {
	db := memory.New(memory.Config{L: logger.Nop()})
	ctx := context.Background()

	require.NoError(t, db.SaveUser(ctx, &identity.User{ID: "u1", Email: "jane@example.com"}))
	require.ErrorIs(t, db.SaveUser(ctx, &identity.User{ID: "u2", Email: "JANE@example.com"}), identity.ErrEmailTaken)

	u, err := db.GetUserByEmail(ctx, "Jane@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = db.GetUser(ctx, "u9")
	require.ErrorIs(t, err, identity.ErrUserNotFound)
}
