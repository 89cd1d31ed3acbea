package analytics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avstrong/bnb/internal/analytics"
	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/logger"
	"github.com/avstrong/bnb/internal/pricing"
	"github.com/avstrong/bnb/internal/storage/memory"
)

func day(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}

	return d
}

func stay(id, created, checkIn, checkOut string, total float64, status booking.Status) *booking.Booking {
	return &booking.Booking{
		ID:         id,
		RoomID:     "r1",
		CreatedAt:  day(created).Add(10 * time.Hour),
		CheckIn:    day(checkIn),
		CheckOut:   day(checkOut),
		TotalPrice: pricing.FromFloat(total),
		Status:     status,
	}
}

func TestSummarizeEmptyIsZero(t *testing.T) {
	s := analytics.Summarize(nil, 0, analytics.DateRange{From: day("2024-06-01"), To: day("2024-06-08")})

	assert.Zero(t, s.Revenue)
	assert.Zero(t, s.BookingCount)
	assert.Zero(t, s.OccupancyRate)
	assert.Zero(t, s.AverageStayNights)
	assert.Len(t, s.RevenueSeries, 7)

	s = analytics.Summarize(nil, 4, analytics.DateRange{From: day("2024-06-01"), To: day("2024-06-01")})
	assert.Zero(t, s.OccupancyRate)
	assert.Empty(t, s.OccupancySeries)
}

func TestSummarizeWeek(t *testing.T) {
	r := analytics.DateRange{From: day("2024-06-01"), To: day("2024-06-08")}
	bookings := []*booking.Booking{
		stay("a", "2024-06-01", "2024-06-02", "2024-06-05", 300, booking.StatusConfirmed),
		stay("b", "2024-06-03", "2024-06-03", "2024-06-04", 100, booking.StatusPending),
		stay("c", "2024-06-03", "2024-06-03", "2024-06-06", 999, booking.StatusCancelled),
		stay("d", "2024-05-20", "2024-06-01", "2024-06-03", 500, booking.StatusConfirmed),
	}

	s := analytics.Summarize(bookings, 2, r)

	assert.Equal(t, pricing.FromFloat(400), s.Revenue)
	assert.Equal(t, 2, s.BookingCount)
	assert.InDelta(t, 2.0, s.AverageStayNights, 0.001)
	// 4 nights over 2 rooms x 7 days.
	assert.InDelta(t, 28.6, s.OccupancyRate, 0.001)

	require.Len(t, s.RevenueSeries, 7)
	assert.Equal(t, "2024-06-01", s.RevenueSeries[0].Key)
	assert.Equal(t, "Sat", s.RevenueSeries[0].Label)
	assert.Equal(t, pricing.FromFloat(300), s.RevenueSeries[0].Revenue)
	assert.Equal(t, pricing.FromFloat(100), s.RevenueSeries[2].Revenue)
	assert.Equal(t, 1, s.BookingSeries[2].Count)
	assert.Zero(t, s.BookingSeries[1].Count)

	// 2024-06-03 holds a night of "a" and of "b".
	assert.InDelta(t, 100.0, s.OccupancySeries[2].Rate, 0.001)
	assert.InDelta(t, 50.0, s.OccupancySeries[1].Rate, 0.001)
	assert.Zero(t, s.OccupancySeries[6].Rate)
}

func TestSummarizeMonthLabelsDayOfMonth(t *testing.T) {
	r := analytics.DateRange{From: day("2024-06-01"), To: day("2024-07-01")}

	s := analytics.Summarize(nil, 1, r)

	require.Len(t, s.RevenueSeries, 30)
	assert.Equal(t, "1", s.RevenueSeries[0].Label)
	assert.Equal(t, "2024-06-30", s.RevenueSeries[29].Key)
	assert.Equal(t, "30", s.RevenueSeries[29].Label)
}

func TestSummarizeYearBucketsByMonth(t *testing.T) {
	r := analytics.DateRange{From: day("2023-07-01"), To: day("2024-06-16")}
	bookings := []*booking.Booking{
		stay("a", "2024-06-10", "2024-06-14", "2024-06-20", 600, booking.StatusConfirmed),
	}

	s := analytics.Summarize(bookings, 1, r)

	require.Len(t, s.RevenueSeries, 12)
	assert.Equal(t, "2023-07", s.RevenueSeries[0].Key)
	assert.Equal(t, "2024-06", s.RevenueSeries[11].Key)
	assert.Equal(t, pricing.FromFloat(600), s.RevenueSeries[11].Revenue)

	// Only the 2 nights inside the clipped June bucket of 15 days count.
	assert.InDelta(t, 13.3, s.OccupancySeries[11].Rate, 0.001)
}

func TestOccupancyIsClamped(t *testing.T) {
	r := analytics.DateRange{From: day("2024-06-01"), To: day("2024-06-03")}
	bookings := []*booking.Booking{
		stay("a", "2024-06-01", "2024-06-01", "2024-06-30", 100, booking.StatusConfirmed),
	}

	s := analytics.Summarize(bookings, 1, r)

	assert.InDelta(t, 100.0, s.OccupancyRate, 0.001)
}

func TestPeriodRange(t *testing.T) {
	now := time.Date(2024, 6, 15, 18, 30, 0, 0, time.UTC)

	week, err := analytics.PeriodRange(analytics.PeriodWeek, now)
	require.NoError(t, err)
	assert.Equal(t, day("2024-06-09"), week.From)
	assert.Equal(t, day("2024-06-16"), week.To)
	assert.Equal(t, 7, week.Days())

	month, err := analytics.PeriodRange(analytics.PeriodMonth, now)
	require.NoError(t, err)
	assert.Equal(t, 30, month.Days())

	year, err := analytics.PeriodRange(analytics.PeriodYear, now)
	require.NoError(t, err)
	assert.Equal(t, day("2023-07-01"), year.From)

	_, err = analytics.PeriodRange("decade", now)
	require.ErrorIs(t, err, analytics.ErrUnknownPeriod)
}

func TestServiceSummary(t *testing.T) {
	db := memory.New(memory.Config{L: logger.Nop()})
	ctx := context.Background()

	require.NoError(t, db.SaveRoom(ctx, &booking.Room{ID: "r1", IsActive: true}))
	require.NoError(t, db.SaveRoom(ctx, &booking.Room{ID: "r2", IsActive: false}))

	now := time.Now().UTC()
	require.NoError(t, db.SaveBooking(ctx, &booking.Booking{
		ID:         "b1",
		RoomID:     "r1",
		CreatedAt:  now,
		CheckIn:    pricing.Day(now),
		CheckOut:   pricing.Day(now).AddDate(0, 0, 2),
		TotalPrice: pricing.FromFloat(250),
		Status:     booking.StatusConfirmed,
	}))

	s, err := analytics.NewService(db).Summary(ctx, analytics.PeriodWeek)
	require.NoError(t, err)

	assert.Equal(t, 1, s.BookingCount)
	assert.Equal(t, pricing.FromFloat(250), s.Revenue)
	assert.InDelta(t, 2.0, s.AverageStayNights, 0.001)

	_, err = analytics.NewService(db).Summary(ctx, "decade")
	require.ErrorIs(t, err, analytics.ErrUnknownPeriod)
}
