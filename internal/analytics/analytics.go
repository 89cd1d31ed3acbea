package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/pricing"
)

var ErrUnknownPeriod = errors.New("unknown period")

type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// DateRange is the half-open interval [From, To) of calendar days.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r DateRange) Days() int {
	return pricing.Nights(r.From, r.To)
}

type RevenuePoint struct {
	Key     string        `json:"key"`
	Label   string        `json:"label"`
	Revenue pricing.Money `json:"revenue"`
}

type CountPoint struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

type OccupancyPoint struct {
	Key   string  `json:"key"`
	Label string  `json:"label"`
	Rate  float64 `json:"rate"`
}

type Summary struct {
	Range             DateRange        `json:"range"`
	Revenue           pricing.Money    `json:"revenue"`
	BookingCount      int              `json:"bookingCount"`
	OccupancyRate     float64          `json:"occupancyRate"`
	AverageStayNights float64          `json:"averageStayNights"`
	RevenueSeries     []RevenuePoint   `json:"revenueSeries"`
	BookingSeries     []CountPoint     `json:"bookingSeries"`
	OccupancySeries   []OccupancyPoint `json:"occupancySeries"`
}

type bucket struct {
	key, label string
	from, to   time.Time
}

// buckets splits r into chronological buckets: one per day up to 31 days, one per
// calendar month beyond that. Month buckets are clipped to r.
func buckets(r DateRange) []bucket {
	days := r.Days()
	if days == 0 {
		return nil
	}

	var result []bucket

	switch {
	case days <= 7: //nolint:gomnd
		for d := r.From; d.Before(r.To); d = d.AddDate(0, 0, 1) {
			result = append(result, bucket{key: d.Format(time.DateOnly), label: d.Format("Mon"), from: d, to: d.AddDate(0, 0, 1)})
		}
	case days <= 31: //nolint:gomnd
		for d := r.From; d.Before(r.To); d = d.AddDate(0, 0, 1) {
			result = append(result, bucket{key: d.Format(time.DateOnly), label: strconv.Itoa(d.Day()), from: d, to: d.AddDate(0, 0, 1)})
		}
	default:
		start := time.Date(r.From.Year(), r.From.Month(), 1, 0, 0, 0, 0, time.UTC)
		for m := start; m.Before(r.To); m = m.AddDate(0, 1, 0) {
			from, to := m, m.AddDate(0, 1, 0)
			if from.Before(r.From) {
				from = r.From
			}

			if to.After(r.To) {
				to = r.To
			}

			result = append(result, bucket{key: m.Format("2006-01"), label: m.Format("Jan 2006"), from: from, to: to})
		}
	}

	return result
}

func indexOf(bs []bucket, t time.Time) int {
	for i, b := range bs {
		if !t.Before(b.from) && t.Before(b.to) {
			return i
		}
	}

	return -1
}

func rate(nights, activeRooms, days int) float64 {
	denominator := activeRooms * days
	if denominator <= 0 {
		return 0
	}

	pct := float64(nights) / float64(denominator) * 100 //nolint:gomnd

	return round1(math.Max(0, math.Min(100, pct))) //nolint:gomnd
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10 //nolint:gomnd
}

// Summarize aggregates non-cancelled bookings created within r. It never divides by
// zero: empty input or zero active rooms yield zero rates.
func Summarize(bookings []*booking.Booking, activeRooms int, r DateRange) Summary {
	r = DateRange{From: pricing.Day(r.From), To: pricing.Day(r.To)}
	bs := buckets(r)

	s := Summary{
		Range:           r,
		RevenueSeries:   make([]RevenuePoint, len(bs)),
		BookingSeries:   make([]CountPoint, len(bs)),
		OccupancySeries: make([]OccupancyPoint, len(bs)),
	}

	nightsPerBucket := make([]int, len(bs))
	totalNights := 0

	for _, b := range bookings {
		if b.Status == booking.StatusCancelled {
			continue
		}

		created := b.CreatedAt.UTC()
		if created.Before(r.From) || !created.Before(r.To) {
			continue
		}

		s.Revenue += b.TotalPrice
		s.BookingCount++
		totalNights += b.Nights()

		if i := indexOf(bs, created); i >= 0 {
			s.RevenueSeries[i].Revenue += b.TotalPrice
			s.BookingSeries[i].Count++
		}

		for d := pricing.Day(b.CheckIn); d.Before(pricing.Day(b.CheckOut)); d = d.AddDate(0, 0, 1) {
			if i := indexOf(bs, d); i >= 0 {
				nightsPerBucket[i]++
			}
		}
	}

	for i, b := range bs {
		s.RevenueSeries[i].Key, s.RevenueSeries[i].Label = b.key, b.label
		s.BookingSeries[i].Key, s.BookingSeries[i].Label = b.key, b.label
		s.OccupancySeries[i] = OccupancyPoint{
			Key:   b.key,
			Label: b.label,
			Rate:  rate(nightsPerBucket[i], activeRooms, pricing.Nights(b.from, b.to)),
		}
	}

	s.OccupancyRate = rate(totalNights, activeRooms, r.Days())

	if s.BookingCount > 0 {
		s.AverageStayNights = round1(float64(totalNights) / float64(s.BookingCount))
	}

	return s
}

// PeriodRange maps a dashboard preset to a range ending with today: the last 7 days,
// the last 30 days, or the current month plus the 11 before it.
func PeriodRange(period Period, now time.Time) (DateRange, error) {
	tomorrow := pricing.Day(now).AddDate(0, 0, 1)

	switch period {
	case PeriodWeek:
		return DateRange{From: tomorrow.AddDate(0, 0, -7), To: tomorrow}, nil //nolint:gomnd
	case PeriodMonth, "":
		return DateRange{From: tomorrow.AddDate(0, 0, -30), To: tomorrow}, nil //nolint:gomnd
	case PeriodYear:
		today := pricing.Day(now)
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)

		return DateRange{From: first.AddDate(0, -11, 0), To: tomorrow}, nil //nolint:gomnd
	default:
		return DateRange{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
	}
}

type storage interface {
	ListBookings(ctx context.Context, filter booking.Filter) ([]*booking.Booking, error)
	ListRooms(ctx context.Context, onlyActive bool) ([]*booking.Room, error)
}

// Service loads ledger history and active rooms and summarizes them.
type Service struct {
	storage storage
	now     func() time.Time
}

func NewService(storage storage) *Service {
	return &Service{storage: storage, now: time.Now}
}

func (s *Service) Summary(ctx context.Context, period Period) (Summary, error) {
	r, err := PeriodRange(period, s.now())
	if err != nil {
		return Summary{}, err
	}

	bookings, err := s.storage.ListBookings(ctx, booking.Filter{})
	if err != nil {
		return Summary{}, &booking.BackingStoreError{Op: "list bookings", Err: err}
	}

	active, err := s.storage.ListRooms(ctx, true)
	if err != nil {
		return Summary{}, &booking.BackingStoreError{Op: "list rooms", Err: err}
	}

	return Summarize(bookings, len(active), r), nil
}
