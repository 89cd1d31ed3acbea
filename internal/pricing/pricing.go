package pricing

import (
	"errors"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

var ErrInvalidPricing = errors.New("invalid pricing")

type Tier string

const (
	TierBase     Tier = "base"
	TierWeekend  Tier = "weekend"
	TierSeasonal Tier = "seasonal"
)

type SeasonalRate struct {
	Label string    `json:"label"`
	Start time.Time `json:"startDate"`
	End   time.Time `json:"endDate"`
	Price Money     `json:"price"`
}

// Pricing holds a room's nightly rates. A zero WeekendPrice means unset.
type Pricing struct {
	BasePrice    Money          `json:"basePrice"`
	WeekendPrice Money          `json:"weekendPrice,omitempty"`
	Seasonal     []SeasonalRate `json:"seasonalPricing,omitempty"`
}

type Night struct {
	Date  time.Time `json:"date"`
	Price Money     `json:"price"`
	Tier  Tier      `json:"tier"`
	Label string    `json:"label,omitempty"`
}

type Breakdown struct {
	Nights int     `json:"nights"`
	Lines  []Night `json:"lines"`
	Total  Money   `json:"total"`
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Nights counts the nights between two dates. Negative ranges count as zero.
func Nights(checkIn, checkOut time.Time) int {
	n := int(Day(checkOut).Sub(Day(checkIn)).Hours() / 24) //nolint:gomnd
	if n < 0 {
		return 0
	}

	return n
}

func isWeekend(d time.Time) bool {
	wd := d.Weekday()

	return wd == time.Saturday || wd == time.Sunday
}

// seasonFor returns the seasonal rate covering d. When windows overlap the one
// starting latest wins; equal starts keep list order.
func (p *Pricing) seasonFor(d time.Time) (SeasonalRate, bool) {
	var (
		best  SeasonalRate
		found bool
	)

	for _, s := range p.Seasonal {
		if d.Before(Day(s.Start)) || d.After(Day(s.End)) {
			continue
		}

		if !found || Day(s.Start).After(Day(best.Start)) {
			best = s
			found = true
		}
	}

	return best, found
}

// Resolve returns the price charged for the night starting on d.
func (p *Pricing) Resolve(d time.Time) Night {
	d = Day(d)
	night := Night{Date: d, Price: p.BasePrice, Tier: TierBase}

	if isWeekend(d) && p.WeekendPrice > 0 {
		night.Price = p.WeekendPrice
		night.Tier = TierWeekend
	}

	if s, ok := p.seasonFor(d); ok {
		night.Price = s.Price
		night.Tier = TierSeasonal
		night.Label = s.Label
	}

	return night
}

// Quote prices every night in [checkIn, checkOut).
func Quote(p Pricing, checkIn, checkOut time.Time) Breakdown {
	from, to := Day(checkIn), Day(checkOut)
	b := Breakdown{Lines: make([]Night, 0, Nights(from, to))}

	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		night := p.Resolve(d)
		b.Lines = append(b.Lines, night)
		b.Total += night.Price
	}

	b.Nights = len(b.Lines)

	return b
}

// ComputePrice is the stay total for [checkIn, checkOut). It has no side effects.
func ComputePrice(p Pricing, checkIn, checkOut time.Time) Money {
	return Quote(p, checkIn, checkOut).Total
}

func ValidatePricing(p Pricing) error {
	if p.BasePrice <= 0 {
		return fmt.Errorf("base price must be positive: %w", ErrInvalidPricing)
	}

	if p.WeekendPrice != 0 && p.WeekendPrice < p.BasePrice {
		return fmt.Errorf("weekend price %s is below base price %s: %w", p.WeekendPrice, p.BasePrice, ErrInvalidPricing)
	}

	for _, s := range p.Seasonal {
		if Day(s.End).Before(Day(s.Start)) {
			return fmt.Errorf(
				"season %q ends %s before it starts %s: %w",
				s.Label, s.End.Format(dateLayout), s.Start.Format(dateLayout), ErrInvalidPricing,
			)
		}

		if s.Price <= 0 {
			return fmt.Errorf("season %q price must be positive: %w", s.Label, ErrInvalidPricing)
		}
	}

	return nil
}
