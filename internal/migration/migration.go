package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/identity"
	"github.com/avstrong/bnb/internal/logger"
	"github.com/avstrong/bnb/internal/pricing"
)

type storage interface {
	BeginTransaction(ctx context.Context, level string) (context.Context, error)
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
	ListRooms(ctx context.Context, onlyActive bool) ([]*booking.Room, error)
	SaveRoom(ctx context.Context, room *booking.Room) error
}

type registrar interface {
	Register(ctx context.Context, input identity.RegisterInput, role identity.Role) (*identity.User, error)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// SampleRooms is the starter catalog. The summer season is placed in the year of now.
func SampleRooms(now time.Time) []*booking.Room {
	now = now.UTC()
	year := now.Year()

	//nolint:gomnd
	return []*booking.Room{
		{
			ID:          "ocean-view-suite",
			Name:        "Ocean View Suite",
			Description: "Luxurious suite with ocean views, king-size bed, private balcony and a bathroom with jacuzzi.",
			Type:        booking.RoomTypeRoom,
			Capacity:    2,
			Amenities:   []string{"wifi", "tv", "minibar", "airConditioning", "coffee", "safe", "hairDryer"},
			Pricing:     pricing.Pricing{BasePrice: pricing.FromFloat(250), WeekendPrice: pricing.FromFloat(300)},
		},
		{
			ID:          "garden-view-room",
			Name:        "Garden View Room",
			Description: "Cozy room overlooking the garden with a queen-size bed.",
			Type:        booking.RoomTypeRoom,
			Capacity:    2,
			Amenities:   []string{"wifi", "tv", "airConditioning", "coffee", "hairDryer"},
			Pricing:     pricing.Pricing{BasePrice: pricing.FromFloat(150), WeekendPrice: pricing.FromFloat(180)},
		},
		{
			ID:          "family-apartment",
			Name:        "Family Apartment",
			Description: "Two-bedroom apartment with full kitchen, living area and two bathrooms. Sleeps six.",
			Type:        booking.RoomTypeApartment,
			Capacity:    6,
			Amenities:   []string{"wifi", "tv", "kitchen", "airConditioning", "coffee", "parking", "iron", "workDesk"},
			Pricing: pricing.Pricing{
				BasePrice:    pricing.FromFloat(350),
				WeekendPrice: pricing.FromFloat(400),
				Seasonal: []pricing.SeasonalRate{{
					Label: "Summer Peak",
					Start: date(year, time.July, 1),
					End:   date(year, time.August, 31),
					Price: pricing.FromFloat(450),
				}},
			},
		},
		{
			ID:          "deluxe-king-room",
			Name:        "Deluxe King Room",
			Description: "Elegant room with king-size bed, work desk and a comfortable seating area.",
			Type:        booking.RoomTypeRoom,
			Capacity:    2,
			Amenities:   []string{"wifi", "tv", "minibar", "airConditioning", "coffee", "safe", "workDesk", "iron"},
			Pricing:     pricing.Pricing{BasePrice: pricing.FromFloat(200), WeekendPrice: pricing.FromFloat(230)},
		},
	}
}

// Up seeds the sample rooms into an empty catalog. A catalog that already has
// rooms is left alone, so Up is safe to run on every start.
func Up(ctx context.Context, l *logger.Logger, storage storage, now time.Time) (seeded int, err error) {
	existing, err := storage.ListRooms(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("list rooms: %w", err)
	}

	if len(existing) > 0 {
		l.LogInfo("Catalog has %d rooms, seeding skipped", len(existing))

		return 0, nil
	}

	ctx, err = storage.BeginTransaction(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rErr := storage.RollbackTransaction(ctx); rErr != nil {
				l.LogErrorf("Could not rollback migration transaction after panic %v", p)
			}

			l.LogInfo("Migration transaction has been roll backed after panic")

			panic(p)
		}

		if err != nil {
			if rErr := storage.RollbackTransaction(ctx); rErr != nil {
				l.LogErrorf("Could not rollback migration transaction after error %v", rErr.Error())
			}

			l.LogInfo("Migration transaction has been roll backed after error")

			return
		}

		if err = storage.CommitTransaction(ctx); err != nil {
			err = fmt.Errorf("commit migration: %w", err)

			return
		}

		l.LogInfo("Migration transaction has been committed, %d rooms seeded", seeded)
	}()

	for _, room := range SampleRooms(now) {
		room.IsActive = true
		room.CreatedAt = now.UTC()
		room.UpdatedAt = now.UTC()

		if err = storage.SaveRoom(ctx, room); err != nil {
			return 0, fmt.Errorf("save room %s: %w", room.ID, err)
		}

		seeded++
	}

	return seeded, nil
}

// SeedAdmin registers an admin account unless the email is already taken.
func SeedAdmin(ctx context.Context, l *logger.Logger, r registrar, email, password string) error {
	_, err := r.Register(ctx, identity.RegisterInput{Email: email, Password: password, DisplayName: "Administrator"}, identity.RoleAdmin)
	if errors.Is(err, identity.ErrEmailTaken) {
		l.LogInfo("Admin %s already exists", email)

		return nil
	}

	if err != nil {
		return fmt.Errorf("register admin %s: %w", email, err)
	}

	l.LogInfo("Admin %s created", email)

	return nil
}
