package gormdb

import (
	"time"

	"github.com/avstrong/bnb/internal/availability"
	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/identity"
	"github.com/avstrong/bnb/internal/pricing"
)

type roomModel struct {
	ID          string          `gorm:"primaryKey;size:64"`
	Name        string          `gorm:"size:120;not null"`
	Description string          `gorm:"type:text"`
	Type        string          `gorm:"size:16;not null"`
	Capacity    int             `gorm:"not null"`
	Amenities   []string        `gorm:"serializer:json"`
	Images      []string        `gorm:"serializer:json"`
	Pricing     pricing.Pricing `gorm:"serializer:json"`
	IsActive    bool            `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (roomModel) TableName() string { return "rooms" }

func toRoomModel(r *booking.Room) *roomModel {
	return &roomModel{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Type:        string(r.Type),
		Capacity:    r.Capacity,
		Amenities:   r.Amenities,
		Images:      r.Images,
		Pricing:     r.Pricing,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (m *roomModel) toRoom() *booking.Room {
	return &booking.Room{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Type:        booking.RoomType(m.Type),
		Capacity:    m.Capacity,
		Amenities:   m.Amenities,
		Images:      m.Images,
		Pricing:     m.Pricing,
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

type bookingModel struct {
	ID                   string    `gorm:"primaryKey;size:64"`
	RoomID               string    `gorm:"size:64;index;not null"`
	UserID               string    `gorm:"size:64;index"`
	GuestName            string    `gorm:"size:120"`
	GuestEmail           string    `gorm:"size:254"`
	GuestPhone           string    `gorm:"size:32"`
	CheckIn              time.Time `gorm:"index"`
	CheckOut             time.Time
	Guests               int
	TotalPrice           int64
	Status               string    `gorm:"size:16;index"`
	PaymentMethod        string    `gorm:"size:16"`
	PaymentStatus        string    `gorm:"size:16"`
	PaymentTransactionID string    `gorm:"size:128"`
	SpecialRequests      string    `gorm:"type:text"`
	CancelReason         string    `gorm:"type:text"`
	IdempotencyKey       *string   `gorm:"size:128;uniqueIndex"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (bookingModel) TableName() string { return "bookings" }

func toBookingModel(b *booking.Booking) *bookingModel {
	m := &bookingModel{
		ID:                   b.ID,
		RoomID:               b.RoomID,
		UserID:               b.UserID,
		GuestName:            b.Guest.Name,
		GuestEmail:           b.Guest.Email,
		GuestPhone:           b.Guest.Phone,
		CheckIn:              b.CheckIn,
		CheckOut:             b.CheckOut,
		Guests:               b.Guests,
		TotalPrice:           int64(b.TotalPrice),
		Status:               string(b.Status),
		PaymentMethod:        string(b.Payment.Method),
		PaymentStatus:        string(b.Payment.Status),
		PaymentTransactionID: b.Payment.TransactionID,
		SpecialRequests:      b.SpecialRequests,
		CancelReason:         b.CancelReason,
		CreatedAt:            b.CreatedAt,
		UpdatedAt:            b.UpdatedAt,
	}

	if b.IdempotencyKey != "" {
		key := b.IdempotencyKey
		m.IdempotencyKey = &key
	}

	return m
}

func (m *bookingModel) toBooking() *booking.Booking {
	b := &booking.Booking{
		ID:     m.ID,
		RoomID: m.RoomID,
		UserID: m.UserID,
		Guest: booking.GuestInfo{
			Name:  m.GuestName,
			Email: m.GuestEmail,
			Phone: m.GuestPhone,
		},
		CheckIn:    pricing.Day(m.CheckIn),
		CheckOut:   pricing.Day(m.CheckOut),
		Guests:     m.Guests,
		TotalPrice: pricing.Money(m.TotalPrice),
		Status:     booking.Status(m.Status),
		Payment: booking.Payment{
			Method:        booking.PaymentMethod(m.PaymentMethod),
			Status:        booking.PaymentStatus(m.PaymentStatus),
			TransactionID: m.PaymentTransactionID,
		},
		SpecialRequests: m.SpecialRequests,
		CancelReason:    m.CancelReason,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}

	if m.IdempotencyKey != nil {
		b.IdempotencyKey = *m.IdempotencyKey
	}

	return b
}

// availabilityModel is one committed night. The composite primary key is what makes a
// double booking impossible at the database level.
type availabilityModel struct {
	RoomID      string    `gorm:"primaryKey;size:64"`
	Date        time.Time `gorm:"primaryKey"`
	IsAvailable bool
	BookingID   string    `gorm:"size:64;index;not null"`
}

func (availabilityModel) TableName() string { return "availability" }

func (m *availabilityModel) toRecord() *availability.Record {
	return &availability.Record{
		RoomID:      m.RoomID,
		Date:        pricing.Day(m.Date),
		IsAvailable: m.IsAvailable,
		BookingID:   m.BookingID,
	}
}

type userModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	Email        string `gorm:"size:254;uniqueIndex;not null"`
	DisplayName  string `gorm:"size:80"`
	Role         string `gorm:"size:16;not null"`
	PasswordHash string `gorm:"size:128;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userModel) TableName() string { return "users" }

func toUserModel(u *identity.User) *userModel {
	return &userModel{
		ID:           u.ID,
		Email:        u.Email,
		DisplayName:  u.DisplayName,
		Role:         string(u.Role),
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (m *userModel) toUser() *identity.User {
	return &identity.User{
		ID:           m.ID,
		Email:        m.Email,
		DisplayName:  m.DisplayName,
		Role:         identity.Role(m.Role),
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}
