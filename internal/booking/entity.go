package booking

import (
	"time"

	"github.com/avstrong/bnb/internal/pricing"
)

type RoomType string

const (
	RoomTypeRoom      RoomType = "room"
	RoomTypeApartment RoomType = "apartment"
)

type Room struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        RoomType        `json:"type"`
	Capacity    int             `json:"capacity"`
	Amenities   []string        `json:"amenities"`
	Images      []string        `json:"images"`
	Pricing     pricing.Pricing `json:"pricing"`
	IsActive    bool            `json:"isActive"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return true
	default:
		return false
	}
}

type PaymentMethod string

const (
	PaymentUnset  PaymentMethod = ""
	PaymentStripe PaymentMethod = "stripe"
	PaymentPayPal PaymentMethod = "paypal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type Payment struct {
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transactionId,omitempty"`
}

// GuestInfo is a snapshot taken at booking time, not a link to an account.
type GuestInfo struct {
	Name  string `json:"name"  validate:"required,max=120"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"required,phone"`
}

type Booking struct {
	ID              string        `json:"id"`
	RoomID          string        `json:"roomId"`
	UserID          string        `json:"userId,omitempty"`
	Guest           GuestInfo     `json:"guestInfo"`
	CheckIn         time.Time     `json:"checkIn"`
	CheckOut        time.Time     `json:"checkOut"`
	Guests          int           `json:"guests"`
	TotalPrice      pricing.Money `json:"totalPrice"`
	Status          Status        `json:"status"`
	Payment         Payment       `json:"payment"`
	SpecialRequests string        `json:"specialRequests,omitempty"`
	CancelReason    string        `json:"cancelReason,omitempty"`
	IdempotencyKey  string        `json:"-"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Nights is the number of nights the stay occupies.
func (b *Booking) Nights() int {
	return pricing.Nights(b.CheckIn, b.CheckOut)
}

type CreateInput struct {
	RoomID          string    `json:"roomId"          validate:"required"`
	Guest           GuestInfo `json:"guestInfo"`
	CheckIn         time.Time `json:"checkIn"`
	CheckOut        time.Time `json:"checkOut"`
	Guests          int       `json:"guests"          validate:"gte=1"`
	SpecialRequests string    `json:"specialRequests" validate:"max=1000"`
	// Confirmed creates the booking directly in confirmed status. Admins only.
	Confirmed bool `json:"confirmed"`
}

// Filter narrows ListBookings. Empty fields match everything.
type Filter struct {
	UserID string
	RoomID string
	Status Status
}
