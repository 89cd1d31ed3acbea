package payment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/pricing"
)

var (
	ErrDeclined           = errors.New("payment declined")
	ErrInvalidSource      = errors.New("invalid payment source")
	ErrUnknownTransaction = errors.New("unknown transaction")
	ErrUnsupportedMethod  = errors.New("unsupported payment method")
)

// DeclinedCard is the test card number the sandbox always declines.
const DeclinedCard = "4000000000000002"

// Charge asks a processor to capture an amount. Source is a card number for stripe
// and the payer email for paypal.
type Charge struct {
	BookingID string
	Amount    pricing.Money
	Currency  string
	Method    booking.PaymentMethod
	Source    string
}

type Result struct {
	TransactionID string
	Status        booking.PaymentStatus
}

type Processor interface {
	Capture(ctx context.Context, charge Charge) (Result, error)
	Refund(ctx context.Context, transactionID string) (Result, error)
}

var (
	cardPattern  = regexp.MustCompile(`^\d{12,19}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Sandbox emulates card and PayPal processors in memory.
type Sandbox struct {
	mu       sync.Mutex
	captured map[string]Charge
	refunded map[string]bool
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		captured: make(map[string]Charge),
		refunded: make(map[string]bool),
	}
}

func (s *Sandbox) Capture(_ context.Context, charge Charge) (Result, error) {
	if charge.Amount <= 0 {
		return Result{}, fmt.Errorf("amount %s: %w", charge.Amount, ErrInvalidSource)
	}

	var prefix string

	switch charge.Method {
	case booking.PaymentStripe:
		card := strings.ReplaceAll(charge.Source, " ", "")
		if !cardPattern.MatchString(card) {
			return Result{}, fmt.Errorf("card number: %w", ErrInvalidSource)
		}

		if card == DeclinedCard {
			return Result{}, fmt.Errorf("card ending %s: %w", card[len(card)-4:], ErrDeclined)
		}

		prefix = "ch_"
	case booking.PaymentPayPal:
		if !emailPattern.MatchString(charge.Source) {
			return Result{}, fmt.Errorf("paypal account: %w", ErrInvalidSource)
		}

		prefix = "PAYID-"
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedMethod, charge.Method)
	}

	id := prefix + strings.ReplaceAll(uuid.NewString(), "-", "")

	s.mu.Lock()
	s.captured[id] = charge
	s.mu.Unlock()

	return Result{TransactionID: id, Status: booking.PaymentCompleted}, nil
}

// Refund reverses a capture in full. Refunding twice is a no-op.
func (s *Sandbox) Refund(_ context.Context, transactionID string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.captured[transactionID]; !ok {
		return Result{}, fmt.Errorf("refund %s: %w", transactionID, ErrUnknownTransaction)
	}

	s.refunded[transactionID] = true

	return Result{TransactionID: transactionID, Status: booking.PaymentRefunded}, nil
}
