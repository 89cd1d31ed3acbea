package booking

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNextID         = errors.New("get next id from generator")
	ErrRecordNotFound = errors.New("record not found")
	ErrForbidden      = errors.New("forbidden")
	ErrAlreadyPaid    = errors.New("booking already paid")
)

// ValidationError collects malformed input per field.
type ValidationError struct {
	fields map[string][]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{
		fields: make(map[string][]string),
	}
}

func IsValidationError(err error) *ValidationError {
	if err == nil {
		return nil
	}

	var validationError *ValidationError

	if errors.As(err, &validationError) {
		return validationError
	}

	return nil
}

func (ve *ValidationError) FieldsCount() int {
	return len(ve.fields)
}

func (ve *ValidationError) AddError(field, msg string) {
	ve.fields[field] = append(ve.fields[field], msg)
}

func (ve *ValidationError) merge(fields map[string][]string) {
	for field, msgs := range fields {
		ve.fields[field] = append(ve.fields[field], msgs...)
	}
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("%+v", ve.fields)
}

func (ve *ValidationError) Fields() map[string][]string {
	return ve.fields
}

// RoomUnavailableError means the requested nights are held by another booking.
type RoomUnavailableError struct {
	RoomID   string
	CheckIn  time.Time
	CheckOut time.Time
}

func IsRoomUnavailableError(err error) *RoomUnavailableError {
	if err == nil {
		return nil
	}

	var unavailableErr *RoomUnavailableError

	if errors.As(err, &unavailableErr) {
		return unavailableErr
	}

	return nil
}

func (e *RoomUnavailableError) Error() string {
	return fmt.Sprintf(
		"room '%v' is unavailable from %v to %v",
		e.RoomID,
		e.CheckIn.Format("2006-01-02"),
		e.CheckOut.Format("2006-01-02"),
	)
}

type InvalidTransitionError struct {
	BookingID string
	From      Status
	To        Status
}

func IsInvalidTransitionError(err error) *InvalidTransitionError {
	if err == nil {
		return nil
	}

	var transitionErr *InvalidTransitionError

	if errors.As(err, &transitionErr) {
		return transitionErr
	}

	return nil
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("booking '%v' cannot move from %v to %v", e.BookingID, e.From, e.To)
}

// BackingStoreError wraps a fault of the document or blob store. Callers may retry.
type BackingStoreError struct {
	Op  string
	Err error
}

func IsBackingStoreError(err error) *BackingStoreError {
	if err == nil {
		return nil
	}

	var storeErr *BackingStoreError

	if errors.As(err, &storeErr) {
		return storeErr
	}

	return nil
}

func (e *BackingStoreError) Error() string {
	return fmt.Sprintf("backing store: %s: %v", e.Op, e.Err)
}

func (e *BackingStoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if errors.Is(err, ErrRecordNotFound) || IsBackingStoreError(err) != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return &BackingStoreError{Op: op, Err: err}
}
