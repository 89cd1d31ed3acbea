package availability

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicate is returned by stores when a committed (room, date) pair already exists.
	ErrDuplicate   = errors.New("availability record already exists")
	ErrEmptyRange  = errors.New("empty date range")
	ErrLockTimeout = errors.New("room lock not acquired")
)

// ConflictError reports nights that were committed by someone else while reserving.
type ConflictError struct {
	RoomID string
	Dates  []time.Time
}

func (e *ConflictError) Error() string {
	dates := make([]string, 0, len(e.Dates))
	for _, d := range e.Dates {
		dates = append(dates, d.Format("2006-01-02"))
	}

	return fmt.Sprintf("room '%v' already committed on %v", e.RoomID, dates)
}

func IsConflictError(err error) *ConflictError {
	if err == nil {
		return nil
	}

	var conflictErr *ConflictError

	if errors.As(err, &conflictErr) {
		return conflictErr
	}

	return nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
