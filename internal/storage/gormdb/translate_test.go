package gormdb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/avstrong/bnb/internal/availability"
)

// stateError mimics the SQLState accessor of pgconn.PgError.
type stateError struct {
	code string
}

func (e *stateError) Error() string    { return "pg error " + e.code }
func (e *stateError) SQLState() string { return e.code }

func TestTranslate(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		duplicate bool
	}{
		{name: "unique violation", err: gorm.ErrDuplicatedKey, duplicate: true},
		{name: "serialization failure", err: fmt.Errorf("commit: %w", &stateError{code: "40001"}), duplicate: true},
		{name: "other sql state", err: &stateError{code: "08006"}, duplicate: false},
		{name: "plain error", err: errors.New("connection reset"), duplicate: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(tt.err)

			assert.Equal(t, tt.duplicate, errors.Is(got, availability.ErrDuplicate))
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.NoError(t, translate(nil))
}
