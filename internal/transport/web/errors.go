package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/avstrong/bnb/internal/analytics"
	"github.com/avstrong/bnb/internal/availability"
	"github.com/avstrong/bnb/internal/blob"
	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/identity"
	"github.com/avstrong/bnb/internal/payment"
	"github.com/avstrong/bnb/internal/rooms"
)

var (
	ErrPanic       = errors.New("panic recovered")
	ErrUnsupported = errors.New("unsupported")
)

type errorBody struct {
	Error  string              `json:"error"`
	Fields map[string][]string `json:"fields,omitempty"`
	Dates  []string            `json:"dates,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.l.LogErrorf("Could not encode response: %v", err.Error())
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}

func nightsBetween(from, to time.Time) []string {
	var dates []string

	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format("2006-01-02"))
	}

	return dates
}

// writeError maps domain errors onto status codes. Unknown errors are logged and
// answered with 500 without leaking details.
//
//nolint:cyclop
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var inputErr *identity.InputError

	switch {
	case booking.IsValidationError(err) != nil:
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: booking.IsValidationError(err).Fields()})
	case errors.As(err, &inputErr):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: inputErr.Fields})
	case booking.IsRoomUnavailableError(err) != nil:
		ue := booking.IsRoomUnavailableError(err)
		s.writeJSON(w, http.StatusConflict, errorBody{Error: ue.Error(), Dates: nightsBetween(ue.CheckIn, ue.CheckOut)})
	case booking.IsInvalidTransitionError(err) != nil,
		errors.Is(err, payment.ErrAlreadyPaid),
		errors.Is(err, payment.ErrPaymentInProgress),
		errors.Is(err, rooms.ErrRoomReferenced),
		errors.Is(err, identity.ErrEmailTaken):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, booking.ErrRecordNotFound), errors.Is(err, blob.ErrNotFound), errors.Is(err, identity.ErrUserNotFound):
		writeMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, booking.ErrForbidden):
		writeMessage(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrInvalidToken):
		writeMessage(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, payment.ErrDeclined):
		writeMessage(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, payment.ErrInvalidSource),
		errors.Is(err, payment.ErrUnsupportedMethod),
		errors.Is(err, rooms.ErrBadImage),
		errors.Is(err, blob.ErrInvalidKey),
		errors.Is(err, analytics.ErrUnknownPeriod):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case booking.IsBackingStoreError(err) != nil, errors.Is(err, availability.ErrLockTimeout):
		s.l.LogErrorf("Backing store failure: %v", err.Error())
		w.Header().Set("Retry-After", "1")
		writeMessage(w, http.StatusServiceUnavailable, "temporarily unavailable, retry later")
	default:
		s.l.LogErrorf("Request failed: %v", err.Error())
		writeMessage(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))

	if err := dec.Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "malformed json body")

		return false
	}

	return true
}
