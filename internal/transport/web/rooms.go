package web

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/identity"
	"github.com/avstrong/bnb/internal/pricing"
	"github.com/avstrong/bnb/internal/rooms"
)

const (
	defaultCalendarDays = 30
	maxCalendarDays     = 366
)

func isAdmin(r *http.Request) bool {
	p, ok := identity.PrincipalFromContext(r.Context())

	return ok && p.IsAdmin()
}

func (s *Server) listRoomsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Rooms.ListRooms(r.Context(), false)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, list)
}

// visibleRoom hides inactive rooms from everyone but admins.
func (s *Server) visibleRoom(w http.ResponseWriter, r *http.Request) (*booking.Room, bool) {
	room, err := s.svc.Rooms.GetRoom(r.Context(), r.PathValue("id"))
	if err == nil && !room.IsActive && !isAdmin(r) {
		err = fmt.Errorf("room %s is inactive: %w", room.ID, booking.ErrRecordNotFound)
	}

	if err != nil {
		s.writeError(w, err)

		return nil, false
	}

	return room, true
}

func (s *Server) getRoomHandler(w http.ResponseWriter, r *http.Request) {
	room, ok := s.visibleRoom(w, r)
	if !ok {
		return
	}

	s.writeJSON(w, http.StatusOK, room)
}

// dateRange reads [fromKey, toKey) from the query. A missing start means today.
func dateRange(r *http.Request, fromKey, toKey string, defaultDays int) (time.Time, time.Time, *booking.ValidationError) {
	validationErr := booking.NewValidationError()
	q := r.URL.Query()

	from := pricing.Day(time.Now())

	if v := q.Get(fromKey); v != "" {
		t, err := parseDate(v)
		if err != nil {
			validationErr.AddError(fromKey, "provide a date as YYYY-MM-DD")
		}

		from = pricing.Day(t)
	}

	to := from.AddDate(0, 0, defaultDays)

	if v := q.Get(toKey); v != "" {
		t, err := parseDate(v)
		if err != nil {
			validationErr.AddError(toKey, "provide a date as YYYY-MM-DD")
		}

		to = pricing.Day(t)
	} else if defaultDays == 0 {
		validationErr.AddError(toKey, "is required")
	}

	if validationErr.FieldsCount() == 0 {
		switch {
		case !from.Before(to):
			validationErr.AddError(toKey, toKey+" must be after "+fromKey)
		case pricing.Nights(from, to) > maxCalendarDays:
			validationErr.AddError(toKey, fmt.Sprintf("range must not exceed %d days", maxCalendarDays))
		}
	}

	if validationErr.FieldsCount() > 0 {
		return time.Time{}, time.Time{}, validationErr
	}

	return from, to, nil
}

func (s *Server) calendarHandler(w http.ResponseWriter, r *http.Request) {
	room, ok := s.visibleRoom(w, r)
	if !ok {
		return
	}

	from, to, verr := dateRange(r, "from", "to", defaultCalendarDays)
	if verr != nil {
		s.writeError(w, verr)

		return
	}

	days, err := s.svc.Index.Calendar(r.Context(), room.ID, from, to)
	if err != nil {
		s.writeError(w, &booking.BackingStoreError{Op: "calendar", Err: err})

		return
	}

	s.writeJSON(w, http.StatusOK, days)
}

func (s *Server) quoteHandler(w http.ResponseWriter, r *http.Request) {
	room, ok := s.visibleRoom(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("checkIn") == "" {
		verr := booking.NewValidationError()
		verr.AddError("checkIn", "is required")
		s.writeError(w, verr)

		return
	}

	checkIn, checkOut, verr := dateRange(r, "checkIn", "checkOut", 0)
	if verr != nil {
		s.writeError(w, verr)

		return
	}

	s.writeJSON(w, http.StatusOK, pricing.Quote(room.Pricing, checkIn, checkOut))
}

func (s *Server) adminListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Rooms.ListRooms(r.Context(), true)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) createRoomHandler(w http.ResponseWriter, r *http.Request) {
	var input rooms.Input
	if !s.decode(w, r, &input) {
		return
	}

	room, err := s.svc.Rooms.CreateRoom(r.Context(), &input)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusCreated, room)
}

func (s *Server) updateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var input rooms.Input
	if !s.decode(w, r, &input) {
		return
	}

	room, err := s.svc.Rooms.UpdateRoom(r.Context(), r.PathValue("id"), &input)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, room)
}

func (s *Server) deleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Rooms.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deactivateRoomHandler(w http.ResponseWriter, r *http.Request) {
	room, err := s.svc.Rooms.Deactivate(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, room)
}

// addImageHandler takes either a multipart form with an "image" file or the raw
// image as the request body.
func (s *Server) addImageHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBody)

	var src io.Reader = r.Body

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("image")
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "multipart field image is required")

			return
		}
		defer file.Close()

		src = file
	}

	room, err := s.svc.Rooms.AddImage(r.Context(), r.PathValue("id"), src)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusCreated, room)
}

func (s *Server) removeImageHandler(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		verr := booking.NewValidationError()
		verr.AddError("url", "is required")
		s.writeError(w, verr)

		return
	}

	room, err := s.svc.Rooms.RemoveImage(r.Context(), r.PathValue("id"), url)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, room)
}
