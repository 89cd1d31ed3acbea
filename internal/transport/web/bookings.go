package web

import (
	"net/http"
	"time"

	"github.com/avstrong/bnb/internal/analytics"
	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/payment"
)

type createBookingRequest struct {
	RoomID          string            `json:"roomId"`
	Guest           booking.GuestInfo `json:"guestInfo"`
	CheckIn         string            `json:"checkIn"`
	CheckOut        string            `json:"checkOut"`
	Guests          int               `json:"guests"`
	SpecialRequests string            `json:"specialRequests"`
	Confirmed       bool              `json:"confirmed"`
}

// input converts the request. Unparsable dates are left zero so the ledger reports
// them along with every other field problem.
func (req *createBookingRequest) input() *booking.CreateInput {
	parse := func(v string) time.Time {
		t, err := parseDate(v)
		if err != nil {
			return time.Time{}
		}

		return t
	}

	return &booking.CreateInput{
		RoomID:          req.RoomID,
		Guest:           req.Guest,
		CheckIn:         parse(req.CheckIn),
		CheckOut:        parse(req.CheckOut),
		Guests:          req.Guests,
		SpecialRequests: req.SpecialRequests,
		Confirmed:       req.Confirmed,
	}
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type checkoutRequest struct {
	Method booking.PaymentMethod `json:"method"`
	// Source is a card number for stripe or the payer email for paypal.
	Source string `json:"source"`
}

type statusRequest struct {
	Status booking.Status `json:"status"`
}

func (s *Server) createBookingHandler(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		writeMessage(w, http.StatusBadRequest, "Idempotency-Key header is missing")

		return
	}

	if len(idempotencyKey) > maxIdempotencyKey {
		writeMessage(w, http.StatusBadRequest, "Idempotency-Key header is too long")

		return
	}

	var req createBookingRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx := booking.WithIdempotencyKey(r.Context(), idempotencyKey)

	out, err := s.svc.Ledger.CreateBooking(ctx, req.input())
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusCreated, out)
}

func (s *Server) listBookingsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Ledger.ListBookings(r.Context(), booking.Filter{})
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) adminListBookingsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := booking.Filter{
		UserID: q.Get("userId"),
		RoomID: q.Get("roomId"),
		Status: booking.Status(q.Get("status")),
	}

	if filter.Status != "" && !filter.Status.Valid() {
		verr := booking.NewValidationError()
		verr.AddError("status", "must be one of pending confirmed cancelled")
		s.writeError(w, verr)

		return
	}

	list, err := s.svc.Ledger.ListBookings(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) getBookingHandler(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Ledger.GetBooking(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) cancelBookingHandler(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	b, err := s.svc.Checkout.Cancel(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !s.decode(w, r, &req) {
		return
	}

	b, err := s.svc.Checkout.Pay(r.Context(), r.PathValue("id"), req.Method, req.Source)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) receiptHandler(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Ledger.GetBooking(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	room, err := s.svc.Rooms.GetRoom(r.Context(), b.RoomID)
	if err != nil {
		s.writeError(w, err)

		return
	}

	pdf, err := payment.Receipt(b, room, s.conf.Currency)
	if err != nil {
		s.writeError(w, err)

		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="booking-`+b.ID+`.pdf"`)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(pdf); err != nil {
		s.l.LogErrorf("Could not write receipt of booking %s: %v", b.ID, err.Error())
	}
}

func (s *Server) updateStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}

	var (
		b   *booking.Booking
		err error
	)

	// Cancelling through the admin endpoint still refunds a paid booking.
	if req.Status == booking.StatusCancelled {
		b, err = s.svc.Checkout.Cancel(r.Context(), r.PathValue("id"), "cancelled by admin")
	} else {
		b, err = s.svc.Ledger.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	}

	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) analyticsHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Analytics.Summary(r.Context(), analytics.Period(r.URL.Query().Get("period")))
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, summary)
}
