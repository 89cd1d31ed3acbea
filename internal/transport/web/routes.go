package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/avstrong/bnb/internal/blob"
)

const (
	maxJSONBody  = 1 << 20
	maxImageBody = 10 << 20

	// Scoped by user id before it is stored in a 128 character column.
	maxIdempotencyKey = 64
)

func (s *Server) livenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// handle registers pattern with the standard middleware stack. The last middleware
// is the outermost, so the access log already sees the request span.
func (s *Server) handle(r *http.ServeMux, pattern string, need access, h http.HandlerFunc) {
	r.Handle(
		pattern,
		s.applyMiddlewares(
			h,
			s.authMiddleware(need),
			s.rateLimitMiddleware(),
			s.loggerMiddleware(pattern),
			s.traceMiddleware(pattern),
			s.recoverMiddleware(),
		),
	)
}

func (s *Server) addRoutes(r *http.ServeMux) {
	r.Handle(
		fmt.Sprintf("GET %s", s.conf.LivenessEndpoint),
		s.applyMiddlewares(http.HandlerFunc(s.livenessHandler), s.recoverMiddleware()),
	)

	if s.svc.Metrics != nil {
		r.Handle("GET /metrics", s.svc.Metrics.Handler())
	}

	if s.svc.Blobs != nil {
		r.Handle("GET "+blob.MediaPrefix, s.applyMiddlewares(s.svc.Blobs.Handler(), s.recoverMiddleware()))
	}

	s.handle(r, "POST /api/auth/register", public, s.registerHandler)
	s.handle(r, "POST /api/auth/login", public, s.loginHandler)
	s.handle(r, "POST /api/auth/logout", signedIn, s.logoutHandler)
	s.handle(r, "GET /api/auth/me", signedIn, s.meHandler)

	s.handle(r, "GET /api/rooms", public, s.listRoomsHandler)
	s.handle(r, "GET /api/rooms/{id}", public, s.getRoomHandler)
	s.handle(r, "GET /api/rooms/{id}/calendar", public, s.calendarHandler)
	s.handle(r, "GET /api/rooms/{id}/quote", public, s.quoteHandler)
	// No rate limit or access log wrapping for the long lived socket.
	r.Handle("GET /api/rooms/{id}/calendar/ws", s.applyMiddlewares(http.HandlerFunc(s.calendarFeedHandler), s.recoverMiddleware()))

	s.handle(r, "POST /api/bookings", signedIn, s.createBookingHandler)
	s.handle(r, "GET /api/bookings", signedIn, s.listBookingsHandler)
	s.handle(r, "GET /api/bookings/{id}", signedIn, s.getBookingHandler)
	s.handle(r, "POST /api/bookings/{id}/cancel", signedIn, s.cancelBookingHandler)
	s.handle(r, "POST /api/bookings/{id}/checkout", signedIn, s.checkoutHandler)
	s.handle(r, "GET /api/bookings/{id}/receipt", signedIn, s.receiptHandler)

	s.handle(r, "GET /api/admin/rooms", adminOnly, s.adminListRoomsHandler)
	s.handle(r, "POST /api/admin/rooms", adminOnly, s.createRoomHandler)
	s.handle(r, "PUT /api/admin/rooms/{id}", adminOnly, s.updateRoomHandler)
	s.handle(r, "DELETE /api/admin/rooms/{id}", adminOnly, s.deleteRoomHandler)
	s.handle(r, "POST /api/admin/rooms/{id}/deactivate", adminOnly, s.deactivateRoomHandler)
	s.handle(r, "POST /api/admin/rooms/{id}/images", adminOnly, s.addImageHandler)
	s.handle(r, "DELETE /api/admin/rooms/{id}/images", adminOnly, s.removeImageHandler)
	s.handle(r, "GET /api/admin/bookings", adminOnly, s.adminListBookingsHandler)
	s.handle(r, "POST /api/admin/bookings", adminOnly, s.createBookingHandler)
	s.handle(r, "PATCH /api/admin/bookings/{id}/status", adminOnly, s.updateStatusHandler)
	s.handle(r, "GET /api/admin/analytics", adminOnly, s.analyticsHandler)
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}

	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", v, err)
	}

	return t, nil
}
