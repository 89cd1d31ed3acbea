package web

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avstrong/bnb/internal/availability"
	"github.com/avstrong/bnb/internal/pricing"
)

const (
	feedBuffer     = 16
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxClientFrame = 512
)

type websocketUpgrader = websocket.Upgrader

func newUpgrader(origins []string) websocketUpgrader {
	//nolint:exhaustruct
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")

			return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
}

// calendarEvent is one frame of the live calendar feed. The first frame is a
// snapshot of the next days, every later one a committed change.
type calendarEvent struct {
	Type   string               `json:"type"`
	Days   []availability.Day   `json:"days,omitempty"`
	Change *availability.Change `json:"change,omitempty"`
}

//nolint:cyclop
func (s *Server) calendarFeedHandler(w http.ResponseWriter, r *http.Request) {
	room, ok := s.visibleRoom(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.l.LogWarnf("Could not upgrade calendar feed of room %s: %v", room.ID, err.Error())

		return
	}
	defer conn.Close()

	changes := make(chan availability.Change, feedBuffer)

	unsubscribe := s.svc.Index.Subscribe(func(c availability.Change) {
		if c.RoomID != room.ID {
			return
		}

		select {
		case changes <- c:
		default:
			s.l.LogWarnf("Calendar feed of room %s is lagging, change dropped", room.ID)
		}
	})
	defer unsubscribe()

	from := pricing.Day(time.Now())

	days, err := s.svc.Index.Calendar(r.Context(), room.ID, from, from.AddDate(0, 0, defaultCalendarDays))
	if err != nil {
		s.l.LogErrorf("Could not load calendar of room %s: %v", room.ID, err.Error())

		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(calendarEvent{Type: "snapshot", Days: days}); err != nil {
		return
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		conn.SetReadLimit(maxClientFrame)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:wrapcheck
		})

		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait),
			)

			return
		case c := <-changes:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(calendarEvent{Type: "change", Change: &c}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
