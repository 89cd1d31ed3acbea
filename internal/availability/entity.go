package availability

import "time"

// Record marks one committed night of a room.
type Record struct {
	RoomID      string    `json:"roomId"`
	Date        time.Time `json:"date"`
	IsAvailable bool      `json:"isAvailable"`
	BookingID   string    `json:"bookingId"`
}

type Day struct {
	Date      time.Time `json:"date"`
	Available bool      `json:"available"`
}

// Change is published after a reserve or release has been committed.
type Change struct {
	RoomID    string      `json:"roomId"`
	BookingID string      `json:"bookingId"`
	Dates     []time.Time `json:"dates"`
	Reserved  bool        `json:"reserved"`
}
