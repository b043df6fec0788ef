package model

import (
	"cmp"
	"slices"
	"time"
)

// Event is a server-owned record as returned by GET /events.
// Date is the event timestamp in epoch milliseconds.
type Event struct {
	ID          int64  `json:"id"`
	Date        int64  `json:"date"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Time converts Date into a time.Time in UTC.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Date).UTC()
}

// CreateEventRequest is the body of POST /events. The server assigns
// id and date.
type CreateEventRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Valid reports whether both fields are non-empty.
func (r CreateEventRequest) Valid() bool {
	return r.Name != "" && r.Description != ""
}

// SortNewestFirst orders events by Date, newest first. Ties keep no
// particular order.
func SortNewestFirst(events []Event) {
	slices.SortFunc(events, func(a, b Event) int {
		return cmp.Compare(b.Date, a.Date)
	})
}
