package model

import (
	"testing"
	"time"
)

func TestSortNewestFirst(t *testing.T) {
	events := []Event{
		{ID: 1, Date: 1000, Name: "A"},
		{ID: 2, Date: 2000, Name: "B"},
		{ID: 3, Date: 1500, Name: "C"},
	}
	SortNewestFirst(events)

	want := []int64{2, 3, 1}
	for i, id := range want {
		if events[i].ID != id {
			t.Fatalf("order = %v, want ids %v", events, want)
		}
	}
}

func TestEventTime(t *testing.T) {
	e := Event{Date: 1700000000123}
	want := time.Date(2023, time.November, 14, 22, 13, 20, 123000000, time.UTC)
	if got := e.Time(); !got.Equal(want) {
		t.Errorf("Time() = %v, want %v", got, want)
	}
}

func TestCreateEventRequestValid(t *testing.T) {
	tests := []struct {
		req  CreateEventRequest
		want bool
	}{
		{CreateEventRequest{Name: "a", Description: "b"}, true},
		{CreateEventRequest{Name: "", Description: "b"}, false},
		{CreateEventRequest{Name: "a", Description: ""}, false},
	}
	for _, tt := range tests {
		if got := tt.req.Valid(); got != tt.want {
			t.Errorf("%+v.Valid() = %v, want %v", tt.req, got, tt.want)
		}
	}
}
