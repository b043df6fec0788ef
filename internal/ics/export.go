package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"ithappened/internal/model"
)

// ProductID identifies feeds produced by Export.
const ProductID = "-//ithappened//event list//EN"

// Export renders events as an iCalendar feed, one VEVENT per event with
// DTSTART at the event date. now stamps DTSTAMP.
func Export(events []model.Event, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)

	for _, e := range events {
		ve := cal.AddEvent(EventUID(e.ID))
		ve.SetDtStampTime(now.UTC())
		ve.SetStartAt(e.Time())
		ve.SetSummary(e.Name)
		ve.SetDescription(e.Description)
	}

	return cal.Serialize()
}

// EventUID is the stable VEVENT UID for an event id.
func EventUID(id int64) string {
	return fmt.Sprintf("event-%d@ithappened", id)
}
