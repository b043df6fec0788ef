package ics

import (
	"bytes"
	"errors"
	"strings"

	ical "github.com/arran4/golang-ical"

	appLog "ithappened/internal/log"
	"ithappened/internal/model"
)

// ImportResult is the outcome of parsing an ICS payload for import.
type ImportResult struct {
	// Requests holds one create request per usable VEVENT, in file order.
	Requests []model.CreateEventRequest
	// Skipped counts VEVENTs without a SUMMARY or DESCRIPTION.
	Skipped int
}

// ParseICS maps every VEVENT in body to a create request: SUMMARY becomes
// the name and DESCRIPTION the description. Events missing either field
// are skipped, the same rule the create form applies. Recurrence rules are
// not expanded; a recurring VEVENT yields a single request.
func ParseICS(body []byte) (ImportResult, error) {
	var result ImportResult

	if len(body) == 0 {
		return result, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return result, err
	}

	for _, ve := range cal.Events() {
		req := model.CreateEventRequest{
			Name:        propertyText(ve, ical.ComponentPropertySummary),
			Description: propertyText(ve, ical.ComponentPropertyDescription),
		}
		if !req.Valid() {
			result.Skipped++
			appLog.Debug("ics vevent skipped", "uid", propertyText(ve, ical.ComponentPropertyUniqueId))
			continue
		}
		result.Requests = append(result.Requests, req)
	}

	appLog.Info("ics parse completed", "event_count", len(result.Requests), "skipped", result.Skipped)
	return result, nil
}

func propertyText(ve *ical.VEvent, prop ical.ComponentProperty) string {
	p := ve.GetProperty(prop)
	if p == nil {
		return ""
	}
	return strings.TrimSpace(unescapeText(p.Value))
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

// unescapeText reverses RFC 5545 TEXT escaping.
func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}
