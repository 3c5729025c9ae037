package feed

import (
	"bytes"
	"errors"
	"sort"
	"strings"

	ical "github.com/arran4/golang-ical"

	appLog "ragtagcal/internal/log"
)

// ignoredProps are feed properties that carry no client value and are
// dropped during normalization.
var ignoredProps = map[string]bool{
	"dtstamp":       true,
	"uid":           true,
	"created":       true,
	"last-modified": true,
	"sequence":      true,
	"status":        true,
	"transp":        true,
}

// Parse decodes raw ICS text into normalized events, sorted by start time
// descending (most future-leaning first; ties unordered).
//
//   - Each VEVENT's property list is flattened into one flat record.
//   - Properties on the ignore list are dropped; LOCATION is remapped to
//     the price field.
//   - A VEVENT with a missing or unparsable DTSTART is logged and skipped;
//     the rest of the feed still parses.
//
// Pure transformation: no I/O, no retained references to body.
func Parse(body []byte) ([]Event, error) {
	if len(body) == 0 {
		return nil, &ParseError{Err: errors.New("empty feed body")}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("feed parse failed", err)
		return nil, &ParseError{Err: err}
	}

	events := make([]Event, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, perr := flattenVEvent(ve)
		if perr != nil {
			appLog.Warn("skipping unparsable vevent", "reason", perr)
			continue
		}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.After(events[j].Start)
	})

	appLog.Debug("feed parse completed", "event_count", len(events))
	return events, nil
}

// flattenVEvent reduces a VEVENT's property list to one flat Event,
// applying the ignore list and the location->price remap.
func flattenVEvent(ve *ical.VEvent) (Event, error) {
	var out Event

	// The library handles VTIMEZONE/TZID resolution for DTSTART; the
	// normalized record keeps the instant in UTC.
	start, err := ve.GetStartAt()
	if err != nil {
		return out, errors.New("missing or invalid DTSTART")
	}
	out.Start = start.UTC()

	for _, p := range ve.Properties {
		name := strings.ToLower(p.IANAToken)
		if ignoredProps[name] {
			continue
		}
		switch name {
		case "dtstart":
			// Already captured as a typed field.
		case "summary":
			out.Summary = p.Value
		case "location":
			out.Price = p.Value
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]string)
			}
			out.Extra[name] = p.Value
		}
	}

	return out, nil
}
