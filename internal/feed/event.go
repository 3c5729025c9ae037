package feed

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// dtstartKey is the wire key for an event's start timestamp, both in the
// persisted snapshots and in API responses.
const dtstartKey = "dtstart"

// Event is one normalized calendar entry. The upstream feed abuses the
// LOCATION property to carry the ticket price, so that value surfaces as
// Price here and as "price" on the wire.
//
// Extra holds every other feed property that survives normalization
// (dtend, description, ...), keyed by lower-cased property name.
type Event struct {
	Summary string
	Price   string
	Start   time.Time
	Extra   map[string]string
}

// MarshalJSON flattens the event into a single JSON object, the shape the
// calendar UI consumes: {"summary":..., "dtstart":..., "price":..., ...}.
func (e Event) MarshalJSON() ([]byte, error) {
	flat := make(map[string]string, len(e.Extra)+3)
	for k, v := range e.Extra {
		flat[k] = v
	}
	flat["summary"] = e.Summary
	flat[dtstartKey] = e.Start.UTC().Format(time.RFC3339)
	if e.Price != "" {
		flat["price"] = e.Price
	}
	return json.Marshal(flat)
}

// UnmarshalJSON is the inverse of MarshalJSON; a snapshot written to disk
// decodes back into an equal Event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	raw, ok := flat[dtstartKey]
	if !ok {
		return errors.New("event is missing dtstart")
	}
	start, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return errors.Wrap(err, "bad dtstart")
	}

	out := Event{
		Summary: flat["summary"],
		Price:   flat["price"],
		Start:   start.UTC(),
	}
	delete(flat, "summary")
	delete(flat, "price")
	delete(flat, dtstartKey)
	if len(flat) > 0 {
		out.Extra = flat
	}

	*e = out
	return nil
}
