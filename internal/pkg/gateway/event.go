package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v75"
)

// ParseEvent decodes a stored payload without signature checks. Only use it
// on payloads that were verified when they were received.
func ParseEvent(payload []byte) (*Event, error) {
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedEvent)
	}
	return eventFromStripe(&ev), nil
}

// DecodeObject unmarshals the event's data.object into one of the stripe
// resource types.
func DecodeObject[T any](ev *Event) (*T, error) {
	var v T
	if len(ev.Object) == 0 {
		return nil, fmt.Errorf("event %s has no data.object", ev.ID)
	}
	if err := json.Unmarshal(ev.Object, &v); err != nil {
		return nil, fmt.Errorf("event %s: decode %T: %w", ev.ID, v, err)
	}
	return &v, nil
}
