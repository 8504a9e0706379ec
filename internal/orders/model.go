// Package orders holds the order domain: the payloads that travel through the pipeline,
// their validation and timestamp normalization, and the single-day record/report queries.
package orders

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidOrder is returned when an order payload fails validation.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrInvalidTimestamp is returned when a timestamp matches none of the accepted layouts.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrInvalidEnrichment is returned when the inventory service answers without the fields
	// the persistence stage needs.
	ErrInvalidEnrichment = errors.New("invalid enrichment")
)

type (
	// Quantities are the four per-item quantities carried by every order.
	Quantities struct {
		A int `json:"a"`
		B int `json:"b"`
		C int `json:"c"`
		D int `json:"d"`
	}

	// OrderPayload is the order as submitted by a client.
	// Timestamp stays a string until enrichment has completed.
	OrderPayload struct {
		Location  string     `json:"location"`
		Timestamp string     `json:"timestamp"`
		Data      Quantities `json:"data"`
	}

	// EnrichedOrder is the inventory service's answer for one OrderPayload.
	EnrichedOrder struct {
		Location  string     `json:"location"`
		Timestamp string     `json:"timestamp"`
		Signature string     `json:"signature"`
		Material  int        `json:"material"`
		Data      Quantities `json:"data"`
	}

	// NormalizedOrder is an EnrichedOrder whose timestamp has been parsed.
	// It is the message persisted by the persistence stage.
	NormalizedOrder struct {
		Location  string     `json:"location"`
		Timestamp time.Time  `json:"timestamp"`
		Signature string     `json:"signature"`
		Material  int        `json:"material"`
		Data      Quantities `json:"data"`
	}

	// StoredOrder is a NormalizedOrder with the identifier assigned by the store.
	StoredOrder struct {
		ID        int64      `json:"id"`
		Location  string     `json:"location"`
		Timestamp time.Time  `json:"timestamp"`
		Signature string     `json:"signature"`
		Material  int        `json:"material"`
		Data      Quantities `json:"data"`
	}

	// OrderReport aggregates every StoredOrder of one location and local day.
	OrderReport struct {
		Location string     `json:"location"`
		Date     string     `json:"date"`
		Count    int        `json:"count"`
		Material int        `json:"material"`
		Data     Quantities `json:"data"`
	}
)

// Add returns the element-wise sum of q and other.
func (q Quantities) Add(other Quantities) Quantities {
	return Quantities{
		A: q.A + other.A,
		B: q.B + other.B,
		C: q.C + other.C,
		D: q.D + other.D,
	}
}

func (q Quantities) validate() error {
	if q.A < 0 || q.B < 0 || q.C < 0 || q.D < 0 {
		return fmt.Errorf("%w: quantities must not be negative", ErrInvalidOrder)
	}

	return nil
}

// Validate checks that the payload can be routed and later normalized.
// The timestamp is parsed in loc when it carries no offset.
func (p OrderPayload) Validate(loc *time.Location) error {
	if strings.TrimSpace(p.Location) == "" {
		return fmt.Errorf("%w: location is required", ErrInvalidOrder)
	}

	if _, err := ParseTimestamp(p.Timestamp, loc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}

	return p.Data.validate()
}

// Validate reports whether the enrichment answer is complete.
func (e EnrichedOrder) Validate() error {
	switch {
	case strings.TrimSpace(e.Location) == "":
		return fmt.Errorf("%w: missing location", ErrInvalidEnrichment)
	case strings.TrimSpace(e.Timestamp) == "":
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEnrichment)
	case strings.TrimSpace(e.Signature) == "":
		return fmt.Errorf("%w: missing signature", ErrInvalidEnrichment)
	}

	return nil
}

// Normalize parses the enriched timestamp. A timestamp without an offset is read in loc.
func (e EnrichedOrder) Normalize(loc *time.Location) (NormalizedOrder, error) {
	ts, err := ParseTimestamp(e.Timestamp, loc)
	if err != nil {
		return NormalizedOrder{}, err
	}

	return NormalizedOrder{
		Location:  e.Location,
		Timestamp: ts,
		Signature: e.Signature,
		Material:  e.Material,
		Data:      e.Data,
	}, nil
}

// Validate checks the fields the store requires.
func (n NormalizedOrder) Validate() error {
	if strings.TrimSpace(n.Location) == "" || n.Timestamp.IsZero() || n.Signature == "" {
		return fmt.Errorf("%w: normalized order is incomplete", ErrInvalidOrder)
	}

	return nil
}

// Stored attaches the store-assigned id.
func (n NormalizedOrder) Stored(id int64) StoredOrder {
	return StoredOrder{
		ID:        id,
		Location:  n.Location,
		Timestamp: n.Timestamp,
		Signature: n.Signature,
		Material:  n.Material,
		Data:      n.Data,
	}
}

// In renders the timestamp in loc for display.
func (s StoredOrder) In(loc *time.Location) StoredOrder {
	s.Timestamp = s.Timestamp.In(loc)

	return s
}
