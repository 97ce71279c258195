package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is one producer-submitted event. The ID is generated on the producer
// side so the collector can discard duplicates of at-least-once deliveries.
// A Record must not be modified after NewRecord returns it.
type Record struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"type"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewRecord stamps a new Record with a fresh ID and the current UTC time.
// fields is copied so later changes by the caller do not leak into the record.
func NewRecord(typ string, fields map[string]any) Record {
	return newRecordAt(typ, fields, time.Now().UTC())
}

func newRecordAt(typ string, fields map[string]any, at time.Time) Record {
	var cp map[string]any
	if len(fields) > 0 {
		cp = make(map[string]any, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
	}
	return Record{
		ID:        uuid.New(),
		Type:      typ,
		Fields:    cp,
		CreatedAt: at,
	}
}

// Batch is an ordered group of records delivered in one request.
type Batch struct {
	ID      uuid.UUID `json:"batch_id"`
	SentAt  time.Time `json:"sent_at"`
	Records []Record  `json:"records"`
}

// NewBatch wraps records in a Batch with a fresh ID. The batch takes
// ownership of the slice.
func NewBatch(records []Record) Batch {
	return Batch{ID: uuid.New(), Records: records}
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.Records) }

// Encode stamps SentAt and returns the JSON body for the collector.
func (b Batch) Encode(now time.Time) ([]byte, error) {
	b.SentAt = now.UTC()
	return json.Marshal(b)
}

// BatchResponse is the collector's reply to an accepted batch.
type BatchResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}
