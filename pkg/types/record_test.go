package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord_CopiesFields(t *testing.T) {
	fields := map[string]any{"campaign": "spring", "slot": 3}
	rec := NewRecord("impression", fields)

	fields["campaign"] = "mutated"

	assert.Equal(t, "spring", rec.Fields["campaign"])
	assert.Equal(t, "impression", rec.Type)
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestNewRecord_UniqueIDs(t *testing.T) {
	a := NewRecord("click", nil)
	b := NewRecord("click", nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Nil(t, a.Fields)
}

func TestBatch_EncodeWireFormat(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recs := []Record{
		newRecordAt("impression", map[string]any{"ad": "a1"}, at),
		newRecordAt("impression", map[string]any{"ad": "a2"}, at),
	}
	batch := NewBatch(recs)

	body, err := batch.Encode(at.Add(time.Second))
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(body, &wire))

	assert.Equal(t, batch.ID.String(), wire["batch_id"])
	assert.Equal(t, "2026-03-01T12:00:01Z", wire["sent_at"])

	records, ok := wire["records"].([]any)
	require.True(t, ok)
	require.Len(t, records, 2)

	first := records[0].(map[string]any)
	assert.Equal(t, recs[0].ID.String(), first["id"])
	assert.Equal(t, "a1", first["fields"].(map[string]any)["ad"])
}

func TestBatch_EncodeDoesNotMutate(t *testing.T) {
	batch := NewBatch([]Record{NewRecord("x", nil)})
	_, err := batch.Encode(time.Now())
	require.NoError(t, err)
	assert.True(t, batch.SentAt.IsZero())
	assert.Equal(t, 1, batch.Len())
}
