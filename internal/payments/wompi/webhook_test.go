package wompi

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test_events_secret"

func eventBody(checksum string) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "transaction.updated",
		"environment": "test",
		"sent_at": "2026-08-28T12:00:00.000Z",
		"timestamp": 1787313600,
		"data": {
			"transaction": {
				"id": "txn-123",
				"status": "APPROVED",
				"reference": "REF-WH-1",
				"amount_in_cents": 4500000,
				"currency": "COP",
				"customer_email": "cliente@example.com"
			}
		},
		"signature": {
			"properties": ["transaction.id", "transaction.status", "transaction.amount_in_cents"],
			"checksum": "%s"
		}
	}`, checksum))
}

func TestParseEvent(t *testing.T) {
	event, err := ParseEvent(eventBody("abc"))
	require.NoError(t, err)

	assert.Equal(t, EventTransactionUpdated, event.Event)
	assert.Equal(t, "txn-123", event.Data.Transaction.ID)
	assert.Equal(t, StatusApproved, event.Data.Transaction.Status)
	assert.Equal(t, "REF-WH-1", event.Data.Transaction.Reference)
	assert.Equal(t, int64(4500000), event.Data.Transaction.AmountInCents)
	assert.Equal(t, int64(1787313600), event.Timestamp)
	assert.Len(t, event.Signature.Properties, 3)
}

func TestParseEventMalformed(t *testing.T) {
	_, err := ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = ParseEvent([]byte(`{"data": {}}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestVerifyChecksum(t *testing.T) {
	// Compute the checksum the way the gateway would, then round-trip it
	unsigned, err := ParseEvent(eventBody(""))
	require.NoError(t, err)

	checksum, err := ComputeChecksum(unsigned, testSecret)
	require.NoError(t, err)
	require.NotEmpty(t, checksum)

	signed, err := ParseEvent(eventBody(checksum))
	require.NoError(t, err)
	assert.True(t, signed.Verify(testSecret))

	// Checksum comparison is case-insensitive but secret-sensitive
	assert.False(t, signed.Verify("wrong_secret"))

	tampered, err := ParseEvent(eventBody("DEADBEEF"))
	require.NoError(t, err)
	assert.False(t, tampered.Verify(testSecret))
}

func TestComputeChecksumMissingProperty(t *testing.T) {
	event, err := ParseEvent([]byte(`{
		"event": "transaction.updated",
		"timestamp": 1,
		"data": {"transaction": {"id": "x"}},
		"signature": {"properties": ["transaction.nonexistent"], "checksum": ""}
	}`))
	require.NoError(t, err)

	_, err = ComputeChecksum(event, testSecret)
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
