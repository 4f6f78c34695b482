package wompi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EventTransactionUpdated is the only webhook event type this service acts on
const EventTransactionUpdated = "transaction.updated"

// ErrMalformedEvent is returned when a webhook body cannot be parsed
var ErrMalformedEvent = errors.New("malformed webhook event")

// Signature is the integrity block the gateway attaches to every event.
// Checksum is SHA-256 over the values of Properties (in order), the event
// timestamp and the merchant's events secret.
type Signature struct {
	Properties []string `json:"properties"`
	Checksum   string   `json:"checksum"`
}

// EventData is the typed payload of a transaction event
type EventData struct {
	Transaction Transaction `json:"transaction"`
}

// WebhookEvent is one callback delivered by the gateway
type WebhookEvent struct {
	Event       string    `json:"event"`
	Data        EventData `json:"data"`
	Environment string    `json:"environment"`
	SentAt      string    `json:"sent_at"`
	Timestamp   int64     `json:"timestamp"`
	Signature   Signature `json:"signature"`

	// raw keeps the untyped data block so checksum properties can be
	// resolved by their dotted path exactly as signed.
	raw map[string]interface{}
}

// ParseEvent decodes a webhook body
func ParseEvent(body []byte) (*WebhookEvent, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if evt.Event == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	}

	var generic struct {
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	evt.raw = generic.Data

	return &evt, nil
}

// propertyValue resolves a dotted signature property (e.g. "transaction.id")
// against the raw data block and renders it the way the gateway signs it.
func (e *WebhookEvent) propertyValue(path string) (string, bool) {
	var current interface{} = e.raw
	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]interface{})
		if !ok {
			return "", false
		}
		current, ok = node[part]
		if !ok {
			return "", false
		}
	}

	switch v := current.(type) {
	case string:
		return v, true
	case float64:
		// Amounts are integers; render without exponent or decimals
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// ComputeChecksum calculates the expected signature checksum for an event
// with the given events secret.
func ComputeChecksum(e *WebhookEvent, secret string) (string, error) {
	var b strings.Builder
	for _, prop := range e.Signature.Properties {
		value, ok := e.propertyValue(prop)
		if !ok {
			return "", fmt.Errorf("%w: signature property %q not present", ErrMalformedEvent, prop)
		}
		b.WriteString(value)
	}
	b.WriteString(strconv.FormatInt(e.Timestamp, 10))
	b.WriteString(secret)

	sum := sha256.Sum256([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

// Verify reports whether the event's checksum matches the events secret
func (e *WebhookEvent) Verify(secret string) bool {
	computed, err := ComputeChecksum(e, secret)
	if err != nil {
		return false
	}
	return strings.EqualFold(computed, e.Signature.Checksum)
}
