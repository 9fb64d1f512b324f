// Package webhook delivers staged lifecycle events to registered external
// endpoints with signing, per-host circuit breaking and a retry ladder.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// deliveryPayload is the wire shape POSTed to endpoints.
type deliveryPayload struct {
	Event      string          `json:"event"`
	Timestamp  string          `json:"timestamp"`
	DeliveryID string          `json:"deliveryId"`
	Data       json.RawMessage `json:"data"`
}

// BuildBody renders the canonical request body for one delivery. RFC 8785
// canonicalisation keeps the HMAC stable across re-marshals, so replays and
// retries sign identically.
func BuildBody(eventType, deliveryID string, data json.RawMessage, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(deliveryPayload{
		Event:      eventType,
		Timestamp:  at.UTC().Format(time.RFC3339),
		DeliveryID: deliveryID,
		Data:       data,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal delivery payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalise delivery payload: %w", err)
	}
	return canonical, nil
}

// Sign returns the hex HMAC-SHA256 of the body under the endpoint secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an inbound signature in constant time.
func VerifySignature(body []byte, secret, signature string) bool {
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
