// Package webhooks verifies ledger commit notifications. The ledger gateway
// signs each notification body with HMAC-SHA256 over a shared secret; a
// valid notification carries the authoritative transaction id for an event
// that was accepted after the local commit.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	SignatureHeader = "X-Ledger-Signature"
	EventIDHeader   = "X-Ledger-Event-Id"
	EventTypeHeader = "X-Ledger-Event-Type"
)

type VerificationResult struct {
	Valid   bool
	EventID string
	Type    string
}

// CommitEvent is the payload of a ledger commit notification.
type CommitEvent struct {
	EntityType    string `json:"entity_type"`
	EntityID      string `json:"entity_id"`
	Action        string `json:"action"`
	TransactionID string `json:"transaction_id"`
}

func (e CommitEvent) Validate() error {
	if e.EntityType == "" || e.EntityID == "" || e.TransactionID == "" {
		return fmt.Errorf("commit event missing entity_type, entity_id or transaction_id")
	}
	return nil
}

// VerifyHMAC checks the notification signature against the shared secret.
// A missing or undecodable signature yields an invalid result, not an
// error; errors are reserved for misconfiguration.
func VerifyHMAC(headers http.Header, rawBody []byte, secret string) (VerificationResult, error) {
	if strings.TrimSpace(secret) == "" {
		return VerificationResult{}, fmt.Errorf("webhook secret is empty")
	}
	res := VerificationResult{
		EventID: strings.TrimSpace(headers.Get(EventIDHeader)),
		Type:    strings.TrimSpace(headers.Get(EventTypeHeader)),
	}
	sigHex := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHex == "" {
		return res, nil
	}
	provided, err := hex.DecodeString(sigHex)
	if err != nil {
		return res, nil
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	res.Valid = hmac.Equal(mac.Sum(nil), provided)
	return res, nil
}

// Sign computes the hex signature for a body; used by tests and by the
// ledger gateway emulator.
func Sign(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseCommitEvent decodes and validates a notification body.
func ParseCommitEvent(rawBody []byte) (CommitEvent, error) {
	var ev CommitEvent
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return CommitEvent{}, fmt.Errorf("malformed commit event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return CommitEvent{}, err
	}
	return ev, nil
}
