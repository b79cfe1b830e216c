package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SignaturePrefix is the algorithm prefix of the X-Webhook-Signature header
const SignaturePrefix = "sha256="

// GenerateSignedPayload generates a signed webhook payload with HMAC-SHA256 signature.
// Returns the JSON payload, signature header value, unix timestamp, and any error
func GenerateSignedPayload(secret string, event WebhookEvent, now time.Time) (payload []byte, signature string, timestamp int64, err error) {
	payload, err = json.Marshal(event)
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	timestamp = now.Unix()
	signature = ComputeSignature(secret, timestamp, event.EventID, payload)

	return payload, signature, timestamp, nil
}

// ComputeSignature signs "{timestamp}.{event_id}.{payload}" and formats it as "sha256=<hex>"
func ComputeSignature(secret string, timestamp int64, eventID string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(h, "%d.%s.", timestamp, eventID)
	h.Write(payload)
	return SignaturePrefix + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature header against the payload in constant time.
// A timestamp older than tolerance relative to now is rejected; a zero tolerance disables the check.
func VerifySignature(secret string, signature string, timestamp int64, eventID string, payload []byte, now time.Time, tolerance time.Duration) bool {
	if !strings.HasPrefix(signature, SignaturePrefix) {
		return false
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return false
		}
	}

	expected := ComputeSignature(secret, timestamp, eventID, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
