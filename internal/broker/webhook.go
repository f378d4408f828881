package broker

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature checks body against the X-Alpaca-Signature header value
// using constant-time HMAC-SHA256 comparison, the same approach as the
// gate.io adapter's REST signer in the reference pack (HMAC over a raw
// message, hex-encoded), adapted to stdlib sha256 since no third-party
// HMAC helper appears anywhere in the examined dependency graph.
func VerifySignature(secret, body, signatureHeader string) bool {
	if secret == "" {
		return true
	}
	if signatureHeader == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

// WebhookPayload is the broker's order-status push, normalized to the
// fields the gateway's CAS update needs.
type WebhookPayload struct {
	BrokerEventID string  `json:"event_id"`
	ClientOrderID string  `json:"client_order_id"`
	BrokerOrderID string  `json:"broker_order_id"`
	Status        string  `json:"status"`
	FilledQty     int64   `json:"filled_qty"`
	FillPrice     float64 `json:"fill_price"`
	FillQty       int64   `json:"fill_qty"`
}
