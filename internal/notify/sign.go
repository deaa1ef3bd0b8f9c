package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the payload signature on delivery requests.
const SignatureHeader = "X-Webhook-Signature"

// Sign computes the signature for body: "sha256=" + hex(HMAC_SHA256(secret,
// body)). A receiver must recompute the HMAC over the exact same bytes to
// verify authenticity.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether sig is a valid signature for body.
func VerifySignature(secret string, body []byte, sig string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(sig))
}
