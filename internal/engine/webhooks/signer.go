package webhooks

import "bindery/internal/pkg/signing"

// VerifySignature is the receiver-side counterpart of the delivery
// signature: constant-time comparison of the hex HMAC-SHA256.
func VerifySignature(payload []byte, signature, secret string) bool {
	return signing.Verify(secret, payload, signature)
}

func sign(secret string, payload []byte) string {
	return signing.Sign(secret, payload)
}

func generateSecret() (string, error) {
	return signing.GenerateSecret()
}
