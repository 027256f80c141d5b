package signing

import (
	"strings"
	"testing"
)

func TestSign(t *testing.T) {
	secret := "secret"
	payload := []byte("payload")

	// Calculated using: echo -n "payload" | openssl dgst -sha256 -hmac "secret"
	expected := "b82fcb791acec57859b989b430a826488ce2e479fdf92326bd0a2e8375a42ba4"

	got := Sign(secret, payload)
	if got != expected {
		t.Errorf("Sign() = %v, want %v", got, expected)
	}
}

func TestVerify(t *testing.T) {
	secret := "secret"
	payload := []byte(`{"id":"evt_1"}`)
	sig := Sign(secret, payload)

	if !Verify(secret, payload, sig) {
		t.Error("Verify() rejected a valid signature")
	}
	if Verify(secret, payload, sig[:len(sig)-2]+"00") {
		t.Error("Verify() accepted a tampered signature")
	}
	if Verify("other", payload, sig) {
		t.Error("Verify() accepted a signature under the wrong secret")
	}
	if Verify(secret, payload, "not-hex") {
		t.Error("Verify() accepted a non-hex signature")
	}
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	if !strings.HasPrefix(key, KeyPrefix) {
		t.Errorf("key %q missing %q prefix", key, KeyPrefix)
	}
	if len(key) != len(KeyPrefix)+64 {
		t.Errorf("key length = %d, want %d", len(key), len(KeyPrefix)+64)
	}
	for _, c := range key[len(KeyPrefix):] {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Fatalf("key contains non-hex char %q", c)
		}
	}

	other, _ := GenerateKey()
	if key == other {
		t.Error("two generated keys are identical")
	}
}

func TestHashKeyStable(t *testing.T) {
	a := HashKey("bny_abc")
	b := HashKey("bny_abc")
	if a != b {
		t.Errorf("HashKey not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64", len(a))
	}
}
