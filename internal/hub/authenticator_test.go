package hub

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAPIKeyRoundTrip(t *testing.T) {
	plain := "sk_live_12345"

	hash, err := HashAPIKey(plain)
	if err != nil {
		t.Fatalf("HashAPIKey failed: %v", err)
	}
	if hash == plain {
		t.Error("hash should not equal the plaintext key")
	}
	if len(hash) == 0 {
		t.Error("hash should not be empty")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)); err != nil {
		t.Errorf("expected matching key to verify, got %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("wrong-key")); err == nil {
		t.Error("expected mismatched key to fail verification")
	}
}

