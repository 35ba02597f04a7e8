package auth

import (
	"strings"
	"testing"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$10$") {
		t.Errorf("hash %q does not use cost 10", hash)
	}

	ok, err := CheckPassword(hash, "correct horse")
	if err != nil || !ok {
		t.Errorf("CheckPassword(match) = %v, %v", ok, err)
	}
	ok, err = CheckPassword(hash, "wrong")
	if err != nil || ok {
		t.Errorf("CheckPassword(mismatch) = %v, %v", ok, err)
	}
	if _, err := CheckPassword("not-a-hash", "x"); err == nil {
		t.Error("CheckPassword with malformed hash should error")
	}
}

func TestCSRFTokens(t *testing.T) {
	a, err := NewCSRFToken()
	if err != nil {
		t.Fatalf("NewCSRFToken: %v", err)
	}
	if len(a) != 64 {
		t.Errorf("len = %d, want 64 hex chars", len(a))
	}
	b, _ := NewCSRFToken()
	if a == b {
		t.Error("tokens should differ")
	}
	if !CSRFTokensMatch(a, a) {
		t.Error("identical tokens should match")
	}
	if CSRFTokensMatch(a, b) || CSRFTokensMatch("", "") {
		t.Error("different or empty tokens must not match")
	}
}
