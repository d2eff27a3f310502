package auth

import "testing"

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("unexpected hash error: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !ComparePassword("correct horse battery staple", hash) {
		t.Fatal("expected matching password to verify")
	}
	if ComparePassword("wrong password", hash) {
		t.Fatal("expected mismatched password to fail")
	}
}

func TestComparePasswordRejectsMalformedHash(t *testing.T) {
	if ComparePassword("anything", "not-a-bcrypt-hash") {
		t.Fatal("expected malformed hash to fail verification")
	}
}
