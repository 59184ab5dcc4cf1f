package auth

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("longenough1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "longenough1" {
		t.Fatal("hash equals plaintext")
	}
	if err := VerifyPassword(hash, "longenough1"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestHashPasswordRejectsShort(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestVerifyPasswordEmptyHash(t *testing.T) {
	if err := VerifyPassword("", "anything"); err == nil {
		t.Fatal("expected error for empty hash")
	}
}
