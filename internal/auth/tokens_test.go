package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "token-test-secret-32-bytes-long!"

func newTestClock(start time.Time) (func() time.Time, func(time.Duration)) {
	current := start
	now := func() time.Time { return current }
	advance := func(d time.Duration) { current = current.Add(d) }
	return now, advance
}

func newTestTokenService(t *testing.T, store CredentialStore, opts ...TokenOption) *TokenService {
	t.Helper()
	svc, err := NewTokenService(store, testSecret, opts...)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return svc
}

func seedActiveUser(t *testing.T, store *MemStore, id string) {
	t.Helper()
	err := store.CreateUser(context.Background(), &User{
		ID:     id,
		Email:  id + "@example.com",
		Active: true,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	store := NewMemStore()
	seedActiveUser(t, store, "u1")
	svc := newTestTokenService(t, store)

	pair, err := svc.IssueTokenPair(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected non-empty tokens")
	}
	if pair.ExpiresIn != int64(15*time.Minute/time.Second) {
		t.Fatalf("unexpected expires_in: %d", pair.ExpiresIn)
	}
	if !strings.Contains(pair.RefreshToken, ".") {
		t.Fatalf("refresh token missing id.secret separator: %q", pair.RefreshToken)
	}

	userID, err := svc.VerifyAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if userID != "u1" {
		t.Fatalf("unexpected subject: %s", userID)
	}
}

func TestVerifyAccessTokenRejectsExpired(t *testing.T) {
	store := NewMemStore()
	seedActiveUser(t, store, "u1")
	now, advance := newTestClock(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestTokenService(t, store, WithClock(now))

	pair, err := svc.IssueTokenPair(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	advance(16 * time.Minute)
	if _, err := svc.VerifyAccessToken(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyAccessTokenRejectsTampered(t *testing.T) {
	store := NewMemStore()
	seedActiveUser(t, store, "u1")
	svc := newTestTokenService(t, store)

	pair, err := svc.IssueTokenPair(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	if _, err := svc.VerifyAccessToken(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := svc.VerifyAccessToken(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestRotateRefreshTokenIsSingleUse(t *testing.T) {
	store := NewMemStore()
	seedActiveUser(t, store, "u1")
	svc := newTestTokenService(t, store)

	pair, err := svc.IssueTokenPair(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	next, err := svc.RotateRefreshToken(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("RotateRefreshToken: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation returned the same refresh token")
	}

	// The presented token was revoked during rotation; replaying it fails.
	if _, err := svc.RotateRefreshToken(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on replay, got %v", err)
	}

	// The replacement still works.
	if _, err := svc.RotateRefreshToken(context.Background(), next.RefreshToken); err != nil {
		t.Fatalf("rotating replacement: %v", err)
	}
}

func TestRotateRefreshTokenRejectsExpired(t *testing.T) {
	store := NewMemStore()
	seedActiveUser(t, store, "u1")
	now, advance := newTestClock(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestTokenService(t, store, WithClock(now))

	pair, err := svc.IssueTokenPair(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	advance(7*24*time.Hour + time.Minute)
	if _, err := svc.RotateRefreshToken(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestRotateRefreshTokenRejectsInactiveUser(t *testing.T) {
	store := NewMemStore()
	seedActiveUser(t, store, "u1")
	svc := newTestTokenService(t, store)

	pair, err := svc.IssueTokenPair(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	if err := store.SetUserActive(context.Background(), "u1", false); err != nil {
		t.Fatalf("deactivate user: %v", err)
	}

	if _, err := svc.RotateRefreshToken(context.Background(), pair.RefreshToken); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestRotateRefreshTokenRevokesOnSecretMismatch(t *testing.T) {
	store := NewMemStore()
	seedActiveUser(t, store, "u1")
	svc := newTestTokenService(t, store)

	pair, err := svc.IssueTokenPair(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	tokenID, _, _ := splitRefreshToken(pair.RefreshToken)

	forged := tokenID + ".not-the-real-secret"
	if _, err := svc.RotateRefreshToken(context.Background(), forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for forged secret, got %v", err)
	}

	// The record was burned; even the genuine token is now dead.
	if _, err := svc.RotateRefreshToken(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after burn, got %v", err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	store := NewMemStore()
	seedActiveUser(t, store, "u1")
	svc := newTestTokenService(t, store)

	pair, err := svc.IssueTokenPair(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := svc.Revoke(context.Background(), pair.RefreshToken); err != nil {
			t.Fatalf("Revoke #%d: %v", i+1, err)
		}
	}
	if err := svc.Revoke(context.Background(), "unknown.token"); err != nil {
		t.Fatalf("Revoke unknown: %v", err)
	}
	if err := svc.Revoke(context.Background(), "garbage"); err != nil {
		t.Fatalf("Revoke malformed: %v", err)
	}
}

func TestRevokeAllKillsEveryToken(t *testing.T) {
	store := NewMemStore()
	seedActiveUser(t, store, "u1")
	svc := newTestTokenService(t, store)

	var pairs []TokenPair
	for i := 0; i < 3; i++ {
		pair, err := svc.IssueTokenPair(context.Background(), "u1")
		if err != nil {
			t.Fatalf("IssueTokenPair: %v", err)
		}
		pairs = append(pairs, pair)
	}

	if err := svc.RevokeAll(context.Background(), "u1"); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	for i, pair := range pairs {
		if _, err := svc.RotateRefreshToken(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %d survived RevokeAll: %v", i, err)
		}
	}
}

func TestPurgeExpiredDeletesDeadRows(t *testing.T) {
	store := NewMemStore()
	seedActiveUser(t, store, "u1")
	now, advance := newTestClock(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestTokenService(t, store, WithClock(now))

	if _, err := svc.IssueTokenPair(context.Background(), "u1"); err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	advance(8 * 24 * time.Hour)
	if _, err := svc.IssueTokenPair(context.Background(), "u1"); err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	n, err := svc.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged row, got %d", n)
	}
}
