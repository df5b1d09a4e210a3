package jwt

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "test-secret"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("u1", "sess-1", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	payload, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if payload.Identity() != "u1" || payload.SessionID() != "sess-1" {
		t.Fatalf("unexpected claims: %+v", payload)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, _ := GenerateToken("u1", "sess-1", testSecret, time.Minute)
	if _, err := ParseToken(token, "other"); err == nil {
		t.Fatal("expected signature failure")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, _ := GenerateToken("u1", "sess-1", testSecret, -time.Minute)
	if _, err := ParseToken(token, testSecret); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParseTokenRequiresSessionID(t *testing.T) {
	token, _ := GenerateToken("u1", "", testSecret, time.Minute)
	if _, err := ParseToken(token, testSecret); err != ErrMissingSessionID {
		t.Fatalf("expected ErrMissingSessionID, got %v", err)
	}
}

func TestExtractToken(t *testing.T) {
	header := httptest.NewRequest(http.MethodGet, "/ws", nil)
	header.Header.Set("Authorization", "Bearer abc")
	if got := ExtractToken(header); got != "abc" {
		t.Fatalf("header token = %q", got)
	}

	query := httptest.NewRequest(http.MethodGet, "/ws?token=qq", nil)
	if got := ExtractToken(query); got != "qq" {
		t.Fatalf("query token = %q", got)
	}

	proto := httptest.NewRequest(http.MethodGet, "/ws", nil)
	proto.Header.Set("Sec-WebSocket-Protocol", "bearer, pp")
	if got := ExtractToken(proto); got != "pp" {
		t.Fatalf("subprotocol token = %q", got)
	}

	none := httptest.NewRequest(http.MethodGet, "/ws", nil)
	none.Header.Set("Authorization", "Basic zzz")
	if got := ExtractToken(none); got != "" {
		t.Fatalf("expected no token, got %q", got)
	}
}
