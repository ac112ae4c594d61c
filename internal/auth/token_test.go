// ABOUTME: Unit tests for access token minting and verification
// ABOUTME: Tests claim round-trips, invalid tokens, and expiry

package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWTSigner_RoundTrip(t *testing.T) {
	signer := NewJWTSigner([]byte("test-secret-key-for-jwt-signing"))

	id := &Identity{
		UserID:   "user-123",
		ClientID: "client-abc",
		AgentID:  "agent-7",
		Resource: "https://gateway.example",
		Scopes:   []string{"discover", "fetch"},
	}

	token, err := signer.Mint(id, time.Hour)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	got, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if got.UserID != id.UserID {
		t.Errorf("UserID = %q, want %q", got.UserID, id.UserID)
	}
	if got.ClientID != id.ClientID {
		t.Errorf("ClientID = %q, want %q", got.ClientID, id.ClientID)
	}
	if got.AgentID != id.AgentID {
		t.Errorf("AgentID = %q, want %q", got.AgentID, id.AgentID)
	}
	if got.Resource != id.Resource {
		t.Errorf("Resource = %q, want %q", got.Resource, id.Resource)
	}
	if len(got.Scopes) != 2 || got.Scopes[0] != "discover" || got.Scopes[1] != "fetch" {
		t.Errorf("Scopes = %v, want [discover fetch]", got.Scopes)
	}
	if !got.HasScope("fetch") {
		t.Error("HasScope(fetch) = false, want true")
	}
	if got.HasScope("admin") {
		t.Error("HasScope(admin) = true, want false")
	}
}

func TestJWTSigner_InvalidToken(t *testing.T) {
	signer := NewJWTSigner([]byte("test-secret-key-for-jwt-signing"))

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "empty token",
			token: "",
		},
		{
			name:  "garbage token",
			token: "not-a-jwt-token",
		},
		{
			name:  "malformed JWT",
			token: "header.payload.signature",
		},
		{
			name: "wrong secret",
			token: func() string {
				other := NewJWTSigner([]byte("different-secret"))
				token, _ := other.Mint(&Identity{UserID: "u", ClientID: "c"}, time.Hour)
				return token
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := signer.Verify(tt.token)
			if err == nil {
				t.Error("Verify() expected error, got nil")
			}
		})
	}
}

func TestJWTSigner_ExpiredToken(t *testing.T) {
	signer := NewJWTSigner([]byte("test-secret-key-for-jwt-signing"))

	token, err := signer.Mint(&Identity{UserID: "u", ClientID: "c"}, -time.Minute)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	_, err = signer.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTSigner_MissingClaims(t *testing.T) {
	signer := NewJWTSigner([]byte("test-secret-key-for-jwt-signing"))

	// A token without a cid claim must be rejected even if the signature is fine
	token, err := signer.Mint(&Identity{UserID: "u"}, time.Hour)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	_, err = signer.Verify(token)
	if !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Verify() error = %v, want ErrMissingClaim", err)
	}
}
