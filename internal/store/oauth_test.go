// ABOUTME: Tests for OAuth client, authorization code and refresh token persistence
// ABOUTME: Covers exactly-once code consumption and rotation chain revocation

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestCreateAndGetClient(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	client := &OAuthClient{
		Name:         "research-agent",
		RedirectURIs: []string{"https://agent.example/callback", "http://localhost:7777/cb"},
		AuthMethod:   "none",
		Scope:        "discover fetch",
	}
	require.NoError(t, store.CreateClient(ctx, client))
	require.NotEmpty(t, client.ID)

	got, err := store.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, client.Name, got.Name)
	assert.Equal(t, client.RedirectURIs, got.RedirectURIs)
	assert.Equal(t, "none", got.AuthMethod)

	_, err = store.GetClient(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthorizationCodeLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	client := &OAuthClient{Name: "c", RedirectURIs: []string{"https://a/cb"}, AuthMethod: "none", Scope: "fetch"}
	require.NoError(t, store.CreateClient(ctx, client))

	code := &AuthorizationCode{
		Code:            "code-abc",
		ClientID:        client.ID,
		UserID:          "user-1",
		RedirectURI:     "https://a/cb",
		CodeChallenge:   "challenge",
		ChallengeMethod: "S256",
		Resource:        "https://gateway.example",
		Scope:           "fetch",
		ExpiresAt:       time.Now().Add(5 * time.Minute),
	}
	require.NoError(t, store.CreateAuthorizationCode(ctx, code))

	got, err := store.GetAuthorizationCode(ctx, "code-abc")
	require.NoError(t, err)
	assert.False(t, got.Consumed)
	assert.Equal(t, "user-1", got.UserID)

	// First consume wins
	require.NoError(t, store.ConsumeAuthorizationCode(ctx, "code-abc"))

	// Second consume reports replay
	err = store.ConsumeAuthorizationCode(ctx, "code-abc")
	assert.ErrorIs(t, err, ErrCodeConsumed)

	// Consuming an unknown code is not found
	err = store.ConsumeAuthorizationCode(ctx, "no-such-code")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err = store.GetAuthorizationCode(ctx, "code-abc")
	require.NoError(t, err)
	assert.True(t, got.Consumed)
}

func TestRefreshTokenRotationChain(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	client := &OAuthClient{Name: "c", RedirectURIs: []string{"https://a/cb"}, AuthMethod: "none", Scope: "fetch"}
	require.NoError(t, store.CreateClient(ctx, client))

	// Build a chain a -> b -> c via rotated_from links
	a := &RefreshToken{TokenHash: "hash-a", ClientID: client.ID, UserID: "u", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.CreateRefreshToken(ctx, a))

	b := &RefreshToken{TokenHash: "hash-b", ClientID: client.ID, UserID: "u", ExpiresAt: time.Now().Add(time.Hour), RotatedFrom: &a.ID}
	require.NoError(t, store.CreateRefreshToken(ctx, b))

	c := &RefreshToken{TokenHash: "hash-c", ClientID: client.ID, UserID: "u", ExpiresAt: time.Now().Add(time.Hour), RotatedFrom: &b.ID}
	require.NoError(t, store.CreateRefreshToken(ctx, c))

	// An unrelated token stays untouched
	other := &RefreshToken{TokenHash: "hash-other", ClientID: client.ID, UserID: "u2", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.CreateRefreshToken(ctx, other))

	// Revoking the chain from the middle takes out all three
	require.NoError(t, store.RevokeRefreshChain(ctx, b.ID))

	for _, hash := range []string{"hash-a", "hash-b", "hash-c"} {
		tok, err := store.GetRefreshTokenByHash(ctx, hash)
		require.NoError(t, err)
		assert.True(t, tok.Revoked, "expected %s to be revoked", hash)
	}

	tok, err := store.GetRefreshTokenByHash(ctx, "hash-other")
	require.NoError(t, err)
	assert.False(t, tok.Revoked)
}

func TestRevokeRefreshToken(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	client := &OAuthClient{Name: "c", RedirectURIs: []string{"https://a/cb"}, AuthMethod: "none", Scope: "fetch"}
	require.NoError(t, store.CreateClient(ctx, client))

	tok := &RefreshToken{TokenHash: "hash-1", ClientID: client.ID, UserID: "u", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.CreateRefreshToken(ctx, tok))

	require.NoError(t, store.RevokeRefreshToken(ctx, tok.ID))

	got, err := store.GetRefreshTokenByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, got.Revoked)

	assert.ErrorIs(t, store.RevokeRefreshToken(ctx, "missing"), ErrNotFound)
}

func TestDuplicateRefreshTokenHash(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	client := &OAuthClient{Name: "c", RedirectURIs: []string{"https://a/cb"}, AuthMethod: "none", Scope: "fetch"}
	require.NoError(t, store.CreateClient(ctx, client))

	first := &RefreshToken{TokenHash: "dup", ClientID: client.ID, UserID: "u", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.CreateRefreshToken(ctx, first))

	second := &RefreshToken{TokenHash: "dup", ClientID: client.ID, UserID: "u", ExpiresAt: time.Now().Add(time.Hour)}
	assert.Error(t, store.CreateRefreshToken(ctx, second))
}
