// ABOUTME: Tests for connector config sealing and header construction
// ABOUTME: Covers the header dispatch rules for each credential variant

package connector

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercatae/mercat-gateway/internal/store"
)

func testKey(t *testing.T) *[KeySize]byte {
	t.Helper()
	encoded, err := GenerateKey()
	require.NoError(t, err)
	key, err := ParseKey(encoded)
	require.NoError(t, err)
	return key
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := testKey(t)

	sealed, err := Seal(key, []byte("credential material"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "credential")

	plaintext, err := Open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("credential material"), plaintext)
}

func TestOpen_WrongKey(t *testing.T) {
	sealed, err := Seal(testKey(t), []byte("secret"))
	require.NoError(t, err)

	_, err = Open(testKey(t), sealed)
	require.ErrorIs(t, err, ErrCredentialConfig)
}

func TestOpen_TamperedBlob(t *testing.T) {
	key := testKey(t)
	sealed, err := Seal(key, []byte("secret"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0x01
	_, err = Open(key, sealed)
	require.ErrorIs(t, err, ErrCredentialConfig)
}

func TestParseKey_BadInput(t *testing.T) {
	_, err := ParseKey("not hex")
	assert.Error(t, err)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestBuildRequest_APIKey(t *testing.T) {
	builder, err := ParseConfig(store.ConnectorAPIKey, mustJSON(t, map[string]string{
		"header": "X-Token",
		"scheme": "Key",
		"token":  "tok-123",
	}))
	require.NoError(t, err)

	headers, err := builder.BuildRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Key tok-123", headers.Get("X-Token"))
}

func TestBuildRequest_APIKeyNoScheme(t *testing.T) {
	builder, err := ParseConfig(store.ConnectorAPIKey, mustJSON(t, map[string]string{
		"header": "X-Api-Key",
		"token":  "tok-123",
	}))
	require.NoError(t, err)

	headers, err := builder.BuildRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", headers.Get("X-Api-Key"))
}

func TestBuildRequest_JWTLiteralToken(t *testing.T) {
	builder, err := ParseConfig(store.ConnectorJWT, mustJSON(t, map[string]string{
		"header": "X-Jwt",
		"token":  "eyJhbGciOiJIUzI1NiJ9.payload.sig",
	}))
	require.NoError(t, err)

	headers, err := builder.BuildRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eyJhbGciOiJIUzI1NiJ9.payload.sig", headers.Get("X-Jwt"))
}

func TestBuildRequest_OAuthIgnoresConfiguredHeader(t *testing.T) {
	// An oauth connector always authenticates via Authorization: Bearer,
	// no matter what header its config mentions.
	builder, err := ParseConfig(store.ConnectorOAuth, mustJSON(t, map[string]string{
		"header":      "X-Custom",
		"accessToken": "at-456",
	}))
	require.NoError(t, err)

	headers, err := builder.BuildRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer at-456", headers.Get("Authorization"))
	assert.Empty(t, headers.Get("X-Custom"))
}

func TestBuildRequest_MissingFields(t *testing.T) {
	tests := []struct {
		name    string
		ctype   string
		payload map[string]string
	}{
		{"api_key without token", store.ConnectorAPIKey, map[string]string{"header": "X-Token"}},
		{"api_key without header", store.ConnectorAPIKey, map[string]string{"token": "tok"}},
		{"jwt without token", store.ConnectorJWT, map[string]string{"header": "Authorization"}},
		{"oauth without access token", store.ConnectorOAuth, map[string]string{"refreshToken": "rt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder, err := ParseConfig(tt.ctype, mustJSON(t, tt.payload))
			require.NoError(t, err)

			_, err = builder.BuildRequest(context.Background())
			assert.ErrorIs(t, err, ErrCredentialConfig)
		})
	}
}

func TestParseConfig_UnknownTypeAndBadJSON(t *testing.T) {
	_, err := ParseConfig("carrier_pigeon", []byte(`{}`))
	assert.ErrorIs(t, err, ErrCredentialConfig)

	_, err = ParseConfig(store.ConnectorAPIKey, []byte(`not json`))
	assert.ErrorIs(t, err, ErrCredentialConfig)
}
