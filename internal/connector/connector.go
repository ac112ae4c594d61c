// ABOUTME: Connector credential variants and outbound request construction
// ABOUTME: Closed set of types (api_key, jwt, oauth) behind one builder interface

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/mercatae/mercat-gateway/internal/store"
)

// ErrCredentialConfig marks a connector whose decrypted configuration is
// unusable: wrong key, tampered blob, malformed JSON, or missing fields.
// Distinct from transport and upstream failures so callers can tell
// credential corruption from network trouble.
var ErrCredentialConfig = errors.New("invalid connector credential configuration")

// UpstreamError is a non-2xx response from the resource origin.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// RequestBuilder turns a decrypted connector config into the outbound
// headers that authenticate a fetch.
type RequestBuilder interface {
	BuildRequest(ctx context.Context) (http.Header, error)
}

// apiKeyConfig sets a configurable header with a configurable scheme prefix,
// e.g. header="X-Token", scheme="Key" produces "X-Token: Key <token>".
type apiKeyConfig struct {
	Header string `json:"header"`
	Scheme string `json:"scheme"`
	Token  string `json:"token"`
}

func (c *apiKeyConfig) BuildRequest(_ context.Context) (http.Header, error) {
	if c.Header == "" || c.Token == "" {
		return nil, fmt.Errorf("%w: api_key connector requires header and token", ErrCredentialConfig)
	}
	value := c.Token
	if c.Scheme != "" {
		value = c.Scheme + " " + c.Token
	}
	headers := http.Header{}
	headers.Set(c.Header, value)
	return headers, nil
}

// jwtConfig carries a literal bearer token in the configured header.
type jwtConfig struct {
	Header string `json:"header"`
	Token  string `json:"token"`
}

func (c *jwtConfig) BuildRequest(_ context.Context) (http.Header, error) {
	if c.Token == "" {
		return nil, fmt.Errorf("%w: jwt connector requires a token", ErrCredentialConfig)
	}
	header := c.Header
	if header == "" {
		header = "Authorization"
	}
	headers := http.Header{}
	headers.Set(header, c.Token)
	return headers, nil
}

// oauthConfig always authenticates with "Authorization: Bearer <token>".
// When a token URL is configured the token refreshes through the standard
// OAuth2 flow; otherwise the stored access token is used as-is.
type oauthConfig struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	TokenURL     string    `json:"tokenUrl,omitempty"`
	ClientID     string    `json:"clientId,omitempty"`
	ClientSecret string    `json:"clientSecret,omitempty"`
}

func (c *oauthConfig) BuildRequest(ctx context.Context) (http.Header, error) {
	if c.AccessToken == "" {
		return nil, fmt.Errorf("%w: oauth connector requires an access token", ErrCredentialConfig)
	}

	token, err := c.tokenSource(ctx).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing oauth token: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token.AccessToken)
	return headers, nil
}

func (c *oauthConfig) tokenSource(ctx context.Context) oauth2.TokenSource {
	token := &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
	}
	if c.TokenURL == "" {
		return oauth2.StaticTokenSource(token)
	}
	conf := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: c.TokenURL},
	}
	return conf.TokenSource(ctx, token)
}

// ParseConfig decodes a decrypted connector config into its variant. The
// variant set is closed; an unknown type or undecodable payload is a
// credential configuration error.
func ParseConfig(connectorType string, plaintext []byte) (RequestBuilder, error) {
	var builder RequestBuilder
	switch connectorType {
	case store.ConnectorAPIKey:
		builder = &apiKeyConfig{}
	case store.ConnectorJWT:
		builder = &jwtConfig{}
	case store.ConnectorOAuth:
		builder = &oauthConfig{}
	default:
		return nil, fmt.Errorf("%w: unknown connector type %q", ErrCredentialConfig, connectorType)
	}

	if err := json.Unmarshal(plaintext, builder); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialConfig, err)
	}
	return builder, nil
}
