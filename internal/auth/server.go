// ABOUTME: Authorization server: code issuance, PKCE exchange and refresh rotation
// ABOUTME: Refresh reuse after rotation revokes the whole token chain

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mercatae/mercat-gateway/internal/store"
)

// OAuth error codes returned by the token endpoint.
const (
	ErrCodeInvalidClient      = "invalid_client"
	ErrCodeInvalidRedirectURI = "invalid_redirect_uri"
	ErrCodeUnsupportedMethod  = "unsupported_challenge_method"
	ErrCodeInvalidGrant       = "invalid_grant"
	ErrCodeInvalidRequest     = "invalid_request"
)

// OAuthError is an RFC 6749 style error with a machine code and description.
type OAuthError struct {
	Code        string
	Description string
}

func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func oauthErr(code, description string) *OAuthError {
	return &OAuthError{Code: code, Description: description}
}

// Defaults for token lifetimes.
const (
	DefaultCodeTTL    = 5 * time.Minute
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour

	refreshTokenBytes = 48
)

// OAuthStore is the subset of the store the authorization server uses.
type OAuthStore interface {
	GetClient(ctx context.Context, id string) (*store.OAuthClient, error)
	CreateAuthorizationCode(ctx context.Context, code *store.AuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, code string) (*store.AuthorizationCode, error)
	ConsumeAuthorizationCode(ctx context.Context, code string) error
	CreateRefreshToken(ctx context.Context, token *store.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (*store.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string) error
	RevokeRefreshChain(ctx context.Context, id string) error
}

// Server implements the authorization server operations.
type Server struct {
	store      OAuthStore
	signer     *JWTSigner
	codeTTL    time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
}

// Config holds authorization server configuration.
type Config struct {
	Store      OAuthStore
	Signer     *JWTSigner
	CodeTTL    time.Duration
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Logger     *slog.Logger
}

// NewServer creates an authorization server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "auth")
	}
	s := &Server{
		store:      cfg.Store,
		signer:     cfg.Signer,
		codeTTL:    cfg.CodeTTL,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		logger:     logger,
	}
	if s.codeTTL <= 0 {
		s.codeTTL = DefaultCodeTTL
	}
	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshTTL
	}
	return s, nil
}

// IssueCodeRequest are the parameters of the authorize step. The user is
// authenticated out-of-band before this is called.
type IssueCodeRequest struct {
	ClientID        string
	UserID          string
	RedirectURI     string
	CodeChallenge   string
	ChallengeMethod string
	Resource        string
	Scope           string
	AgentID         string
}

// IssueCode validates the client and redirect URI and mints a short-lived
// one-time authorization code bound to the PKCE challenge.
func (s *Server) IssueCode(ctx context.Context, req IssueCodeRequest) (string, error) {
	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", oauthErr(ErrCodeInvalidClient, "unknown client")
		}
		return "", fmt.Errorf("looking up client: %w", err)
	}

	if !redirectURIRegistered(client, req.RedirectURI) {
		return "", oauthErr(ErrCodeInvalidRedirectURI, "redirect URI not registered for client")
	}

	if req.ChallengeMethod != "S256" {
		return "", oauthErr(ErrCodeUnsupportedMethod, "only S256 code challenges are accepted")
	}
	if req.CodeChallenge == "" {
		return "", oauthErr(ErrCodeInvalidRequest, "code_challenge is required")
	}
	if req.UserID == "" {
		return "", oauthErr(ErrCodeInvalidRequest, "user id is required")
	}

	codeValue, err := randomToken(32)
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}

	code := &store.AuthorizationCode{
		Code:            codeValue,
		ClientID:        req.ClientID,
		UserID:          req.UserID,
		RedirectURI:     req.RedirectURI,
		CodeChallenge:   req.CodeChallenge,
		ChallengeMethod: "S256",
		Resource:        req.Resource,
		Scope:           req.Scope,
		AgentID:         req.AgentID,
		ExpiresAt:       time.Now().Add(s.codeTTL),
	}
	if err := s.store.CreateAuthorizationCode(ctx, code); err != nil {
		return "", fmt.Errorf("persisting code: %w", err)
	}

	s.logger.Info("issued authorization code",
		"client_id", req.ClientID,
		"user_id", req.UserID,
		"resource", req.Resource,
	)
	return codeValue, nil
}

// TokenPair is the result of a successful exchange or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Scope        string
}

// ExchangeRequest are the parameters of the authorization_code grant.
type ExchangeRequest struct {
	Code        string
	Verifier    string
	ClientID    string
	RedirectURI string
}

// Exchange verifies the code, PKCE verifier and redirect URI, consumes the
// code exactly once and mints an access/refresh token pair. Every failure
// surfaces as invalid_grant to avoid leaking which check tripped.
func (s *Server) Exchange(ctx context.Context, req ExchangeRequest) (*TokenPair, error) {
	code, err := s.store.GetAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, oauthErr(ErrCodeInvalidGrant, "unknown code")
		}
		return nil, fmt.Errorf("looking up code: %w", err)
	}

	if code.ClientID != req.ClientID {
		return nil, oauthErr(ErrCodeInvalidGrant, "client mismatch")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, oauthErr(ErrCodeInvalidGrant, "redirect URI mismatch")
	}
	if time.Now().After(code.ExpiresAt) {
		return nil, oauthErr(ErrCodeInvalidGrant, "code expired")
	}
	if !verifyPKCE(req.Verifier, code.CodeChallenge) {
		return nil, oauthErr(ErrCodeInvalidGrant, "PKCE verification failed")
	}

	// Atomic conditional update: exactly one concurrent exchange wins.
	if err := s.store.ConsumeAuthorizationCode(ctx, req.Code); err != nil {
		if errors.Is(err, store.ErrCodeConsumed) || errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("authorization code replay detected", "client_id", req.ClientID)
			return nil, oauthErr(ErrCodeInvalidGrant, "code already used")
		}
		return nil, fmt.Errorf("consuming code: %w", err)
	}

	id := &Identity{
		UserID:   code.UserID,
		ClientID: code.ClientID,
		AgentID:  code.AgentID,
		Resource: code.Resource,
		Scopes:   splitScopes(code.Scope),
	}
	return s.mintPair(ctx, id, code.Scope, nil)
}

// RefreshRequest are the parameters of the refresh_token grant.
type RefreshRequest struct {
	Token    string
	ClientID string
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued whose refresh record links back to it. Presenting a token
// that was already rotated is treated as theft and revokes the entire chain.
func (s *Server) Refresh(ctx context.Context, req RefreshRequest) (*TokenPair, error) {
	hash := hashRefreshToken(req.Token)

	token, err := s.store.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, oauthErr(ErrCodeInvalidGrant, "unknown refresh token")
		}
		return nil, fmt.Errorf("looking up refresh token: %w", err)
	}

	if token.ClientID != req.ClientID {
		return nil, oauthErr(ErrCodeInvalidGrant, "client mismatch")
	}
	if token.Revoked {
		// A revoked token coming back is a hard failure signal: the value was
		// rotated away, so whoever holds it now may have stolen the chain.
		if err := s.store.RevokeRefreshChain(ctx, token.ID); err != nil {
			s.logger.Error("failed to revoke refresh chain", "token_id", token.ID, "error", err)
		}
		return nil, oauthErr(ErrCodeInvalidGrant, "refresh token revoked")
	}
	if time.Now().After(token.ExpiresAt) {
		return nil, oauthErr(ErrCodeInvalidGrant, "refresh token expired")
	}

	if err := s.store.RevokeRefreshToken(ctx, token.ID); err != nil {
		return nil, fmt.Errorf("revoking rotated token: %w", err)
	}

	id := &Identity{
		UserID:   token.UserID,
		ClientID: token.ClientID,
		AgentID:  token.AgentID,
		Resource: token.Resource,
		Scopes:   splitScopes(token.Scope),
	}
	return s.mintPair(ctx, id, token.Scope, &token.ID)
}

// VerifyAccessToken validates signature and expiry of a bearer token.
// Stateless: no revocation list is consulted.
func (s *Server) VerifyAccessToken(tokenString string) (*Identity, error) {
	return s.signer.Verify(tokenString)
}

// mintPair creates the access token and a fresh refresh token record.
func (s *Server) mintPair(ctx context.Context, id *Identity, scope string, rotatedFrom *string) (*TokenPair, error) {
	accessToken, err := s.signer.Mint(id, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("minting access token: %w", err)
	}

	refreshValue, err := randomToken(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generating refresh token: %w", err)
	}

	record := &store.RefreshToken{
		TokenHash:   hashRefreshToken(refreshValue),
		ClientID:    id.ClientID,
		UserID:      id.UserID,
		Scope:       scope,
		Resource:    id.Resource,
		AgentID:     id.AgentID,
		ExpiresAt:   time.Now().Add(s.refreshTTL),
		RotatedFrom: rotatedFrom,
	}
	if err := s.store.CreateRefreshToken(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshValue,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		Scope:        scope,
	}, nil
}

// verifyPKCE checks base64url(SHA-256(verifier)) against the stored challenge.
func verifyPKCE(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// hashRefreshToken returns the hex SHA-256 of a refresh token value.
// Only this hash is ever persisted.
func hashRefreshToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// randomToken returns n random bytes encoded as base64url.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func redirectURIRegistered(client *store.OAuthClient, uri string) bool {
	for _, registered := range client.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

func splitScopes(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}
