// ABOUTME: JWT access token minting and verification for agent clients
// ABOUTME: Uses HS256 signing with configurable secret; verification is stateless

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier defines the interface for access token verification.
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
}

// JWTSigner mints and verifies HS256-signed access tokens. Verification
// checks signature and expiry only; revocation takes effect on the next
// refresh cycle, never mid-lifetime.
type JWTSigner struct {
	secret []byte
}

// NewJWTSigner creates a new JWT signer with the given secret.
func NewJWTSigner(secret []byte) *JWTSigner {
	return &JWTSigner{secret: secret}
}

// Mint creates a signed access token embedding the identity.
func (s *JWTSigner) Mint(id *Identity, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      id.UserID,
		"cid":      id.ClientID,
		"scope":    strings.Join(id.Scopes, " "),
		"resource": id.Resource,
		"iat":      now.Unix(),
		"exp":      now.Add(expiresIn).Unix(),
	}
	if id.AgentID != "" {
		claims["agent_id"] = id.AgentID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify validates the token signature and expiry and extracts the identity.
func (s *JWTSigner) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	cid, ok := claims["cid"].(string)
	if !ok || cid == "" {
		return nil, fmt.Errorf("%w: cid", ErrMissingClaim)
	}

	id := &Identity{
		UserID:   sub,
		ClientID: cid,
	}
	if scope, ok := claims["scope"].(string); ok && scope != "" {
		id.Scopes = strings.Fields(scope)
	}
	if resource, ok := claims["resource"].(string); ok {
		id.Resource = resource
	}
	if agentID, ok := claims["agent_id"].(string); ok {
		id.AgentID = agentID
	}

	return id, nil
}
