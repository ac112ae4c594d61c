// ABOUTME: Tests for the OAuth HTTP endpoints and bearer challenge behavior
// ABOUTME: Exercises grant exchange over the wire and the WWW-Authenticate header

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func setupHTTPHandler(t *testing.T) (*HTTPHandler, *Server, string) {
	t.Helper()
	server, st := setupAuthServer(t)
	client := registerClient(t, st)

	handler, err := NewHTTPHandler(HTTPConfig{
		Server:        server,
		BaseURL:       "https://gateway.example",
		OperatorToken: "op-secret",
	})
	if err != nil {
		t.Fatalf("NewHTTPHandler() error = %v", err)
	}
	return handler, server, client.ID
}

func TestTokenEndpoint_AuthorizationCodeGrant(t *testing.T) {
	handler, server, clientID := setupHTTPHandler(t)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	verifier := "http-flow-verifier"
	code := issueCode(t, server, clientID, verifier)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
		"client_id":     {clientID},
		"redirect_uri":  {"https://agent.example/cb"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var body tokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.AccessToken == "" || body.RefreshToken == "" {
		t.Error("expected access and refresh tokens in response")
	}
	if body.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", body.TokenType)
	}
	if body.ExpiresIn <= 0 {
		t.Errorf("expires_in = %d", body.ExpiresIn)
	}
}

func TestTokenEndpoint_InvalidGrantBody(t *testing.T) {
	handler, _, clientID := setupHTTPHandler(t)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {"nonexistent"},
		"code_verifier": {"v"},
		"client_id":     {clientID},
		"redirect_uri":  {"https://agent.example/cb"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}

	var body errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error != ErrCodeInvalidGrant {
		t.Errorf("error = %q, want invalid_grant", body.Error)
	}
}

func TestTokenEndpoint_UnsupportedGrant(t *testing.T) {
	handler, _, _ := setupHTTPHandler(t)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	form := url.Values{"grant_type": {"password"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestAuthorizeEndpoint_RequiresOperator(t *testing.T) {
	handler, _, clientID := setupHTTPHandler(t)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	body := `{"client_id":"` + clientID + `","user_id":"u","redirect_uri":"https://agent.example/cb","code_challenge":"c","code_challenge_method":"S256"}`

	// Without the operator token
	req := httptest.NewRequest(http.MethodPost, "/oauth/authorize", strings.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	// With it
	req = httptest.NewRequest(http.MethodPost, "/oauth/authorize", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer op-secret")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["code"] == "" {
		t.Error("expected an authorization code in the response")
	}
}

func TestChallenge_Header(t *testing.T) {
	handler, _, _ := setupHTTPHandler(t)

	rr := httptest.NewRecorder()
	handler.Challenge(rr, "missing token")

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	challenge := rr.Header().Get("WWW-Authenticate")
	for _, want := range []string{"Bearer", "realm=", "resource_metadata=", "authorization_uri="} {
		if !strings.Contains(challenge, want) {
			t.Errorf("WWW-Authenticate %q missing %q", challenge, want)
		}
	}
}

func TestMetadataEndpoint(t *testing.T) {
	handler, _, _ := setupHTTPHandler(t)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["token_endpoint"] != "https://gateway.example/oauth/token" {
		t.Errorf("token_endpoint = %v", doc["token_endpoint"])
	}
}

func TestBearerIdentity(t *testing.T) {
	signer := NewJWTSigner([]byte("s"))
	token, err := signer.Mint(&Identity{UserID: "u", ClientID: "c"}, time.Hour)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	id, errMsg := BearerIdentity(req, signer)
	if errMsg != "" {
		t.Fatalf("BearerIdentity() errMsg = %q", errMsg)
	}
	if id.UserID != "u" {
		t.Errorf("UserID = %q", id.UserID)
	}

	req.Header.Set("Authorization", "Basic abc")
	if _, errMsg := BearerIdentity(req, signer); errMsg == "" {
		t.Error("expected error for non-bearer header")
	}
}

func TestIdentityContext(t *testing.T) {
	id := &Identity{UserID: "u", ClientID: "c"}
	ctx := WithIdentity(context.Background(), id)

	if got := IdentityFromContext(ctx); got != id {
		t.Errorf("IdentityFromContext() = %v, want %v", got, id)
	}
	if got := IdentityFromContext(context.Background()); got != nil {
		t.Errorf("IdentityFromContext(empty) = %v, want nil", got)
	}
}
