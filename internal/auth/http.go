// ABOUTME: HTTP handlers for the OAuth token endpoint and bearer middleware
// ABOUTME: Unauthenticated requests get a WWW-Authenticate challenge pointing at metadata

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// tokenResponse is the success body of the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// errorResponse is the OAuth-style error body.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// HTTPConfig configures the auth HTTP surface.
type HTTPConfig struct {
	Server *Server
	// Realm appears in WWW-Authenticate challenges.
	Realm string
	// BaseURL is the externally visible URL of this gateway, used to build
	// the metadata and authorization URIs in challenges.
	BaseURL string
	// OperatorToken guards the authorize endpoint; the human/dashboard login
	// that precedes code issuance lives outside this process.
	OperatorToken string
	Logger        *slog.Logger
}

// HTTPHandler serves the token endpoint, the authorize endpoint and the
// protected-resource metadata document.
type HTTPHandler struct {
	server        *Server
	realm         string
	baseURL       string
	operatorToken string
	logger        *slog.Logger
}

// NewHTTPHandler creates the auth HTTP handler.
func NewHTTPHandler(cfg HTTPConfig) (*HTTPHandler, error) {
	if cfg.Server == nil {
		return nil, errors.New("server is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "auth-http")
	}
	realm := cfg.Realm
	if realm == "" {
		realm = "mercat-gateway"
	}
	return &HTTPHandler{
		server:        cfg.Server,
		realm:         realm,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		operatorToken: cfg.OperatorToken,
		logger:        logger,
	}, nil
}

// RegisterRoutes registers the OAuth endpoints on the given ServeMux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/oauth/token", h.handleToken)
	mux.HandleFunc("/oauth/authorize", h.handleAuthorize)
	mux.HandleFunc("/.well-known/oauth-protected-resource", h.handleMetadata)
}

// handleToken implements the token endpoint for authorization_code and
// refresh_token grants.
func (h *HTTPHandler) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed form body")
		return
	}

	var pair *TokenPair
	var err error

	switch grantType := r.PostFormValue("grant_type"); grantType {
	case "authorization_code":
		pair, err = h.server.Exchange(r.Context(), ExchangeRequest{
			Code:        r.PostFormValue("code"),
			Verifier:    r.PostFormValue("code_verifier"),
			ClientID:    r.PostFormValue("client_id"),
			RedirectURI: r.PostFormValue("redirect_uri"),
		})
	case "refresh_token":
		pair, err = h.server.Refresh(r.Context(), RefreshRequest{
			Token:    r.PostFormValue("refresh_token"),
			ClientID: r.PostFormValue("client_id"),
		})
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", fmt.Sprintf("grant type %q not supported", grantType))
		return
	}

	if err != nil {
		var oe *OAuthError
		if errors.As(err, &oe) {
			status := http.StatusBadRequest
			if oe.Code == ErrCodeInvalidClient {
				status = http.StatusUnauthorized
			}
			writeOAuthError(w, status, oe.Code, oe.Description)
			return
		}
		h.logger.Error("token endpoint failure", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
		Scope:        pair.Scope,
	})
}

// authorizeRequest is the JSON body of the operator-facing authorize endpoint.
type authorizeRequest struct {
	ClientID            string `json:"client_id"`
	UserID              string `json:"user_id"`
	RedirectURI         string `json:"redirect_uri"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
	Resource            string `json:"resource,omitempty"`
	Scope               string `json:"scope,omitempty"`
	AgentID             string `json:"agent_id,omitempty"`
}

// handleAuthorize issues an authorization code for a user already
// authenticated by the operator surface.
func (h *HTTPHandler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.checkOperator(r) {
		writeOAuthError(w, http.StatusUnauthorized, "access_denied", "operator token required")
		return
	}

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	code, err := h.server.IssueCode(r.Context(), IssueCodeRequest{
		ClientID:        req.ClientID,
		UserID:          req.UserID,
		RedirectURI:     req.RedirectURI,
		CodeChallenge:   req.CodeChallenge,
		ChallengeMethod: req.CodeChallengeMethod,
		Resource:        req.Resource,
		Scope:           req.Scope,
		AgentID:         req.AgentID,
	})
	if err != nil {
		var oe *OAuthError
		if errors.As(err, &oe) {
			writeOAuthError(w, http.StatusBadRequest, oe.Code, oe.Description)
			return
		}
		h.logger.Error("authorize endpoint failure", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

// handleMetadata serves the protected-resource metadata document referenced
// by WWW-Authenticate challenges.
func (h *HTTPHandler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":               h.baseURL,
		"authorization_servers":  []string{h.baseURL},
		"token_endpoint":         h.baseURL + "/oauth/token",
		"bearer_methods_supported": []string{"header"},
		"scopes_supported":       []string{"discover", "fetch"},
	})
}

func (h *HTTPHandler) checkOperator(r *http.Request) bool {
	if h.operatorToken == "" {
		return false
	}
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	return errMsg == "" && token == h.operatorToken
}

// Challenge writes a 401 with the WWW-Authenticate header pointing agents at
// the metadata describing how to obtain a token.
func (h *HTTPHandler) Challenge(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(
		`Bearer realm=%q, resource_metadata=%q, authorization_uri=%q`,
		h.realm,
		h.baseURL+"/.well-known/oauth-protected-resource",
		h.baseURL+"/oauth/authorize",
	))
	writeOAuthError(w, http.StatusUnauthorized, "invalid_token", description)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// BearerIdentity resolves the request's bearer token to an Identity.
// Returns nil and an error message when the request is unauthenticated.
func BearerIdentity(r *http.Request, verifier TokenVerifier) (*Identity, string) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return nil, errMsg
	}
	id, err := verifier.Verify(token)
	if err != nil {
		return nil, "invalid or expired token"
	}
	return id, ""
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
