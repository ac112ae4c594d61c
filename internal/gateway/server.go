// ABOUTME: Session-oriented HTTP transport for agent tool calls.
// ABOUTME: JSON-RPC 2.0 envelopes over POST with header-carried session ids.

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mercatae/mercat-gateway/internal/auth"
	"github.com/mercatae/mercat-gateway/internal/sessmap"
)

// SessionHeader carries the session id assigned during initialize.
const SessionHeader = "Mercat-Session-Id"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// serverVersion is advertised in initialize responses.
const serverVersion = "1.0.0"

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// Domain error codes carried in JSON-RPC error objects.
const (
	CodeCapExceeded      = 402
	CodeResourceNotFound = 404
	CodeModeUnsupported  = 422
	CodeUpstreamFailed   = 502
)

// Config holds configuration for the gateway server.
type Config struct {
	Service  *Service
	Verifier auth.TokenVerifier
	Sessions *sessmap.Map
	// Challenge writes the WWW-Authenticate response for unauthenticated calls.
	Challenge func(w http.ResponseWriter, description string)
	Logger    *slog.Logger
}

// Server exposes the tool-call transport. One endpoint, POST for calls,
// DELETE to close a session. Identity resolves from the bound session when
// the session id is known, otherwise from a fresh bearer token which is then
// bound before the message is handled.
type Server struct {
	service   *Service
	verifier  auth.TokenVerifier
	sessions  *sessmap.Map
	challenge func(w http.ResponseWriter, description string)
	logger    *slog.Logger
}

// NewServer creates a gateway server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("service is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session map is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "gateway")
	}
	challenge := cfg.Challenge
	if challenge == nil {
		challenge = func(w http.ResponseWriter, description string) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, description, http.StatusUnauthorized)
		}
	}

	return &Server{
		service:   cfg.Service,
		verifier:  cfg.Verifier,
		sessions:  cfg.Sessions,
		challenge: challenge,
		logger:    logger,
	}, nil
}

// RegisterRoutes registers the tool-call endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/rpc", s.handleRPC)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete closes a session and clears its identity binding. The caller
// must present a bearer token for the user bound to the session; knowing a
// session id alone is not enough to evict its binding.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		http.Error(w, "Bad Request: missing "+SessionHeader, http.StatusBadRequest)
		return
	}
	bound := s.sessions.Get(sessionID)
	if bound == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	token, err := extractBearerToken(r)
	if err != nil {
		s.challenge(w, "authentication required")
		return
	}
	identity, err := s.verifier.Verify(token)
	if err != nil {
		s.challenge(w, "invalid or expired token")
		return
	}
	if identity.UserID != bound.UserID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.sessions.Unbind(sessionID)
	s.logger.Info("session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}
	if req.JSONRPC != "2.0" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	sessionID := r.Header.Get(SessionHeader)
	isInitialize := req.Method == "initialize"
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	identity, ok := s.resolveIdentity(w, r, sessionID, isInitialize)
	if !ok {
		return
	}
	r = r.WithContext(auth.WithIdentity(r.Context(), identity))

	s.logger.Debug("tool call",
		"method", req.Method,
		"session_id", sessionID,
		"user_id", identity.UserID,
	)

	// Notifications are accepted and produce no response body.
	if isNotification {
		if !strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req, identity)
	case "discover_resources":
		s.handleDiscover(w, r, req)
	case "fetch_content":
		s.handleFetch(w, r, req)
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

// resolveIdentity finds the caller's identity. A bound session id wins;
// otherwise a fresh bearer token is required and, when a session id is
// present, bound to it before the message is handled. The boolean reports
// whether handling may continue; on false a response has been written.
func (s *Server) resolveIdentity(w http.ResponseWriter, r *http.Request, sessionID string, isInitialize bool) (*auth.Identity, bool) {
	if !isInitialize && sessionID != "" {
		if identity := s.sessions.Get(sessionID); identity != nil {
			return identity, true
		}
	}

	token, err := extractBearerToken(r)
	if err != nil {
		if !isInitialize && sessionID != "" {
			// Unknown session and no token to rebind it with.
			http.Error(w, "Not Found", http.StatusNotFound)
			return nil, false
		}
		s.challenge(w, "authentication required")
		return nil, false
	}

	identity, err := s.verifier.Verify(token)
	if err != nil {
		s.challenge(w, "invalid or expired token")
		return nil, false
	}

	if !isInitialize && sessionID != "" {
		s.sessions.Bind(sessionID, identity)
	}
	return identity, true
}

// handleInitialize binds the caller's identity to a new session id and
// returns it in the session header.
func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest, identity *auth.Identity) {
	sessionID := s.service.NewSessionID()
	s.sessions.Bind(sessionID, identity)

	s.logger.Info("session created",
		"session_id", sessionID,
		"user_id", identity.UserID,
		"client_id", identity.ClientID,
	)

	w.Header().Set(SessionHeader, sessionID)
	result := map[string]any{
		"serverInfo": map[string]any{
			"name":    "mercat-gateway",
			"version": serverVersion,
		},
		"methods": []string{"discover_resources", "fetch_content"},
	}
	s.sendJSONRPCResult(w, req.ID, result)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params DiscoverParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}
	if params.Query == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "query is required", nil)
		return
	}

	result, err := s.service.Discover(r.Context(), &params)
	if err != nil {
		s.handleServiceError(w, req.ID, req.Method, err)
		return
	}
	s.sendJSONRPCResult(w, req.ID, result)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params FetchParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}
	if params.ResourceID == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "resourceId is required", nil)
		return
	}

	result, err := s.service.Fetch(r.Context(), &params)
	if err != nil {
		s.handleServiceError(w, req.ID, req.Method, err)
		return
	}
	s.sendJSONRPCResult(w, req.ID, result)
}

// handleServiceError maps service failures onto JSON-RPC error envelopes.
// Domain failures keep their structured codes; everything else collapses to
// a generic internal error so transport responses never leak internals.
func (s *Server) handleServiceError(w http.ResponseWriter, id json.RawMessage, method string, err error) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		s.sendJSONRPCError(w, id, svcErr.Code, svcErr.Message, svcErr.Data)
		return
	}

	s.logger.Error("tool call failed", "method", method, "error", err)
	s.sendJSONRPCError(w, id, JSONRPCInternalError, "internal error", nil)
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing authorization")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
