// ABOUTME: Operator-facing management API: clients, resources, connectors, caps, receipts.
// ABOUTME: Guarded by a static operator bearer token; not exposed to agents.

package gateway

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mercatae/mercat-gateway/internal/connector"
	"github.com/mercatae/mercat-gateway/internal/settle"
	"github.com/mercatae/mercat-gateway/internal/store"
)

// AdminStore is the store subset the management API uses.
type AdminStore interface {
	CreateClient(ctx context.Context, client *store.OAuthClient) error
	ListClients(ctx context.Context) ([]*store.OAuthClient, error)
	CreateResource(ctx context.Context, resource *store.Resource) error
	ListResources(ctx context.Context) ([]*store.Resource, error)
	CreateConnector(ctx context.Context, conn *store.Connector) error
	PutObject(ctx context.Context, obj *store.StoredObject) error
	SetSpendingCaps(ctx context.Context, caps *store.SpendingCaps) error
	GetReceipt(ctx context.Context, id string) (*store.Receipt, error)
}

// AdminConfig holds configuration for the management API.
type AdminConfig struct {
	Store         AdminStore
	SealingKey    *[connector.KeySize]byte
	VerifyKey     ed25519.PublicKey
	OperatorToken string
	Logger        *slog.Logger
}

// AdminHandler serves the /admin endpoints.
type AdminHandler struct {
	store      AdminStore
	sealingKey *[connector.KeySize]byte
	verifyKey  ed25519.PublicKey
	operator   string
	logger     *slog.Logger
}

// NewAdminHandler creates the management API handler.
func NewAdminHandler(cfg AdminConfig) (*AdminHandler, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.SealingKey == nil {
		return nil, errors.New("sealing key is required")
	}
	if cfg.OperatorToken == "" {
		return nil, errors.New("operator token is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "admin")
	}
	return &AdminHandler{
		store:      cfg.Store,
		sealingKey: cfg.SealingKey,
		verifyKey:  cfg.VerifyKey,
		operator:   cfg.OperatorToken,
		logger:     logger,
	}, nil
}

// RegisterRoutes registers the management endpoints on the given ServeMux.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/clients", h.guard(h.handleClients))
	mux.HandleFunc("/admin/resources", h.guard(h.handleResources))
	mux.HandleFunc("/admin/connectors", h.guard(h.handleConnectors))
	mux.HandleFunc("/admin/caps/", h.guard(h.handleCaps))
	mux.HandleFunc("/admin/receipts/", h.guard(h.handleReceipt))
}

// guard enforces the operator bearer token.
func (h *AdminHandler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r)
		if err != nil || subtle.ConstantTimeCompare([]byte(token), []byte(h.operator)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

type clientRequest struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name"`
	RedirectURIs []string `json:"redirectUris"`
	Scope        string   `json:"scope,omitempty"`
}

type clientResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	RedirectURIs []string `json:"redirectUris"`
	Scope        string   `json:"scope,omitempty"`
}

func (h *AdminHandler) handleClients(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req clientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.Name == "" || len(req.RedirectURIs) == 0 {
			http.Error(w, "name and redirectUris are required", http.StatusBadRequest)
			return
		}

		client := &store.OAuthClient{
			ID:           req.ID,
			Name:         req.Name,
			RedirectURIs: req.RedirectURIs,
			AuthMethod:   "none",
			Scope:        req.Scope,
		}
		if err := h.store.CreateClient(r.Context(), client); err != nil {
			h.fail(w, "creating client", err)
			return
		}
		h.logger.Info("registered oauth client", "client_id", client.ID, "name", client.Name)
		h.writeJSON(w, http.StatusCreated, clientView(client))

	case http.MethodGet:
		clients, err := h.store.ListClients(r.Context())
		if err != nil {
			h.fail(w, "listing clients", err)
			return
		}
		views := make([]clientResponse, 0, len(clients))
		for _, c := range clients {
			views = append(views, clientView(c))
		}
		h.writeJSON(w, http.StatusOK, views)

	default:
		w.Header().Set("Allow", "POST, GET")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func clientView(c *store.OAuthClient) clientResponse {
	return clientResponse{ID: c.ID, Name: c.Name, RedirectURIs: c.RedirectURIs, Scope: c.Scope}
}

type resourceRequest struct {
	ProviderID  string   `json:"providerId"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary,omitempty"`
	Preview     string   `json:"preview,omitempty"`
	Domain      string   `json:"domain,omitempty"`
	Path        string   `json:"path,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Type        string   `json:"type,omitempty"`
	Format      string   `json:"format,omitempty"`
	ConnectorID string   `json:"connectorId,omitempty"`
	PriceFlat   float64  `json:"priceFlat"`
	PricePerKB  float64  `json:"pricePerKb"`
	Modes       []string `json:"modes,omitempty"`
	Visibility  string   `json:"visibility,omitempty"`
	// Content, when present, is sealed into object storage and the resource
	// becomes internally hosted.
	Content     string `json:"content,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

type resourceListEntry struct {
	ID         string  `json:"id"`
	ProviderID string  `json:"providerId"`
	Title      string  `json:"title"`
	Domain     string  `json:"domain,omitempty"`
	Format     string  `json:"format,omitempty"`
	PriceFlat  float64 `json:"priceFlat"`
	PricePerKB float64 `json:"pricePerKb"`
	Visibility string  `json:"visibility"`
}

func (h *AdminHandler) handleResources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		resources, err := h.store.ListResources(r.Context())
		if err != nil {
			h.fail(w, "listing resources", err)
			return
		}
		views := make([]resourceListEntry, 0, len(resources))
		for _, res := range resources {
			views = append(views, resourceListEntry{
				ID:         res.ID,
				ProviderID: res.ProviderID,
				Title:      res.Title,
				Domain:     res.Domain,
				Format:     res.Format,
				PriceFlat:  res.PriceFlat,
				PricePerKB: res.PricePerKB,
				Visibility: res.Visibility,
			})
		}
		h.writeJSON(w, http.StatusOK, views)
		return
	case http.MethodPost:
		// handled below
	default:
		w.Header().Set("Allow", "POST, GET")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req resourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.ProviderID == "" || req.Title == "" {
		http.Error(w, "providerId and title are required", http.StatusBadRequest)
		return
	}
	if req.Content != "" && req.ConnectorID != "" {
		http.Error(w, "content and connectorId are mutually exclusive", http.StatusBadRequest)
		return
	}

	resource := &store.Resource{
		ProviderID: req.ProviderID,
		Title:      req.Title,
		Summary:    req.Summary,
		Preview:    req.Preview,
		Domain:     req.Domain,
		Path:       req.Path,
		Tags:       req.Tags,
		Type:       req.Type,
		Format:     req.Format,
		PriceFlat:  req.PriceFlat,
		PricePerKB: req.PricePerKB,
		Modes:      req.Modes,
		Visibility: req.Visibility,
	}
	if len(resource.Modes) == 0 {
		resource.Modes = []string{store.ModeRaw}
	}
	if req.ConnectorID != "" {
		resource.ConnectorID = &req.ConnectorID
	}

	if req.Content != "" {
		sealed, err := connector.Seal(h.sealingKey, []byte(req.Content))
		if err != nil {
			h.fail(w, "sealing content", err)
			return
		}
		obj := &store.StoredObject{ContentType: req.ContentType, Sealed: sealed}
		if err := h.store.PutObject(r.Context(), obj); err != nil {
			h.fail(w, "storing object", err)
			return
		}
		resource.ObjectID = &obj.ID
	}

	if err := h.store.CreateResource(r.Context(), resource); err != nil {
		h.fail(w, "creating resource", err)
		return
	}
	h.logger.Info("created resource", "resource_id", resource.ID, "provider_id", resource.ProviderID)
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": resource.ID})
}

type connectorRequest struct {
	OwnerID string          `json:"ownerId"`
	Type    string          `json:"type"`
	Config  json.RawMessage `json:"config"`
}

func (h *AdminHandler) handleConnectors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req connectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" || len(req.Config) == 0 {
		http.Error(w, "ownerId and config are required", http.StatusBadRequest)
		return
	}
	// Reject configs the fetch path could never use.
	if _, err := connector.ParseConfig(req.Type, req.Config); err != nil {
		http.Error(w, "invalid connector config: "+err.Error(), http.StatusBadRequest)
		return
	}

	sealed, err := connector.Seal(h.sealingKey, req.Config)
	if err != nil {
		h.fail(w, "sealing connector config", err)
		return
	}

	conn := &store.Connector{OwnerID: req.OwnerID, Type: req.Type, Config: sealed}
	if err := h.store.CreateConnector(r.Context(), conn); err != nil {
		h.fail(w, "creating connector", err)
		return
	}
	h.logger.Info("created connector", "connector_id", conn.ID, "type", conn.Type)
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": conn.ID})
}

type capsRequest struct {
	GlobalWeekly  float64 `json:"globalWeekly"`
	PerSiteDaily  float64 `json:"perSiteDaily"`
	RawWeekly     float64 `json:"rawWeekly"`
	SummaryWeekly float64 `json:"summaryWeekly"`
}

func (h *AdminHandler) handleCaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.Header().Set("Allow", "PUT")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/admin/caps/")
	if userID == "" || strings.Contains(userID, "/") {
		http.Error(w, "user id required", http.StatusBadRequest)
		return
	}

	var req capsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	caps := &store.SpendingCaps{
		UserID:        userID,
		GlobalWeekly:  req.GlobalWeekly,
		PerSiteDaily:  req.PerSiteDaily,
		RawWeekly:     req.RawWeekly,
		SummaryWeekly: req.SummaryWeekly,
	}
	if err := h.store.SetSpendingCaps(r.Context(), caps); err != nil {
		h.fail(w, "setting caps", err)
		return
	}
	h.logger.Info("updated spending caps", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

type receiptResponse struct {
	ID        string           `json:"id"`
	ChargeID  string           `json:"chargeId"`
	UserID    string           `json:"userId"`
	Payload   json.RawMessage  `json:"payload"`
	Signature []byte           `json:"signature"`
	CreatedAt time.Time        `json:"createdAt"`
	Verified  bool             `json:"verified"`
	Document  *settle.Document `json:"document,omitempty"`
}

func (h *AdminHandler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/admin/receipts/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "receipt id required", http.StatusBadRequest)
		return
	}

	receipt, err := h.store.GetReceipt(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.fail(w, "loading receipt", err)
		return
	}

	resp := receiptResponse{
		ID:        receipt.ID,
		ChargeID:  receipt.ChargeID,
		UserID:    receipt.UserID,
		Payload:   receipt.Payload,
		Signature: receipt.Signature,
		CreatedAt: receipt.CreatedAt,
	}
	if doc, err := settle.VerifyReceipt(h.verifyKey, receipt); err == nil {
		resp.Verified = true
		resp.Document = doc
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) fail(w http.ResponseWriter, what string, err error) {
	h.logger.Error("admin request failed", "op", what, "error", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func (h *AdminHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode admin response", "error", err)
	}
}
