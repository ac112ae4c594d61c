// ABOUTME: Tool-call orchestration: discovery and the metered fetch pipeline.
// ABOUTME: Fetch runs identity, quote, cap check, connector fetch and settlement in order.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mercatae/mercat-gateway/internal/auth"
	"github.com/mercatae/mercat-gateway/internal/caps"
	"github.com/mercatae/mercat-gateway/internal/connector"
	"github.com/mercatae/mercat-gateway/internal/discovery"
	"github.com/mercatae/mercat-gateway/internal/render"
	"github.com/mercatae/mercat-gateway/internal/settle"
	"github.com/mercatae/mercat-gateway/internal/store"
)

// summaryMaxChars bounds summary-mode content.
const summaryMaxChars = 2048

// ServiceError is a domain failure carried back to the caller with a
// structured code and optional data payload.
type ServiceError struct {
	Code    int
	Message string
	Data    any
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// DiscoverParams are the discover_resources call parameters.
type DiscoverParams struct {
	Query  string `json:"query"`
	Format string `json:"format,omitempty"`
}

// DiscoverResult is the discover_resources call result.
type DiscoverResult struct {
	Results []discovery.Result `json:"results"`
}

// FetchParams are the fetch_content call parameters.
type FetchParams struct {
	ResourceID string `json:"resourceId"`
	Mode       string `json:"mode,omitempty"`
}

// ContentResult is the delivered content portion of a fetch result.
type ContentResult struct {
	Text        string `json:"text"`
	ContentType string `json:"contentType,omitempty"`
	Bytes       int64  `json:"bytes"`
	Mode        string `json:"mode"`
}

// ReceiptResult is the receipt as delivered to the caller: the document
// fields plus the signature over the marshalled document, so the agent can
// verify its own receipt against the platform public key.
type ReceiptResult struct {
	*settle.Document
	Signature []byte `json:"signature"`
}

// FetchResult is the fetch_content call result.
type FetchResult struct {
	Content ContentResult  `json:"content"`
	Receipt *ReceiptResult `json:"receipt"`
}

// ServiceStore is the store subset the orchestrator uses directly.
type ServiceStore interface {
	GetResource(ctx context.Context, id string) (*store.Resource, error)
	CreateCharge(ctx context.Context, charge *store.ChargeRecord) error
}

// Service implements the gateway's tool-call semantics over the domain
// components. The transport stays protocol-only; everything metered happens
// here.
type Service struct {
	store     ServiceStore
	discovery *discovery.Engine
	enforcer  *caps.Enforcer
	fetcher   *connector.Fetcher
	settler   *settle.Settler
	logger    *slog.Logger
}

// NewService wires the orchestrator. All collaborators are required.
func NewService(st ServiceStore, disc *discovery.Engine, enforcer *caps.Enforcer, fetcher *connector.Fetcher, settler *settle.Settler, logger *slog.Logger) (*Service, error) {
	switch {
	case st == nil:
		return nil, errors.New("store is required")
	case disc == nil:
		return nil, errors.New("discovery engine is required")
	case enforcer == nil:
		return nil, errors.New("cap enforcer is required")
	case fetcher == nil:
		return nil, errors.New("fetcher is required")
	case settler == nil:
		return nil, errors.New("settler is required")
	}
	if logger == nil {
		logger = slog.Default().With("component", "gateway")
	}
	return &Service{
		store:     st,
		discovery: disc,
		enforcer:  enforcer,
		fetcher:   fetcher,
		settler:   settler,
		logger:    logger,
	}, nil
}

// NewSessionID mints a fresh session identifier.
func (s *Service) NewSessionID() string {
	return uuid.New().String()
}

// Discover searches the catalog for the authenticated caller.
func (s *Service) Discover(ctx context.Context, params *DiscoverParams) (*DiscoverResult, error) {
	if identity := auth.IdentityFromContext(ctx); identity != nil {
		s.logger.Debug("discover", "user_id", identity.UserID, "query", params.Query)
	}
	results, err := s.discovery.Discover(ctx, params.Query, params.Format)
	if err != nil {
		return nil, fmt.Errorf("discovering resources: %w", err)
	}
	return &DiscoverResult{Results: results}, nil
}

// Fetch runs the metered pipeline: resource lookup, price quote, cap check,
// connector fetch, settlement. The per-user lock is held from the cap check
// through the settlement write so two concurrent fetches cannot both pass
// the check before either settles. The caller's identity comes from the
// request context, placed there by the transport after verification.
func (s *Service) Fetch(ctx context.Context, params *FetchParams) (*FetchResult, error) {
	identity := auth.IdentityFromContext(ctx)
	if identity == nil {
		return nil, errors.New("no authenticated identity in context")
	}

	mode := params.Mode
	if mode == "" {
		mode = store.ModeRaw
	}
	if mode != store.ModeRaw && mode != store.ModeSummary {
		return nil, &ServiceError{Code: CodeModeUnsupported, Message: fmt.Sprintf("unknown access mode %q", mode)}
	}

	resource, err := s.store.GetResource(ctx, params.ResourceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ServiceError{Code: CodeResourceNotFound, Message: "resource not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("loading resource: %w", err)
	}

	modeServed := mode
	if mode == store.ModeSummary && !resource.SupportsMode(store.ModeSummary) {
		return nil, &ServiceError{Code: CodeModeUnsupported, Message: "resource does not offer summary mode"}
	}

	quote := settle.Quote(resource)

	release := s.enforcer.LockUser(identity.UserID)
	defer release()

	rejection, err := s.enforcer.Evaluate(ctx, identity.UserID, resource.ID, mode, quote)
	if err != nil {
		return nil, fmt.Errorf("evaluating spending caps: %w", err)
	}
	if rejection != nil {
		s.recordRejection(ctx, identity, resource, mode, quote)
		return nil, &ServiceError{
			Code:    CodeCapExceeded,
			Message: "spending cap exceeded",
			Data: map[string]any{
				"code":    rejection.Code,
				"limit":   rejection.Limit,
				"current": rejection.Current,
				"quote":   quote,
			},
		}
	}

	content, err := s.fetcher.Fetch(ctx, resource)
	if err != nil {
		return nil, fetchError(err)
	}

	body := string(content.Body)
	contentType := content.ContentType
	if modeServed == store.ModeSummary {
		body = render.Snippet(body, summaryMaxChars)
		contentType = "text/plain; charset=utf-8"
	}

	// The admission quote assumes one kilobyte; the delivered size can cost
	// more. Re-check against the actual cost while the user lock is still
	// held, so a large fetch cannot settle past a cap the quote slipped under.
	cost := settle.Cost(resource, int64(len(body)))
	if cost > quote {
		rejection, err = s.enforcer.Evaluate(ctx, identity.UserID, resource.ID, mode, cost)
		if err != nil {
			return nil, fmt.Errorf("evaluating spending caps: %w", err)
		}
		if rejection != nil {
			s.recordRejection(ctx, identity, resource, mode, cost)
			return nil, &ServiceError{
				Code:    CodeCapExceeded,
				Message: "spending cap exceeded",
				Data: map[string]any{
					"code":    rejection.Code,
					"limit":   rejection.Limit,
					"current": rejection.Current,
					"quote":   cost,
				},
			}
		}
	}

	signed, err := s.settler.Settle(ctx, &settle.Request{
		Resource:      resource,
		UserID:        identity.UserID,
		AgentID:       identity.AgentID,
		ModeRequested: mode,
		ModeServed:    modeServed,
		Bytes:         int64(len(body)),
	})
	if err != nil {
		return nil, fmt.Errorf("settling fetch: %w", err)
	}

	return &FetchResult{
		Content: ContentResult{
			Text:        body,
			ContentType: contentType,
			Bytes:       int64(len(body)),
			Mode:        modeServed,
		},
		Receipt: &ReceiptResult{Document: signed.Document, Signature: signed.Signature},
	}, nil
}

// recordRejection writes an audit charge for a cap-blocked attempt. Failures
// here never mask the rejection itself.
func (s *Service) recordRejection(ctx context.Context, identity *auth.Identity, resource *store.Resource, mode string, quote float64) {
	err := s.store.CreateCharge(ctx, &store.ChargeRecord{
		UserID:     identity.UserID,
		ResourceID: resource.ID,
		Mode:       mode,
		Cost:       quote,
		Status:     store.ChargeStatusRejected,
	})
	if err != nil {
		s.logger.Warn("failed to record rejected charge",
			"user_id", identity.UserID,
			"resource_id", resource.ID,
			"error", err,
		)
	}
}

// fetchError maps connector failures to structured service errors. Upstream
// statuses and credential trouble stay distinguishable without leaking
// connector internals.
func fetchError(err error) error {
	var upstream *connector.UpstreamError
	if errors.As(err, &upstream) {
		return &ServiceError{
			Code:    CodeUpstreamFailed,
			Message: "origin fetch failed",
			Data:    map[string]any{"upstreamStatus": upstream.StatusCode},
		}
	}
	if errors.Is(err, connector.ErrCredentialConfig) {
		return &ServiceError{Code: CodeUpstreamFailed, Message: "connector credentials unavailable"}
	}
	return fmt.Errorf("fetching content: %w", err)
}
