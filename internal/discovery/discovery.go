// ABOUTME: Discovery engine: token search over the resource catalog
// ABOUTME: Strict all-tokens matching with a loose any-token fallback when it yields nothing

package discovery

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"

	"github.com/mercatae/mercat-gateway/internal/render"
	"github.com/mercatae/mercat-gateway/internal/store"
)

const (
	// MaxTokens caps how many query tokens participate in matching.
	MaxTokens = 6
	// MaxResults caps how many resources a discover call returns.
	MaxResults = 10
	// previewLength bounds the plain-text preview snippet.
	previewLength = 200
)

// SearchStore is the catalog subset the engine needs.
type SearchStore interface {
	SearchResources(ctx context.Context, tokens []string, conjunctive bool, format string, limit int) ([]*store.Resource, error)
}

// Result is a discovery hit shaped for agent consumption.
type Result struct {
	ResourceID string  `json:"resourceId"`
	Title      string  `json:"title"`
	Type       string  `json:"type,omitempty"`
	Format     string  `json:"format,omitempty"`
	Domain     string  `json:"domain,omitempty"`
	PriceFlat  float64 `json:"priceFlat"`
	PricePerKB float64 `json:"pricePerKb"`
	Preview    string  `json:"preview,omitempty"`
}

// Engine performs catalog discovery.
type Engine struct {
	store  SearchStore
	logger *slog.Logger
}

// NewEngine creates a discovery engine over the given catalog store.
func NewEngine(st SearchStore, logger *slog.Logger) (*Engine, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = slog.Default().With("component", "discovery")
	}
	return &Engine{store: st, logger: logger}, nil
}

// Discover runs the two-phase search: a conjunctive pass first, then a
// disjunctive fallback only when the strict pass matched nothing. The
// fallback trades precision for recall exactly when precision yields zero.
func (e *Engine) Discover(ctx context.Context, query, format string) ([]Result, error) {
	tokens := Tokenize(query)

	resources, err := e.store.SearchResources(ctx, tokens, true, format, MaxResults)
	if err != nil {
		return nil, err
	}

	if len(resources) == 0 && len(tokens) > 0 {
		resources, err = e.store.SearchResources(ctx, tokens, false, format, MaxResults)
		if err != nil {
			return nil, err
		}
		if len(resources) > 0 {
			e.logger.Debug("loose fallback produced results", "query", query, "count", len(resources))
		}
	}

	results := make([]Result, 0, len(resources))
	for _, r := range resources {
		results = append(results, shapeResult(r))
	}
	return results, nil
}

func shapeResult(r *store.Resource) Result {
	preview := r.Preview
	if preview == "" && r.Summary != "" {
		preview = r.Summary
	}
	if preview != "" {
		preview = render.Snippet(preview, previewLength)
	}
	return Result{
		ResourceID: r.ID,
		Title:      r.Title,
		Type:       r.Type,
		Format:     r.Format,
		Domain:     r.Domain,
		PriceFlat:  r.PriceFlat,
		PricePerKB: r.PricePerKB,
		Preview:    preview,
	}
}

// Tokenize splits a free-text query into lowercase alphanumeric runs longer
// than one character, deduplicated, capped at MaxTokens.
func Tokenize(query string) []string {
	var tokens []string
	seen := make(map[string]bool)

	var current strings.Builder
	flush := func() {
		if current.Len() > 1 {
			token := strings.ToLower(current.String())
			if !seen[token] {
				seen[token] = true
				tokens = append(tokens, token)
			}
		}
		current.Reset()
	}

	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else {
			flush()
		}
		if len(tokens) == MaxTokens {
			return tokens
		}
	}
	flush()

	if len(tokens) > MaxTokens {
		tokens = tokens[:MaxTokens]
	}
	return tokens
}
