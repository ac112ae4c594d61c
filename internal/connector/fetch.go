// ABOUTME: Content fetch over the connector variants
// ABOUTME: Internal resources read sealed object storage; the rest go to the origin

package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mercatae/mercat-gateway/internal/store"
)

// FetchStore is the store subset the fetcher reads.
type FetchStore interface {
	GetConnector(ctx context.Context, id string) (*store.Connector, error)
	GetObject(ctx context.Context, id string) (*store.StoredObject, error)
}

// Content is the fetched payload plus its declared media type.
type Content struct {
	Body        []byte
	ContentType string
}

// Fetcher resolves resource content either from sealed object storage or
// from the resource origin through its connector.
type Fetcher struct {
	store  FetchStore
	key    *[KeySize]byte
	client *http.Client
	logger *slog.Logger
}

// NewFetcher creates a fetcher. A nil client falls back to
// http.DefaultClient; outbound fetches carry no timeout beyond the
// transport's own and run to completion even if the caller's session closes.
func NewFetcher(st FetchStore, key *[KeySize]byte, client *http.Client, logger *slog.Logger) (*Fetcher, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if key == nil {
		return nil, errors.New("sealing key is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default().With("component", "connector")
	}
	return &Fetcher{store: st, key: key, client: client, logger: logger}, nil
}

// Fetch retrieves the content behind a resource. Internally hosted resources
// are served from object storage without a network call; connector-backed
// resources get an authenticated request to their origin.
func (f *Fetcher) Fetch(ctx context.Context, resource *store.Resource) (*Content, error) {
	if resource.ObjectID != nil {
		return f.fetchInternal(ctx, resource)
	}
	if resource.ConnectorID == nil {
		return nil, fmt.Errorf("resource %q has no content source", resource.ID)
	}
	return f.fetchOrigin(ctx, resource)
}

func (f *Fetcher) fetchInternal(ctx context.Context, resource *store.Resource) (*Content, error) {
	obj, err := f.store.GetObject(ctx, *resource.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("loading stored object: %w", err)
	}
	body, err := Open(f.key, obj.Sealed)
	if err != nil {
		return nil, err
	}
	return &Content{Body: body, ContentType: obj.ContentType}, nil
}

func (f *Fetcher) fetchOrigin(ctx context.Context, resource *store.Resource) (*Content, error) {
	conn, err := f.store.GetConnector(ctx, *resource.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("loading connector: %w", err)
	}

	plaintext, err := Open(f.key, conn.Config)
	if err != nil {
		return nil, err
	}
	builder, err := ParseConfig(conn.Type, plaintext)
	if err != nil {
		return nil, err
	}
	headers, err := builder.BuildRequest(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, originURL(resource), nil)
	if err != nil {
		return nil, fmt.Errorf("building origin request: %w", err)
	}
	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching from origin: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Warn("origin fetch failed",
			"resource_id", resource.ID,
			"connector_id", conn.ID,
			"status", resp.StatusCode,
		)
		return nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading origin response: %w", err)
	}
	return &Content{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

// originURL joins domain and path into the fetch target. A domain that
// already carries a scheme is used verbatim.
func originURL(resource *store.Resource) string {
	base := resource.Domain
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	path := resource.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
