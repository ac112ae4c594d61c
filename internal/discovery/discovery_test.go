// ABOUTME: Tests for query tokenization and the strict-then-loose search policy
// ABOUTME: Verifies the fallback fires only when the conjunctive pass is empty

package discovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercatae/mercat-gateway/internal/store"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "basic words",
			query: "market data feeds",
			want:  []string{"market", "data", "feeds"},
		},
		{
			name:  "punctuation splits runs",
			query: "price-feed: crypto/fiat",
			want:  []string{"price", "feed", "crypto", "fiat"},
		},
		{
			name:  "single characters dropped",
			query: "a b see d quarterly",
			want:  []string{"see", "quarterly"},
		},
		{
			name:  "case folded and deduplicated",
			query: "Energy ENERGY energy",
			want:  []string{"energy"},
		},
		{
			name:  "capped at six tokens",
			query: "one two three four five six seven eight",
			want:  []string{"one", "two", "three", "four", "five", "six"},
		},
		{
			name:  "digits kept",
			query: "q3 2025 outlook",
			want:  []string{"q3", "2025", "outlook"},
		},
		{
			name:  "empty query",
			query: "  ...  ",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.query))
		})
	}
}

func setupEngine(t *testing.T) (*Engine, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	engine, err := NewEngine(st, nil)
	require.NoError(t, err)
	return engine, st
}

func seed(t *testing.T, st *store.SQLiteStore, r *store.Resource) {
	t.Helper()
	if r.ProviderID == "" {
		r.ProviderID = "p"
	}
	if len(r.Modes) == 0 {
		r.Modes = []string{store.ModeRaw}
	}
	require.NoError(t, st.CreateResource(context.Background(), r))
}

func TestDiscover_StrictMatch(t *testing.T) {
	engine, st := setupEngine(t)

	seed(t, st, &store.Resource{Title: "Alpha and beta combined"})
	seed(t, st, &store.Resource{Title: "Alpha solo"})

	results, err := engine.Discover(context.Background(), "alpha beta", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Alpha and beta combined", results[0].Title)
}

func TestDiscover_LooseFallback(t *testing.T) {
	engine, st := setupEngine(t)

	// No document contains both tokens; one contains "alpha" alone.
	seed(t, st, &store.Resource{Title: "Alpha solo dataset"})
	seed(t, st, &store.Resource{Title: "Entirely unrelated"})

	results, err := engine.Discover(context.Background(), "alpha beta", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Alpha solo dataset", results[0].Title)
}

func TestDiscover_NoMatchAtAll(t *testing.T) {
	engine, st := setupEngine(t)

	seed(t, st, &store.Resource{Title: "Entirely unrelated"})

	results, err := engine.Discover(context.Background(), "alpha beta", "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDiscover_FormatFilter(t *testing.T) {
	engine, st := setupEngine(t)

	seed(t, st, &store.Resource{Title: "Report dataset", Format: "pdf"})
	seed(t, st, &store.Resource{Title: "Report dataset two", Format: "markdown"})

	results, err := engine.Discover(context.Background(), "report", "markdown")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Report dataset two", results[0].Title)
}

func TestDiscover_PreviewShaping(t *testing.T) {
	engine, st := setupEngine(t)

	seed(t, st, &store.Resource{
		Title:   "Markdown resource",
		Summary: "# Heading\n\nBody **text** for the preview",
	})

	results, err := engine.Discover(context.Background(), "markdown", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotContains(t, results[0].Preview, "#")
	assert.NotContains(t, results[0].Preview, "**")
	assert.Contains(t, results[0].Preview, "Heading")
}

func TestDiscover_ResultCap(t *testing.T) {
	engine, st := setupEngine(t)

	for i := 0; i < 15; i++ {
		seed(t, st, &store.Resource{Title: "common dataset", Domain: "example.com"})
	}

	results, err := engine.Discover(context.Background(), "common", "")
	require.NoError(t, err)
	assert.Len(t, results, MaxResults)
}
