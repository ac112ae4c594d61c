// ABOUTME: SQLite persistence for the resource catalog
// ABOUTME: Provides token search with strict (all tokens) and loose (any token) matching

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const resourceColumns = `
	id, provider_id, title, summary, preview, domain, path, tags,
	type, format, object_id, connector_id, price_flat, price_per_kb,
	modes, visibility, created_at, updated_at
`

// CreateResource inserts a catalog resource. The catalog is written by the
// provider-facing surface; the core treats rows as read-only afterwards.
func (s *SQLiteStore) CreateResource(ctx context.Context, resource *Resource) error {
	if resource.ID == "" {
		resource.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if resource.CreatedAt.IsZero() {
		resource.CreatedAt = now
	}
	if resource.UpdatedAt.IsZero() {
		resource.UpdatedAt = now
	}
	if resource.Visibility == "" {
		resource.Visibility = "public"
	}

	query := `
		INSERT INTO resources (` + resourceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var objectID, connectorID sql.NullString
	if resource.ObjectID != nil {
		objectID = sql.NullString{String: *resource.ObjectID, Valid: true}
	}
	if resource.ConnectorID != nil {
		connectorID = sql.NullString{String: *resource.ConnectorID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		resource.ID,
		resource.ProviderID,
		resource.Title,
		nullString(resource.Summary),
		nullString(resource.Preview),
		nullString(resource.Domain),
		nullString(resource.Path),
		nullString(joinList(resource.Tags)),
		nullString(resource.Type),
		nullString(resource.Format),
		objectID,
		connectorID,
		resource.PriceFlat,
		resource.PricePerKB,
		joinList(resource.Modes),
		resource.Visibility,
		resource.CreatedAt.Format(time.RFC3339),
		resource.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("resource %q already exists", resource.ID)
		}
		return fmt.Errorf("inserting resource: %w", err)
	}

	s.logger.Debug("created resource", "id", resource.ID, "title", resource.Title)
	return nil
}

// GetResource retrieves a resource by ID.
// Returns ErrNotFound if the resource doesn't exist.
func (s *SQLiteStore) GetResource(ctx context.Context, id string) (*Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)
	resource, err := scanResource(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying resource: %w", err)
	}
	return resource, nil
}

// ListResources returns every catalog resource ordered by creation time.
func (s *SQLiteStore) ListResources(ctx context.Context) ([]*Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var resources []*Resource
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning resource row: %w", err)
		}
		resources = append(resources, resource)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating resource rows: %w", err)
	}
	return resources, nil
}

// searchableFields are the columns a query token can match against.
var searchableFields = []string{"title", "summary", "preview", "domain", "tags"}

// SearchResources matches query tokens against the searchable fields of
// public resources. With conjunctive=true every token must match at least one
// field; otherwise a single token/field match is enough.
func (s *SQLiteStore) SearchResources(ctx context.Context, tokens []string, conjunctive bool, format string, limit int) ([]*Resource, error) {
	if limit <= 0 {
		limit = 10
	}

	var clauses []string
	var args []any

	for _, token := range tokens {
		pattern := "%" + escapeLike(strings.ToLower(token)) + "%"
		var fieldClauses []string
		for _, field := range searchableFields {
			fieldClauses = append(fieldClauses, fmt.Sprintf("LOWER(COALESCE(%s, '')) LIKE ? ESCAPE '\\'", field))
			args = append(args, pattern)
		}
		clauses = append(clauses, "("+strings.Join(fieldClauses, " OR ")+")")
	}

	where := "visibility = 'public'"
	if len(clauses) > 0 {
		joiner := " OR "
		if conjunctive {
			joiner = " AND "
		}
		where += " AND (" + strings.Join(clauses, joiner) + ")"
	}
	if format != "" {
		where += " AND format = ?"
		args = append(args, format)
	}

	query := `SELECT ` + resourceColumns + ` FROM resources WHERE ` + where + ` ORDER BY created_at LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching resources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var resources []*Resource
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning resource row: %w", err)
		}
		resources = append(resources, resource)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating resource rows: %w", err)
	}
	return resources, nil
}

// escapeLike escapes LIKE metacharacters in a search token
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*Resource, error) {
	var resource Resource
	var summary, preview, domain, path, tags, rtype, format sql.NullString
	var objectID, connectorID sql.NullString
	var modes, createdAt, updatedAt string

	err := row.Scan(
		&resource.ID,
		&resource.ProviderID,
		&resource.Title,
		&summary,
		&preview,
		&domain,
		&path,
		&tags,
		&rtype,
		&format,
		&objectID,
		&connectorID,
		&resource.PriceFlat,
		&resource.PricePerKB,
		&modes,
		&resource.Visibility,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	resource.Summary = summary.String
	resource.Preview = preview.String
	resource.Domain = domain.String
	resource.Path = path.String
	resource.Tags = splitList(tags.String)
	resource.Type = rtype.String
	resource.Format = format.String
	if objectID.Valid {
		resource.ObjectID = &objectID.String
	}
	if connectorID.Valid {
		resource.ConnectorID = &connectorID.String
	}
	resource.Modes = splitList(modes)
	resource.CreatedAt = parseTimeColumn(createdAt, "resources.created_at")
	resource.UpdatedAt = parseTimeColumn(updatedAt, "resources.updated_at")

	return &resource, nil
}
