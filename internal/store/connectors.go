// ABOUTME: SQLite persistence for connector credential bundles
// ABOUTME: Config blobs are stored sealed; the store never sees plaintext credentials

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateConnector inserts a connector record with its sealed config.
func (s *SQLiteStore) CreateConnector(ctx context.Context, connector *Connector) error {
	if connector.ID == "" {
		connector.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if connector.CreatedAt.IsZero() {
		connector.CreatedAt = now
	}
	if connector.UpdatedAt.IsZero() {
		connector.UpdatedAt = now
	}

	query := `
		INSERT INTO connectors (id, owner_id, type, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		connector.ID,
		connector.OwnerID,
		connector.Type,
		connector.Config,
		connector.CreatedAt.Format(time.RFC3339),
		connector.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("connector %q already exists or has invalid type", connector.ID)
		}
		return fmt.Errorf("inserting connector: %w", err)
	}

	s.logger.Debug("created connector", "id", connector.ID, "type", connector.Type)
	return nil
}

// GetConnector retrieves a connector by ID.
// Returns ErrNotFound if the connector doesn't exist.
func (s *SQLiteStore) GetConnector(ctx context.Context, id string) (*Connector, error) {
	query := `
		SELECT id, owner_id, type, config, created_at, updated_at
		FROM connectors
		WHERE id = ?
	`

	var connector Connector
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&connector.ID,
		&connector.OwnerID,
		&connector.Type,
		&connector.Config,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying connector: %w", err)
	}

	connector.CreatedAt = parseTimeColumn(createdAt, "connectors.created_at")
	connector.UpdatedAt = parseTimeColumn(updatedAt, "connectors.updated_at")

	return &connector, nil
}

// PutObject stores an encrypted content blob for an internally hosted resource.
func (s *SQLiteStore) PutObject(ctx context.Context, obj *StoredObject) error {
	if obj.ID == "" {
		obj.ID = uuid.New().String()
	}
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO objects (id, content_type, sealed, created_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		obj.ID,
		nullString(obj.ContentType),
		obj.Sealed,
		obj.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("object %q already exists", obj.ID)
		}
		return fmt.Errorf("inserting object: %w", err)
	}
	return nil
}

// GetObject retrieves an encrypted content blob by ID.
// Returns ErrNotFound if the object doesn't exist.
func (s *SQLiteStore) GetObject(ctx context.Context, id string) (*StoredObject, error) {
	query := `SELECT id, content_type, sealed, created_at FROM objects WHERE id = ?`

	var obj StoredObject
	var contentType sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx, query, id).Scan(&obj.ID, &contentType, &obj.Sealed, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying object: %w", err)
	}

	obj.ContentType = contentType.String
	obj.CreatedAt = parseTimeColumn(createdAt, "objects.created_at")

	return &obj, nil
}
