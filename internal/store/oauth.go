// ABOUTME: SQLite persistence for OAuth clients, authorization codes and refresh tokens
// ABOUTME: Code consumption is a single conditional update to guarantee exactly-once exchange

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateClient registers a new OAuth client.
func (s *SQLiteStore) CreateClient(ctx context.Context, client *OAuthClient) error {
	if client.ID == "" {
		client.ID = uuid.New().String()
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO oauth_clients (id, name, redirect_uris, auth_method, secret_hash, scope, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		client.ID,
		client.Name,
		joinList(client.RedirectURIs),
		client.AuthMethod,
		nullString(client.SecretHash),
		client.Scope,
		client.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("client %q already exists", client.ID)
		}
		return fmt.Errorf("inserting client: %w", err)
	}

	s.logger.Debug("created oauth client", "id", client.ID, "name", client.Name)
	return nil
}

// GetClient retrieves a registered client by ID.
// Returns ErrNotFound if the client doesn't exist.
func (s *SQLiteStore) GetClient(ctx context.Context, id string) (*OAuthClient, error) {
	query := `
		SELECT id, name, redirect_uris, auth_method, secret_hash, scope, created_at
		FROM oauth_clients
		WHERE id = ?
	`

	var client OAuthClient
	var uris, createdAt string
	var secretHash sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&client.ID,
		&client.Name,
		&uris,
		&client.AuthMethod,
		&secretHash,
		&client.Scope,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying client: %w", err)
	}

	client.RedirectURIs = splitList(uris)
	client.SecretHash = secretHash.String
	client.CreatedAt = parseTimeColumn(createdAt, "oauth_clients.created_at")

	return &client, nil
}

// ListClients returns all registered OAuth clients ordered by creation time.
func (s *SQLiteStore) ListClients(ctx context.Context) ([]*OAuthClient, error) {
	query := `
		SELECT id, name, redirect_uris, auth_method, secret_hash, scope, created_at
		FROM oauth_clients
		ORDER BY created_at
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying clients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var clients []*OAuthClient
	for rows.Next() {
		var client OAuthClient
		var uris, createdAt string
		var secretHash sql.NullString

		if err := rows.Scan(&client.ID, &client.Name, &uris, &client.AuthMethod, &secretHash, &client.Scope, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning client row: %w", err)
		}
		client.RedirectURIs = splitList(uris)
		client.SecretHash = secretHash.String
		client.CreatedAt = parseTimeColumn(createdAt, "oauth_clients.created_at")
		clients = append(clients, &client)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating client rows: %w", err)
	}
	return clients, nil
}

// CreateAuthorizationCode persists a new authorization code.
func (s *SQLiteStore) CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	if code.ID == "" {
		code.ID = uuid.New().String()
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO authorization_codes (
			id, code, client_id, user_id, redirect_uri,
			code_challenge, challenge_method, resource, scope, agent_id,
			expires_at, consumed, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		code.ID,
		code.Code,
		code.ClientID,
		code.UserID,
		code.RedirectURI,
		code.CodeChallenge,
		code.ChallengeMethod,
		nullString(code.Resource),
		nullString(code.Scope),
		nullString(code.AgentID),
		code.ExpiresAt.UTC().Format(time.RFC3339),
		code.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting authorization code: %w", err)
	}

	s.logger.Debug("created authorization code", "id", code.ID, "client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode looks up an authorization code by its code value.
// Returns ErrNotFound if no such code exists.
func (s *SQLiteStore) GetAuthorizationCode(ctx context.Context, codeValue string) (*AuthorizationCode, error) {
	query := `
		SELECT id, code, client_id, user_id, redirect_uri,
		       code_challenge, challenge_method, resource, scope, agent_id,
		       expires_at, consumed, created_at
		FROM authorization_codes
		WHERE code = ?
	`

	var code AuthorizationCode
	var resource, scope, agentID sql.NullString
	var expiresAt, createdAt string
	var consumed int

	err := s.db.QueryRowContext(ctx, query, codeValue).Scan(
		&code.ID,
		&code.Code,
		&code.ClientID,
		&code.UserID,
		&code.RedirectURI,
		&code.CodeChallenge,
		&code.ChallengeMethod,
		&resource,
		&scope,
		&agentID,
		&expiresAt,
		&consumed,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying authorization code: %w", err)
	}

	code.Resource = resource.String
	code.Scope = scope.String
	code.AgentID = agentID.String
	code.Consumed = consumed != 0
	code.ExpiresAt = parseTimeColumn(expiresAt, "authorization_codes.expires_at")
	code.CreatedAt = parseTimeColumn(createdAt, "authorization_codes.created_at")

	return &code, nil
}

// ConsumeAuthorizationCode marks a code as consumed. The update is guarded on
// the consumed flag so that exactly one concurrent exchange can win; losers
// get ErrCodeConsumed.
func (s *SQLiteStore) ConsumeAuthorizationCode(ctx context.Context, codeValue string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE authorization_codes SET consumed = 1 WHERE code = ? AND consumed = 0`,
		codeValue,
	)
	if err != nil {
		return fmt.Errorf("consuming authorization code: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Either the code never existed or it was already consumed
		if _, err := s.GetAuthorizationCode(ctx, codeValue); err != nil {
			return err
		}
		return ErrCodeConsumed
	}
	return nil
}

// CreateRefreshToken persists a new refresh token record (hash only).
func (s *SQLiteStore) CreateRefreshToken(ctx context.Context, token *RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	var rotatedFrom sql.NullString
	if token.RotatedFrom != nil {
		rotatedFrom = sql.NullString{String: *token.RotatedFrom, Valid: true}
	}

	query := `
		INSERT INTO refresh_tokens (
			id, token_hash, client_id, user_id, scope, resource, agent_id,
			expires_at, revoked, rotated_from, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		token.ID,
		token.TokenHash,
		token.ClientID,
		token.UserID,
		nullString(token.Scope),
		nullString(token.Resource),
		nullString(token.AgentID),
		token.ExpiresAt.UTC().Format(time.RFC3339),
		rotatedFrom,
		token.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("refresh token hash already exists")
		}
		return fmt.Errorf("inserting refresh token: %w", err)
	}

	s.logger.Debug("created refresh token", "id", token.ID, "user_id", token.UserID)
	return nil
}

// GetRefreshTokenByHash looks up a refresh token by the hash of its value.
// Returns ErrNotFound if no such token exists.
func (s *SQLiteStore) GetRefreshTokenByHash(ctx context.Context, hash string) (*RefreshToken, error) {
	query := `
		SELECT id, token_hash, client_id, user_id, scope, resource, agent_id,
		       expires_at, revoked, rotated_from, created_at
		FROM refresh_tokens
		WHERE token_hash = ?
	`

	var token RefreshToken
	var scope, resource, agentID, rotatedFrom sql.NullString
	var expiresAt, createdAt string
	var revoked int

	err := s.db.QueryRowContext(ctx, query, hash).Scan(
		&token.ID,
		&token.TokenHash,
		&token.ClientID,
		&token.UserID,
		&scope,
		&resource,
		&agentID,
		&expiresAt,
		&revoked,
		&rotatedFrom,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying refresh token: %w", err)
	}

	token.Scope = scope.String
	token.Resource = resource.String
	token.AgentID = agentID.String
	if rotatedFrom.Valid {
		token.RotatedFrom = &rotatedFrom.String
	}
	token.Revoked = revoked != 0
	token.ExpiresAt = parseTimeColumn(expiresAt, "refresh_tokens.expires_at")
	token.CreatedAt = parseTimeColumn(createdAt, "refresh_tokens.created_at")

	return &token, nil
}

// RevokeRefreshToken marks a single refresh token as revoked.
// Returns ErrNotFound if the token doesn't exist.
func (s *SQLiteStore) RevokeRefreshToken(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoking refresh token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeRefreshChain revokes the given token plus every ancestor and
// descendant in its rotation chain. Used when a rotated token is replayed,
// which indicates the chain may be stolen.
func (s *SQLiteStore) RevokeRefreshChain(ctx context.Context, id string) error {
	query := `
		WITH RECURSIVE descendants(id) AS (
			SELECT id FROM refresh_tokens WHERE id = ?
			UNION
			SELECT rt.id FROM refresh_tokens rt
			JOIN descendants d ON rt.rotated_from = d.id
		),
		ancestors(id) AS (
			SELECT rotated_from FROM refresh_tokens WHERE id = ? AND rotated_from IS NOT NULL
			UNION
			SELECT rt.rotated_from FROM refresh_tokens rt
			JOIN ancestors a ON rt.id = a.id
			WHERE rt.rotated_from IS NOT NULL
		)
		UPDATE refresh_tokens SET revoked = 1
		WHERE id IN (SELECT id FROM descendants UNION SELECT id FROM ancestors)
	`

	if _, err := s.db.ExecContext(ctx, query, id, id); err != nil {
		return fmt.Errorf("revoking refresh chain: %w", err)
	}

	s.logger.Warn("revoked refresh token chain", "token_id", id)
	return nil
}
