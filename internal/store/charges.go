// ABOUTME: SQLite persistence for spending caps, charges, ledger entries and receipts
// ABOUTME: Settlement writes charge, ledger and receipt rows in a single transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetSpendingCaps retrieves the configured caps for a user.
// Returns ErrNotFound when the user has no caps row; callers apply defaults.
func (s *SQLiteStore) GetSpendingCaps(ctx context.Context, userID string) (*SpendingCaps, error) {
	query := `
		SELECT user_id, global_weekly, per_site_daily, raw_weekly, summary_weekly, updated_at
		FROM spending_caps
		WHERE user_id = ?
	`

	var caps SpendingCaps
	var updatedAt string

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&caps.UserID,
		&caps.GlobalWeekly,
		&caps.PerSiteDaily,
		&caps.RawWeekly,
		&caps.SummaryWeekly,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying spending caps: %w", err)
	}

	caps.UpdatedAt = parseTimeColumn(updatedAt, "spending_caps.updated_at")
	return &caps, nil
}

// SetSpendingCaps upserts a user's cap configuration.
func (s *SQLiteStore) SetSpendingCaps(ctx context.Context, caps *SpendingCaps) error {
	caps.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO spending_caps (user_id, global_weekly, per_site_daily, raw_weekly, summary_weekly, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			global_weekly = excluded.global_weekly,
			per_site_daily = excluded.per_site_daily,
			raw_weekly = excluded.raw_weekly,
			summary_weekly = excluded.summary_weekly,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		caps.UserID,
		caps.GlobalWeekly,
		caps.PerSiteDaily,
		caps.RawWeekly,
		caps.SummaryWeekly,
		caps.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting spending caps: %w", err)
	}

	s.logger.Debug("set spending caps", "user_id", caps.UserID)
	return nil
}

// CreateCharge inserts a charge record outside a settlement, typically one
// with status rejected for audit purposes.
func (s *SQLiteStore) CreateCharge(ctx context.Context, charge *ChargeRecord) error {
	if charge.ID == "" {
		charge.ID = uuid.New().String()
	}
	if charge.CreatedAt.IsZero() {
		charge.CreatedAt = time.Now().UTC()
	}

	if _, err := s.db.ExecContext(ctx, insertChargeQuery,
		charge.ID, charge.UserID, charge.ResourceID, charge.Mode, charge.Cost, charge.Status,
		charge.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting charge: %w", err)
	}
	return nil
}

const insertChargeQuery = `
	INSERT INTO charges (id, user_id, resource_id, mode, cost, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
`

// SumSettledCharges returns the total settled cost for a user since the given time.
func (s *SQLiteStore) SumSettledCharges(ctx context.Context, userID string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost), 0)
		FROM charges
		WHERE user_id = ? AND status = 'settled' AND created_at >= ?
	`
	var total float64
	if err := s.db.QueryRowContext(ctx, query, userID, since.UTC().Format(time.RFC3339)).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing settled charges: %w", err)
	}
	return total, nil
}

// SumSettledChargesByResource returns the total settled cost for a
// (user, resource) pair since the given time.
func (s *SQLiteStore) SumSettledChargesByResource(ctx context.Context, userID, resourceID string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost), 0)
		FROM charges
		WHERE user_id = ? AND resource_id = ? AND status = 'settled' AND created_at >= ?
	`
	var total float64
	if err := s.db.QueryRowContext(ctx, query, userID, resourceID, since.UTC().Format(time.RFC3339)).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing settled charges by resource: %w", err)
	}
	return total, nil
}

// SumSettledChargesByMode returns the total settled cost for a
// (user, access mode) pair since the given time.
func (s *SQLiteStore) SumSettledChargesByMode(ctx context.Context, userID, mode string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost), 0)
		FROM charges
		WHERE user_id = ? AND mode = ? AND status = 'settled' AND created_at >= ?
	`
	var total float64
	if err := s.db.QueryRowContext(ctx, query, userID, mode, since.UTC().Format(time.RFC3339)).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing settled charges by mode: %w", err)
	}
	return total, nil
}

// SettleCharge writes a settled charge, its ledger entries and the signed
// receipt in one transaction so a settlement is never half-recorded.
func (s *SQLiteStore) SettleCharge(ctx context.Context, charge *ChargeRecord, entries []*LedgerEntry, receipt *Receipt) error {
	now := time.Now().UTC()
	if charge.ID == "" {
		charge.ID = uuid.New().String()
	}
	if charge.CreatedAt.IsZero() {
		charge.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning settlement transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertChargeQuery,
		charge.ID, charge.UserID, charge.ResourceID, charge.Mode, charge.Cost, charge.Status,
		charge.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting charge: %w", err)
	}

	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		entry.ChargeID = charge.ID

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (id, charge_id, wallet_id, amount, created_at) VALUES (?, ?, ?, ?, ?)`,
			entry.ID, entry.ChargeID, entry.WalletID, entry.Amount, entry.CreatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("inserting ledger entry: %w", err)
		}
	}

	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = now
	}
	receipt.ChargeID = charge.ID
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO receipts (id, charge_id, user_id, payload, signature, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		receipt.ID, receipt.ChargeID, receipt.UserID, receipt.Payload, receipt.Signature,
		receipt.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting receipt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing settlement: %w", err)
	}

	s.logger.Debug("settled charge",
		"charge_id", charge.ID,
		"user_id", charge.UserID,
		"resource_id", charge.ResourceID,
		"cost", charge.Cost,
	)
	return nil
}

// GetReceipt retrieves a persisted receipt by ID.
// Returns ErrNotFound if the receipt doesn't exist.
func (s *SQLiteStore) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	query := `SELECT id, charge_id, user_id, payload, signature, created_at FROM receipts WHERE id = ?`

	var receipt Receipt
	var createdAt string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&receipt.ID,
		&receipt.ChargeID,
		&receipt.UserID,
		&receipt.Payload,
		&receipt.Signature,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying receipt: %w", err)
	}

	receipt.CreatedAt = parseTimeColumn(createdAt, "receipts.created_at")
	return &receipt, nil
}
