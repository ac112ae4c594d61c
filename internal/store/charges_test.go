// ABOUTME: Tests for spending caps, charge aggregation and transactional settlement
// ABOUTME: Covers settled-only sums, time windows and receipt persistence

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpendingCapsUpsert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetSpendingCaps(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	caps := &SpendingCaps{UserID: "user-1", GlobalWeekly: 100, PerSiteDaily: 20, RawWeekly: 50, SummaryWeekly: 30}
	require.NoError(t, store.SetSpendingCaps(ctx, caps))

	got, err := store.GetSpendingCaps(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.GlobalWeekly)

	caps.GlobalWeekly = 200
	require.NoError(t, store.SetSpendingCaps(ctx, caps))

	got, err = store.GetSpendingCaps(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 200.0, got.GlobalWeekly)
}

func TestChargeSumsCountOnlySettled(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCharge(ctx, &ChargeRecord{
		UserID: "u", ResourceID: "r1", Mode: ModeRaw, Cost: 10, Status: ChargeStatusSettled,
	}))
	require.NoError(t, store.CreateCharge(ctx, &ChargeRecord{
		UserID: "u", ResourceID: "r1", Mode: ModeRaw, Cost: 99, Status: ChargeStatusRejected,
	}))
	require.NoError(t, store.CreateCharge(ctx, &ChargeRecord{
		UserID: "u", ResourceID: "r2", Mode: ModeSummary, Cost: 5, Status: ChargeStatusSettled,
	}))

	since := time.Now().Add(-time.Hour)

	total, err := store.SumSettledCharges(ctx, "u", since)
	require.NoError(t, err)
	assert.Equal(t, 15.0, total)

	byResource, err := store.SumSettledChargesByResource(ctx, "u", "r1", since)
	require.NoError(t, err)
	assert.Equal(t, 10.0, byResource)

	byMode, err := store.SumSettledChargesByMode(ctx, "u", ModeSummary, since)
	require.NoError(t, err)
	assert.Equal(t, 5.0, byMode)
}

func TestChargeSumsRespectWindow(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := &ChargeRecord{
		UserID: "u", ResourceID: "r1", Mode: ModeRaw, Cost: 40, Status: ChargeStatusSettled,
		CreatedAt: time.Now().UTC().Add(-8 * 24 * time.Hour),
	}
	require.NoError(t, store.CreateCharge(ctx, old))
	require.NoError(t, store.CreateCharge(ctx, &ChargeRecord{
		UserID: "u", ResourceID: "r1", Mode: ModeRaw, Cost: 7, Status: ChargeStatusSettled,
	}))

	weekAgo := time.Now().Add(-7 * 24 * time.Hour)
	total, err := store.SumSettledCharges(ctx, "u", weekAgo)
	require.NoError(t, err)
	assert.Equal(t, 7.0, total)
}

func TestChargeTimestampsNormalizedToUTC(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// A caller-supplied zoned timestamp must land in the same lexicographic
	// window as the UTC-formatted comparison bound.
	behind := time.FixedZone("behind", -12*3600)
	require.NoError(t, store.CreateCharge(ctx, &ChargeRecord{
		UserID: "u", ResourceID: "r1", Mode: ModeRaw, Cost: 7, Status: ChargeStatusSettled,
		CreatedAt: time.Now().In(behind),
	}))

	total, err := store.SumSettledCharges(ctx, "u", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 7.0, total)
}

func TestSettleChargeTransaction(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	charge := &ChargeRecord{
		UserID: "u", ResourceID: "r1", Mode: ModeRaw, Cost: 2.03, Status: ChargeStatusSettled,
	}
	entries := []*LedgerEntry{
		{WalletID: "provider:p1", Amount: 1.9285},
		{WalletID: "platform", Amount: 0.1015},
	}
	receipt := &Receipt{
		ID:        "rcpt-1",
		UserID:    "u",
		Payload:   []byte(`{"total":2.03}`),
		Signature: []byte("sig"),
	}

	require.NoError(t, store.SettleCharge(ctx, charge, entries, receipt))
	require.NotEmpty(t, charge.ID)

	got, err := store.GetReceipt(ctx, "rcpt-1")
	require.NoError(t, err)
	assert.Equal(t, charge.ID, got.ChargeID)
	assert.Equal(t, []byte(`{"total":2.03}`), got.Payload)

	total, err := store.SumSettledCharges(ctx, "u", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 2.03, total, 1e-9)
}

func TestObjectRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	obj := &StoredObject{ContentType: "text/markdown", Sealed: []byte{1, 2, 3, 4}}
	require.NoError(t, store.PutObject(ctx, obj))

	got, err := store.GetObject(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, obj.Sealed, got.Sealed)
	assert.Equal(t, "text/markdown", got.ContentType)

	_, err = store.GetObject(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConnectorRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conn := &Connector{OwnerID: "provider-1", Type: ConnectorAPIKey, Config: []byte("sealed-bytes")}
	require.NoError(t, store.CreateConnector(ctx, conn))

	got, err := store.GetConnector(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, ConnectorAPIKey, got.Type)
	assert.Equal(t, []byte("sealed-bytes"), got.Config)

	bad := &Connector{OwnerID: "provider-1", Type: "carrier_pigeon", Config: []byte("x")}
	assert.Error(t, store.CreateConnector(ctx, bad))
}
