// ABOUTME: Tests for settlement arithmetic, receipt signing and tamper detection
// ABOUTME: Verifies the documented cost and fee-split examples end to end

package settle

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercatae/mercat-gateway/internal/store"
)

func TestCost(t *testing.T) {
	tests := []struct {
		name     string
		flat     float64
		perKB    float64
		bytes    int64
		expected float64
	}{
		{"flat plus per-kb, partial kb rounds up", 2, 0.01, 2500, 2.03},
		{"flat only", 5, 0, 100000, 5},
		{"per-kb only, exact boundary", 0, 0.5, 2048, 1.0},
		{"per-kb only, one byte counts as a full kb", 0, 0.5, 1, 0.5},
		{"zero bytes bills flat only", 2, 0.01, 0, 2},
		{"free resource", 0, 0, 5000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resource := &store.Resource{PriceFlat: tt.flat, PricePerKB: tt.perKB}
			assert.InDelta(t, tt.expected, Cost(resource, tt.bytes), 1e-9)
		})
	}
}

func TestQuote(t *testing.T) {
	assert.InDelta(t, 2.01, Quote(&store.Resource{PriceFlat: 2, PricePerKB: 0.01}), 1e-9)
	assert.InDelta(t, 5.0, Quote(&store.Resource{PriceFlat: 5}), 1e-9)
}

func TestSplit(t *testing.T) {
	platform, provider := Split(2.03, 500)
	assert.InDelta(t, 0.1015, platform, 1e-9)
	assert.InDelta(t, 1.9285, provider, 1e-9)
	// Shares reconstruct the total.
	assert.InDelta(t, 2.03, platform+provider, 1e-12)

	platform, provider = Split(10, 0)
	assert.Zero(t, platform)
	assert.Equal(t, 10.0, provider)

	platform, provider = Split(10, 10000)
	assert.Equal(t, 10.0, platform)
	assert.Zero(t, provider)
}

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := NewSigner(priv)
	require.NoError(t, err)
	return signer
}

func setupSettler(t *testing.T, feeBps int64) (*Settler, *Signer, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	signer := newTestSigner(t)
	settler, err := NewSettler(st, signer, feeBps, nil)
	require.NoError(t, err)
	return settler, signer, st
}

func TestSettle_PersistsChargeAndReceipt(t *testing.T) {
	settler, signer, st := setupSettler(t, 500)
	ctx := context.Background()

	resource := &store.Resource{
		ProviderID: "provider-1",
		Title:      "Quarterly report",
		PriceFlat:  2,
		PricePerKB: 0.01,
		Modes:      []string{store.ModeRaw, store.ModeSummary},
	}
	require.NoError(t, st.CreateResource(ctx, resource))

	signed, err := settler.Settle(ctx, &Request{
		Resource:      resource,
		UserID:        "alice",
		AgentID:       "agent-7",
		ModeRequested: store.ModeRaw,
		ModeServed:    store.ModeRaw,
		Bytes:         2500,
	})
	require.NoError(t, err)

	doc := signed.Document
	// The returned pair verifies on its own, without touching the store.
	require.NoError(t, VerifySignature(signer.Public(), signed.Payload, signed.Signature))

	assert.InDelta(t, 2.03, doc.TotalPaid, 1e-9)
	assert.InDelta(t, 0.1015, doc.PlatformShare, 1e-9)
	assert.InDelta(t, 1.9285, doc.ProviderShare, 1e-9)
	assert.Equal(t, int64(2500), doc.BytesBilled)

	// The charge now counts toward settled spend.
	total, err := st.SumSettledCharges(ctx, "alice", doc.IssuedAt.Add(-1))
	require.NoError(t, err)
	assert.InDelta(t, 2.03, total, 1e-9)

	// The persisted receipt verifies against the platform public key.
	receipt, err := st.GetReceipt(ctx, doc.ReceiptID)
	require.NoError(t, err)
	decoded, err := VerifyReceipt(signer.Public(), receipt)
	require.NoError(t, err)
	assert.Equal(t, doc.ReceiptID, decoded.ReceiptID)
	assert.Equal(t, "provider-1", decoded.ProviderID)
}

func TestVerifyReceipt_TamperDetection(t *testing.T) {
	settler, signer, st := setupSettler(t, 500)
	ctx := context.Background()

	resource := &store.Resource{
		ProviderID: "provider-1",
		Title:      "doc",
		PriceFlat:  1,
		Modes:      []string{store.ModeRaw},
	}
	require.NoError(t, st.CreateResource(ctx, resource))

	signed, err := settler.Settle(ctx, &Request{
		Resource:      resource,
		UserID:        "alice",
		ModeRequested: store.ModeRaw,
		ModeServed:    store.ModeRaw,
		Bytes:         10,
	})
	require.NoError(t, err)

	receipt, err := st.GetReceipt(ctx, signed.Document.ReceiptID)
	require.NoError(t, err)

	// Every single-byte mutation of the payload must break verification.
	for i := range receipt.Payload {
		tampered := &store.Receipt{
			Payload:   append([]byte(nil), receipt.Payload...),
			Signature: receipt.Signature,
		}
		tampered.Payload[i] ^= 0x01
		_, err := VerifyReceipt(signer.Public(), tampered)
		require.ErrorIs(t, err, ErrBadSignature, "mutation at byte %d went undetected", i)
	}

	// The untouched receipt still verifies.
	_, err = VerifyReceipt(signer.Public(), receipt)
	require.NoError(t, err)

	// A different platform key rejects it.
	otherSigner := newTestSigner(t)
	_, err = VerifyReceipt(otherSigner.Public(), receipt)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestNewSettler_FeeBounds(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	signer := newTestSigner(t)

	_, err = NewSettler(st, signer, -1, nil)
	assert.Error(t, err)
	_, err = NewSettler(st, signer, 10001, nil)
	assert.Error(t, err)
}

func TestSignerFingerprint(t *testing.T) {
	signer := newTestSigner(t)
	fp, err := signer.Fingerprint()
	require.NoError(t, err)
	assert.Len(t, fp, 64)
}
