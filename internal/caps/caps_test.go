// ABOUTME: Tests for rolling-window spending cap evaluation
// ABOUTME: Exercises the global, per-resource and per-mode checks against settled spend

package caps

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercatae/mercat-gateway/internal/store"
)

func setupEnforcer(t *testing.T, defaults Defaults) (*Enforcer, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	enforcer, err := NewEnforcer(st, defaults, nil)
	require.NoError(t, err)
	return enforcer, st
}

func settle(t *testing.T, st *store.SQLiteStore, userID, resourceID, mode string, cost float64, age time.Duration) {
	t.Helper()
	err := st.CreateCharge(context.Background(), &store.ChargeRecord{
		UserID:     userID,
		ResourceID: resourceID,
		Mode:       mode,
		Cost:       cost,
		Status:     store.ChargeStatusSettled,
		CreatedAt:  time.Now().UTC().Add(-age),
	})
	require.NoError(t, err)
}

func TestEvaluate_GlobalWeeklyCap(t *testing.T) {
	enforcer, st := setupEnforcer(t, Defaults{GlobalWeekly: 100})
	ctx := context.Background()

	settle(t, st, "alice", "res-1", store.ModeRaw, 95, time.Hour)

	rejection, err := enforcer.Evaluate(ctx, "alice", "res-2", store.ModeRaw, 10)
	require.NoError(t, err)
	require.NotNil(t, rejection)
	assert.Equal(t, CodeGlobalWeekly, rejection.Code)
	assert.Equal(t, 100.0, rejection.Limit)
	assert.Equal(t, 95.0, rejection.Current)

	rejection, err = enforcer.Evaluate(ctx, "alice", "res-2", store.ModeRaw, 5)
	require.NoError(t, err)
	assert.Nil(t, rejection)
}

func TestEvaluate_OldSpendOutsideWindow(t *testing.T) {
	enforcer, st := setupEnforcer(t, Defaults{GlobalWeekly: 100})
	ctx := context.Background()

	// Eight days old: outside the trailing week.
	settle(t, st, "alice", "res-1", store.ModeRaw, 95, 8*24*time.Hour)

	rejection, err := enforcer.Evaluate(ctx, "alice", "res-2", store.ModeRaw, 10)
	require.NoError(t, err)
	assert.Nil(t, rejection)
}

func TestEvaluate_RejectedChargesDoNotCount(t *testing.T) {
	enforcer, st := setupEnforcer(t, Defaults{GlobalWeekly: 100})
	ctx := context.Background()

	err := st.CreateCharge(ctx, &store.ChargeRecord{
		UserID:     "alice",
		ResourceID: "res-1",
		Mode:       store.ModeRaw,
		Cost:       95,
		Status:     store.ChargeStatusRejected,
	})
	require.NoError(t, err)

	rejection, err := enforcer.Evaluate(ctx, "alice", "res-2", store.ModeRaw, 10)
	require.NoError(t, err)
	assert.Nil(t, rejection)
}

func TestEvaluate_PerSiteDailyCap(t *testing.T) {
	enforcer, st := setupEnforcer(t, Defaults{PerSiteDaily: 20})
	ctx := context.Background()

	settle(t, st, "alice", "res-1", store.ModeRaw, 18, time.Hour)
	// Spend on a different resource does not count against res-1.
	settle(t, st, "alice", "res-2", store.ModeRaw, 50, time.Hour)

	rejection, err := enforcer.Evaluate(ctx, "alice", "res-1", store.ModeRaw, 5)
	require.NoError(t, err)
	require.NotNil(t, rejection)
	assert.Equal(t, CodeSiteDaily, rejection.Code)
	assert.Equal(t, 18.0, rejection.Current)

	// Spend older than a day rolled out of the window.
	settle(t, st, "bob", "res-1", store.ModeRaw, 18, 25*time.Hour)
	rejection, err = enforcer.Evaluate(ctx, "bob", "res-1", store.ModeRaw, 5)
	require.NoError(t, err)
	assert.Nil(t, rejection)
}

func TestEvaluate_PerModeWeeklyCap(t *testing.T) {
	enforcer, st := setupEnforcer(t, Defaults{RawWeekly: 30, SummaryWeekly: 10})
	ctx := context.Background()

	settle(t, st, "alice", "res-1", store.ModeSummary, 9, time.Hour)
	settle(t, st, "alice", "res-1", store.ModeRaw, 25, time.Hour)

	rejection, err := enforcer.Evaluate(ctx, "alice", "res-1", store.ModeSummary, 2)
	require.NoError(t, err)
	require.NotNil(t, rejection)
	assert.Equal(t, CodeModeWeekly, rejection.Code)
	assert.Equal(t, 10.0, rejection.Limit)

	rejection, err = enforcer.Evaluate(ctx, "alice", "res-1", store.ModeRaw, 2)
	require.NoError(t, err)
	assert.Nil(t, rejection)
}

func TestEvaluate_ConfiguredCapsOverrideDefaults(t *testing.T) {
	enforcer, st := setupEnforcer(t, Defaults{GlobalWeekly: 100})
	ctx := context.Background()

	require.NoError(t, st.SetSpendingCaps(ctx, &store.SpendingCaps{
		UserID:       "alice",
		GlobalWeekly: 5,
	}))
	settle(t, st, "alice", "res-1", store.ModeRaw, 4, time.Hour)

	rejection, err := enforcer.Evaluate(ctx, "alice", "res-1", store.ModeRaw, 2)
	require.NoError(t, err)
	require.NotNil(t, rejection)
	assert.Equal(t, CodeGlobalWeekly, rejection.Code)
	assert.Equal(t, 5.0, rejection.Limit)

	// The default for bob still applies.
	rejection, err = enforcer.Evaluate(ctx, "bob", "res-1", store.ModeRaw, 2)
	require.NoError(t, err)
	assert.Nil(t, rejection)
}

func TestEvaluate_ZeroCapDisablesCheck(t *testing.T) {
	enforcer, st := setupEnforcer(t, Defaults{})
	ctx := context.Background()

	settle(t, st, "alice", "res-1", store.ModeRaw, 1000, time.Hour)

	rejection, err := enforcer.Evaluate(ctx, "alice", "res-1", store.ModeRaw, 1000)
	require.NoError(t, err)
	assert.Nil(t, rejection)
}

func TestLockUser_SerializesPerUser(t *testing.T) {
	enforcer, _ := setupEnforcer(t, Defaults{})

	release := enforcer.LockUser("alice")

	acquired := make(chan struct{})
	go func() {
		r := enforcer.LockUser("alice")
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	// A different user is not blocked.
	releaseBob := enforcer.LockUser("bob")
	releaseBob()

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired after release")
	}
}
