// ABOUTME: Spending-cap enforcement over rolling time windows
// ABOUTME: Evaluates global, per-resource and per-mode limits against settled spend

package caps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mercatae/mercat-gateway/internal/store"
)

const (
	weeklyWindow = 7 * 24 * time.Hour
	dailyWindow  = 24 * time.Hour
)

// Rejection codes identifying which limit blocked a charge.
const (
	CodeGlobalWeekly = "GLOBAL_WEEKLY_CAP_EXCEEDED"
	CodeSiteDaily    = "SITE_DAILY_CAP_EXCEEDED"
	CodeModeWeekly   = "MODE_WEEKLY_CAP_EXCEEDED"
)

// ChargeStore is the store subset the enforcer reads.
type ChargeStore interface {
	GetSpendingCaps(ctx context.Context, userID string) (*store.SpendingCaps, error)
	SumSettledCharges(ctx context.Context, userID string, since time.Time) (float64, error)
	SumSettledChargesByResource(ctx context.Context, userID, resourceID string, since time.Time) (float64, error)
	SumSettledChargesByMode(ctx context.Context, userID, mode string, since time.Time) (float64, error)
}

// Defaults are the platform-wide caps applied when a user has none configured.
// A zero or negative value disables that check.
type Defaults struct {
	GlobalWeekly  float64
	PerSiteDaily  float64
	RawWeekly     float64
	SummaryWeekly float64
}

// Rejection describes which cap blocked a proposed charge and where usage
// stood when it was evaluated.
type Rejection struct {
	Code     string  `json:"code"`
	Limit    float64 `json:"limit"`
	Current  float64 `json:"current"`
	Proposed float64 `json:"proposed"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: limit %.4f, current %.4f, proposed %.4f", r.Code, r.Limit, r.Current, r.Proposed)
}

// Enforcer evaluates spending caps for proposed charges. It also hands out
// per-user locks so callers can serialize the check-then-settle sequence
// within one process; without that gate two concurrent fetches can both pass
// the check before either settles.
type Enforcer struct {
	store    ChargeStore
	defaults Defaults
	logger   *slog.Logger

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// NewEnforcer creates a cap enforcer with the given platform defaults.
func NewEnforcer(st ChargeStore, defaults Defaults, logger *slog.Logger) (*Enforcer, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = slog.Default().With("component", "caps")
	}
	return &Enforcer{
		store:    st,
		defaults: defaults,
		logger:   logger,
		users:    make(map[string]*sync.Mutex),
	}, nil
}

// LockUser acquires the serialization gate for a user and returns its
// release function. Callers hold it across Evaluate and the settlement write.
func (e *Enforcer) LockUser(userID string) func() {
	e.mu.Lock()
	lock, ok := e.users[userID]
	if !ok {
		lock = &sync.Mutex{}
		e.users[userID] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Evaluate checks a proposed charge against the user's caps. It returns a
// non-nil Rejection for the first violated limit, or (nil, nil) when all
// checks pass. Only charges with status settled count toward usage.
func (e *Enforcer) Evaluate(ctx context.Context, userID, resourceID, mode string, cost float64) (*Rejection, error) {
	limits, err := e.userLimits(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	if limits.GlobalWeekly > 0 {
		current, err := e.store.SumSettledCharges(ctx, userID, now.Add(-weeklyWindow))
		if err != nil {
			return nil, fmt.Errorf("summing weekly spend: %w", err)
		}
		if current+cost > limits.GlobalWeekly {
			return e.reject(CodeGlobalWeekly, limits.GlobalWeekly, current, cost, userID), nil
		}
	}

	if limits.PerSiteDaily > 0 {
		current, err := e.store.SumSettledChargesByResource(ctx, userID, resourceID, now.Add(-dailyWindow))
		if err != nil {
			return nil, fmt.Errorf("summing daily resource spend: %w", err)
		}
		if current+cost > limits.PerSiteDaily {
			return e.reject(CodeSiteDaily, limits.PerSiteDaily, current, cost, userID), nil
		}
	}

	modeCap := limits.RawWeekly
	if mode == store.ModeSummary {
		modeCap = limits.SummaryWeekly
	}
	if modeCap > 0 {
		current, err := e.store.SumSettledChargesByMode(ctx, userID, mode, now.Add(-weeklyWindow))
		if err != nil {
			return nil, fmt.Errorf("summing weekly mode spend: %w", err)
		}
		if current+cost > modeCap {
			return e.reject(CodeModeWeekly, modeCap, current, cost, userID), nil
		}
	}

	return nil, nil
}

func (e *Enforcer) reject(code string, limit, current, cost float64, userID string) *Rejection {
	e.logger.Info("charge rejected by spending cap",
		"code", code,
		"user_id", userID,
		"limit", limit,
		"current", current,
		"proposed", cost,
	)
	return &Rejection{Code: code, Limit: limit, Current: current, Proposed: cost}
}

func (e *Enforcer) userLimits(ctx context.Context, userID string) (Defaults, error) {
	configured, err := e.store.GetSpendingCaps(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return e.defaults, nil
	}
	if err != nil {
		return Defaults{}, fmt.Errorf("loading spending caps: %w", err)
	}
	return Defaults{
		GlobalWeekly:  configured.GlobalWeekly,
		PerSiteDaily:  configured.PerSiteDaily,
		RawWeekly:     configured.RawWeekly,
		SummaryWeekly: configured.SummaryWeekly,
	}, nil
}
