// Package quota is the quota ledger (C2): an atomic monthly counter
// shared by every gateway replica through the KV store adapter. It never
// uses a process-local lock as its safety net — other replicas exist, so
// the compare-and-set retry loop against the store is the only thing
// guaranteeing the ceiling holds globally.
package quota

import (
	"context"
	"time"

	"github.com/hellomira/aviationstack-gateway/internal/gatewayerr"
	"github.com/hellomira/aviationstack-gateway/internal/store"
)

// maxCASAttempts bounds the retry loop against contention. Coalescing
// upstream of the ledger should remove most duplicate writes, so this is
// a safety backstop rather than a normal code path.
const maxCASAttempts = 10

// LedgerStore is the subset of the KV store adapter the ledger needs.
type LedgerStore interface {
	QuotaLoad(ctx context.Context) (*store.QuotaDoc, error)
	QuotaCompareAndSwap(ctx context.Context, prev *store.QuotaDoc, next store.QuotaDoc) (bool, error)
}

// Snapshot is the read-only view of ledger state exposed to /health,
// /stats, and /usage.
type Snapshot struct {
	Month     string
	Used      int64
	Limit     int64
	Remaining int64
	ResetDate time.Time
}

// Percentage returns the fraction of the ceiling used, as a percent with
// one decimal place.
func (s Snapshot) Percentage() float64 {
	if s.Limit == 0 {
		return 0
	}
	pct := float64(s.Used) / float64(s.Limit) * 100
	return float64(int(pct*10+0.5)) / 10
}

// Ledger enforces the monthly call ceiling.
type Ledger struct {
	store   LedgerStore
	ceiling int64
	now     func() time.Time
}

// New builds a Ledger backed by st, capped at ceiling calls per calendar
// month (UTC).
func New(st LedgerStore, ceiling int64) *Ledger {
	return &Ledger{store: st, ceiling: ceiling, now: time.Now}
}

func monthTag(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func nextMonthUTC(t time.Time) time.Time {
	u := t.UTC()
	y, m := u.Year(), u.Month()
	if m == time.December {
		return time.Date(y+1, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
}

// Reserve attempts to admit one more upstream call this month. It
// returns a *gatewayerr.Error with Kind QuotaExceeded if the ceiling has
// been reached, or Kind StoreUnavailable on a persistent store failure.
func (l *Ledger) Reserve(ctx context.Context) (Snapshot, error) {
	currentMonth := monthTag(l.now())

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		prev, err := l.store.QuotaLoad(ctx)
		if err != nil {
			return Snapshot{}, err
		}

		var effectiveCount int64
		if prev != nil && prev.Month == currentMonth {
			effectiveCount = prev.Count
		}

		if effectiveCount >= l.ceiling {
			return l.snapshot(currentMonth, effectiveCount), gatewayerr.New(gatewayerr.QuotaExceeded,
				"monthly aviationstack call budget exhausted")
		}

		next := store.QuotaDoc{
			Month:     currentMonth,
			Count:     effectiveCount + 1,
			MaxCalls:  l.ceiling,
			UpdatedAt: l.now(),
		}

		ok, err := l.store.QuotaCompareAndSwap(ctx, prev, next)
		if err != nil {
			return Snapshot{}, err
		}
		if ok {
			return l.snapshot(currentMonth, next.Count), nil
		}
		// Lost the race to another writer (same or different replica);
		// reload the latest document and retry.
	}

	return Snapshot{}, gatewayerr.New(gatewayerr.StoreUnavailable, "quota ledger contention exceeded retry budget")
}

// Usage returns the current snapshot without mutating the ledger.
func (l *Ledger) Usage(ctx context.Context) (Snapshot, error) {
	currentMonth := monthTag(l.now())

	doc, err := l.store.QuotaLoad(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	var used int64
	if doc != nil && doc.Month == currentMonth {
		used = doc.Count
	}
	return l.snapshot(currentMonth, used), nil
}

func (l *Ledger) snapshot(month string, used int64) Snapshot {
	remaining := l.ceiling - used
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		Month:     month,
		Used:      used,
		Limit:     l.ceiling,
		Remaining: remaining,
		ResetDate: nextMonthUTC(l.now()),
	}
}
