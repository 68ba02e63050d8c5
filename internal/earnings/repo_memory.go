package earnings

import (
	"context"
	"sort"
	"time"

	"hostlink-platform/internal/signaling"
)

// MemoryRepo serves earnings reads from in-memory rows. Useful for tests.
type MemoryRepo struct {
	Stats        map[string]signaling.HostStats
	Transactions []signaling.Transaction
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{Stats: make(map[string]signaling.HostStats)}
}

func (r *MemoryRepo) GetHostStats(ctx context.Context, hostID string) (signaling.HostStats, bool, error) {
	_ = ctx
	st, ok := r.Stats[hostID]
	return st, ok, nil
}

func (r *MemoryRepo) SumEarnings(ctx context.Context, hostID string, from, to time.Time) (int64, error) {
	_ = ctx
	var sum int64
	for _, t := range r.Transactions {
		if t.HostID != hostID || t.Status != signaling.TransactionStatusCompleted {
			continue
		}
		if t.CreatedAt.Before(from) || t.CreatedAt.After(to) {
			continue
		}
		sum += t.AmountMinor
	}
	return sum, nil
}

func (r *MemoryRepo) ListTransactions(ctx context.Context, hostID string, from, to time.Time, limit int) ([]signaling.Transaction, error) {
	_ = ctx
	var out []signaling.Transaction
	for _, t := range r.Transactions {
		if t.HostID != hostID {
			continue
		}
		if !from.IsZero() && t.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && t.CreatedAt.After(to) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
