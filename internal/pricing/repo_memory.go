package pricing

import (
	"context"
	"sync"

	"hostlink-platform/internal/signaling"
)

// MemoryRepo is a simple in-memory repository useful for tests and early
// development.
type MemoryRepo struct {
	mu    sync.Mutex
	rates []HostRate
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

func (r *MemoryRepo) FindActiveRate(ctx context.Context, hostID string, callType signaling.CallType) (HostRate, bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rate := range r.rates {
		if rate.HostID == hostID && rate.CallType == callType && rate.Status == RateStatusActive {
			return rate, true, nil
		}
	}
	return HostRate{}, false, nil
}

func (r *MemoryRepo) ListActiveRates(ctx context.Context, hostID string) ([]HostRate, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []HostRate
	for _, rate := range r.rates {
		if rate.HostID == hostID && rate.Status == RateStatusActive {
			out = append(out, rate)
		}
	}
	return out, nil
}

func (r *MemoryRepo) UpsertRate(ctx context.Context, rate HostRate) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.rates {
		if r.rates[i].HostID == rate.HostID && r.rates[i].CallType == rate.CallType && r.rates[i].Status == RateStatusActive {
			r.rates[i].Status = RateStatusInactive
		}
	}
	r.rates = append(r.rates, rate)
	return nil
}
