package signaling

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
// A single mutex stands in for the database's atomicity: every CAS method
// checks-and-writes under the lock, which models the conditional-UPDATE
// discipline of the Postgres store.
//
// NOTE: Not intended for production; state dies with the process.
type MemoryStore struct {
	mu           sync.Mutex
	requests     map[string]CallRequest
	sessions     map[string]CallSession
	transactions []Transaction
	stats        map[string]HostStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]CallRequest),
		sessions: make(map[string]CallSession),
		stats:    make(map[string]HostStats),
	}
}

func (m *MemoryStore) CreateRequest(ctx context.Context, r CallRequest) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (CallRequest, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return CallRequest{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) ListPendingRequests(ctx context.Context, hostID string, now time.Time) ([]CallRequest, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []CallRequest
	for _, r := range m.requests {
		if r.HostID != hostID || r.Status != RequestStatusPending {
			continue
		}
		if !r.ExpiresAt.After(now) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ExpirePending(ctx context.Context, customerID, hostID, exceptID string, now time.Time) (int64, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, r := range m.requests {
		if r.CustomerID != customerID || r.HostID != hostID {
			continue
		}
		if r.Status != RequestStatusPending || id == exceptID {
			continue
		}
		r.Status = RequestStatusExpired
		t := now
		r.RejectedAt = &t
		m.requests[id] = r
		n++
	}
	return n, nil
}

func (m *MemoryStore) AcceptRequest(ctx context.Context, id, channelName string, now time.Time) (CallRequest, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return CallRequest{}, ErrNotFound
	}
	if r.Status != RequestStatusPending {
		return CallRequest{}, ErrAlreadyProcessed
	}
	r.Status = RequestStatusAccepted
	r.ChannelName = channelName
	t := now
	r.AcceptedAt = &t
	m.requests[id] = r
	return r, nil
}

func (m *MemoryStore) RejectRequest(ctx context.Context, id, reason string, now time.Time) (CallRequest, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return CallRequest{}, ErrNotFound
	}
	if r.Status != RequestStatusPending {
		return CallRequest{}, ErrAlreadyProcessed
	}
	r.Status = RequestStatusRejected
	r.RejectReason = reason
	t := now
	r.RejectedAt = &t
	m.requests[id] = r
	return r, nil
}

func (m *MemoryStore) LatestAcceptedRequest(ctx context.Context, customerID, hostID string) (CallRequest, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	var best CallRequest
	found := false
	for _, r := range m.requests {
		if r.CustomerID != customerID || r.HostID != hostID || r.Status != RequestStatusAccepted {
			continue
		}
		if !found || acceptedAfter(r, best) {
			best = r
			found = true
		}
	}
	return best, found, nil
}

func acceptedAfter(a, b CallRequest) bool {
	switch {
	case a.AcceptedAt != nil && b.AcceptedAt != nil:
		return a.AcceptedAt.After(*b.AcceptedAt)
	case a.AcceptedAt != nil:
		return true
	case b.AcceptedAt != nil:
		return false
	default:
		return a.CreatedAt.After(b.CreatedAt)
	}
}

func (m *MemoryStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, r := range m.requests {
		if r.Status != RequestStatusPending || r.ExpiresAt.After(now) {
			continue
		}
		r.Status = RequestStatusExpired
		t := now
		r.RejectedAt = &t
		m.requests[id] = r
		n++
	}
	return n, nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, s CallSession) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (CallSession, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) ListSessionsByUser(ctx context.Context, userID string, limit int) ([]CallSession, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []CallSession
	for _, s := range m.sessions {
		if s.CustomerID != userID && s.HostID != userID {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SettleSession(ctx context.Context, id string, minutes int, totalMinor int64, rating int, now time.Time) (CallSession, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	if s.Status != SessionStatusActive {
		return CallSession{}, ErrAlreadyProcessed
	}

	s.Status = SessionStatusCompleted
	t := now
	s.EndTime = &t
	s.DurationMinutes = minutes
	s.TotalMinor = totalMinor
	s.Rating = rating
	m.sessions[id] = s

	m.transactions = append(m.transactions, Transaction{
		ID:          "txn-" + id,
		HostID:      s.HostID,
		Type:        TransactionTypeCall,
		ReferenceID: s.ID,
		AmountMinor: totalMinor,
		Description: settlementDescription(s.CallType, minutes),
		Status:      TransactionStatusCompleted,
		CreatedAt:   now,
	})

	st := m.stats[s.HostID]
	st.HostID = s.HostID
	st.TotalEarningsMinor += totalMinor
	st.TotalCalls++
	st.TotalMinutes += minutes
	st.UpdatedAt = now
	m.stats[s.HostID] = st

	return s, nil
}

// StatsSnapshot returns a copy of the projected stats for a host.
// Exposed for tests that assert settlement happened exactly once.
func (m *MemoryStore) StatsSnapshot(hostID string) HostStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats[hostID]
}

// TransactionsSnapshot returns a copy of all ledger entries for a host.
func (m *MemoryStore) TransactionsSnapshot(hostID string) []Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, t := range m.transactions {
		if t.HostID == hostID {
			out = append(out, t)
		}
	}
	return out
}
