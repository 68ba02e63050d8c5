package earnings

import (
	"context"
	"errors"
	"time"

	"hostlink-platform/internal/signaling"
)

var ErrInvalidRequest = errors.New("earnings: invalid request")

// Repository abstracts read access to the settlement data.
//
// Implementations query immutable sources: the transactions ledger and the
// host_stats projection the settlement path maintains.
type Repository interface {
	GetHostStats(ctx context.Context, hostID string) (signaling.HostStats, bool, error)
	SumEarnings(ctx context.Context, hostID string, from, to time.Time) (int64, error)
	ListTransactions(ctx context.Context, hostID string, from, to time.Time, limit int) ([]signaling.Transaction, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Summary aggregates a host's lifetime totals plus today- and week-to-date
// windows. Days roll over at UTC midnight; the week starts Monday.
func (s *Service) Summary(ctx context.Context, hostID string) (Summary, error) {
	if hostID == "" {
		return Summary{}, ErrInvalidRequest
	}

	out := Summary{HostID: hostID}

	stats, ok, err := s.repo.GetHostStats(ctx, hostID)
	if err != nil {
		return Summary{}, err
	}
	if ok {
		out.TotalEarningsMinor = stats.TotalEarningsMinor
		out.TotalCalls = stats.TotalCalls
		out.TotalMinutes = stats.TotalMinutes
	}

	now := s.clock().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := dayStart.AddDate(0, 0, -mondayOffset(dayStart.Weekday()))

	out.TodayEarningsMinor, err = s.repo.SumEarnings(ctx, hostID, dayStart, now)
	if err != nil {
		return Summary{}, err
	}
	out.WeekEarningsMinor, err = s.repo.SumEarnings(ctx, hostID, weekStart, now)
	if err != nil {
		return Summary{}, err
	}
	return out, nil
}

func (s *Service) Transactions(ctx context.Context, req TransactionsRequest) ([]signaling.Transaction, error) {
	if req.HostID == "" {
		return nil, ErrInvalidRequest
	}
	if !req.From.IsZero() && !req.To.IsZero() && !req.To.After(req.From) {
		return nil, ErrInvalidRequest
	}
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListTransactions(ctx, req.HostID, req.From, req.To, limit)
}

func mondayOffset(d time.Weekday) int {
	if d == time.Sunday {
		return 6
	}
	return int(d) - 1
}
