package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"hostlink-platform/internal/signaling"
)

var (
	ErrRateNotFound   = errors.New("host rate not found")
	ErrInvalidRateReq = errors.New("invalid rate request")
)

// RateRepository abstracts host-rate persistence.
type RateRepository interface {
	FindActiveRate(ctx context.Context, hostID string, callType signaling.CallType) (HostRate, bool, error)
	ListActiveRates(ctx context.Context, hostID string) ([]HostRate, error)
	// UpsertRate deactivates any active row for (host, call type) and stores
	// the new one in a single step.
	UpsertRate(ctx context.Context, rate HostRate) error
}

// Service manages host per-minute rates and answers rate lookups for the
// call-request flow.
type Service struct {
	repo  RateRepository
	clock func() time.Time
}

func NewService(repo RateRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

type SetRateInput struct {
	HostID             string
	CallType           signaling.CallType
	RatePerMinuteMinor int64
	Currency           string
}

func (s *Service) SetRate(ctx context.Context, in SetRateInput) (HostRate, error) {
	if in.HostID == "" {
		return HostRate{}, ErrInvalidRateReq
	}
	if !signaling.ValidCallType(in.CallType) {
		return HostRate{}, ErrInvalidRateReq
	}
	if in.RatePerMinuteMinor <= 0 {
		return HostRate{}, ErrInvalidRateReq
	}
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}

	now := s.clock().UTC()
	rate := HostRate{
		ID:                 uuid.NewString(),
		HostID:             in.HostID,
		CallType:           in.CallType,
		Currency:           in.Currency,
		RatePerMinuteMinor: in.RatePerMinuteMinor,
		Status:             RateStatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.UpsertRate(ctx, rate); err != nil {
		return HostRate{}, err
	}
	return rate, nil
}

func (s *Service) GetRate(ctx context.Context, hostID string, callType signaling.CallType) (HostRate, error) {
	if hostID == "" || !signaling.ValidCallType(callType) {
		return HostRate{}, ErrInvalidRateReq
	}
	rate, ok, err := s.repo.FindActiveRate(ctx, hostID, callType)
	if err != nil {
		return HostRate{}, err
	}
	if !ok {
		return HostRate{}, ErrRateNotFound
	}
	return rate, nil
}

func (s *Service) ListRates(ctx context.Context, hostID string) ([]HostRate, error) {
	if hostID == "" {
		return nil, ErrInvalidRateReq
	}
	return s.repo.ListActiveRates(ctx, hostID)
}

// EffectiveRate satisfies the call-request flow's rate lookup. A host with
// no configured rate returns ok=false and the quoted price stands.
func (s *Service) EffectiveRate(ctx context.Context, hostID string, callType signaling.CallType) (int64, bool, error) {
	rate, ok, err := s.repo.FindActiveRate(ctx, hostID, callType)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	return rate.RatePerMinuteMinor, true, nil
}
