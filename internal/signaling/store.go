package signaling

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	// ErrAlreadyProcessed is the CAS-miss result: the row exists but its
	// status no longer matches the expected precondition. Callers should
	// re-fetch rather than retry blindly.
	ErrAlreadyProcessed = errors.New("already processed")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidState     = errors.New("invalid state")
	ErrHostBusy         = errors.New("host busy")
)

// Store is the persistence boundary for the signaling state machines.
//
// Concurrency contract: AcceptRequest, RejectRequest and SettleSession are
// compare-and-swap operations conditioned on the current status in a single
// atomic statement. A losing racer gets ErrAlreadyProcessed, never partial
// state. All state lives in the store so multiple service instances behave
// consistently without distributed locks.
type Store interface {
	CreateRequest(ctx context.Context, r CallRequest) error
	GetRequest(ctx context.Context, id string) (CallRequest, error)

	// ListPendingRequests returns pending requests for a host, oldest first.
	// Rows past expires_at are filtered here, at read time, so correctness
	// never depends on the sweep.
	ListPendingRequests(ctx context.Context, hostID string, now time.Time) ([]CallRequest, error)

	// ExpirePending marks pending requests for the (customer, host) pair as
	// expired, skipping exceptID when non-empty. Returns rows affected.
	ExpirePending(ctx context.Context, customerID, hostID, exceptID string, now time.Time) (int64, error)

	// AcceptRequest transitions pending -> accepted and assigns the channel.
	AcceptRequest(ctx context.Context, id, channelName string, now time.Time) (CallRequest, error)

	// RejectRequest transitions pending -> rejected with a stored reason.
	RejectRequest(ctx context.Context, id, reason string, now time.Time) (CallRequest, error)

	// LatestAcceptedRequest finds the most recently accepted request for the
	// pair, used by the status-poll fallback.
	LatestAcceptedRequest(ctx context.Context, customerID, hostID string) (CallRequest, bool, error)

	// ExpireStale is the background sweep over all pending rows past TTL.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)

	CreateSession(ctx context.Context, s CallSession) error
	GetSession(ctx context.Context, id string) (CallSession, error)
	ListSessionsByUser(ctx context.Context, userID string, limit int) ([]CallSession, error)

	// SettleSession transitions active -> completed, writes the totals, and
	// in the same atomic unit appends the host's Transaction and increments
	// HostStats. It must be impossible to credit a session twice.
	SettleSession(ctx context.Context, id string, minutes int, totalMinor int64, rating int, now time.Time) (CallSession, error)
}
