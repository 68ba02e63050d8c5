package signaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hostlink-platform/internal/rtc"

	"github.com/google/uuid"
)

// Event types pushed over the realtime relay. The relay is best-effort:
// every transition announced here is also discoverable via the REST reads.
const (
	EventRequestCreated  = "call.request"
	EventRequestAccepted = "call.accepted"
	EventRequestRejected = "call.rejected"
	EventSessionEnded    = "call.ended"
)

// CallEvent is a notification hint for one principal.
type CallEvent struct {
	Type    string
	UserID  string
	Request *CallRequest
	Session *CallSession
}

// Notifier pushes events to connected clients. Implementations must be
// non-blocking and lossy-tolerant; delivery carries no correctness weight.
type Notifier interface {
	NotifyCallEvent(ctx context.Context, ev CallEvent)
}

// RateSource resolves a host's configured per-minute rate, when one exists.
type RateSource interface {
	EffectiveRate(ctx context.Context, hostID string, callType CallType) (int64, bool, error)
}

// SessionGate caps concurrent active sessions per host across instances.
// Advisory only: gate failures never block a call, the store's CAS rules
// remain the source of truth.
type SessionGate interface {
	Acquire(ctx context.Context, hostID string) (bool, error)
	Release(ctx context.Context, hostID string) error
}

// Service owns the call-request and call-session state machines.
//
// Invariants enforced here:
// - <=1 pending request per (customer, host): creation and acceptance expire
//   pending siblings before/after the transition.
// - Transitions are CAS at the store; racers get ErrAlreadyProcessed.
// - Settlement computes total = minutes * rate once, credits the host
//   exactly once, and is idempotent on repeat.
type Service struct {
	store    Store
	issuer   rtc.Issuer
	notifier Notifier
	rates    RateSource
	gate     SessionGate

	requestTTL    time.Duration
	credentialTTL time.Duration
	clock         func() time.Time
}

type ServiceConfig struct {
	RequestTTL    time.Duration
	CredentialTTL time.Duration
	Notifier      Notifier
	Rates         RateSource
	Gate          SessionGate
}

func NewService(store Store, issuer rtc.Issuer, cfg ServiceConfig) *Service {
	if cfg.RequestTTL <= 0 {
		cfg.RequestTTL = 5 * time.Minute
	}
	if cfg.CredentialTTL <= 0 {
		cfg.CredentialTTL = 24 * time.Hour
	}
	return &Service{
		store:         store,
		issuer:        issuer,
		notifier:      cfg.Notifier,
		rates:         cfg.Rates,
		gate:          cfg.Gate,
		requestTTL:    cfg.RequestTTL,
		credentialTTL: cfg.CredentialTTL,
		clock:         time.Now,
	}
}

/* ===================== CALL REQUESTS ===================== */

type CreateRequestInput struct {
	CustomerID string
	HostID     string
	CallType   CallType
	RateMinor  int64
	Message    string
}

func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (CallRequest, error) {
	if in.CustomerID == "" || in.HostID == "" {
		return CallRequest{}, fmt.Errorf("%w: customer_id and host_id required", ErrInvalidArgument)
	}
	if in.CustomerID == in.HostID {
		return CallRequest{}, fmt.Errorf("%w: customer and host must differ", ErrInvalidArgument)
	}
	if !ValidCallType(in.CallType) {
		return CallRequest{}, fmt.Errorf("%w: call_type must be voice or video", ErrInvalidArgument)
	}
	if in.RateMinor <= 0 {
		return CallRequest{}, fmt.Errorf("%w: price_per_minute_minor must be > 0", ErrInvalidArgument)
	}

	if s.rates != nil {
		rate, ok, err := s.rates.EffectiveRate(ctx, in.HostID, in.CallType)
		if err != nil {
			return CallRequest{}, err
		}
		if ok && rate != in.RateMinor {
			return CallRequest{}, fmt.Errorf("%w: price does not match host rate", ErrInvalidArgument)
		}
	}

	now := s.clock().UTC()

	// De-duplicate: a retrying client must never stack pending requests.
	// Older pending rows for the pair become expired before the insert.
	if _, err := s.store.ExpirePending(ctx, in.CustomerID, in.HostID, "", now); err != nil {
		return CallRequest{}, err
	}

	msg := in.Message
	if msg == "" {
		msg = "Call request"
	}

	req := CallRequest{
		ID:         uuid.NewString(),
		CustomerID: in.CustomerID,
		HostID:     in.HostID,
		CallType:   in.CallType,
		RateMinor:  in.RateMinor,
		Message:    msg,
		Status:     RequestStatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.requestTTL),
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return CallRequest{}, err
	}

	s.notify(ctx, CallEvent{Type: EventRequestCreated, UserID: req.HostID, Request: &req})
	return req, nil
}

// ListPending returns the host's ring queue, oldest first. Expired rows are
// excluded at read time regardless of sweep progress.
func (s *Service) ListPending(ctx context.Context, hostID string) ([]CallRequest, error) {
	if hostID == "" {
		return nil, fmt.Errorf("%w: host_id required", ErrInvalidArgument)
	}
	return s.store.ListPendingRequests(ctx, hostID, s.clock().UTC())
}

// Accept transitions a pending request to accepted, assigns the channel and
// issues the host's publisher credential.
//
// The accept is persisted before credential issuance: a token-service outage
// surfaces as rtc.ErrUnavailable alongside the accepted request, so the
// caller can distinguish "accepted, retry join" from "accept failed".
func (s *Service) Accept(ctx context.Context, requestID, hostID, channelName string) (CallRequest, rtc.Credential, error) {
	if requestID == "" || hostID == "" {
		return CallRequest{}, rtc.Credential{}, fmt.Errorf("%w: request_id and host_id required", ErrInvalidArgument)
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return CallRequest{}, rtc.Credential{}, err
	}
	if req.HostID != hostID {
		return CallRequest{}, rtc.Credential{}, ErrForbidden
	}

	now := s.clock().UTC()
	if channelName == "" {
		channelName = fmt.Sprintf("call_%s_%d", hostID, now.UnixMilli())
	}

	// A customer retry may have raced this acceptance; expire the other
	// pending requests for the pair so only one live pairing remains.
	if _, err := s.store.ExpirePending(ctx, req.CustomerID, req.HostID, requestID, now); err != nil {
		return CallRequest{}, rtc.Credential{}, err
	}

	accepted, err := s.store.AcceptRequest(ctx, requestID, channelName, now)
	if err != nil {
		return CallRequest{}, rtc.Credential{}, err
	}

	s.notify(ctx, CallEvent{Type: EventRequestAccepted, UserID: accepted.CustomerID, Request: &accepted})

	cred, err := s.issuer.Issue(ctx, accepted.ChannelName, hostID, rtc.RolePublisher, s.credentialTTL)
	if err != nil {
		return accepted, rtc.Credential{}, err
	}
	return accepted, cred, nil
}

func (s *Service) Reject(ctx context.Context, requestID, hostID, reason string) (CallRequest, error) {
	if requestID == "" || hostID == "" {
		return CallRequest{}, fmt.Errorf("%w: request_id and host_id required", ErrInvalidArgument)
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return CallRequest{}, err
	}
	if req.HostID != hostID {
		return CallRequest{}, ErrForbidden
	}

	if reason == "" {
		reason = "Host declined the call"
	}

	rejected, err := s.store.RejectRequest(ctx, requestID, reason, s.clock().UTC())
	if err != nil {
		return CallRequest{}, err
	}

	s.notify(ctx, CallEvent{Type: EventRequestRejected, UserID: rejected.CustomerID, Request: &rejected})
	return rejected, nil
}

// StatusResult is the tagged outcome of a status poll. Credential is set
// only when the (possibly substituted) request is accepted.
type StatusResult struct {
	Request    CallRequest
	Credential *rtc.Credential
}

// Status is the authoritative read path for clients that missed or distrust
// the push channel.
//
// Fallback rule: when the queried request is still pending but a newer
// request for the same pair has been accepted, the accepted sibling is
// returned instead. Only one live pairing can exist, so the sibling is the
// call the customer should join.
func (s *Service) Status(ctx context.Context, requestID, uid string) (StatusResult, error) {
	if requestID == "" {
		return StatusResult{}, fmt.Errorf("%w: request_id required", ErrInvalidArgument)
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return StatusResult{}, err
	}

	now := s.clock().UTC()

	if req.Status == RequestStatusPending {
		sibling, ok, err := s.store.LatestAcceptedRequest(ctx, req.CustomerID, req.HostID)
		if err != nil {
			return StatusResult{}, err
		}
		if ok {
			req = sibling
		} else if req.Expired(now) {
			// Read-time expiry; the sweep will persist it later.
			req.Status = RequestStatusExpired
		}
	}

	out := StatusResult{Request: req}
	if req.Status != RequestStatusAccepted {
		return out, nil
	}

	if uid == "" {
		uid = req.CustomerID
	}
	cred, err := s.issuer.Issue(ctx, req.ChannelName, uid, rtc.RoleSubscriber, s.credentialTTL)
	if err != nil {
		return out, err
	}
	out.Credential = &cred
	return out, nil
}

/* ===================== CALL SESSIONS ===================== */

type StartSessionInput struct {
	RequestID string

	// Direct-start fields, used only when RequestID is empty (legacy callers).
	CustomerID  string
	HostID      string
	ChannelName string
	CallType    CallType
	RateMinor   int64
}

func (s *Service) StartSession(ctx context.Context, in StartSessionInput) (CallSession, error) {
	now := s.clock().UTC()

	sess := CallSession{
		ID:        uuid.NewString(),
		Status:    SessionStatusActive,
		StartTime: now,
	}

	if in.RequestID != "" {
		req, err := s.store.GetRequest(ctx, in.RequestID)
		if err != nil {
			return CallSession{}, err
		}
		if req.Status != RequestStatusAccepted {
			return CallSession{}, fmt.Errorf("%w: request is %s, not accepted", ErrInvalidState, req.Status)
		}
		sess.RequestID = req.ID
		sess.CustomerID = req.CustomerID
		sess.HostID = req.HostID
		sess.ChannelName = req.ChannelName
		sess.CallType = req.CallType
		sess.RateMinor = req.RateMinor
	} else {
		if in.CustomerID == "" || in.HostID == "" || in.ChannelName == "" {
			return CallSession{}, fmt.Errorf("%w: customer_id, host_id and channel_name required", ErrInvalidArgument)
		}
		if !ValidCallType(in.CallType) {
			return CallSession{}, fmt.Errorf("%w: call_type must be voice or video", ErrInvalidArgument)
		}
		if in.RateMinor <= 0 {
			return CallSession{}, fmt.Errorf("%w: price_per_minute_minor must be > 0", ErrInvalidArgument)
		}
		sess.CustomerID = in.CustomerID
		sess.HostID = in.HostID
		sess.ChannelName = in.ChannelName
		sess.CallType = in.CallType
		sess.RateMinor = in.RateMinor
	}

	if s.gate != nil {
		ok, err := s.gate.Acquire(ctx, sess.HostID)
		if err == nil && !ok {
			return CallSession{}, ErrHostBusy
		}
		// Gate errors are ignored: the cap is advisory and must not block
		// calls when the coordination layer is down.
	}

	if err := s.store.CreateSession(ctx, sess); err != nil {
		if s.gate != nil {
			_ = s.gate.Release(ctx, sess.HostID)
		}
		return CallSession{}, err
	}
	return sess, nil
}

// EndSession settles a session: computes the total once, marks it completed
// and credits the host, all in one atomic store operation.
//
// Idempotency: ending an already-completed session is a no-op that returns
// the settled row. The credit path is guarded by the status CAS and can
// never run twice.
func (s *Service) EndSession(ctx context.Context, sessionID string, minutes int, rating int) (CallSession, error) {
	if sessionID == "" {
		return CallSession{}, fmt.Errorf("%w: session_id required", ErrInvalidArgument)
	}
	if minutes < 0 {
		return CallSession{}, fmt.Errorf("%w: duration must be >= 0", ErrInvalidArgument)
	}
	if rating != 0 && (rating < 1 || rating > 5) {
		return CallSession{}, fmt.Errorf("%w: rating must be 1-5", ErrInvalidArgument)
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return CallSession{}, err
	}
	switch sess.Status {
	case SessionStatusCompleted:
		return sess, nil
	case SessionStatusActive:
		// fall through to settle
	default:
		return CallSession{}, fmt.Errorf("%w: session is %s", ErrInvalidState, sess.Status)
	}

	totalMinor := int64(minutes) * sess.RateMinor
	now := s.clock().UTC()

	settled, err := s.store.SettleSession(ctx, sessionID, minutes, totalMinor, rating, now)
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			// Raced with another End; hand back whatever won.
			prior, getErr := s.store.GetSession(ctx, sessionID)
			if getErr == nil && prior.Status == SessionStatusCompleted {
				return prior, nil
			}
		}
		return CallSession{}, err
	}

	if s.gate != nil {
		_ = s.gate.Release(ctx, settled.HostID)
	}

	s.notify(ctx, CallEvent{Type: EventSessionEnded, UserID: settled.CustomerID, Session: &settled})
	s.notify(ctx, CallEvent{Type: EventSessionEnded, UserID: settled.HostID, Session: &settled})
	return settled, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (CallSession, error) {
	if sessionID == "" {
		return CallSession{}, fmt.Errorf("%w: session_id required", ErrInvalidArgument)
	}
	return s.store.GetSession(ctx, sessionID)
}

// CallHistory lists a user's sessions, newest first.
func (s *Service) CallHistory(ctx context.Context, userID string, limit int) ([]CallSession, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id required", ErrInvalidArgument)
	}
	return s.store.ListSessionsByUser(ctx, userID, limit)
}

// ExpireStale marks pending requests past their TTL as expired. Cleanup
// only; all read paths already filter by expires_at.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	return s.store.ExpireStale(ctx, s.clock().UTC())
}

func (s *Service) notify(ctx context.Context, ev CallEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyCallEvent(ctx, ev)
}

func settlementDescription(callType CallType, minutes int) string {
	return fmt.Sprintf("%s call (%d minutes)", callType, minutes)
}
