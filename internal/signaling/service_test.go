package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hostlink-platform/internal/rtc"
)

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	svc := NewService(store, rtc.NewStaticIssuer("app-test", "key"), ServiceConfig{
		RequestTTL: 5 * time.Minute,
	})
	return svc
}

type failingIssuer struct{}

func (failingIssuer) Issue(ctx context.Context, channel, uid string, role rtc.Role, ttl time.Duration) (rtc.Credential, error) {
	return rtc.Credential{}, rtc.ErrUnavailable
}

func TestCreateRequest_Validation(t *testing.T) {
	svc := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	cases := []CreateRequestInput{
		{CustomerID: "", HostID: "h", CallType: CallTypeVoice, RateMinor: 100},
		{CustomerID: "c", HostID: "", CallType: CallTypeVoice, RateMinor: 100},
		{CustomerID: "c", HostID: "c", CallType: CallTypeVoice, RateMinor: 100},
		{CustomerID: "c", HostID: "h", CallType: CallType("fax"), RateMinor: 100},
		{CustomerID: "c", HostID: "h", CallType: CallTypeVoice, RateMinor: 0},
		{CustomerID: "c", HostID: "h", CallType: CallTypeVoice, RateMinor: -5},
	}
	for i, in := range cases {
		if _, err := svc.CreateRequest(ctx, in); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("case %d: expected ErrInvalidArgument, got %v", i, err)
		}
	}
}

func TestCreateRequest_ExpiresOlderPending(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	r1, err := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice, RateMinor: 1000})
	if err != nil {
		t.Fatalf("create r1: %v", err)
	}
	r2, err := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice, RateMinor: 1000})
	if err != nil {
		t.Fatalf("create r2: %v", err)
	}

	got1, _ := store.GetRequest(ctx, r1.ID)
	got2, _ := store.GetRequest(ctx, r2.ID)
	if got1.Status != RequestStatusExpired {
		t.Fatalf("expected r1 expired, got %s", got1.Status)
	}
	if got2.Status != RequestStatusPending {
		t.Fatalf("expected r2 pending, got %s", got2.Status)
	}

	// A different pair is untouched.
	r3, err := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c2", HostID: "h1", CallType: CallTypeVideo, RateMinor: 2000})
	if err != nil {
		t.Fatalf("create r3: %v", err)
	}
	got2, _ = store.GetRequest(ctx, r2.ID)
	if got2.Status != RequestStatusPending {
		t.Fatalf("expected r2 still pending after unrelated create, got %s", got2.Status)
	}
	_ = r3
}

func TestListPending_ExcludesExpiredWithoutSweep(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	base := time.Unix(1700000000, 0).UTC()
	svc.clock = func() time.Time { return base }

	if _, err := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice, RateMinor: 1000}); err != nil {
		t.Fatalf("create: %v", err)
	}

	pending, err := svc.ListPending(ctx, "h1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(pending))
	}

	// Past the TTL the row must vanish from the queue even though no sweep ran.
	svc.clock = func() time.Time { return base.Add(6 * time.Minute) }
	pending, err = svc.ListPending(ctx, "h1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected 0 pending after TTL, got %d", len(pending))
	}
}

func TestListPending_OldestFirst(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	base := time.Unix(1700000000, 0).UTC()
	for i, customer := range []string{"c1", "c2", "c3"} {
		tick := base.Add(time.Duration(i) * time.Second)
		svc.clock = func() time.Time { return tick }
		if _, err := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: customer, HostID: "h1", CallType: CallTypeVoice, RateMinor: 1000}); err != nil {
			t.Fatalf("create %s: %v", customer, err)
		}
	}
	svc.clock = func() time.Time { return base.Add(time.Minute) }

	pending, err := svc.ListPending(ctx, "h1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	if pending[0].CustomerID != "c1" || pending[2].CustomerID != "c3" {
		t.Fatalf("expected FIFO order, got %s..%s", pending[0].CustomerID, pending[2].CustomerID)
	}
}

func TestAccept_AssignsChannelAndIssuesPublisherCredential(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVideo, RateMinor: 1500})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	accepted, cred, err := svc.Accept(ctx, req.ID, "h1", "")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != RequestStatusAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}
	if accepted.ChannelName == "" {
		t.Fatalf("expected generated channel name")
	}
	if accepted.AcceptedAt == nil {
		t.Fatalf("expected accepted_at set")
	}
	if cred.Token == "" || cred.Role != rtc.RolePublisher || cred.Channel != accepted.ChannelName {
		t.Fatalf("unexpected credential: %+v", cred)
	}
}

func TestAccept_ForbiddenForWrongHost(t *testing.T) {
	svc := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	req, _ := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice, RateMinor: 1000})
	if _, _, err := svc.Accept(ctx, req.ID, "h2", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Reject(ctx, req.ID, "h2", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on reject, got %v", err)
	}
}

func TestAccept_ExpiresRacingSiblingRequests(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	// Simulate a client retry that raced the host's acceptance: two rows exist
	// because the retry was created before accept ran.
	r1, _ := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice, RateMinor: 1000})
	r2 := CallRequest{
		ID: "retry-row", CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice,
		RateMinor: 1000, Status: RequestStatusPending,
		CreatedAt: time.Now().UTC(), ExpiresAt: time.Now().UTC().Add(5 * time.Minute),
	}
	if err := store.CreateRequest(ctx, r2); err != nil {
		t.Fatalf("seed retry: %v", err)
	}

	if _, _, err := svc.Accept(ctx, r1.ID, "h1", ""); err != nil {
		t.Fatalf("accept: %v", err)
	}

	got2, _ := store.GetRequest(ctx, r2.ID)
	if got2.Status != RequestStatusExpired {
		t.Fatalf("expected racing sibling expired, got %s", got2.Status)
	}
}

func TestAcceptRejectRace_ExactlyOneWins(t *testing.T) {
	svc := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice, RateMinor: 1000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	var acceptErr, rejectErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, acceptErr = svc.Accept(ctx, req.ID, "h1", "")
	}()
	go func() {
		defer wg.Done()
		_, rejectErr = svc.Reject(ctx, req.ID, "h1", "busy")
	}()
	wg.Wait()

	wins := 0
	for _, err := range []error{acceptErr, rejectErr} {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, ErrAlreadyProcessed) {
			t.Fatalf("loser must see ErrAlreadyProcessed, got %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d (accept=%v reject=%v)", wins, acceptErr, rejectErr)
	}
}

func TestAccept_CredentialOutageIsDistinctAndDoesNotRollBack(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store)
	svc.issuer = failingIssuer{}
	ctx := context.Background()

	req, _ := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice, RateMinor: 1000})
	accepted, _, err := svc.Accept(ctx, req.ID, "h1", "")
	if !errors.Is(err, rtc.ErrUnavailable) {
		t.Fatalf("expected rtc.ErrUnavailable, got %v", err)
	}
	if accepted.Status != RequestStatusAccepted {
		t.Fatalf("accept must persist despite credential outage, got %s", accepted.Status)
	}

	got, _ := store.GetRequest(ctx, req.ID)
	if got.Status != RequestStatusAccepted {
		t.Fatalf("stored request must stay accepted, got %s", got.Status)
	}
}

func TestStatus_FallsBackToAcceptedSibling(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	r1, _ := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice, RateMinor: 1000})
	r2, _ := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice, RateMinor: 1000})

	// The customer is still polling r1; meanwhile r2 gets accepted.
	// r1 was expired by r2's creation, so force it back to pending to model
	// the poll racing ahead of the expiry write.
	stale, _ := store.GetRequest(ctx, r1.ID)
	stale.Status = RequestStatusPending
	stale.RejectedAt = nil
	if err := store.CreateRequest(ctx, stale); err != nil {
		t.Fatalf("reseed: %v", err)
	}

	accepted, _, err := svc.Accept(ctx, r2.ID, "h1", "")
	if err != nil {
		t.Fatalf("accept r2: %v", err)
	}

	res, err := svc.Status(ctx, r1.ID, "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.Request.ID != r2.ID || res.Request.Status != RequestStatusAccepted {
		t.Fatalf("expected fallback to accepted sibling %s, got %s (%s)", r2.ID, res.Request.ID, res.Request.Status)
	}
	if res.Request.ChannelName != accepted.ChannelName {
		t.Fatalf("expected sibling channel %q, got %q", accepted.ChannelName, res.Request.ChannelName)
	}
	if res.Credential == nil || res.Credential.Role != rtc.RoleSubscriber {
		t.Fatalf("expected subscriber credential, got %+v", res.Credential)
	}
}

func TestStatus_ReportsReadTimeExpiry(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	base := time.Unix(1700000000, 0).UTC()
	svc.clock = func() time.Time { return base }
	req, _ := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice, RateMinor: 1000})

	svc.clock = func() time.Time { return base.Add(10 * time.Minute) }
	res, err := svc.Status(ctx, req.ID, "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.Request.Status != RequestStatusExpired {
		t.Fatalf("expected read-time expired, got %s", res.Request.Status)
	}
	if res.Credential != nil {
		t.Fatalf("expired request must not carry a credential")
	}
}

func TestStatus_RejectedHasNoCredential(t *testing.T) {
	svc := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	req, _ := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice, RateMinor: 1000})
	if _, err := svc.Reject(ctx, req.ID, "h1", "busy"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	res, err := svc.Status(ctx, req.ID, "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.Request.Status != RequestStatusRejected || res.Request.RejectReason != "busy" {
		t.Fatalf("unexpected status result: %+v", res.Request)
	}
	if res.Credential != nil {
		t.Fatalf("rejected request must not carry a credential")
	}
}

func TestStartSession_RequiresAcceptedRequest(t *testing.T) {
	svc := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	req, _ := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice, RateMinor: 1000})
	if _, err := svc.StartSession(ctx, StartSessionInput{RequestID: req.ID}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for pending request, got %v", err)
	}
}

func TestEndSession_AmountComputation(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	// rate 50.00 per minute = 5000 minor units
	req, _ := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice, RateMinor: 5000})
	if _, _, err := svc.Accept(ctx, req.ID, "h1", ""); err != nil {
		t.Fatalf("accept: %v", err)
	}
	sess, err := svc.StartSession(ctx, StartSessionInput{RequestID: req.ID})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	ended, err := svc.EndSession(ctx, sess.ID, 12, 0)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.TotalMinor != 60000 {
		t.Fatalf("expected 60000 minor (600.00), got %d", ended.TotalMinor)
	}
	if ended.DurationMinutes != 12 || ended.Status != SessionStatusCompleted || ended.EndTime == nil {
		t.Fatalf("unexpected settled session: %+v", ended)
	}
}

func TestEndSession_SettlesExactlyOnce(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	req, _ := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVideo, RateMinor: 2000})
	if _, _, err := svc.Accept(ctx, req.ID, "h1", ""); err != nil {
		t.Fatalf("accept: %v", err)
	}
	sess, _ := svc.StartSession(ctx, StartSessionInput{RequestID: req.ID})

	first, err := svc.EndSession(ctx, sess.ID, 10, 5)
	if err != nil {
		t.Fatalf("first end: %v", err)
	}
	second, err := svc.EndSession(ctx, sess.ID, 99, 1)
	if err != nil {
		t.Fatalf("second end should be idempotent, got %v", err)
	}

	if second.TotalMinor != first.TotalMinor || second.DurationMinutes != first.DurationMinutes {
		t.Fatalf("second end must return the original settlement: first=%+v second=%+v", first, second)
	}

	stats := store.StatsSnapshot("h1")
	if stats.TotalEarningsMinor != 20000 {
		t.Fatalf("expected single credit of 20000, got %d", stats.TotalEarningsMinor)
	}
	if stats.TotalCalls != 1 || stats.TotalMinutes != 10 {
		t.Fatalf("expected one call / 10 minutes, got %+v", stats)
	}
	if txns := store.TransactionsSnapshot("h1"); len(txns) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(txns))
	}
}

func TestEndSession_RejectsBadRating(t *testing.T) {
	svc := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.EndSession(ctx, "s", 5, 6); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for rating 6, got %v", err)
	}
	if _, err := svc.EndSession(ctx, "s", -1, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for negative duration, got %v", err)
	}
}

type fullGate struct{}

func (fullGate) Acquire(ctx context.Context, hostID string) (bool, error) { return false, nil }
func (fullGate) Release(ctx context.Context, hostID string) error         { return nil }

func TestStartSession_HostBusyWhenGateFull(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store)
	svc.gate = fullGate{}
	ctx := context.Background()

	req, _ := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice, RateMinor: 1000})
	if _, _, err := svc.Accept(ctx, req.ID, "h1", ""); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.StartSession(ctx, StartSessionInput{RequestID: req.ID}); !errors.Is(err, ErrHostBusy) {
		t.Fatalf("expected ErrHostBusy, got %v", err)
	}
}

func TestExpireStale_SweepsPendingPastTTL(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	base := time.Unix(1700000000, 0).UTC()
	svc.clock = func() time.Time { return base }
	req, _ := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "c1", HostID: "h1", CallType: CallTypeVoice, RateMinor: 1000})

	svc.clock = func() time.Time { return base.Add(10 * time.Minute) }
	n, err := svc.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept row, got %d", n)
	}
	got, _ := store.GetRequest(ctx, req.ID)
	if got.Status != RequestStatusExpired {
		t.Fatalf("expected expired after sweep, got %s", got.Status)
	}
}

func TestEndToEndFlow(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	// customer=1 requests a voice call with host=2 at 10.00/minute
	req, err := svc.CreateRequest(ctx, CreateRequestInput{CustomerID: "1", HostID: "2", CallType: CallTypeVoice, RateMinor: 1000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	pending, err := svc.ListPending(ctx, "2")
	if err != nil || len(pending) != 1 || pending[0].ID != req.ID {
		t.Fatalf("host should see the request: %v %v", pending, err)
	}

	if _, _, err := svc.Accept(ctx, req.ID, "2", ""); err != nil {
		t.Fatalf("accept: %v", err)
	}

	res, err := svc.Status(ctx, req.ID, "1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.Request.Status != RequestStatusAccepted || res.Request.ChannelName == "" {
		t.Fatalf("expected accepted with channel, got %+v", res.Request)
	}
	if res.Credential == nil {
		t.Fatalf("expected customer credential")
	}

	sess, err := svc.StartSession(ctx, StartSessionInput{RequestID: req.ID})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	ended, err := svc.EndSession(ctx, sess.ID, 5, 4)
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if ended.TotalMinor != 5000 {
		t.Fatalf("expected total 5000 minor (50.00), got %d", ended.TotalMinor)
	}

	stats := store.StatsSnapshot("2")
	if stats.TotalEarningsMinor != 5000 || stats.TotalCalls != 1 || stats.TotalMinutes != 5 {
		t.Fatalf("host earnings not credited as expected: %+v", stats)
	}

	history, err := svc.CallHistory(ctx, "1", 10)
	if err != nil || len(history) != 1 || history[0].ID != sess.ID {
		t.Fatalf("customer history should contain the session: %v %v", history, err)
	}
}
