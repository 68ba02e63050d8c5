package signaling

import "time"

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

func ValidCallType(t CallType) bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusRejected RequestStatus = "rejected"
	RequestStatusExpired  RequestStatus = "expired"
)

// CallRequest is a customer's solicitation for a call with a host.
//
// Invariants:
// - At most one request per (customer_id, host_id) pair is pending at a time;
//   creating or accepting a request expires its pending siblings.
// - channel_name is set iff status = accepted.
//
// Money invariant: RateMinor is the per-minute price in minor units (cents).
// No float money anywhere in this package.
type CallRequest struct {
	ID         string   `json:"id" db:"id"`
	CustomerID string   `json:"customer_id" db:"customer_id"`
	HostID     string   `json:"host_id" db:"host_id"`
	CallType   CallType `json:"call_type" db:"call_type"`

	// RateMinor is the price per minute in minor units.
	RateMinor int64  `json:"price_per_minute_minor" db:"price_per_minute_minor"`
	Message   string `json:"message,omitempty" db:"message"`

	Status       RequestStatus `json:"status" db:"status"`
	ChannelName  string        `json:"channel_name,omitempty" db:"channel_name"`
	RejectReason string        `json:"reject_reason,omitempty" db:"reject_reason"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`
	RejectedAt *time.Time `json:"rejected_at,omitempty" db:"rejected_at"`
}

// Expired reports read-time expiry. Pending rows past their TTL must be
// treated as expired even before the sweep rewrites them.
func (r CallRequest) Expired(now time.Time) bool {
	return r.Status == RequestStatusPending && now.After(r.ExpiresAt)
}

type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// CallSession is an actual in-progress or completed call, usually spawned
// from an accepted CallRequest. Channel, type and rate are copied at start;
// the request may expire afterwards without affecting the session.
type CallSession struct {
	ID         string `json:"id" db:"id"`
	RequestID  string `json:"request_id,omitempty" db:"request_id"`
	CustomerID string `json:"customer_id" db:"customer_id"`
	HostID     string `json:"host_id" db:"host_id"`

	ChannelName string   `json:"channel_name" db:"channel_name"`
	CallType    CallType `json:"call_type" db:"call_type"`
	RateMinor   int64    `json:"price_per_minute_minor" db:"price_per_minute_minor"`

	Status    SessionStatus `json:"status" db:"status"`
	StartTime time.Time     `json:"start_time" db:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty" db:"end_time"`

	// DurationMinutes and TotalMinor are written once at settlement and
	// never recomputed. TotalMinor = DurationMinutes * RateMinor.
	DurationMinutes int   `json:"duration_minutes" db:"duration_minutes"`
	TotalMinor      int64 `json:"total_amount_minor" db:"total_amount_minor"`

	// Rating is an optional 1-5 score, settable only at session end.
	Rating int `json:"rating,omitempty" db:"rating"`
}

// Transaction is an append-only ledger entry crediting a host for a settled
// session. Created exactly once per settlement, never mutated.
type Transaction struct {
	ID          string    `json:"id" db:"id"`
	HostID      string    `json:"host_id" db:"host_id"`
	Type        string    `json:"type" db:"type"`
	ReferenceID string    `json:"reference_id" db:"reference_id"`
	AmountMinor int64     `json:"amount_minor" db:"amount_minor"`
	Description string    `json:"description" db:"description"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

const (
	TransactionTypeCall        = "call"
	TransactionStatusCompleted = "completed"
)

// HostStats is the aggregate projection updated alongside each transaction.
// Any change here MUST correspond to a transaction row.
type HostStats struct {
	HostID             string    `json:"host_id" db:"host_id"`
	TotalEarningsMinor int64     `json:"total_earnings_minor" db:"total_earnings_minor"`
	TotalCalls         int       `json:"total_calls" db:"total_calls"`
	TotalMinutes       int       `json:"total_minutes" db:"total_minutes"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}
