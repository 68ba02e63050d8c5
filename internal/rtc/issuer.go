package rtc

import (
	"context"
	"errors"
	"time"
)

// Role selects the privilege level encoded into a join credential.
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// Credential is an opaque token permitting a principal to join a named
// channel on the external realtime transport. This service never inspects
// the token; it only hands it to clients.
type Credential struct {
	Token     string    `json:"token"`
	AppID     string    `json:"app_id,omitempty"`
	Channel   string    `json:"channel"`
	UID       string    `json:"uid"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrUnavailable marks a failure of the external token service. It is kept
// distinct from generic errors so the API layer can tell clients "the call
// state changed but joining needs a retry" (502) instead of a blanket 500.
var ErrUnavailable = errors.New("credential service unavailable")

// Issuer issues join credentials. Implementations must be stateless from
// this system's perspective: identical inputs map to the same external call.
//
// Rules:
// - No transport SDK calls outside rtc adapters.
// - Issuance failure must never roll back a persisted state transition.
type Issuer interface {
	Issue(ctx context.Context, channel, uid string, role Role, ttl time.Duration) (Credential, error)
}

func validRole(r Role) bool {
	return r == RolePublisher || r == RoleSubscriber
}
