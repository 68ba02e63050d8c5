package pricing

import (
	"time"

	"hostlink-platform/internal/signaling"
)

// Amounts are expressed in minor units (e.g., cents) using int64.

// HostRate is a host's advertised per-minute price for one call type.
// At most one active row exists per (host, call type); setting a new rate
// supersedes the previous one.
type HostRate struct {
	ID       string             `json:"id" db:"id"`
	HostID   string             `json:"host_id" db:"host_id"`
	CallType signaling.CallType `json:"call_type" db:"call_type"`

	Currency string `json:"currency" db:"currency"`

	// RatePerMinuteMinor is the price per started minute.
	RatePerMinuteMinor int64 `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`

	Status RateStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type RateStatus string

const (
	RateStatusActive   RateStatus = "active"
	RateStatusInactive RateStatus = "inactive"
)

const DefaultCurrency = "USD"
