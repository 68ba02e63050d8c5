package earnings

import "time"

// Read side of host compensation. Totals come from the host_stats projection;
// the windows are summed over the immutable transactions ledger.

type Summary struct {
	HostID string `json:"host_id"`

	TotalEarningsMinor int64 `json:"total_earnings_minor"`
	TodayEarningsMinor int64 `json:"today_earnings_minor"`
	WeekEarningsMinor  int64 `json:"week_earnings_minor"`

	TotalCalls   int `json:"total_calls"`
	TotalMinutes int `json:"total_minutes"`
}

type TransactionsRequest struct {
	HostID string    `json:"host_id"`
	From   time.Time `json:"from,omitempty"`
	To     time.Time `json:"to,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}
