package signaling

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"hostlink-platform/pkg/utils"

	"github.com/google/uuid"
)

// PostgresStore persists requests, sessions, transactions and host_stats.
//
// Assumed tables:
// - call_requests
// - call_sessions
// - transactions (append-only)
// - host_stats (projection, upserted alongside transactions)
//
// CAS discipline: every state transition is a conditional UPDATE on the
// expected status; zero rows affected means a racer won.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `
id, customer_id, host_id, call_type, price_per_minute_minor,
COALESCE(message, ''), status, COALESCE(channel_name, ''), COALESCE(reject_reason, ''),
created_at, expires_at, accepted_at, rejected_at
`

func scanRequest(row interface{ Scan(...any) error }) (CallRequest, error) {
	var r CallRequest
	var acceptedAt, rejectedAt sql.NullTime
	err := row.Scan(
		&r.ID,
		&r.CustomerID,
		&r.HostID,
		&r.CallType,
		&r.RateMinor,
		&r.Message,
		&r.Status,
		&r.ChannelName,
		&r.RejectReason,
		&r.CreatedAt,
		&r.ExpiresAt,
		&acceptedAt,
		&rejectedAt,
	)
	if err != nil {
		return CallRequest{}, err
	}
	if acceptedAt.Valid {
		r.AcceptedAt = &acceptedAt.Time
	}
	if rejectedAt.Valid {
		r.RejectedAt = &rejectedAt.Time
	}
	return r, nil
}

func (p *PostgresStore) CreateRequest(ctx context.Context, r CallRequest) error {
	const q = `
INSERT INTO call_requests (
  id, customer_id, host_id, call_type, price_per_minute_minor, message,
  status, created_at, expires_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`
	_, err := p.db.ExecContext(ctx, q,
		r.ID,
		r.CustomerID,
		r.HostID,
		r.CallType,
		r.RateMinor,
		r.Message,
		r.Status,
		r.CreatedAt,
		r.ExpiresAt,
	)
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (CallRequest, error) {
	q := `SELECT ` + requestColumns + ` FROM call_requests WHERE id = $1`
	r, err := scanRequest(p.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRequest{}, ErrNotFound
		}
		return CallRequest{}, err
	}
	return r, nil
}

func (p *PostgresStore) ListPendingRequests(ctx context.Context, hostID string, now time.Time) ([]CallRequest, error) {
	// Expiry is filtered here at read time; the sweep is only cleanup.
	q := `
SELECT ` + requestColumns + `
FROM call_requests
WHERE host_id = $1 AND status = 'pending' AND expires_at > $2
ORDER BY created_at ASC
`
	rows, err := p.db.QueryContext(ctx, q, hostID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ExpirePending(ctx context.Context, customerID, hostID, exceptID string, now time.Time) (int64, error) {
	const q = `
UPDATE call_requests
SET status = 'expired', rejected_at = $4
WHERE customer_id = $1 AND host_id = $2 AND status = 'pending' AND id <> $3
`
	res, err := p.db.ExecContext(ctx, q, customerID, hostID, exceptID, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresStore) AcceptRequest(ctx context.Context, id, channelName string, now time.Time) (CallRequest, error) {
	q := `
UPDATE call_requests
SET status = 'accepted', channel_name = $2, accepted_at = $3
WHERE id = $1 AND status = 'pending'
RETURNING ` + requestColumns
	r, err := scanRequest(p.db.QueryRowContext(ctx, q, id, channelName, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRequest{}, p.requestCASMiss(ctx, id)
		}
		return CallRequest{}, err
	}
	return r, nil
}

func (p *PostgresStore) RejectRequest(ctx context.Context, id, reason string, now time.Time) (CallRequest, error) {
	q := `
UPDATE call_requests
SET status = 'rejected', reject_reason = $2, rejected_at = $3
WHERE id = $1 AND status = 'pending'
RETURNING ` + requestColumns
	r, err := scanRequest(p.db.QueryRowContext(ctx, q, id, reason, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRequest{}, p.requestCASMiss(ctx, id)
		}
		return CallRequest{}, err
	}
	return r, nil
}

// requestCASMiss distinguishes "row missing" from "row already transitioned".
func (p *PostgresStore) requestCASMiss(ctx context.Context, id string) error {
	const q = `SELECT 1 FROM call_requests WHERE id = $1`
	var one int
	if err := p.db.QueryRowContext(ctx, q, id).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return ErrAlreadyProcessed
}

func (p *PostgresStore) LatestAcceptedRequest(ctx context.Context, customerID, hostID string) (CallRequest, bool, error) {
	q := `
SELECT ` + requestColumns + `
FROM call_requests
WHERE customer_id = $1 AND host_id = $2 AND status = 'accepted'
ORDER BY accepted_at DESC NULLS LAST, created_at DESC
LIMIT 1
`
	r, err := scanRequest(p.db.QueryRowContext(ctx, q, customerID, hostID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRequest{}, false, nil
		}
		return CallRequest{}, false, err
	}
	return r, true, nil
}

func (p *PostgresStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	const q = `
UPDATE call_requests
SET status = 'expired', rejected_at = $1
WHERE status = 'pending' AND expires_at <= $1
`
	res, err := p.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const sessionColumns = `
id, COALESCE(request_id, ''), customer_id, host_id, channel_name, call_type,
price_per_minute_minor, status, start_time, end_time, duration_minutes,
total_amount_minor, rating
`

func scanSession(row interface{ Scan(...any) error }) (CallSession, error) {
	var s CallSession
	var endTime sql.NullTime
	err := row.Scan(
		&s.ID,
		&s.RequestID,
		&s.CustomerID,
		&s.HostID,
		&s.ChannelName,
		&s.CallType,
		&s.RateMinor,
		&s.Status,
		&s.StartTime,
		&endTime,
		&s.DurationMinutes,
		&s.TotalMinor,
		&s.Rating,
	)
	if err != nil {
		return CallSession{}, err
	}
	if endTime.Valid {
		s.EndTime = &endTime.Time
	}
	return s, nil
}

func (p *PostgresStore) CreateSession(ctx context.Context, s CallSession) error {
	const q = `
INSERT INTO call_sessions (
  id, request_id, customer_id, host_id, channel_name, call_type,
  price_per_minute_minor, status, start_time, duration_minutes,
  total_amount_minor, rating
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,0,0)
`
	_, err := p.db.ExecContext(ctx, q,
		s.ID,
		nullIfEmpty(s.RequestID),
		s.CustomerID,
		s.HostID,
		s.ChannelName,
		s.CallType,
		s.RateMinor,
		s.Status,
		s.StartTime,
	)
	return err
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (CallSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE id = $1`
	s, err := scanSession(p.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, ErrNotFound
		}
		return CallSession{}, err
	}
	return s, nil
}

func (p *PostgresStore) ListSessionsByUser(ctx context.Context, userID string, limit int) ([]CallSession, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE customer_id = $1 OR host_id = $1
ORDER BY start_time DESC
LIMIT $2
`
	rows, err := p.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SettleSession(ctx context.Context, id string, minutes int, totalMinor int64, rating int, now time.Time) (CallSession, error) {
	var out CallSession

	err := utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		q := `
UPDATE call_sessions
SET status = 'completed', end_time = $2, duration_minutes = $3,
    total_amount_minor = $4, rating = $5
WHERE id = $1 AND status = 'active'
RETURNING ` + sessionColumns
		s, err := scanSession(tx.QueryRowContext(ctx, q, id, now, minutes, totalMinor, rating))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return p.sessionCASMissTx(ctx, tx, id)
			}
			return err
		}

		const insertTxn = `
INSERT INTO transactions (
  id, host_id, type, reference_id, amount_minor, description, status, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
		if _, err := tx.ExecContext(ctx, insertTxn,
			uuid.NewString(),
			s.HostID,
			TransactionTypeCall,
			s.ID,
			totalMinor,
			settlementDescription(s.CallType, minutes),
			TransactionStatusCompleted,
			now,
		); err != nil {
			return err
		}

		const upsertStats = `
INSERT INTO host_stats (host_id, total_earnings_minor, total_calls, total_minutes, updated_at)
VALUES ($1,$2,1,$3,$4)
ON CONFLICT (host_id)
DO UPDATE SET total_earnings_minor = host_stats.total_earnings_minor + EXCLUDED.total_earnings_minor,
              total_calls = host_stats.total_calls + 1,
              total_minutes = host_stats.total_minutes + EXCLUDED.total_minutes,
              updated_at = EXCLUDED.updated_at
`
		if _, err := tx.ExecContext(ctx, upsertStats, s.HostID, totalMinor, minutes, now); err != nil {
			return err
		}

		out = s
		return nil
	})
	if err != nil {
		return CallSession{}, err
	}
	return out, nil
}

func (p *PostgresStore) sessionCASMissTx(ctx context.Context, tx *sql.Tx, id string) error {
	const q = `SELECT 1 FROM call_sessions WHERE id = $1`
	var one int
	if err := tx.QueryRowContext(ctx, q, id).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return ErrAlreadyProcessed
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
