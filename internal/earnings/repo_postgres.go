package earnings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hostlink-platform/internal/signaling"
)

// PostgresRepo reads the transactions ledger and the host_stats projection
// populated by the settlement path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (p *PostgresRepo) GetHostStats(ctx context.Context, hostID string) (signaling.HostStats, bool, error) {
	const q = `SELECT host_id, total_earnings_minor, total_calls, total_minutes, updated_at
		FROM host_stats WHERE host_id = $1`

	var st signaling.HostStats
	err := p.db.QueryRowContext(ctx, q, hostID).Scan(
		&st.HostID, &st.TotalEarningsMinor, &st.TotalCalls, &st.TotalMinutes, &st.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return signaling.HostStats{}, false, nil
	}
	if err != nil {
		return signaling.HostStats{}, false, fmt.Errorf("get host stats: %w", err)
	}
	return st, true, nil
}

func (p *PostgresRepo) SumEarnings(ctx context.Context, hostID string, from, to time.Time) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount_minor), 0)
		FROM transactions
		WHERE host_id = $1 AND status = 'completed'
		  AND created_at >= $2 AND created_at <= $3`

	var sum int64
	if err := p.db.QueryRowContext(ctx, q, hostID, from, to).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum earnings: %w", err)
	}
	return sum, nil
}

func (p *PostgresRepo) ListTransactions(ctx context.Context, hostID string, from, to time.Time, limit int) ([]signaling.Transaction, error) {
	q := `SELECT id, host_id, type, reference_id, amount_minor, description, status, created_at
		FROM transactions
		WHERE host_id = $1`
	args := []any{hostID}

	if !from.IsZero() {
		args = append(args, from)
		q += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		q += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []signaling.Transaction
	for rows.Next() {
		var t signaling.Transaction
		if err := rows.Scan(&t.ID, &t.HostID, &t.Type, &t.ReferenceID, &t.AmountMinor, &t.Description, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
