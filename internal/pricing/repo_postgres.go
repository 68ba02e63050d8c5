package pricing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"hostlink-platform/internal/signaling"
	"hostlink-platform/pkg/utils"
)

// PostgresRepo persists host rates in the host_rates table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const rateColumns = `id, host_id, call_type, currency, rate_per_minute_minor, status, created_at, updated_at`

func scanRate(row interface{ Scan(...any) error }) (HostRate, error) {
	var r HostRate
	err := row.Scan(&r.ID, &r.HostID, &r.CallType, &r.Currency, &r.RatePerMinuteMinor, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (p *PostgresRepo) FindActiveRate(ctx context.Context, hostID string, callType signaling.CallType) (HostRate, bool, error) {
	const q = `SELECT ` + rateColumns + `
		FROM host_rates
		WHERE host_id = $1 AND call_type = $2 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1`

	rate, err := scanRate(p.db.QueryRowContext(ctx, q, hostID, callType))
	if errors.Is(err, sql.ErrNoRows) {
		return HostRate{}, false, nil
	}
	if err != nil {
		return HostRate{}, false, fmt.Errorf("find active rate: %w", err)
	}
	return rate, true, nil
}

func (p *PostgresRepo) ListActiveRates(ctx context.Context, hostID string) ([]HostRate, error) {
	const q = `SELECT ` + rateColumns + `
		FROM host_rates
		WHERE host_id = $1 AND status = 'active'
		ORDER BY call_type`

	rows, err := p.db.QueryContext(ctx, q, hostID)
	if err != nil {
		return nil, fmt.Errorf("list active rates: %w", err)
	}
	defer rows.Close()

	var out []HostRate
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		out = append(out, rate)
	}
	return out, rows.Err()
}

func (p *PostgresRepo) UpsertRate(ctx context.Context, rate HostRate) error {
	return utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const deactivate = `UPDATE host_rates
			SET status = 'inactive', updated_at = $3
			WHERE host_id = $1 AND call_type = $2 AND status = 'active'`
		if _, err := tx.ExecContext(ctx, deactivate, rate.HostID, rate.CallType, rate.UpdatedAt); err != nil {
			return fmt.Errorf("deactivate prior rate: %w", err)
		}

		const insert = `INSERT INTO host_rates (` + rateColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		if _, err := tx.ExecContext(ctx, insert,
			rate.ID, rate.HostID, rate.CallType, rate.Currency,
			rate.RatePerMinuteMinor, rate.Status, rate.CreatedAt, rate.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert rate: %w", err)
		}
		return nil
	})
}
