package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/volbalance/internal/database"
	"github.com/aristath/volbalance/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Filter narrows ledger queries. Zero values match everything.
type Filter struct {
	Asset  domain.Asset
	Action domain.Action
	Limit  int
}

// Repository stores the ledger in ledger.db. The table rejects updates and
// deletes at the database level.
type Repository struct {
	db  *sql.DB
	loc *time.Location
	log zerolog.Logger
}

var _ domain.LedgerSink = (*Repository)(nil)

// NewRepository creates a new ledger repository
func NewRepository(db *sql.DB, loc *time.Location, log zerolog.Logger) *Repository {
	if loc == nil {
		loc = time.UTC
	}
	return &Repository{
		db:  db,
		loc: loc,
		log: log.With().Str("repo", "ledger").Logger(),
	}
}

// Append inserts records in one transaction
func (r *Repository) Append(ctx context.Context, records []domain.LedgerRecord) error {
	if len(records) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO ledger (recorded_at, cycle_id, asset, action, price, quantity, fee, cash, portfolio_value, note)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare ledger insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			_, err := stmt.ExecContext(ctx,
				rec.Timestamp.UnixNano(),
				rec.CycleID,
				rec.Asset.String(),
				string(rec.Action),
				rec.Price.String(),
				rec.Quantity.String(),
				rec.Fee.String(),
				rec.Cash.String(),
				rec.PortfolioValue.String(),
				rec.Note,
			)
			if err != nil {
				return fmt.Errorf("failed to insert ledger row for %s: %w", rec.Asset, err)
			}
		}
		return nil
	})
}

// Recent returns the newest records first
func (r *Repository) Recent(ctx context.Context, f Filter) ([]domain.LedgerRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT recorded_at, cycle_id, asset, action, price, quantity, fee, cash, portfolio_value, note
	          FROM ledger WHERE 1=1`
	args := []interface{}{}

	if f.Asset != "" {
		query += " AND asset = ?"
		args = append(args, f.Asset.String())
	}
	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, string(f.Action))
	}

	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	return r.query(ctx, query, args...)
}

// ByCycle returns the records of one cycle in insertion order
func (r *Repository) ByCycle(ctx context.Context, cycleID string) ([]domain.LedgerRecord, error) {
	return r.query(ctx, `
		SELECT recorded_at, cycle_id, asset, action, price, quantity, fee, cash, portfolio_value, note
		FROM ledger WHERE cycle_id = ? ORDER BY id ASC
	`, cycleID)
}

// LastCycleID returns the most recent cycle id, or "" when the ledger is empty
func (r *Repository) LastCycleID(ctx context.Context) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT cycle_id FROM ledger ORDER BY id DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query last cycle: %w", err)
	}
	return id, nil
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]domain.LedgerRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	records := make([]domain.LedgerRecord, 0)
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger: %w", err)
	}
	return records, nil
}

func (r *Repository) scan(rows *sql.Rows) (domain.LedgerRecord, error) {
	var (
		recordedAt                                 int64
		cycleID, asset, action, note               string
		price, quantity, fee, cash, portfolioValue string
	)
	if err := rows.Scan(&recordedAt, &cycleID, &asset, &action, &price, &quantity, &fee, &cash, &portfolioValue, &note); err != nil {
		return domain.LedgerRecord{}, fmt.Errorf("failed to scan ledger row: %w", err)
	}

	rec := domain.LedgerRecord{
		Timestamp: time.Unix(0, recordedAt).In(r.loc),
		CycleID:   cycleID,
		Asset:     domain.Asset(asset),
		Action:    domain.Action(action),
		Note:      note,
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&rec.Price, price},
		{&rec.Quantity, quantity},
		{&rec.Fee, fee},
		{&rec.Cash, cash},
		{&rec.PortfolioValue, portfolioValue},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return domain.LedgerRecord{}, fmt.Errorf("invalid decimal %q in ledger: %w", f.src, err)
		}
		*f.dst = v
	}

	return rec, nil
}
