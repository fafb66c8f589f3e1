package portfolio

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/volbalance/internal/database"
	"github.com/aristath/volbalance/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	keyCash      = "cash"
	keyUpdatedAt = "updated_at"
	prefixHold   = "holding:"
	prefixWeight = "weight:"
)

// StateRepository persists PortfolioState as key-value rows in state.db
type StateRepository struct {
	db           *sql.DB
	startingCash decimal.Decimal
	log          zerolog.Logger
}

// Compile-time check that StateRepository implements domain.StateStore
var _ domain.StateStore = (*StateRepository)(nil)

// NewStateRepository creates a new state repository.
// startingCash is used when no cash key has been stored yet.
func NewStateRepository(db *sql.DB, startingCash decimal.Decimal, log zerolog.Logger) *StateRepository {
	return &StateRepository{
		db:           db,
		startingCash: startingCash,
		log:          log.With().Str("repo", "state").Logger(),
	}
}

// Load returns the persisted state
func (r *StateRepository) Load(ctx context.Context) (*domain.PortfolioState, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM portfolio_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio state: %w", err)
	}
	defer rows.Close()

	state := domain.NewPortfolioState(r.startingCash)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio state: %w", err)
		}
		if err := applyKey(state, key, value); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolio state: %w", err)
	}

	return state, nil
}

func applyKey(state *domain.PortfolioState, key, value string) error {
	switch {
	case key == keyCash:
		d, err := decimal.NewFromString(value)
		if err != nil {
			return fmt.Errorf("invalid cash value %q: %w", value, err)
		}
		state.Cash = d
	case key == keyUpdatedAt:
		ts, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid updated_at value %q: %w", value, err)
		}
		state.UpdatedAt = time.Unix(0, ts).UTC()
	case strings.HasPrefix(key, prefixHold):
		d, err := decimal.NewFromString(value)
		if err != nil {
			return fmt.Errorf("invalid holding %s value %q: %w", key, value, err)
		}
		state.Holdings[domain.Asset(strings.TrimPrefix(key, prefixHold))] = d
	case strings.HasPrefix(key, prefixWeight):
		w, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid weight %s value %q: %w", key, value, err)
		}
		state.LastWeights[domain.Asset(strings.TrimPrefix(key, prefixWeight))] = w
	}
	// Unknown keys are ignored so older binaries can read newer files
	return nil
}

// Save replaces the stored state in a single transaction
func (r *StateRepository) Save(ctx context.Context, state *domain.PortfolioState) error {
	now := time.Now().Unix()
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM portfolio_state`); err != nil {
			return fmt.Errorf("failed to clear portfolio state: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO portfolio_state (key, value, updated_at) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare state insert: %w", err)
		}
		defer stmt.Close()

		put := func(key, value string) error {
			if _, err := stmt.ExecContext(ctx, key, value, now); err != nil {
				return fmt.Errorf("failed to write %s: %w", key, err)
			}
			return nil
		}

		if err := put(keyCash, state.Cash.String()); err != nil {
			return err
		}
		if err := put(keyUpdatedAt, strconv.FormatInt(updatedAt.UnixNano(), 10)); err != nil {
			return err
		}
		for asset, q := range state.Holdings {
			if err := put(prefixHold+asset.String(), q.String()); err != nil {
				return err
			}
		}
		for asset, w := range state.LastWeights {
			if err := put(prefixWeight+asset.String(), strconv.FormatFloat(w, 'g', -1, 64)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	r.log.Debug().
		Str("cash", state.Cash.String()).
		Int("holdings", len(state.Holdings)).
		Msg("Portfolio state saved")

	return nil
}
