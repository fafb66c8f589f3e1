package di

import (
	"fmt"

	"github.com/aristath/volbalance/internal/config"
	"github.com/aristath/volbalance/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the state and ledger databases and applies schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// state.db - current cash, holdings and last weights
	stateDB, err := database.New(database.Config{
		Path:    cfg.StatePath(),
		Profile: database.ProfileStandard,
		Name:    "state",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state database: %w", err)
	}
	container.StateDB = stateDB

	// ledger.db - append-only audit trail
	ledgerDB, err := database.New(database.Config{
		Path:    cfg.LedgerDBPath(),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		stateDB.Close()
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	container.LedgerDB = ledgerDB

	for _, db := range []*database.DB{stateDB, ledgerDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().
		Str("state", stateDB.Path()).
		Str("ledger", ledgerDB.Path()).
		Msg("Databases initialized and schemas applied")

	return container, nil
}
