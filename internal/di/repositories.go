package di

import (
	"fmt"

	"github.com/aristath/volbalance/internal/config"
	"github.com/aristath/volbalance/internal/modules/ledger"
	"github.com/aristath/volbalance/internal/modules/portfolio"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// InitializeRepositories creates the state repository and ledger sinks.
// Every ledger append goes to both the SQLite ledger and the CSV log.
func InitializeRepositories(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container.StateDB == nil || container.LedgerDB == nil {
		return fmt.Errorf("databases must be initialized before repositories")
	}

	loc := cfg.Location()

	container.StateRepo = portfolio.NewStateRepository(
		container.StateDB.Conn(),
		decimal.NewFromFloat(cfg.Rebalance.StartingCash),
		log,
	)
	container.LedgerRepo = ledger.NewRepository(container.LedgerDB.Conn(), loc, log)
	container.CSVSink = ledger.NewCSVSink(cfg.LedgerCSVPath(), loc, log)
	container.LedgerSink = ledger.NewMultiSink(container.LedgerRepo, container.CSVSink)

	log.Info().Str("csv", cfg.LedgerCSVPath()).Msg("Repositories initialized")
	return nil
}
