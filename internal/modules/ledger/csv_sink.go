// Package ledger records every rebalance action in append-only sinks.
package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/rs/zerolog"
)

// Header is the CSV column order
var Header = []string{
	"timestamp", "cycle_id", "asset", "action", "price", "quantity",
	"fee", "cash", "portfolio_value", "note",
}

// CSVSink appends ledger rows to a CSV file. The header is written once,
// when the file is new or empty; existing rows are never rewritten.
type CSVSink struct {
	mu   sync.Mutex
	path string
	loc  *time.Location
	log  zerolog.Logger
}

var _ domain.LedgerSink = (*CSVSink)(nil)

// NewCSVSink creates a CSV ledger writer. Timestamps are rendered in loc.
func NewCSVSink(path string, loc *time.Location, log zerolog.Logger) *CSVSink {
	if loc == nil {
		loc = time.UTC
	}
	return &CSVSink{
		path: path,
		loc:  loc,
		log:  log.With().Str("component", "ledger_csv").Logger(),
	}
}

// Path returns the file path
func (s *CSVSink) Path() string {
	return s.path
}

// Append writes records and syncs the file
func (s *CSVSink) Append(ctx context.Context, records []domain.LedgerRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	needHeader := os.IsNotExist(err) || (err == nil && info.Size() == 0)

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needHeader {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("failed to write ledger header: %w", err)
		}
	}
	for _, r := range records {
		if err := w.Write(s.row(r)); err != nil {
			return fmt.Errorf("failed to write ledger row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush ledger csv: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger csv: %w", err)
	}

	s.log.Debug().Int("rows", len(records)).Str("path", s.path).Msg("Ledger rows appended")
	return nil
}

func (s *CSVSink) row(r domain.LedgerRecord) []string {
	return []string{
		r.Timestamp.In(s.loc).Format(time.RFC3339),
		r.CycleID,
		r.Asset.String(),
		string(r.Action),
		r.Price.String(),
		r.Quantity.String(),
		r.Fee.String(),
		r.Cash.String(),
		r.PortfolioValue.String(),
		r.Note,
	}
}
