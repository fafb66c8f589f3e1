package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/volbalance/internal/domain"
)

// MultiSink appends to every sink, attempting all of them even after a
// failure. Any failure is reported as domain.ErrPersistence.
type MultiSink struct {
	sinks []domain.LedgerSink
}

var _ domain.LedgerSink = (*MultiSink)(nil)

// NewMultiSink fans out to sinks in order
func NewMultiSink(sinks ...domain.LedgerSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Append writes records to all sinks
func (m *MultiSink) Append(ctx context.Context, records []domain.LedgerRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: ledger append: %w", domain.ErrPersistence, errors.Join(errs...))
	}
	return nil
}
