package testing

import (
	"context"
	"sync"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MemoryStateStore is an in-memory domain.StateStore
type MemoryStateStore struct {
	mu      sync.Mutex
	state   *domain.PortfolioState
	Saves   int
	SaveErr error
	LoadErr error
}

// NewMemoryStateStore creates a store holding a copy of initial
func NewMemoryStateStore(initial *domain.PortfolioState) *MemoryStateStore {
	return &MemoryStateStore{state: initial.Clone()}
}

// Load returns a copy of the stored state
func (m *MemoryStateStore) Load(ctx context.Context) (*domain.PortfolioState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return m.state.Clone(), nil
}

// Save stores a copy of state
func (m *MemoryStateStore) Save(ctx context.Context, state *domain.PortfolioState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Saves++
	m.state = state.Clone()
	return nil
}

// State returns a copy of the last saved state
func (m *MemoryStateStore) State() *domain.PortfolioState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// MemoryLedger collects appended records
type MemoryLedger struct {
	mu      sync.Mutex
	Records []domain.LedgerRecord
}

// Append stores records in order
func (m *MemoryLedger) Append(ctx context.Context, records []domain.LedgerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, records...)
	return nil
}

// ByAction returns the records with the given action
func (m *MemoryLedger) ByAction(action domain.Action) []domain.LedgerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LedgerRecord
	for _, r := range m.Records {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

// MockLedgerSink is a testify mock of domain.LedgerSink
type MockLedgerSink struct {
	mock.Mock
}

// Append records the call
func (m *MockLedgerSink) Append(ctx context.Context, records []domain.LedgerRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}
