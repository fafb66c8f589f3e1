package ledger

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(cycle string, asset domain.Asset, action domain.Action) domain.LedgerRecord {
	return domain.LedgerRecord{
		Timestamp:      time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC),
		CycleID:        cycle,
		Asset:          asset,
		Action:         action,
		Price:          decimal.RequireFromString("50000000"),
		Quantity:       decimal.RequireFromString("0.002"),
		Fee:            decimal.RequireFromString("50"),
		Cash:           decimal.RequireFromString("299950"),
		PortfolioValue: decimal.RequireFromString("999950"),
		Note:           "weight 0.6000 -> 0.5000",
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVSink_HeaderOnceThenAppend(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "rebalance_log.csv")
	sink := NewCSVSink(path, seoul, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, sink.Append(ctx, []domain.LedgerRecord{sampleRecord("c1", "BTC", domain.ActionSell)}))
	require.NoError(t, sink.Append(ctx, []domain.LedgerRecord{
		sampleRecord("c2", "XRP", domain.ActionBuy),
		sampleRecord("c2", "MANA", domain.ActionHold),
	}))

	rows := readCSV(t, path)
	require.Len(t, rows, 4)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, []string{
		"2026-10-16T09:00:00+09:00", "c1", "BTC", "SELL", "50000000", "0.002",
		"50", "299950", "999950", "weight 0.6000 -> 0.5000",
	}, rows[1])
	assert.Equal(t, "XRP", rows[2][2])
	assert.Equal(t, "HOLD", rows[3][3])
}

func TestCSVSink_ExistingFileKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	ctx := context.Background()

	require.NoError(t, NewCSVSink(path, nil, zerolog.Nop()).Append(ctx, []domain.LedgerRecord{sampleRecord("c1", "BTC", domain.ActionSell)}))
	// a new process opening the same file
	require.NoError(t, NewCSVSink(path, nil, zerolog.Nop()).Append(ctx, []domain.LedgerRecord{sampleRecord("c2", "BTC", domain.ActionBuy)}))

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, "c1", rows[1][1])
	assert.Equal(t, "c2", rows[2][1])
}

func TestCSVSink_EmptyAppendCreatesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	require.NoError(t, NewCSVSink(path, nil, zerolog.Nop()).Append(context.Background(), nil))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCSVSink_UnwritablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "ledger.csv")
	err := NewCSVSink(path, nil, zerolog.Nop()).Append(context.Background(), []domain.LedgerRecord{sampleRecord("c", "BTC", domain.ActionHold)})
	assert.Error(t, err)
}
