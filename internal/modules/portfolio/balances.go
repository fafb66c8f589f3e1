package portfolio

import (
	"context"
	"fmt"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/shopspring/decimal"
)

// FetchRemoteBalances reads account balances from the exchange. It performs
// no local mutation; combine with MergeBalances.
func FetchRemoteBalances(ctx context.Context, src domain.BalanceSource) (*domain.Balances, error) {
	b, err := src.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}
	return b, nil
}

// MergeBalances returns a copy of local with cash and the holdings of the
// configured assets replaced by the exchange's figures. Assets the exchange
// does not report are held at zero. Local-only fields (weights) are kept.
func MergeBalances(local *domain.PortfolioState, remote *domain.Balances, assets []domain.Asset) *domain.PortfolioState {
	merged := local.Clone()
	merged.Cash = remote.Cash
	for _, a := range assets {
		q, ok := remote.Holdings[a]
		if !ok || q.IsNegative() {
			q = decimal.Zero
		}
		merged.Holdings[a] = q
	}
	return merged
}
