// Package invariant implements the post-trade and global invariant
// checker (C14). Violations are fatal: the caller must abort the
// operation, roll back, evict the in-memory book, and emit a loud audit
// record (spec.md §7). Grounded on
// original_source/pm_clearing/domain/{invariants,global_invariants}.py.
package invariant

import (
	"context"
	"fmt"

	"github.com/openalpha/predictx/internal/domain"
	"github.com/openalpha/predictx/internal/store"
)

// VerifyAfterTrade recomputes INV-1/2/3 for a single market from its
// current positions and asserts equality.
func VerifyAfterTrade(ctx context.Context, tx store.Tx, m *domain.Market) error {
	positions, err := tx.Positions().ListByMarket(ctx, m.ID)
	if err != nil {
		return err
	}
	var costSum int64
	for _, p := range positions {
		costSum += p.YesCostSum + p.NoCostSum
	}

	if m.TotalYesShares != m.TotalNoShares {
		return fmt.Errorf("INV-1 violated for market %s: yes_shares=%d no_shares=%d", m.ID, m.TotalYesShares, m.TotalNoShares)
	}
	if m.ReserveBalance != m.TotalYesShares*100 {
		return fmt.Errorf("INV-2 violated for market %s: reserve=%d yes_shares*100=%d", m.ID, m.ReserveBalance, m.TotalYesShares*100)
	}
	if m.ReserveBalance+m.PnlPool != costSum {
		return fmt.Errorf("INV-3 violated for market %s: reserve+pnl_pool=%d cost_sum=%d", m.ID, m.ReserveBalance+m.PnlPool, costSum)
	}
	return nil
}

// VerifyGlobal asserts INV-G: the sum over all non-system accounts of
// (available + frozen), plus every market's reserve_balance, plus the
// platform-fee account's balance, equals net deposits minus net
// withdrawals recorded in the ledger.
func VerifyGlobal(ctx context.Context, tx store.Tx) error {
	accounts, err := tx.Accounts().ListAll(ctx)
	if err != nil {
		return err
	}
	var userSum, platformFee int64
	for _, a := range accounts {
		switch a.UserID {
		case domain.SystemReserveUserID:
			continue
		case domain.PlatformFeeUserID:
			platformFee += a.TotalBalance()
		default:
			userSum += a.TotalBalance()
		}
	}

	markets, err := tx.Markets().ListAll(ctx)
	if err != nil {
		return err
	}
	var reserveSum int64
	for _, m := range markets {
		reserveSum += m.ReserveBalance
	}

	netDeposits, err := tx.Ledger().SumNetDeposits(ctx)
	if err != nil {
		return err
	}

	lhs := userSum + reserveSum + platformFee
	if lhs != netDeposits {
		return fmt.Errorf("INV-G violated: balances+reserves+fees=%d net_deposits=%d", lhs, netDeposits)
	}
	return nil
}
