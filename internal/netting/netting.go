// Package netting implements the auto-netter (C12): after every fill, for
// the buyer only, it offsets any opposing YES+NO holdings into cash.
// Skipped for accounts with auto_netting_enabled=false (the AMM).
// Grounded on original_source/pm_clearing/domain/netting.py, with one
// correction: the source only adjusts reserve_balance/pnl_pool and never
// total_yes_shares/total_no_shares, which breaks P4/P5 (share symmetry,
// reserve/share coupling) the moment a netted pair's pre-existing share
// count was already reserve-backed. A retired pair is exactly what mint
// created and burn destroys, so this port also decrements both share
// counts by the netted quantity.
package netting

import (
	"context"

	"github.com/openalpha/predictx/internal/domain"
	"github.com/openalpha/predictx/internal/money"
	"github.com/openalpha/predictx/internal/store"
)

// Execute nets the user's opposing YES/NO holdings in market m, if any are
// available (not pending a sell) on both sides. No-op if the user's
// account has auto-netting disabled or nothing is nettable.
func Execute(ctx context.Context, tx store.Tx, m *domain.Market, userID string) (nettedQty int64, err error) {
	acc, err := tx.Accounts().GetOrCreate(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !acc.AutoNettingEnabled {
		return 0, nil
	}

	pos, err := tx.Positions().GetOrCreate(ctx, userID, m.ID)
	if err != nil {
		return 0, err
	}
	availableYes := pos.YesVolume - pos.YesPendingSell
	availableNo := pos.NoVolume - pos.NoPendingSell
	nettable := availableYes
	if availableNo < nettable {
		nettable = availableNo
	}
	if nettable <= 0 {
		return 0, nil
	}

	yesReleased := money.ReleaseProportional(pos.YesCostSum, nettable, pos.YesVolume)
	noReleased := money.ReleaseProportional(pos.NoCostSum, nettable, pos.NoVolume)

	if _, err = tx.Positions().ApplyYesDelta(ctx, userID, m.ID, -nettable, -yesReleased, 0); err != nil {
		return 0, err
	}
	if _, err = tx.Positions().ApplyNoDelta(ctx, userID, m.ID, -nettable, -noReleased, 0); err != nil {
		return 0, err
	}

	payout := 100 * nettable
	newAcc, err := tx.Accounts().CreditAvailable(ctx, userID, payout)
	if err != nil {
		return 0, err
	}
	if _, err = tx.Ledger().Append(ctx, &domain.LedgerEntry{
		UserID:            userID,
		EntryType:         domain.LedgerNetting,
		AmountCents:       payout,
		BalanceAfterCents: newAcc.AvailableBalance,
		ReferenceType:     "NETTING",
		ReferenceID:       m.ID,
	}); err != nil {
		return 0, err
	}
	if _, err = tx.Ledger().Append(ctx, &domain.LedgerEntry{
		UserID:            domain.SystemLedgerUserID,
		EntryType:         domain.LedgerNettingReserveOut,
		AmountCents:       -payout,
		BalanceAfterCents: 0,
		ReferenceType:     "NETTING",
		ReferenceID:       m.ID,
	}); err != nil {
		return 0, err
	}

	totalReleased := yesReleased + noReleased
	m.ReserveBalance -= payout
	m.PnlPool -= payout - totalReleased
	m.TotalYesShares -= nettable
	m.TotalNoShares -= nettable
	return nettable, nil
}
