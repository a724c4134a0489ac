package engine

import (
	"context"

	"github.com/openalpha/predictx/internal/domain"
	"github.com/openalpha/predictx/internal/engineerr"
	"github.com/openalpha/predictx/internal/idgen"
	"github.com/openalpha/predictx/internal/money"
	"github.com/openalpha/predictx/internal/store"
)

// initialFairCostPerShare is the cost basis (cents/share) the AMM books
// each side of a privileged mint at, per pm_clearing/domain/mint_service.py.
const initialFairCostPerShare = 50

// PrivilegedMint lets an AMM-exempt account mint a fresh YES+NO pair
// directly, bypassing the matcher (C16). idempotencyKey makes repeated
// calls with the same key a no-op replay rather than a double mint.
func (e *Engine) PrivilegedMint(ctx context.Context, userID, marketID string, qty int64, idempotencyKey string) error {
	if !e.Exempt.Has(userID) {
		return engineerr.ErrAmmOnly
	}
	me := e.entry(marketID)
	me.mu.Lock()
	defer me.mu.Unlock()

	txErr := e.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if replayed, err := replayed(ctx, tx, "AMM_MINT", idempotencyKey); err != nil {
			return err
		} else if replayed {
			return nil
		}

		m, err := tx.Markets().Get(ctx, marketID)
		if err != nil {
			if err == store.ErrNotFound {
				return engineerr.ErrMarketNotFound
			}
			return engineerr.Internal(err)
		}
		if m.Status != domain.MarketActive {
			return engineerr.ErrMarketNotActive
		}

		cost := qty * 100
		acc, err := tx.Accounts().DebitAvailable(ctx, userID, cost)
		if err != nil {
			if err == store.ErrGuardFailed {
				return engineerr.ErrInsufficientBalance
			}
			return engineerr.Internal(err)
		}
		if _, err := tx.Ledger().Append(ctx, &domain.LedgerEntry{
			UserID: userID, EntryType: domain.LedgerMintCost, AmountCents: -cost,
			BalanceAfterCents: acc.AvailableBalance, ReferenceType: "AMM_MINT", ReferenceID: idempotencyKey,
		}); err != nil {
			return engineerr.Internal(err)
		}
		if _, err := tx.Ledger().Append(ctx, &domain.LedgerEntry{
			UserID: domain.SystemLedgerUserID, EntryType: domain.LedgerMintReserveIn, AmountCents: 100 * qty,
			ReferenceType: "AMM_MINT", ReferenceID: idempotencyKey,
		}); err != nil {
			return engineerr.Internal(err)
		}

		perSideCost := initialFairCostPerShare * qty
		if _, err := tx.Positions().ApplyYesDelta(ctx, userID, marketID, qty, perSideCost, 0); err != nil {
			return engineerr.Internal(err)
		}
		if _, err := tx.Positions().ApplyNoDelta(ctx, userID, marketID, qty, perSideCost, 0); err != nil {
			return engineerr.Internal(err)
		}

		m.ReserveBalance += 100 * qty
		m.TotalYesShares += qty
		m.TotalNoShares += qty
		if err := tx.Markets().Update(ctx, m); err != nil {
			return engineerr.Internal(err)
		}

		tradeID := idgen.TradeID()
		return tx.Trades().Insert(ctx, &domain.Trade{
			ID: tradeID, MarketID: marketID,
			BuyOrderID: tradeID, SellOrderID: tradeID,
			BuyUserID: userID, SellUserID: domain.SystemLedgerUserID,
			Scenario: domain.ScenarioMint, PriceCents: initialFairCostPerShare, Quantity: int32(qty),
		})
	})
	if txErr != nil {
		me.evict()
	}
	return txErr
}

// PrivilegedBurn is the AMM-only inverse of PrivilegedMint.
func (e *Engine) PrivilegedBurn(ctx context.Context, userID, marketID string, qty int64, idempotencyKey string) error {
	if !e.Exempt.Has(userID) {
		return engineerr.ErrAmmOnly
	}
	me := e.entry(marketID)
	me.mu.Lock()
	defer me.mu.Unlock()

	txErr := e.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if replayed, err := replayed(ctx, tx, "AMM_BURN", idempotencyKey); err != nil {
			return err
		} else if replayed {
			return nil
		}

		m, err := tx.Markets().Get(ctx, marketID)
		if err != nil {
			if err == store.ErrNotFound {
				return engineerr.ErrMarketNotFound
			}
			return engineerr.Internal(err)
		}

		pos, err := tx.Positions().Get(ctx, userID, marketID)
		if err != nil {
			if err == store.ErrNotFound {
				return engineerr.ErrInsufficientPosition
			}
			return engineerr.Internal(err)
		}
		if pos.YesVolume-pos.YesPendingSell < qty || pos.NoVolume-pos.NoPendingSell < qty {
			return engineerr.ErrInsufficientPosition
		}

		yesReleased := money.ReleaseProportional(pos.YesCostSum, qty, pos.YesVolume)
		noReleased := money.ReleaseProportional(pos.NoCostSum, qty, pos.NoVolume)
		if _, err := tx.Positions().ApplyYesDelta(ctx, userID, marketID, -qty, -yesReleased, 0); err != nil {
			return engineerr.Internal(err)
		}
		if _, err := tx.Positions().ApplyNoDelta(ctx, userID, marketID, -qty, -noReleased, 0); err != nil {
			return engineerr.Internal(err)
		}

		proceeds := 100 * qty
		acc, err := tx.Accounts().CreditAvailable(ctx, userID, proceeds)
		if err != nil {
			return engineerr.Internal(err)
		}
		if _, err := tx.Ledger().Append(ctx, &domain.LedgerEntry{
			UserID: userID, EntryType: domain.LedgerBurnRevenue, AmountCents: proceeds,
			BalanceAfterCents: acc.AvailableBalance, ReferenceType: "AMM_BURN", ReferenceID: idempotencyKey,
		}); err != nil {
			return engineerr.Internal(err)
		}
		if _, err := tx.Ledger().Append(ctx, &domain.LedgerEntry{
			UserID: domain.SystemLedgerUserID, EntryType: domain.LedgerBurnReserveOut, AmountCents: -proceeds,
			ReferenceType: "AMM_BURN", ReferenceID: idempotencyKey,
		}); err != nil {
			return engineerr.Internal(err)
		}

		m.ReserveBalance -= proceeds
		m.TotalYesShares -= qty
		m.TotalNoShares -= qty
		if err := tx.Markets().Update(ctx, m); err != nil {
			return engineerr.Internal(err)
		}

		tradeID := idgen.TradeID()
		return tx.Trades().Insert(ctx, &domain.Trade{
			ID: tradeID, MarketID: marketID,
			BuyOrderID: tradeID, SellOrderID: tradeID,
			BuyUserID: domain.SystemLedgerUserID, SellUserID: userID,
			Scenario: domain.ScenarioBurn, PriceCents: initialFairCostPerShare, Quantity: int32(qty),
		})
	})
	if txErr != nil {
		me.evict()
	}
	return txErr
}

// replayed looks up a prior ledger entry tagged with (referenceType,
// idempotencyKey); its presence means this call already ran.
func replayed(ctx context.Context, tx store.Tx, referenceType, idempotencyKey string) (bool, error) {
	if idempotencyKey == "" {
		return false, nil
	}
	entry, err := tx.Ledger().FindByReference(ctx, referenceType, idempotencyKey)
	if err != nil {
		if err == store.ErrNotFound {
			return false, nil
		}
		return false, engineerr.Internal(err)
	}
	if entry == nil {
		return false, nil
	}
	return true, nil
}
