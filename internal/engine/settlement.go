package engine

import (
	"context"
	"time"

	"github.com/openalpha/predictx/internal/domain"
	"github.com/openalpha/predictx/internal/engineerr"
	"github.com/openalpha/predictx/internal/invariant"
	"github.com/openalpha/predictx/internal/risk"
	"github.com/openalpha/predictx/internal/store"
)

// SettleMarket resolves a market to outcome: every open or partially
// filled order is cancelled and unfrozen, every position is paid out at
// 100 cents/share on its winning side and zeroed, and the market's
// aggregates collapse to zero. Grounded on
// original_source/pm_clearing/domain/settlement.py.
func (e *Engine) SettleMarket(ctx context.Context, marketID string, outcome domain.ResolutionResult) error {
	me := e.entry(marketID)
	me.mu.Lock()
	defer me.mu.Unlock()

	txErr := e.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := tx.Markets().Get(ctx, marketID)
		if err != nil {
			if err == store.ErrNotFound {
				return engineerr.ErrMarketNotFound
			}
			return engineerr.Internal(err)
		}
		if m.Status == domain.MarketSettled {
			return nil
		}

		if lErr := e.ensureBook(ctx, tx, me); lErr != nil {
			return lErr
		}

		orders, err := tx.Orders().ListOpenByMarket(ctx, marketID)
		if err != nil {
			return engineerr.Internal(err)
		}
		for _, o := range orders {
			me.bk.Cancel(o.ID)

			unfreezeAmt := int64(o.RemainingQuantity)
			if o.FrozenAssetType == domain.FrozenFunds {
				unfreezeAmt = int64(o.RemainingQuantity) * o.FrozenAmount / int64(o.Quantity)
			}
			if uErr := risk.Unfreeze(ctx, tx, o.UserID, marketID, o.FrozenAssetType, unfreezeAmt); uErr != nil {
				return uErr
			}
			o.Status = domain.OrderCancelled
			o.UpdatedAt = time.Now()
			if uErr := tx.Orders().Update(ctx, o); uErr != nil {
				return engineerr.Internal(uErr)
			}
			if wErr := tx.WAL().Append(ctx, &domain.WALEvent{
				MarketID: marketID, OrderID: o.ID, EventType: domain.WALOrderCancelled,
			}); wErr != nil {
				return engineerr.Internal(wErr)
			}
		}

		positions, err := tx.Positions().ListByMarket(ctx, marketID)
		if err != nil {
			return engineerr.Internal(err)
		}
		for _, p := range positions {
			var payout int64
			if outcome == domain.ResolutionYes {
				payout = 100 * p.YesVolume
			} else {
				payout = 100 * p.NoVolume
			}
			if payout > 0 {
				acc, cErr := tx.Accounts().CreditAvailable(ctx, p.UserID, payout)
				if cErr != nil {
					return engineerr.Internal(cErr)
				}
				if _, lErr := tx.Ledger().Append(ctx, &domain.LedgerEntry{
					UserID: p.UserID, EntryType: domain.LedgerSettlementPayout, AmountCents: payout,
					BalanceAfterCents: acc.AvailableBalance, ReferenceType: "MARKET", ReferenceID: marketID,
				}); lErr != nil {
					return engineerr.Internal(lErr)
				}
			}
			if zErr := tx.Positions().ZeroOut(ctx, p.UserID, marketID); zErr != nil {
				return engineerr.Internal(zErr)
			}
		}

		now := time.Now()
		m.Status = domain.MarketSettled
		m.ResolutionResult = outcome
		m.ResolvedAt = &now
		m.SettledAt = &now
		m.ReserveBalance = 0
		m.PnlPool = 0
		m.TotalYesShares = 0
		m.TotalNoShares = 0
		if uErr := tx.Markets().Update(ctx, m); uErr != nil {
			return engineerr.Internal(uErr)
		}

		if vErr := invariant.VerifyGlobal(ctx, tx); vErr != nil {
			log.Invariant(marketID, "post-settlement invariant failed", "error", vErr)
			if e.Metrics != nil {
				e.Metrics.InvariantFailures.WithLabelValues(marketID, "global").Inc()
			}
			return engineerr.Invariant(vErr.Error())
		}
		return nil
	})
	if txErr != nil {
		me.evict()
		return txErr
	}
	me.evict() // settled market no longer takes new orders; drop the cache
	return nil
}
