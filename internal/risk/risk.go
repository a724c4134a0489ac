// Package risk implements the risk gate (C6): sequential, fail-fast
// checks on market status, price range, and quantity limits, followed by
// freezing the correct asset for the order's book_type. Grounded on
// original_source/pm_risk/rules/balance_check.py (check_and_freeze,
// _calc_max_fee) and spec.md §4.6.
package risk

import (
	"context"

	"github.com/openalpha/predictx/internal/domain"
	"github.com/openalpha/predictx/internal/engineerr"
	"github.com/openalpha/predictx/internal/money"
	"github.com/openalpha/predictx/internal/store"
	"github.com/openalpha/predictx/internal/transform"
)

const maxQuantity = 100_000

// Outcome is the result of a successful risk check: the transformed book
// view plus what got frozen.
type Outcome struct {
	Transform       transform.Result
	FrozenAmount    int64
	FrozenAssetType domain.FrozenAssetType
}

// Gate runs the sequential risk checks and freezes the correct asset,
// returning engineerr.Err* on any failure.
func Gate(ctx context.Context, tx store.Tx, m *domain.Market, userID string, side domain.Side, direction domain.Direction, priceCents, quantity int32) (Outcome, error) {
	if m.Status != domain.MarketActive {
		return Outcome{}, engineerr.ErrMarketNotActive
	}
	minP, maxP := m.PriceBounds()
	if priceCents < minP || priceCents > maxP {
		return Outcome{}, engineerr.ErrPriceOutOfRange
	}
	if quantity < 1 || quantity > maxQuantity {
		return Outcome{}, engineerr.ErrOrderLimitExceeded
	}
	if m.MaxOrderQuantity > 0 && quantity > m.MaxOrderQuantity {
		return Outcome{}, engineerr.ErrOrderLimitExceeded
	}

	res := transform.Transform(side, direction, priceCents)

	switch res.BookType {
	case domain.BookNativeBuy, domain.BookSyntheticSell:
		freezePrice := res.BookPriceCents
		if res.BookType == domain.BookSyntheticSell {
			freezePrice = priceCents // the original NO price
		}
		value := int64(freezePrice) * int64(quantity)
		if m.MaxOrderAmountCents > 0 && value > m.MaxOrderAmountCents {
			return Outcome{}, engineerr.ErrOrderLimitExceeded
		}
		feeBuffer := money.Fee(value, m.TakerFeeBps)
		frozen := value + feeBuffer
		acc, err := tx.Accounts().FreezeFunds(ctx, userID, frozen)
		if err != nil {
			if err == store.ErrGuardFailed {
				return Outcome{}, engineerr.ErrInsufficientBalance
			}
			return Outcome{}, engineerr.Internal(err)
		}
		if _, err := tx.Ledger().Append(ctx, &domain.LedgerEntry{
			UserID:            userID,
			EntryType:         domain.LedgerOrderFreeze,
			AmountCents:       -frozen,
			BalanceAfterCents: acc.AvailableBalance,
			ReferenceType:     "ORDER",
		}); err != nil {
			return Outcome{}, engineerr.Internal(err)
		}
		return Outcome{Transform: res, FrozenAmount: frozen, FrozenAssetType: domain.FrozenFunds}, nil

	case domain.BookNativeSell:
		if _, err := tx.Positions().FreezeYes(ctx, userID, m.ID, int64(quantity)); err != nil {
			if err == store.ErrGuardFailed {
				return Outcome{}, engineerr.ErrInsufficientPosition
			}
			return Outcome{}, engineerr.Internal(err)
		}
		return Outcome{Transform: res, FrozenAmount: int64(quantity), FrozenAssetType: domain.FrozenYesShares}, nil

	default: // BookSyntheticBuy
		if _, err := tx.Positions().FreezeNo(ctx, userID, m.ID, int64(quantity)); err != nil {
			if err == store.ErrGuardFailed {
				return Outcome{}, engineerr.ErrInsufficientPosition
			}
			return Outcome{}, engineerr.Internal(err)
		}
		return Outcome{Transform: res, FrozenAmount: int64(quantity), FrozenAssetType: domain.FrozenNoShares}, nil
	}
}

// Unfreeze releases whatever Gate froze — used on cancel/IOC-expire/
// replace-reject paths.
func Unfreeze(ctx context.Context, tx store.Tx, userID, marketID string, assetType domain.FrozenAssetType, amount int64) error {
	switch assetType {
	case domain.FrozenFunds:
		acc, err := tx.Accounts().UnfreezeFunds(ctx, userID, amount)
		if err != nil {
			return engineerr.Internal(err)
		}
		_, err = tx.Ledger().Append(ctx, &domain.LedgerEntry{
			UserID:            userID,
			EntryType:         domain.LedgerOrderUnfreeze,
			AmountCents:       amount,
			BalanceAfterCents: acc.AvailableBalance,
			ReferenceType:     "ORDER",
		})
		return err
	case domain.FrozenYesShares:
		_, err := tx.Positions().UnfreezeYes(ctx, userID, marketID, amount)
		return err
	case domain.FrozenNoShares:
		_, err := tx.Positions().UnfreezeNo(ctx, userID, marketID, amount)
		return err
	default:
		return nil
	}
}
