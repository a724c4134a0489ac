// Package clearing implements the four clearing handlers (C10): leaf
// functions that mutate accounts, positions, and the market aggregates so
// the invariants of spec.md §3 hold after every trade. Handlers never call
// back into the matcher or engine (spec.md §9) — they take a mutable
// market-aggregates view and a persistence port and return realised pnl
// deltas. Grounded on
// original_source/pm_clearing/domain/scenarios/{mint,transfer_yes,transfer_no,burn}.py,
// with one correction: the source decrements pnl_pool by a closing
// position's realised gain (`pnl_pool -= proceeds - cost_released`), which
// breaks P6 (reserve + pnl_pool == Σ cost_sum) the moment a transfer or
// burn realises nonzero pnl — cost_sum falls by cost_released while
// reserve is untouched, so pnl_pool must absorb the same delta, not its
// negation. This port credits pnl_pool with the realised gain instead.
package clearing

import (
	"context"
	"fmt"

	"github.com/openalpha/predictx/internal/domain"
	"github.com/openalpha/predictx/internal/money"
	"github.com/openalpha/predictx/internal/scenario"
	"github.com/openalpha/predictx/internal/store"
)

// Result carries the clearing outcome of a single fill.
type Result struct {
	Scenario          domain.Scenario
	BuyerRealizedPnl  *int64
	SellerRealizedPnl *int64
}

// Dispatch classifies the fill and routes it to the matching handler,
// mutating m (market aggregates), the buyer/seller accounts and
// positions, and appending ledger entries, all within tx.
func Dispatch(ctx context.Context, tx store.Tx, m *domain.Market, fill domain.Fill) (Result, error) {
	sc, err := scenario.Classify(fill.BuyBookType, fill.SellBookType)
	if err != nil {
		return Result{}, err
	}
	switch sc {
	case domain.ScenarioMint:
		if err := mint(ctx, tx, m, fill); err != nil {
			return Result{}, err
		}
		return Result{Scenario: sc}, nil
	case domain.ScenarioTransferYes:
		pnl, err := transferYes(ctx, tx, m, fill)
		if err != nil {
			return Result{}, err
		}
		return Result{Scenario: sc, SellerRealizedPnl: &pnl}, nil
	case domain.ScenarioTransferNo:
		pnl, err := transferNo(ctx, tx, m, fill)
		if err != nil {
			return Result{}, err
		}
		return Result{Scenario: sc, BuyerRealizedPnl: &pnl}, nil
	case domain.ScenarioBurn:
		buyerPnl, sellerPnl, err := burn(ctx, tx, m, fill)
		if err != nil {
			return Result{}, err
		}
		return Result{Scenario: sc, BuyerRealizedPnl: &buyerPnl, SellerRealizedPnl: &sellerPnl}, nil
	default:
		return Result{}, fmt.Errorf("clearing: unhandled scenario %s", sc)
	}
}

func appendLedger(ctx context.Context, tx store.Tx, userID string, t domain.LedgerEntryType, amount, balanceAfter int64, refType, refID string) error {
	_, err := tx.Ledger().Append(ctx, &domain.LedgerEntry{
		UserID:            userID,
		EntryType:         t,
		AmountCents:       amount,
		BalanceAfterCents: balanceAfter,
		ReferenceType:     refType,
		ReferenceID:       refID,
	})
	return err
}

// mint: one fresh YES share and one fresh NO share come into existence.
func mint(ctx context.Context, tx store.Tx, m *domain.Market, fill domain.Fill) error {
	p := int64(fill.PriceCents)
	q := int64(fill.Quantity)
	pbar := 100 - p

	buyerCost := p * q
	buyerAcc, err := tx.Accounts().DebitFrozen(ctx, fill.BuyUserID, buyerCost)
	if err != nil {
		return err
	}
	if err := appendLedger(ctx, tx, fill.BuyUserID, domain.LedgerMintCost, -buyerCost, buyerAcc.AvailableBalance, "TRADE", fill.BuyOrderID); err != nil {
		return err
	}
	if _, err := tx.Positions().ApplyYesDelta(ctx, fill.BuyUserID, m.ID, q, buyerCost, 0); err != nil {
		return err
	}

	sellerCost := pbar * q
	sellerAcc, err := tx.Accounts().DebitFrozen(ctx, fill.SellUserID, sellerCost)
	if err != nil {
		return err
	}
	if err := appendLedger(ctx, tx, fill.SellUserID, domain.LedgerMintCost, -sellerCost, sellerAcc.AvailableBalance, "TRADE", fill.SellOrderID); err != nil {
		return err
	}
	if _, err := tx.Positions().ApplyNoDelta(ctx, fill.SellUserID, m.ID, q, sellerCost, 0); err != nil {
		return err
	}

	if err := appendLedger(ctx, tx, domain.SystemLedgerUserID, domain.LedgerMintReserveIn, 100*q, 0, "TRADE", fill.BuyOrderID); err != nil {
		return err
	}

	m.ReserveBalance += 100 * q
	m.TotalYesShares += q
	m.TotalNoShares += q
	return nil
}

// transferYes: existing YES shares change hands between a NATIVE_BUY buyer
// and a NATIVE_SELL seller.
func transferYes(ctx context.Context, tx store.Tx, m *domain.Market, fill domain.Fill) (int64, error) {
	p := int64(fill.PriceCents)
	q := int64(fill.Quantity)

	buyerCost := p * q
	buyerAcc, err := tx.Accounts().DebitFrozen(ctx, fill.BuyUserID, buyerCost)
	if err != nil {
		return 0, err
	}
	if err := appendLedger(ctx, tx, fill.BuyUserID, domain.LedgerTransferPayment, -buyerCost, buyerAcc.AvailableBalance, "TRADE", fill.BuyOrderID); err != nil {
		return 0, err
	}
	if _, err := tx.Positions().ApplyYesDelta(ctx, fill.BuyUserID, m.ID, q, buyerCost, 0); err != nil {
		return 0, err
	}

	sellerPos, err := tx.Positions().Get(ctx, fill.SellUserID, m.ID)
	if err != nil {
		return 0, err
	}
	released := money.ReleaseProportional(sellerPos.YesCostSum, q, sellerPos.YesVolume)
	if _, err := tx.Positions().ApplyYesDelta(ctx, fill.SellUserID, m.ID, -q, -released, -q); err != nil {
		return 0, err
	}
	proceeds := p * q
	sellerAcc, err := tx.Accounts().CreditAvailable(ctx, fill.SellUserID, proceeds)
	if err != nil {
		return 0, err
	}
	if err := appendLedger(ctx, tx, fill.SellUserID, domain.LedgerTransferReceipt, proceeds, sellerAcc.AvailableBalance, "TRADE", fill.SellOrderID); err != nil {
		return 0, err
	}

	sellerPnl := proceeds - released
	m.PnlPool += sellerPnl
	return sellerPnl, nil
}

// transferNo is the NO-share analogue of transferYes: SYNTHETIC_BUY is the
// NO-seller whose position closes, SYNTHETIC_SELL is the NO-buyer.
func transferNo(ctx context.Context, tx store.Tx, m *domain.Market, fill domain.Fill) (int64, error) {
	pbar := int64(100 - fill.PriceCents)
	q := int64(fill.Quantity)

	// fill.SellUserID (SYNTHETIC_SELL) is the NO-buyer, paying cost.
	noBuyerCost := pbar * q
	noBuyerAcc, err := tx.Accounts().DebitFrozen(ctx, fill.SellUserID, noBuyerCost)
	if err != nil {
		return 0, err
	}
	if err := appendLedger(ctx, tx, fill.SellUserID, domain.LedgerTransferPayment, -noBuyerCost, noBuyerAcc.AvailableBalance, "TRADE", fill.SellOrderID); err != nil {
		return 0, err
	}
	if _, err := tx.Positions().ApplyNoDelta(ctx, fill.SellUserID, m.ID, q, noBuyerCost, 0); err != nil {
		return 0, err
	}

	// fill.BuyUserID (SYNTHETIC_BUY) is the NO-seller, whose position closes.
	noSellerPos, err := tx.Positions().Get(ctx, fill.BuyUserID, m.ID)
	if err != nil {
		return 0, err
	}
	released := money.ReleaseProportional(noSellerPos.NoCostSum, q, noSellerPos.NoVolume)
	if _, err := tx.Positions().ApplyNoDelta(ctx, fill.BuyUserID, m.ID, -q, -released, -q); err != nil {
		return 0, err
	}
	proceeds := pbar * q
	noSellerAcc, err := tx.Accounts().CreditAvailable(ctx, fill.BuyUserID, proceeds)
	if err != nil {
		return 0, err
	}
	if err := appendLedger(ctx, tx, fill.BuyUserID, domain.LedgerTransferReceipt, proceeds, noSellerAcc.AvailableBalance, "TRADE", fill.BuyOrderID); err != nil {
		return 0, err
	}

	noSellerPnl := proceeds - released
	m.PnlPool += noSellerPnl
	return noSellerPnl, nil
}

// burn destroys a YES+NO pair, redeeming 100 cents per pair from reserve.
// fill.BuyUserID (SYNTHETIC_BUY) is the NO-seller; fill.SellUserID
// (NATIVE_SELL) is the YES-seller.
func burn(ctx context.Context, tx store.Tx, m *domain.Market, fill domain.Fill) (buyerPnl, sellerPnl int64, err error) {
	p := int64(fill.PriceCents)
	pbar := 100 - p
	q := int64(fill.Quantity)

	noSellerPos, err := tx.Positions().Get(ctx, fill.BuyUserID, m.ID)
	if err != nil {
		return 0, 0, err
	}
	noReleased := money.ReleaseProportional(noSellerPos.NoCostSum, q, noSellerPos.NoVolume)
	if _, err = tx.Positions().ApplyNoDelta(ctx, fill.BuyUserID, m.ID, -q, -noReleased, -q); err != nil {
		return 0, 0, err
	}
	noProceeds := pbar * q
	noSellerAcc, err := tx.Accounts().CreditAvailable(ctx, fill.BuyUserID, noProceeds)
	if err != nil {
		return 0, 0, err
	}
	if err = appendLedger(ctx, tx, fill.BuyUserID, domain.LedgerBurnRevenue, noProceeds, noSellerAcc.AvailableBalance, "TRADE", fill.BuyOrderID); err != nil {
		return 0, 0, err
	}
	buyerPnl = noProceeds - noReleased

	yesSellerPos, err := tx.Positions().Get(ctx, fill.SellUserID, m.ID)
	if err != nil {
		return 0, 0, err
	}
	yesReleased := money.ReleaseProportional(yesSellerPos.YesCostSum, q, yesSellerPos.YesVolume)
	if _, err = tx.Positions().ApplyYesDelta(ctx, fill.SellUserID, m.ID, -q, -yesReleased, -q); err != nil {
		return 0, 0, err
	}
	yesProceeds := p * q
	yesSellerAcc, err := tx.Accounts().CreditAvailable(ctx, fill.SellUserID, yesProceeds)
	if err != nil {
		return 0, 0, err
	}
	if err = appendLedger(ctx, tx, fill.SellUserID, domain.LedgerBurnRevenue, yesProceeds, yesSellerAcc.AvailableBalance, "TRADE", fill.SellOrderID); err != nil {
		return 0, 0, err
	}
	sellerPnl = yesProceeds - yesReleased

	if err = appendLedger(ctx, tx, domain.SystemLedgerUserID, domain.LedgerBurnReserveOut, -100*q, 0, "TRADE", fill.SellOrderID); err != nil {
		return 0, 0, err
	}

	m.ReserveBalance -= 100 * q
	m.TotalYesShares -= q
	m.TotalNoShares -= q
	m.PnlPool += buyerPnl + sellerPnl
	return buyerPnl, sellerPnl, nil
}
