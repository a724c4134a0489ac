// Package fee implements the taker-fee collector (C11): it identifies the
// fee base from the taker's book_type, computes the ceiling-division fee,
// and deducts it either from the taker's pre-frozen funds buffer (with a
// refund of the unused max-fee headroom) or directly from available
// balance, always crediting the platform-fee account. Maker fee is zero
// by design (spec.md §9 open question — the source never charges it).
// Grounded on original_source/pm_clearing/infrastructure/fee_collector.py.
package fee

import (
	"context"

	"github.com/openalpha/predictx/internal/domain"
	"github.com/openalpha/predictx/internal/money"
	"github.com/openalpha/predictx/internal/store"
)

// Base returns the fee base (cents) for a fill given the taker's book_type.
func Base(f domain.Fill) int64 {
	p := int64(f.PriceCents)
	q := int64(f.Quantity)
	switch f.TakerBookType {
	case domain.BookSyntheticSell:
		return int64(f.TakerOriginalPriceCents) * q
	case domain.BookSyntheticBuy:
		return (100 - p) * q
	default: // NATIVE_BUY, NATIVE_SELL
		return p * q
	}
}

// MaxFee returns the worst-case fee the risk gate froze for this taker's
// book_type, given its freeze price and quantity at placement time.
func MaxFee(freezePriceCents int32, qty int32, takerFeeBps int32) int64 {
	return money.Fee(int64(freezePriceCents)*int64(qty), takerFeeBps)
}

// Collect deducts the actual taker fee for fill from the taker's account
// and credits the platform-fee account. takerFrozePrefunded indicates whether
// the taker's asset was FUNDS (NATIVE_BUY/SYNTHETIC_SELL) pre-frozen with
// a fee buffer, vs. proceeds-funded (NATIVE_SELL/SYNTHETIC_BUY).
func Collect(ctx context.Context, tx store.Tx, m *domain.Market, f domain.Fill, takerFrozePrefunded bool, maxFeeCents int64) (actualFeeCents int64, err error) {
	base := Base(f)
	actualFeeCents = money.Fee(base, m.TakerFeeBps)
	if actualFeeCents == 0 {
		return 0, nil
	}

	if takerFrozePrefunded {
		if _, err = tx.Accounts().DebitFrozen(ctx, f.TakerUserID, actualFeeCents); err != nil {
			return 0, err
		}
		refund := maxFeeCents - actualFeeCents
		if refund > 0 {
			if _, err = tx.Accounts().UnfreezeFunds(ctx, f.TakerUserID, refund); err != nil {
				return 0, err
			}
		}
	} else {
		if _, err = tx.Accounts().DebitAvailable(ctx, f.TakerUserID, actualFeeCents); err != nil {
			return 0, err
		}
	}

	platformAcc, err := tx.Accounts().CreditAvailable(ctx, domain.PlatformFeeUserID, actualFeeCents)
	if err != nil {
		return 0, err
	}
	if _, err = tx.Ledger().Append(ctx, &domain.LedgerEntry{
		UserID:            f.TakerUserID,
		EntryType:         domain.LedgerFee,
		AmountCents:       -actualFeeCents,
		BalanceAfterCents: 0,
		ReferenceType:     "TRADE",
		ReferenceID:       f.TakerOrderID,
	}); err != nil {
		return 0, err
	}
	if _, err = tx.Ledger().Append(ctx, &domain.LedgerEntry{
		UserID:            domain.PlatformFeeUserID,
		EntryType:         domain.LedgerFeeRevenue,
		AmountCents:       actualFeeCents,
		BalanceAfterCents: platformAcc.AvailableBalance,
		ReferenceType:     "TRADE",
		ReferenceID:       f.TakerOrderID,
	}); err != nil {
		return 0, err
	}
	return actualFeeCents, nil
}
