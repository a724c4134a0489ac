package clearing

import (
	"context"
	"testing"

	"github.com/openalpha/predictx/internal/domain"
	"github.com/openalpha/predictx/internal/invariant"
	"github.com/openalpha/predictx/internal/store"
	"github.com/openalpha/predictx/internal/store/memstore"
)

const testMarketID = "mkt-1"

func newTestStore(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	s.SeedMarket(&domain.Market{ID: testMarketID, Status: domain.MarketActive})
	return s
}

func fund(t *testing.T, ctx context.Context, s *memstore.Store, userID string, amt int64) {
	t.Helper()
	if err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Accounts().Deposit(ctx, userID, amt)
		return err
	}); err != nil {
		t.Fatal(err)
	}
}

func freeze(t *testing.T, ctx context.Context, s *memstore.Store, userID string, amt int64) {
	t.Helper()
	if err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Accounts().FreezeFunds(ctx, userID, amt)
		return err
	}); err != nil {
		t.Fatal(err)
	}
}

// TestMint_PreservesInvariants exercises a fresh MINT and checks P4/P5/P6
// (INV-1/2/3) hold on the resulting market and position state.
func TestMint_PreservesInvariants(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	fund(t, ctx, s, "A", 10_000_00)
	fund(t, ctx, s, "B", 10_000_00)
	freeze(t, ctx, s, "A", 325)
	freeze(t, ctx, s, "B", 175)

	fill := domain.Fill{
		BuyUserID: "A", SellUserID: "B",
		BuyBookType: domain.BookNativeBuy, SellBookType: domain.BookSyntheticSell,
		PriceCents: 65, Quantity: 5,
	}

	var m *domain.Market
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var gErr error
		m, gErr = tx.Markets().Get(ctx, testMarketID)
		if gErr != nil {
			return gErr
		}
		if _, dErr := Dispatch(ctx, tx, m, fill); dErr != nil {
			return dErr
		}
		if uErr := tx.Markets().Update(ctx, m); uErr != nil {
			return uErr
		}
		return invariant.VerifyAfterTrade(ctx, tx, m)
	})
	if err != nil {
		t.Fatalf("mint + invariant check: %v", err)
	}
	if m.ReserveBalance != 500 || m.TotalYesShares != 5 || m.TotalNoShares != 5 {
		t.Errorf("market aggregates = %+v, want reserve=500 shares=5/5", m)
	}
}

// TestTransferYes_CreditsPnlPoolWithRealisedGain is the regression test
// for the pnl_pool sign: a closing position's gain must be added to
// pnl_pool, not subtracted, or reserve+pnl_pool drifts away from the
// market's total cost basis.
func TestTransferYes_CreditsPnlPoolWithRealisedGain(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	fund(t, ctx, s, "A", 10_000_00)
	fund(t, ctx, s, "B", 10_000_00)
	fund(t, ctx, s, "ghost", 10_000_00)
	freeze(t, ctx, s, "A", 600)

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Accounts().DebitAvailable(ctx, "B", 400); err != nil {
			return err
		}
		if _, err := tx.Accounts().DebitAvailable(ctx, "ghost", 600); err != nil {
			return err
		}
		if _, err := tx.Positions().ApplyYesDelta(ctx, "B", testMarketID, 10, 400, 10); err != nil {
			return err
		}
		if _, err := tx.Positions().ApplyNoDelta(ctx, "ghost", testMarketID, 10, 600, 0); err != nil {
			return err
		}
		m, err := tx.Markets().Get(ctx, testMarketID)
		if err != nil {
			return err
		}
		m.ReserveBalance = 1000
		m.TotalYesShares = 10
		m.TotalNoShares = 10
		return tx.Markets().Update(ctx, m)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	fill := domain.Fill{
		BuyUserID: "A", SellUserID: "B",
		BuyBookType: domain.BookNativeBuy, SellBookType: domain.BookNativeSell,
		PriceCents: 60, Quantity: 10,
	}

	var m *domain.Market
	var res Result
	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var gErr error
		m, gErr = tx.Markets().Get(ctx, testMarketID)
		if gErr != nil {
			return gErr
		}
		res, gErr = Dispatch(ctx, tx, m, fill)
		if gErr != nil {
			return gErr
		}
		if uErr := tx.Markets().Update(ctx, m); uErr != nil {
			return uErr
		}
		return invariant.VerifyAfterTrade(ctx, tx, m)
	})
	if err != nil {
		t.Fatalf("transfer + invariant check: %v", err)
	}
	if res.SellerRealizedPnl == nil || *res.SellerRealizedPnl != 200 {
		t.Errorf("seller pnl = %v, want 200", res.SellerRealizedPnl)
	}
	if m.PnlPool != 200 {
		t.Errorf("pnl_pool = %d, want 200 (credited, not debited)", m.PnlPool)
	}
}

// TestBurn_PreservesInvariantsWithNonzeroPnl mirrors the transfer test for
// burn, where both legs of the pair can realise pnl independently.
func TestBurn_PreservesInvariantsWithNonzeroPnl(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	fund(t, ctx, s, "A", 10_000_00)
	fund(t, ctx, s, "B", 10_000_00)

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Accounts().DebitAvailable(ctx, "A", 325); err != nil {
			return err
		}
		if _, err := tx.Accounts().DebitAvailable(ctx, "B", 175); err != nil {
			return err
		}
		if _, err := tx.Positions().ApplyYesDelta(ctx, "A", testMarketID, 5, 325, 5); err != nil {
			return err
		}
		if _, err := tx.Positions().ApplyNoDelta(ctx, "B", testMarketID, 5, 175, 5); err != nil {
			return err
		}
		m, err := tx.Markets().Get(ctx, testMarketID)
		if err != nil {
			return err
		}
		m.ReserveBalance = 500
		m.TotalYesShares = 5
		m.TotalNoShares = 5
		return tx.Markets().Update(ctx, m)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	fill := domain.Fill{
		BuyUserID: "B", SellUserID: "A",
		BuyBookType: domain.BookSyntheticBuy, SellBookType: domain.BookNativeSell,
		PriceCents: 70, Quantity: 5,
	}

	var m *domain.Market
	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var gErr error
		m, gErr = tx.Markets().Get(ctx, testMarketID)
		if gErr != nil {
			return gErr
		}
		if _, gErr = Dispatch(ctx, tx, m, fill); gErr != nil {
			return gErr
		}
		if uErr := tx.Markets().Update(ctx, m); uErr != nil {
			return uErr
		}
		return invariant.VerifyAfterTrade(ctx, tx, m)
	})
	if err != nil {
		t.Fatalf("burn + invariant check: %v", err)
	}
	if m.ReserveBalance != 0 || m.TotalYesShares != 0 || m.TotalNoShares != 0 {
		t.Errorf("market after burn = %+v, want all-zero", m)
	}
	if m.PnlPool != 0 {
		t.Errorf("pnl_pool = %d, want 0 (the two legs' realised pnls cancel)", m.PnlPool)
	}
}
