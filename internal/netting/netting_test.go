package netting

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

// TestExecute_NetsOpposingHoldingsAndPreservesShareSymmetry is the
// regression test for the share-count fix: a user holding both YES and
// NO from an earlier mint gets netted to zero, and total_yes_shares /
// total_no_shares must fall with it, or reserve_balance (which also
// drops) stops matching 100*total_yes_shares.
func TestExecute_NetsOpposingHoldingsAndPreservesShareSymmetry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Accounts().Deposit(ctx, "A", 10_000_00); err != nil {
			return err
		}
		if _, err := tx.Accounts().DebitAvailable(ctx, "A", 325); err != nil {
			return err
		}
		if _, err := tx.Accounts().DebitAvailable(ctx, "A", 175); err != nil {
			return err
		}
		if _, err := tx.Positions().ApplyYesDelta(ctx, "A", testMarketID, 5, 325, 0); err != nil {
			return err
		}
		if _, err := tx.Positions().ApplyNoDelta(ctx, "A", testMarketID, 5, 175, 0); err != nil {
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

	var nettedQty int64
	var m *domain.Market
	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var gErr error
		m, gErr = tx.Markets().Get(ctx, testMarketID)
		if gErr != nil {
			return gErr
		}
		nettedQty, gErr = Execute(ctx, tx, m, "A")
		if gErr != nil {
			return gErr
		}
		if uErr := tx.Markets().Update(ctx, m); uErr != nil {
			return uErr
		}
		return invariant.VerifyAfterTrade(ctx, tx, m)
	})
	if err != nil {
		t.Fatalf("netting + invariant check: %v", err)
	}
	if nettedQty != 5 {
		t.Errorf("netted qty = %d, want 5", nettedQty)
	}
	if m.ReserveBalance != 0 || m.TotalYesShares != 0 || m.TotalNoShares != 0 {
		t.Errorf("market after netting = %+v, want all-zero", m)
	}

	pos, err := func() (*domain.Position, error) {
		var p *domain.Position
		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var gErr error
			p, gErr = tx.Positions().GetOrCreate(ctx, "A", testMarketID)
			return gErr
		})
		return p, err
	}()
	if err != nil {
		t.Fatal(err)
	}
	if pos.YesVolume != 0 || pos.NoVolume != 0 {
		t.Errorf("A's position after netting = %+v, want all-zero", pos)
	}
}

// TestExecute_NoOpWithoutOpposingHolding checks the guard: a position
// with only one side never nets.
func TestExecute_NoOpWithoutOpposingHolding(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Accounts().Deposit(ctx, "A", 10_000_00); err != nil {
			return err
		}
		if _, err := tx.Accounts().DebitAvailable(ctx, "A", 325); err != nil {
			return err
		}
		_, err := tx.Positions().ApplyYesDelta(ctx, "A", testMarketID, 5, 325, 0)
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var nettedQty int64
	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, gErr := tx.Markets().Get(ctx, testMarketID)
		if gErr != nil {
			return gErr
		}
		nettedQty, gErr = Execute(ctx, tx, m, "A")
		return gErr
	})
	if err != nil {
		t.Fatalf("netting: %v", err)
	}
	if nettedQty != 0 {
		t.Errorf("netted qty = %d, want 0", nettedQty)
	}
}

// TestExecute_SkipsAutoNettingDisabledAccount checks the AMM-style opt-out.
func TestExecute_SkipsAutoNettingDisabledAccount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Accounts().Deposit(ctx, "AMM", 10_000_00); err != nil {
			return err
		}
		acc, err := tx.Accounts().GetOrCreate(ctx, "AMM")
		if err != nil {
			return err
		}
		acc.AutoNettingEnabled = false
		if _, err := tx.Accounts().DebitAvailable(ctx, "AMM", 500); err != nil {
			return err
		}
		if _, err := tx.Positions().ApplyYesDelta(ctx, "AMM", testMarketID, 5, 250, 0); err != nil {
			return err
		}
		_, err = tx.Positions().ApplyNoDelta(ctx, "AMM", testMarketID, 5, 250, 0)
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var nettedQty int64
	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, gErr := tx.Markets().Get(ctx, testMarketID)
		if gErr != nil {
			return gErr
		}
		nettedQty, gErr = Execute(ctx, tx, m, "AMM")
		return gErr
	})
	if err != nil {
		t.Fatalf("netting: %v", err)
	}
	if nettedQty != 0 {
		t.Errorf("netted qty = %d, want 0 (auto-netting disabled)", nettedQty)
	}
}
