package engine

import (
	"context"
	"testing"

	"github.com/openalpha/predictx/internal/domain"
	"github.com/openalpha/predictx/internal/match"
	"github.com/openalpha/predictx/internal/obsmetrics"
	"github.com/openalpha/predictx/internal/store"
	"github.com/openalpha/predictx/internal/store/memstore"
)

const testMarketID = "mkt-1"

func newTestEngine(t *testing.T, exempt ...string) (*Engine, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	s.SeedMarket(&domain.Market{
		ID:           testMarketID,
		Status:       domain.MarketActive,
		TakerFeeBps:  20,
		MakerFeeBps:  10,
	})
	e := New(s, obsmetrics.Noop(), match.NewExemptSet(exempt...))
	return e, s
}

func fund(t *testing.T, ctx context.Context, s *memstore.Store, userID string, amountCents int64) {
	t.Helper()
	if err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Accounts().Deposit(ctx, userID, amountCents)
		return err
	}); err != nil {
		t.Fatalf("fund %s: %v", userID, err)
	}
}

func place(t *testing.T, ctx context.Context, e *Engine, req PlaceOrderRequest) *PlaceOrderResult {
	t.Helper()
	res, err := e.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("PlaceOrder(%+v): %v", req, err)
	}
	return res
}

// S1 — GTC rest: a lone bid with no opposing asks rests in full, with the
// expected frozen amount and ledger entry.
func TestPlaceOrder_GTCRest(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	fund(t, ctx, s, "A", 10_000_00)

	res := place(t, ctx, e, PlaceOrderRequest{
		UserID: "A", MarketID: testMarketID,
		Side: domain.SideYes, Direction: domain.DirectionBuy,
		PriceCents: 40, Quantity: 5, TimeInForce: domain.TimeInForceGTC,
	})

	if res.Order.Status != domain.OrderOpen {
		t.Errorf("status = %v, want OPEN", res.Order.Status)
	}
	if res.Order.RemainingQuantity != 5 || res.Order.FilledQuantity != 0 {
		t.Errorf("remaining/filled = %d/%d, want 5/0", res.Order.RemainingQuantity, res.Order.FilledQuantity)
	}
	wantFrozen := int64(40*5) + 1 // 200 + ceil(40*5*20/10000) = 200 + ceil(0.4) = 201
	if res.Order.FrozenAmount != wantFrozen {
		t.Errorf("frozen = %d, want %d", res.Order.FrozenAmount, wantFrozen)
	}

	acc, err := accountOf(ctx, s, "A")
	if err != nil {
		t.Fatal(err)
	}
	if acc.FrozenBalance != 201 {
		t.Errorf("account frozen = %d, want 201", acc.FrozenBalance)
	}
	if acc.AvailableBalance != 10_000_00-201 {
		t.Errorf("account available = %d, want %d", acc.AvailableBalance, 10_000_00-201)
	}
}

// S2 — IOC immediate cancel: an IOC order against an empty book cancels
// with the freeze fully restored.
func TestPlaceOrder_IOCNoLiquidityCancels(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	fund(t, ctx, s, "A", 10_000_00)

	res := place(t, ctx, e, PlaceOrderRequest{
		UserID: "A", MarketID: testMarketID,
		Side: domain.SideYes, Direction: domain.DirectionBuy,
		PriceCents: 1, Quantity: 3, TimeInForce: domain.TimeInForceIOC,
	})
	if res.Order.Status != domain.OrderCancelled {
		t.Errorf("status = %v, want CANCELLED", res.Order.Status)
	}
	if len(res.Trades) != 0 {
		t.Errorf("trades = %d, want 0", len(res.Trades))
	}
	acc, err := accountOf(ctx, s, "A")
	if err != nil {
		t.Fatal(err)
	}
	if acc.AvailableBalance != 10_000_00 || acc.FrozenBalance != 0 {
		t.Errorf("balance not fully restored: available=%d frozen=%d", acc.AvailableBalance, acc.FrozenBalance)
	}
}

// S3 — MINT fill: opposing NATIVE_BUY/SYNTHETIC_SELL orders at the same
// book price create a fresh YES+NO pair.
func TestPlaceOrder_MintFill(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	fund(t, ctx, s, "A", 10_000_00)
	fund(t, ctx, s, "B", 10_000_00)

	place(t, ctx, e, PlaceOrderRequest{
		UserID: "A", MarketID: testMarketID,
		Side: domain.SideYes, Direction: domain.DirectionBuy,
		PriceCents: 65, Quantity: 5, TimeInForce: domain.TimeInForceGTC,
	})
	res := place(t, ctx, e, PlaceOrderRequest{
		UserID: "B", MarketID: testMarketID,
		Side: domain.SideNo, Direction: domain.DirectionBuy,
		PriceCents: 35, Quantity: 5, TimeInForce: domain.TimeInForceGTC,
	})

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Scenario != domain.ScenarioMint || tr.PriceCents != 65 || tr.Quantity != 5 {
		t.Errorf("trade = %+v, want MINT @65 x5", tr)
	}

	posA := positionOf(ctx, t, s, "A")
	posB := positionOf(ctx, t, s, "B")
	if posA.YesVolume != 5 || posA.YesCostSum != 325 {
		t.Errorf("A's YES position = %+v, want volume=5 cost=325", posA)
	}
	if posB.NoVolume != 5 || posB.NoCostSum != 175 {
		t.Errorf("B's NO position = %+v, want volume=5 cost=175", posB)
	}

	m := marketOf(ctx, t, s)
	if m.ReserveBalance != 500 || m.TotalYesShares != 5 || m.TotalNoShares != 5 {
		t.Errorf("market aggregates = %+v, want reserve=500 shares=5/5", m)
	}
}

// S4 — TRANSFER_YES with price improvement: the taker crosses at the
// maker's resting price, not its own limit.
func TestPlaceOrder_TransferYesPriceImprovement(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	fund(t, ctx, s, "A", 10_000_00)
	fund(t, ctx, s, "B", 10_000_00)
	fund(t, ctx, s, "ghost", 10_000_00)

	// Seed B with 10 YES shares at cost 400, below the 600 it sells for, so
	// the realised pnl this fill produces is nonzero and checkable. A ghost
	// holder takes the other 10 NO shares those 10 YES were minted against,
	// so the market's reserve/share aggregates are self-consistent before
	// the fill (every YES share outstanding has a NO counterpart somewhere).
	seedMint(t, ctx, s, testMarketID, "B", "ghost", 10, 400, 600)

	place(t, ctx, e, PlaceOrderRequest{
		UserID: "B", MarketID: testMarketID,
		Side: domain.SideYes, Direction: domain.DirectionSell,
		PriceCents: 60, Quantity: 10, TimeInForce: domain.TimeInForceGTC,
	})
	res := place(t, ctx, e, PlaceOrderRequest{
		UserID: "A", MarketID: testMarketID,
		Side: domain.SideYes, Direction: domain.DirectionBuy,
		PriceCents: 70, Quantity: 10, TimeInForce: domain.TimeInForceGTC,
	})

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.PriceCents != 60 {
		t.Errorf("fill price = %d, want 60 (maker's price, not taker's 70)", tr.PriceCents)
	}
	if tr.Scenario != domain.ScenarioTransferYes {
		t.Errorf("scenario = %v, want TRANSFER_YES", tr.Scenario)
	}

	posA := positionOf(ctx, t, s, "A")
	if posA.YesVolume != 10 || posA.YesCostSum != 600 {
		t.Errorf("A's position = %+v, want volume=10 cost=600", posA)
	}
	wantPnl := int64(600) - (400 * 10 / 10) // proceeds - released, released = floor(400*10/10)
	if tr.SellerRealizedPnl == nil || *tr.SellerRealizedPnl != wantPnl {
		t.Errorf("seller pnl = %v, want %d", tr.SellerRealizedPnl, wantPnl)
	}
}

// S5 — Auto-netting: a fill that leaves the buyer holding both sides of
// the same market nets them down to zero and credits cash immediately.
// Netting only ever fires for a fill's buyer (C12), so the position that
// gets netted away must belong to whoever books NATIVE_BUY/SYNTHETIC_BUY
// on the crossing fill, not whoever is buying NO (which always books on
// the sell side of the unified book).
func TestPlaceOrder_AutoNetting(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	fund(t, ctx, s, "A", 10_000_00)
	fund(t, ctx, s, "B", 10_000_00)
	fund(t, ctx, s, "C", 10_000_00)

	// A already holds 5 NO (the other side of a mint C holds the YES for).
	seedMint(t, ctx, s, testMarketID, "C", "A", 5, 300, 200)

	// B rests a NO BUY (SYNTHETIC_SELL, booking at 100-40=60).
	place(t, ctx, e, PlaceOrderRequest{
		UserID: "B", MarketID: testMarketID,
		Side: domain.SideNo, Direction: domain.DirectionBuy,
		PriceCents: 40, Quantity: 5, TimeInForce: domain.TimeInForceGTC,
	})
	// A's YES BUY (NATIVE_BUY) crosses B's resting order at B's price, 60,
	// producing a MINT in which A is the fill's buyer. A now holds fresh
	// YES alongside its pre-existing NO, and the netter fires for A.
	res := place(t, ctx, e, PlaceOrderRequest{
		UserID: "A", MarketID: testMarketID,
		Side: domain.SideYes, Direction: domain.DirectionBuy,
		PriceCents: 70, Quantity: 5, TimeInForce: domain.TimeInForceGTC,
	})

	if len(res.Trades) != 1 || res.Trades[0].Scenario != domain.ScenarioMint {
		t.Fatalf("trades = %+v, want one MINT", res.Trades)
	}

	posA := positionOf(ctx, t, s, "A")
	if posA.YesVolume != 0 || posA.NoVolume != 0 {
		t.Errorf("A's position after netting = %+v, want all-zero", posA)
	}

	m := marketOf(ctx, t, s)
	if m.ReserveBalance != 500 || m.TotalYesShares != 5 || m.TotalNoShares != 5 || m.PnlPool != 0 {
		t.Errorf("market aggregates after netting = %+v, want reserve=500 shares=5/5 pnl=0", m)
	}
}

// S6 — BURN: opposing NATIVE_SELL/SYNTHETIC_BUY orders destroy a YES+NO
// pair and redeem reserve.
func TestPlaceOrder_BurnFill(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	fund(t, ctx, s, "A", 10_000_00)
	fund(t, ctx, s, "B", 10_000_00)

	// A and B form the complementary YES/NO pair a prior mint would have
	// created: A's 5 YES at 325 plus B's 5 NO at 175 sum to the 500-cent
	// reserve those 5 pairs lock up.
	seedMint(t, ctx, s, testMarketID, "A", "B", 5, 325, 175)

	place(t, ctx, e, PlaceOrderRequest{
		UserID: "A", MarketID: testMarketID,
		Side: domain.SideYes, Direction: domain.DirectionSell,
		PriceCents: 70, Quantity: 5, TimeInForce: domain.TimeInForceGTC,
	})
	res := place(t, ctx, e, PlaceOrderRequest{
		UserID: "B", MarketID: testMarketID,
		Side: domain.SideNo, Direction: domain.DirectionSell,
		PriceCents: 30, Quantity: 5, TimeInForce: domain.TimeInForceGTC,
	})

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Scenario != domain.ScenarioBurn || tr.PriceCents != 70 {
		t.Errorf("trade = %+v, want BURN @70", tr)
	}

	m := marketOf(ctx, t, s)
	if m.ReserveBalance != 0 || m.TotalYesShares != 0 || m.TotalNoShares != 0 {
		t.Errorf("market aggregates after burn = %+v, want all-zero", m)
	}
}

// S7 — Self-trade skip: a user's own resting ask is rotated past rather
// than matched; an AMM-exempt account may self-match freely.
func TestPlaceOrder_SelfTradeSkip(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t, "AMM")
	fund(t, ctx, s, "A", 10_000_00)
	fund(t, ctx, s, "B", 10_000_00)
	fund(t, ctx, s, "AMM", 10_000_00)
	fund(t, ctx, s, "ghost1", 10_000_00)
	fund(t, ctx, s, "ghost2", 10_000_00)

	// A's own resting ask comes first in the queue; B's identical ask comes
	// second. A's own incoming bid must skip past its own resting order.
	// Ghost holders take the NO side of each YES position seeded below, so
	// every share outstanding has its reserve-backing counterpart.
	seedMint(t, ctx, s, testMarketID, "A", "ghost1", 10, 500, 500)
	place(t, ctx, e, PlaceOrderRequest{
		UserID: "A", MarketID: testMarketID,
		Side: domain.SideYes, Direction: domain.DirectionSell,
		PriceCents: 50, Quantity: 3, TimeInForce: domain.TimeInForceGTC,
	})
	seedMint(t, ctx, s, testMarketID, "B", "ghost1", 10, 500, 500)
	place(t, ctx, e, PlaceOrderRequest{
		UserID: "B", MarketID: testMarketID,
		Side: domain.SideYes, Direction: domain.DirectionSell,
		PriceCents: 50, Quantity: 3, TimeInForce: domain.TimeInForceGTC,
	})

	res := place(t, ctx, e, PlaceOrderRequest{
		UserID: "A", MarketID: testMarketID,
		Side: domain.SideYes, Direction: domain.DirectionBuy,
		PriceCents: 50, Quantity: 3, TimeInForce: domain.TimeInForceGTC,
	})
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	if res.Trades[0].SellUserID != "B" {
		t.Errorf("self-trade not skipped: matched %s, want B", res.Trades[0].SellUserID)
	}

	// The AMM matching its own resting order is exempt from the skip. Its
	// ask at 45 sits below A's leftover ask at 50, so it is the best ask.
	seedMint(t, ctx, s, testMarketID, "AMM", "ghost2", 10, 500, 500)
	place(t, ctx, e, PlaceOrderRequest{
		UserID: "AMM", MarketID: testMarketID,
		Side: domain.SideYes, Direction: domain.DirectionSell,
		PriceCents: 45, Quantity: 2, TimeInForce: domain.TimeInForceGTC,
	})
	ammRes := place(t, ctx, e, PlaceOrderRequest{
		UserID: "AMM", MarketID: testMarketID,
		Side: domain.SideYes, Direction: domain.DirectionBuy,
		PriceCents: 45, Quantity: 2, TimeInForce: domain.TimeInForceGTC,
	})
	if len(ammRes.Trades) != 1 || ammRes.Trades[0].SellUserID != "AMM" {
		t.Errorf("AMM self-match should fill against its own ask, got %+v", ammRes.Trades)
	}
}

// S8 — Settlement: every open order cancels and unfreezes, every holder
// is paid 100 cents per winning share, and the market collapses to zero.
func TestSettleMarket_PaysWinnersAndZeroesAggregates(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	fund(t, ctx, s, "A", 10_000_00)
	fund(t, ctx, s, "B", 10_000_00)
	fund(t, ctx, s, "ghost", 10_000_00)

	// ghost holds the NO side of A's 5 YES shares, so the market's reserve
	// is backed by real deposited cash (required for the post-settlement
	// global-conservation check).
	seedMint(t, ctx, s, testMarketID, "A", "ghost", 5, 325, 175)

	// B has an open resting order too, which settlement must also unwind.
	place(t, ctx, e, PlaceOrderRequest{
		UserID: "B", MarketID: testMarketID,
		Side: domain.SideYes, Direction: domain.DirectionBuy,
		PriceCents: 40, Quantity: 2, TimeInForce: domain.TimeInForceGTC,
	})

	if err := e.SettleMarket(ctx, testMarketID, domain.ResolutionYes); err != nil {
		t.Fatalf("SettleMarket: %v", err)
	}

	m := marketOf(ctx, t, s)
	if m.Status != domain.MarketSettled || m.ReserveBalance != 0 || m.PnlPool != 0 {
		t.Errorf("market after settlement = %+v, want SETTLED/zeroed", m)
	}

	posA := positionOf(ctx, t, s, "A")
	if posA.YesVolume != 0 {
		t.Errorf("A's position after settlement = %+v, want zeroed", posA)
	}
	accA, err := accountOf(ctx, s, "A")
	if err != nil {
		t.Fatal(err)
	}
	wantBalance := int64(10_000_00) - 325 + 500 // funded, minus the mint cost seeded above, plus the winning payout
	if accA.AvailableBalance != wantBalance {
		t.Errorf("A's balance after 5-share YES payout = %d, want %d", accA.AvailableBalance, wantBalance)
	}

	accB, err := accountOf(ctx, s, "B")
	if err != nil {
		t.Fatal(err)
	}
	if accB.FrozenBalance != 0 {
		t.Errorf("B's resting order freeze not released: frozen=%d", accB.FrozenBalance)
	}
}

// --- test-only helpers over the store, mirroring what a real caller does
// via tx.*Repo().Get within a read-only transaction ---

func accountOf(ctx context.Context, s *memstore.Store, userID string) (*domain.Account, error) {
	var out *domain.Account
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.Accounts().GetOrCreate(ctx, userID)
		out = a
		return err
	})
	return out, err
}

func positionOf(ctx context.Context, t *testing.T, s *memstore.Store, userID string) *domain.Position {
	t.Helper()
	var out *domain.Position
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.Positions().GetOrCreate(ctx, userID, testMarketID)
		out = p
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func marketOf(ctx context.Context, t *testing.T, s *memstore.Store) *domain.Market {
	t.Helper()
	var out *domain.Market
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := tx.Markets().Get(ctx, testMarketID)
		out = m
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// seedMint fabricates a pre-existing MINT: it debits yesCostSum/noCostSum
// from the two holders' own funded balances (so the cash conservation
// INV-G checks, same as a real mint's DebitFrozen) and credits the market
// reserve by the same 100*qty, rather than crediting shares out of thin
// air. Every seeded position in these tests must be funded this way, or a
// later invariant.VerifyGlobal call will rightly reject it.
func seedMint(t *testing.T, ctx context.Context, s *memstore.Store, marketID, yesHolder, noHolder string, qty, yesCostSum, noCostSum int64) {
	t.Helper()
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Accounts().DebitAvailable(ctx, yesHolder, yesCostSum); err != nil {
			return err
		}
		if _, err := tx.Accounts().DebitAvailable(ctx, noHolder, noCostSum); err != nil {
			return err
		}
		if _, err := tx.Positions().ApplyYesDelta(ctx, yesHolder, marketID, qty, yesCostSum, 0); err != nil {
			return err
		}
		if _, err := tx.Positions().ApplyNoDelta(ctx, noHolder, marketID, qty, noCostSum, 0); err != nil {
			return err
		}
		m, err := tx.Markets().Get(ctx, marketID)
		if err != nil {
			return err
		}
		m.ReserveBalance += 100 * qty
		m.TotalYesShares += qty
		m.TotalNoShares += qty
		return tx.Markets().Update(ctx, m)
	})
	if err != nil {
		t.Fatal(err)
	}
}
