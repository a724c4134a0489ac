package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openalpha/predictx/internal/domain"
	"github.com/openalpha/predictx/internal/engine"
	"github.com/openalpha/predictx/internal/match"
	"github.com/openalpha/predictx/internal/obsmetrics"
	"github.com/openalpha/predictx/internal/store"
	"github.com/openalpha/predictx/internal/store/memstore"
)

// NewDemoCmd runs a scripted walk against an in-memory store: a mint, a
// YES transfer, an AMM privileged mint, then settlement. It prints the
// trades each order produces and, at the end, alice's balance.
// Grounded on the teacher's tests/e2e_comprehensive scenario-script
// style, trimmed of chain submission/query round trips since this
// binary talks to the engine in-process.
func NewDemoCmd() *cobra.Command {
	var marketID string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted walk through the matching/clearing scenarios against an in-memory store",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := memstore.New()
			return runScenarios(cmd, s, marketID)
		},
	}
	cmd.Flags().StringVar(&marketID, "market", "demo-market", "market id to seed and trade on")
	return cmd
}

func seedDemoMarket(ctx context.Context, s store.Store, marketID string) error {
	return s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Markets().Update(ctx, &domain.Market{
			ID:               marketID,
			Title:            "Will it rain tomorrow?",
			Status:           domain.MarketActive,
			MinPriceCents:    1,
			MaxPriceCents:    99,
			MaxOrderQuantity: 10_000,
			TakerFeeBps:      200,
			MakerFeeBps:      100,
		})
	})
}

// runScenarios drives the same scripted walk against any store.Store
// implementation (memstore for "demo", sqlstore for "sqlite-demo").
func runScenarios(cmd *cobra.Command, s store.Store, marketID string) error {
	ctx := context.Background()
	if err := seedDemoMarket(ctx, s, marketID); err != nil {
		return err
	}

	eng := engine.New(s, obsmetrics.Noop(), match.NewExemptSet("AMM"))

	fund := func(userID string, amt int64) error {
		return s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := tx.Accounts().Deposit(ctx, userID, amt)
			return err
		})
	}
	for _, u := range []string{"alice", "bob", "carol", "AMM"} {
		if err := fund(u, 10_000_00); err != nil {
			return err
		}
	}
	cmd.Println("funded alice, bob, carol, AMM with $10,000.00 each")

	place := func(label string, req engine.PlaceOrderRequest) {
		res, err := eng.PlaceOrder(ctx, req)
		if err != nil {
			cmd.Printf("%s: REJECTED: %v\n", label, err)
			return
		}
		cmd.Printf("%s: order %s status=%s filled=%d/%d, %d new trade(s)\n",
			label, res.Order.ID, res.Order.Status, res.Order.FilledQuantity, res.Order.Quantity, len(res.Trades))
		for _, t := range res.Trades {
			cmd.Printf("    trade %s scenario=%s price=%d qty=%d buyer=%s seller=%s\n",
				t.ID, t.Scenario, t.PriceCents, t.Quantity, t.BuyUserID, t.SellUserID)
		}
	}

	// A resting NO bid and a crossing YES buy mint a fresh pair.
	place("bob rests NO@40", engine.PlaceOrderRequest{
		UserID: "bob", MarketID: marketID, Side: domain.SideNo, Direction: domain.DirectionBuy,
		PriceCents: 40, Quantity: 10, TimeInForce: domain.TimeInForceGTC,
	})
	place("alice crosses YES@65 (mint)", engine.PlaceOrderRequest{
		UserID: "alice", MarketID: marketID, Side: domain.SideYes, Direction: domain.DirectionBuy,
		PriceCents: 65, Quantity: 10, TimeInForce: domain.TimeInForceGTC,
	})

	// Alice sells her freshly minted YES to carol — a transfer with
	// price improvement.
	place("carol rests YES@70 bid", engine.PlaceOrderRequest{
		UserID: "carol", MarketID: marketID, Side: domain.SideYes, Direction: domain.DirectionBuy,
		PriceCents: 70, Quantity: 5, TimeInForce: domain.TimeInForceGTC,
	})
	place("alice sells YES@60 (transfer, price improvement)", engine.PlaceOrderRequest{
		UserID: "alice", MarketID: marketID, Side: domain.SideYes, Direction: domain.DirectionSell,
		PriceCents: 60, Quantity: 5, TimeInForce: domain.TimeInForceGTC,
	})

	// The AMM mints a privileged pair, then the market settles YES.
	if err := eng.PrivilegedMint(ctx, "AMM", marketID, 20, "demo-amm-mint-1"); err != nil {
		cmd.Printf("privileged_mint: %v\n", err)
	} else {
		cmd.Println("AMM privileged-minted 20 pairs")
	}

	if err := eng.SettleMarket(ctx, marketID, domain.ResolutionYes); err != nil {
		cmd.Printf("settle_market: %v\n", err)
	} else {
		cmd.Println("market settled YES; winners paid out, aggregates zeroed")
	}

	var acct *domain.Account
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var gErr error
		acct, gErr = tx.Accounts().Get(ctx, "alice")
		return gErr
	})
	if err == nil && acct != nil {
		cmd.Printf("alice's final balance: available=%d frozen=%d\n", acct.AvailableBalance, acct.FrozenBalance)
	}
	return nil
}
