// Package engine wires the risk gate, matcher, clearing dispatcher, fee
// collector, auto-netter, and invariant checker into the operations a
// caller actually invokes: place_order, cancel_order, replace_order,
// batch_cancel, settle_market, and the AMM's privileged mint/burn. It
// owns a per-market mutex/order-book registry, keyed through a
// google/btree so entries stay ordered for any future multi-market scan.
// Grounded on the teacher's offchain/matcher/matcher.go top-level Matcher
// type (per-market lock, lazy book load), generalized from margin
// futures matching to binary-outcome clearing.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/openalpha/predictx/internal/book"
	"github.com/openalpha/predictx/internal/clearing"
	"github.com/openalpha/predictx/internal/domain"
	"github.com/openalpha/predictx/internal/engineerr"
	"github.com/openalpha/predictx/internal/fee"
	"github.com/openalpha/predictx/internal/idgen"
	"github.com/openalpha/predictx/internal/invariant"
	"github.com/openalpha/predictx/internal/match"
	"github.com/openalpha/predictx/internal/netting"
	"github.com/openalpha/predictx/internal/obslog"
	"github.com/openalpha/predictx/internal/obsmetrics"
	"github.com/openalpha/predictx/internal/risk"
	"github.com/openalpha/predictx/internal/store"
)

var log = obslog.For("engine")

const registryDegree = 32

// marketEntry is one market's serializing mutex plus its lazily rebuilt
// in-memory order book. The book is mutated in place during matching and
// is NOT covered by the store's transactional rollback, so any failed
// transaction must evict it (loaded=false) to force a rebuild from
// persisted state on the next access.
type marketEntry struct {
	id string

	mu     sync.Mutex
	bk     *book.Book
	loaded bool
}

func (e *marketEntry) Less(other btree.Item) bool {
	return e.id < other.(*marketEntry).id
}

// Engine is the entry point for every mutating market operation.
type Engine struct {
	Store   store.Store
	Metrics *obsmetrics.Collector
	// Exempt names accounts (at minimum the AMM) excused from self-trade
	// prevention and allowed to call the AMM privileged operations.
	// Auto-netting is governed by each account's AutoNettingEnabled flag
	// instead — see netting.Execute.
	Exempt match.ExemptSet

	regMu    sync.Mutex
	registry *btree.BTree
}

// New builds an Engine. metrics may be obsmetrics.Noop() for tests.
func New(s store.Store, metrics *obsmetrics.Collector, exempt match.ExemptSet) *Engine {
	return &Engine{
		Store:    s,
		Metrics:  metrics,
		Exempt:   exempt,
		registry: btree.New(registryDegree),
	}
}

func (e *Engine) entry(marketID string) *marketEntry {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	if item := e.registry.Get(&marketEntry{id: marketID}); item != nil {
		return item.(*marketEntry)
	}
	me := &marketEntry{id: marketID}
	e.registry.ReplaceOrInsert(me)
	return me
}

// ensureBook lazily rebuilds me.bk from persisted open/partially-filled
// orders if it has never been loaded or was evicted after a prior
// failure. Grounded on spec.md §5's rebuild-on-eviction requirement.
func (e *Engine) ensureBook(ctx context.Context, tx store.Tx, me *marketEntry) error {
	if me.loaded {
		return nil
	}
	bk := book.New()
	orders, err := tx.Orders().ListOpenByMarket(ctx, me.id)
	if err != nil {
		return engineerr.Internal(err)
	}
	for _, o := range orders {
		bk.AddOrder(o.BookDirection == domain.BookBuy, o.BookPriceCents, book.RestingOrder{
			OrderID:   o.ID,
			UserID:    o.UserID,
			BookType:  string(o.BookType),
			Remaining: o.RemainingQuantity,
		})
	}
	me.bk = bk
	me.loaded = true
	return nil
}

func (me *marketEntry) evict() {
	me.bk = nil
	me.loaded = false
}

func crosses(bk *book.Book, dir domain.BookDirection, priceCents int32) bool {
	if dir == domain.BookBuy {
		return bk.BestAsk() <= priceCents
	}
	return bk.BestBid() >= priceCents
}

// applyFillToOrder loads an order, books a partial or full fill against
// it, and writes it back. Used for both the maker and the taker side of
// every fill.
func applyFillToOrder(ctx context.Context, tx store.Tx, orderID string, qty int32) (*domain.Order, error) {
	o, err := tx.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, engineerr.Internal(err)
	}
	o.FilledQuantity += qty
	o.RemainingQuantity -= qty
	if o.RemainingQuantity <= 0 {
		o.Status = domain.OrderFilled
	} else {
		o.Status = domain.OrderPartiallyFilled
	}
	o.UpdatedAt = time.Now()
	if err := tx.Orders().Update(ctx, o); err != nil {
		return nil, engineerr.Internal(err)
	}
	return o, nil
}

// takerPrefundsFunds reports whether a book_type freezes cash (with a fee
// buffer) up front, as opposed to freezing shares and paying the fee out
// of trade proceeds.
func takerPrefundsFunds(bt domain.BookType) bool {
	return bt == domain.BookNativeBuy || bt == domain.BookSyntheticSell
}

// PlaceOrderRequest is the input to PlaceOrder.
type PlaceOrderRequest struct {
	UserID        string
	MarketID      string
	ClientOrderID string
	Side          domain.Side
	Direction     domain.Direction
	PriceCents    int32
	Quantity      int32
	TimeInForce   domain.TimeInForce
}

// PlaceOrderResult is the outcome of a successful PlaceOrder call.
type PlaceOrderResult struct {
	Order  *domain.Order
	Trades []*domain.Trade
}

// PlaceOrder validates, risk-gates, matches, clears, and either rests or
// finalizes a single order, atomically.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	me := e.entry(req.MarketID)
	me.mu.Lock()
	defer me.mu.Unlock()

	var result PlaceOrderResult
	txErr := e.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if req.ClientOrderID != "" {
			existing, gErr := tx.Orders().GetByClientOrderID(ctx, req.UserID, req.ClientOrderID)
			if gErr == nil {
				if existing.OriginalSide == req.Side && existing.OriginalDirection == req.Direction &&
					existing.OriginalPriceCents == req.PriceCents && existing.Quantity == req.Quantity {
					result.Order = existing
					return nil
				}
				return engineerr.ErrDuplicateOrder
			} else if gErr != store.ErrNotFound {
				return engineerr.Internal(gErr)
			}
		}

		m, mErr := tx.Markets().Get(ctx, req.MarketID)
		if mErr != nil {
			if mErr == store.ErrNotFound {
				return engineerr.ErrMarketNotFound
			}
			return engineerr.Internal(mErr)
		}

		outcome, rErr := risk.Gate(ctx, tx, m, req.UserID, req.Side, req.Direction, req.PriceCents, req.Quantity)
		if rErr != nil {
			return rErr
		}

		o := &domain.Order{
			ID:                 idgen.OrderID(),
			UserID:             req.UserID,
			MarketID:           req.MarketID,
			ClientOrderID:      req.ClientOrderID,
			OriginalSide:       req.Side,
			OriginalDirection:  req.Direction,
			OriginalPriceCents: req.PriceCents,
			BookType:           outcome.Transform.BookType,
			BookDirection:      outcome.Transform.BookDirection,
			BookPriceCents:     outcome.Transform.BookPriceCents,
			Quantity:           req.Quantity,
			RemainingQuantity:  req.Quantity,
			FrozenAmount:       outcome.FrozenAmount,
			FrozenAssetType:    outcome.FrozenAssetType,
			TimeInForce:        req.TimeInForce,
			Status:             domain.OrderOpen,
			CreatedAt:          time.Now(),
			UpdatedAt:          time.Now(),
		}
		if iErr := tx.Orders().Insert(ctx, o); iErr != nil {
			return engineerr.Internal(iErr)
		}
		if wErr := tx.WAL().Append(ctx, &domain.WALEvent{
			MarketID: m.ID, OrderID: o.ID, EventType: domain.WALOrderAccepted,
		}); wErr != nil {
			return engineerr.Internal(wErr)
		}

		if lErr := e.ensureBook(ctx, tx, me); lErr != nil {
			return lErr
		}

		hadCrossing := crosses(me.bk, o.BookDirection, o.BookPriceCents)

		incoming := &match.Incoming{
			OrderID:        o.ID,
			UserID:         o.UserID,
			BookType:       o.BookType,
			BookDirection:  o.BookDirection,
			BookPriceCents: o.BookPriceCents,
			Remaining:      o.RemainingQuantity,
		}
		fills := match.Match(me.bk, incoming, e.Exempt)

		if len(fills) == 0 && hadCrossing && req.TimeInForce == domain.TimeInForceIOC {
			return engineerr.ErrSelfTrade
		}

		trades := make([]*domain.Trade, 0, len(fills))
		for _, f := range fills {
			f.TakerBookType = o.BookType
			f.TakerOriginalPriceCents = o.OriginalPriceCents

			makerOrderID := f.SellOrderID
			if f.TakerOrderID == f.SellOrderID {
				makerOrderID = f.BuyOrderID
			}
			if _, aErr := applyFillToOrder(ctx, tx, makerOrderID, f.Quantity); aErr != nil {
				return aErr
			}
			if _, aErr := applyFillToOrder(ctx, tx, f.TakerOrderID, f.Quantity); aErr != nil {
				return aErr
			}

			cr, cErr := clearing.Dispatch(ctx, tx, m, f)
			if cErr != nil {
				return cErr
			}

			freezePrice := o.BookPriceCents
			if o.BookType == domain.BookSyntheticSell {
				freezePrice = o.OriginalPriceCents
			}
			maxFee := fee.MaxFee(freezePrice, o.Quantity, m.TakerFeeBps)
			takerFee, fErr := fee.Collect(ctx, tx, m, f, takerPrefundsFunds(f.TakerBookType), maxFee)
			if fErr != nil {
				return fErr
			}

			t := &domain.Trade{
				ID:                idgen.TradeID(),
				MarketID:          m.ID,
				BuyOrderID:        f.BuyOrderID,
				SellOrderID:       f.SellOrderID,
				BuyUserID:         f.BuyUserID,
				SellUserID:        f.SellUserID,
				BuyBookType:       f.BuyBookType,
				SellBookType:      f.SellBookType,
				TakerOrderID:      f.TakerOrderID,
				TakerUserID:       f.TakerUserID,
				Scenario:          cr.Scenario,
				PriceCents:        f.PriceCents,
				Quantity:          f.Quantity,
				TakerFeeCents:     takerFee,
				BuyerRealizedPnl:  cr.BuyerRealizedPnl,
				SellerRealizedPnl: cr.SellerRealizedPnl,
			}
			if iErr := tx.Trades().Insert(ctx, t); iErr != nil {
				return engineerr.Internal(iErr)
			}
			trades = append(trades, t)

			if wErr := tx.WAL().Append(ctx, &domain.WALEvent{
				MarketID: m.ID, OrderID: f.TakerOrderID, EventType: domain.WALOrderMatched,
				Payload: map[string]any{"trade_id": t.ID, "price_cents": f.PriceCents, "quantity": f.Quantity, "scenario": string(cr.Scenario)},
			}); wErr != nil {
				return engineerr.Internal(wErr)
			}

			if _, nErr := netting.Execute(ctx, tx, m, f.BuyUserID); nErr != nil {
				return nErr
			}

			if e.Metrics != nil {
				e.Metrics.Fills.WithLabelValues(m.ID).Inc()
				e.Metrics.ScenarioCount.WithLabelValues(m.ID, string(cr.Scenario)).Inc()
			}
		}

		switch {
		case incoming.Remaining == 0:
			o.Status = domain.OrderFilled
		case req.TimeInForce == domain.TimeInForceIOC:
			unfilled := int64(incoming.Remaining)
			unfreezeAmt := unfilled
			if o.FrozenAssetType == domain.FrozenFunds {
				unfreezeAmt = unfilled * o.FrozenAmount / int64(req.Quantity)
			}
			if uErr := risk.Unfreeze(ctx, tx, req.UserID, req.MarketID, o.FrozenAssetType, unfreezeAmt); uErr != nil {
				return uErr
			}
			o.Status = domain.OrderCancelled
		default:
			me.bk.AddOrder(o.BookDirection == domain.BookBuy, o.BookPriceCents, book.RestingOrder{
				OrderID:   o.ID,
				UserID:    o.UserID,
				BookType:  string(o.BookType),
				Remaining: incoming.Remaining,
			})
			if incoming.Remaining < o.Quantity {
				o.Status = domain.OrderPartiallyFilled
			} else {
				o.Status = domain.OrderOpen
			}
		}
		o.FilledQuantity = o.Quantity - incoming.Remaining
		o.RemainingQuantity = incoming.Remaining
		o.UpdatedAt = time.Now()
		if uErr := tx.Orders().Update(ctx, o); uErr != nil {
			return engineerr.Internal(uErr)
		}

		if len(fills) > 0 {
			if vErr := invariant.VerifyAfterTrade(ctx, tx, m); vErr != nil {
				log.Invariant(m.ID, "post-trade invariant failed", "error", vErr)
				if e.Metrics != nil {
					e.Metrics.InvariantFailures.WithLabelValues(m.ID, "post_trade").Inc()
				}
				return engineerr.Invariant(vErr.Error())
			}
		}
		if uErr := tx.Markets().Update(ctx, m); uErr != nil {
			return engineerr.Internal(uErr)
		}

		result.Order = o
		result.Trades = trades
		return nil
	})

	if txErr != nil {
		me.evict()
		if e.Metrics != nil {
			e.Metrics.OrdersRejected.WithLabelValues(req.MarketID, reasonFor(txErr)).Inc()
		}
		return nil, txErr
	}
	if e.Metrics != nil {
		e.Metrics.OrdersPlaced.WithLabelValues(req.MarketID).Inc()
	}
	return &result, nil
}

func reasonFor(err error) string {
	if e, ok := err.(*engineerr.Error); ok {
		return e.Kind.String()
	}
	return "unknown"
}

// CancelOrder cancels a single open or partially filled order, unfreezing
// whatever it had reserved.
func (e *Engine) CancelOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	var out *domain.Order
	var touchedBook *marketEntry
	txErr := e.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			if err == store.ErrNotFound {
				return engineerr.ErrOrderNotFound
			}
			return engineerr.Internal(err)
		}
		if o.UserID != userID {
			return engineerr.ErrOrderNotFound
		}
		if !o.Status.IsCancellable() {
			return engineerr.ErrOrderNotCancellable
		}

		me := e.entry(o.MarketID)
		me.mu.Lock()
		defer me.mu.Unlock()

		if lErr := e.ensureBook(ctx, tx, me); lErr != nil {
			return lErr
		}
		touchedBook = me
		me.bk.Cancel(o.ID)

		unfreezeAmt := int64(o.RemainingQuantity)
		if o.FrozenAssetType == domain.FrozenFunds {
			unfreezeAmt = int64(o.RemainingQuantity) * o.FrozenAmount / int64(o.Quantity)
		}
		if uErr := risk.Unfreeze(ctx, tx, userID, o.MarketID, o.FrozenAssetType, unfreezeAmt); uErr != nil {
			return uErr
		}

		o.Status = domain.OrderCancelled
		o.UpdatedAt = time.Now()
		if uErr := tx.Orders().Update(ctx, o); uErr != nil {
			return engineerr.Internal(uErr)
		}
		if wErr := tx.WAL().Append(ctx, &domain.WALEvent{
			MarketID: o.MarketID, OrderID: o.ID, EventType: domain.WALOrderCancelled,
		}); wErr != nil {
			return engineerr.Internal(wErr)
		}
		out = o
		return nil
	})
	if txErr != nil {
		if touchedBook != nil {
			touchedBook.evict()
		}
		return nil, txErr
	}
	if e.Metrics != nil {
		e.Metrics.OrdersCancelled.WithLabelValues(out.MarketID).Inc()
	}
	return out, nil
}

// ReplaceOrder cancels oldOrderID and places a new order in its place,
// rejecting if the old order no longer exists, belongs to another user,
// has already filled, is partially filled (spec.md disallows replacing a
// partial), or names a different market. The checks, the cancel and the
// placement run as three separate transactions, and the market lock is
// not held across them, so the pair is not atomic: if the placement
// fails, the old order stays cancelled.
func (e *Engine) ReplaceOrder(ctx context.Context, userID, oldOrderID string, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	var oldMarketID string
	txErr := e.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		old, err := tx.Orders().Get(ctx, oldOrderID)
		if err != nil {
			if err == store.ErrNotFound {
				return engineerr.ErrReplaceOldNotFound
			}
			return engineerr.Internal(err)
		}
		oldMarketID = old.MarketID
		if old.UserID != userID {
			return engineerr.ErrReplaceWrongUser
		}
		if old.MarketID != req.MarketID {
			return engineerr.ErrReplaceMarketMismatch
		}
		if old.Status == domain.OrderFilled {
			return engineerr.ErrReplaceOldFilled
		}
		if old.Status == domain.OrderPartiallyFilled {
			return engineerr.ErrReplacePartial
		}
		if !old.Status.IsCancellable() {
			return engineerr.ErrOrderNotCancellable
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	if _, err := e.CancelOrder(ctx, userID, oldOrderID); err != nil {
		return nil, err
	}
	res, err := e.PlaceOrder(ctx, req)
	if err != nil {
		e.entry(oldMarketID).evict()
		return nil, err
	}
	return res, nil
}

// BatchCancelResult summarizes a batch_cancel call.
type BatchCancelResult struct {
	CancelledCount  int
	UnfrozenFunds   int64
	UnfrozenYes     int64
	UnfrozenNo      int64
}

// BatchCancel cancels every open/partially-filled order a user has on a
// market, optionally filtered to one original direction.
func (e *Engine) BatchCancel(ctx context.Context, userID, marketID string, scope domain.BatchCancelScope) (*BatchCancelResult, error) {
	me := e.entry(marketID)
	me.mu.Lock()
	defer me.mu.Unlock()

	var out BatchCancelResult
	txErr := e.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if lErr := e.ensureBook(ctx, tx, me); lErr != nil {
			return lErr
		}
		orders, err := tx.Orders().ListOpenByMarketUser(ctx, marketID, userID)
		if err != nil {
			return engineerr.Internal(err)
		}
		for _, o := range orders {
			if scope == domain.ScopeBuyOnly && o.OriginalDirection != domain.DirectionBuy {
				continue
			}
			if scope == domain.ScopeSellOnly && o.OriginalDirection != domain.DirectionSell {
				continue
			}
			me.bk.Cancel(o.ID)

			unfreezeAmt := int64(o.RemainingQuantity)
			if o.FrozenAssetType == domain.FrozenFunds {
				unfreezeAmt = int64(o.RemainingQuantity) * o.FrozenAmount / int64(o.Quantity)
			}
			if uErr := risk.Unfreeze(ctx, tx, userID, marketID, o.FrozenAssetType, unfreezeAmt); uErr != nil {
				return uErr
			}
			switch o.FrozenAssetType {
			case domain.FrozenFunds:
				out.UnfrozenFunds += unfreezeAmt
			case domain.FrozenYesShares:
				out.UnfrozenYes += unfreezeAmt
			case domain.FrozenNoShares:
				out.UnfrozenNo += unfreezeAmt
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
			out.CancelledCount++
		}
		return nil
	})
	if txErr != nil {
		me.evict()
		return nil, txErr
	}
	if e.Metrics != nil {
		e.Metrics.OrdersCancelled.WithLabelValues(marketID).Add(float64(out.CancelledCount))
	}
	return &out, nil
}
