// Package book implements the per-market in-memory order book (C7):
// price-indexed FIFO queues of resting orders with O(1) best-bid/best-ask
// cursors, refreshed by linear scan only when the cursor's own level
// empties. Grounded on original_source/pm_matching/engine/order_book.py
// (array-of-deques-by-price-cents) and the teacher's offchain/matcher
// FIFO-per-level style, using container/list for the per-level queue.
package book

import "container/list"

// RestingOrder is one resting entry at a price level.
type RestingOrder struct {
	OrderID   string
	UserID    string
	BookType  string
	Remaining int32
}

type idxEntry struct {
	isBid bool
	price int32
	elem  *list.Element
}

// Book is a single market's order book. Not safe for concurrent use; the
// engine serializes access per market via its own mutex (C13/§5).
type Book struct {
	bids [100]*list.List // index 1..99 used
	asks [100]*list.List

	bestBid int32 // 0 if none
	bestAsk int32 // 100 if none

	index map[string]*idxEntry
}

// New returns an empty book with cursors at their "no liquidity" values.
func New() *Book {
	b := &Book{bestBid: 0, bestAsk: 100, index: make(map[string]*idxEntry)}
	return b
}

// BestBid returns the best bid price, or 0 if the book has no bids.
func (b *Book) BestBid() int32 { return b.bestBid }

// BestAsk returns the best ask price, or 100 if the book has no asks.
func (b *Book) BestAsk() int32 { return b.bestAsk }

func (b *Book) levelList(isBid bool, price int32) *list.List {
	arr := &b.asks
	if isBid {
		arr = &b.bids
	}
	if arr[price] == nil {
		arr[price] = list.New()
	}
	return arr[price]
}

// AddOrder appends a resting order to the tail of its price level and
// updates the best cursor if this level improves on it.
func (b *Book) AddOrder(isBid bool, price int32, o RestingOrder) {
	l := b.levelList(isBid, price)
	elem := l.PushBack(&o)
	b.index[o.OrderID] = &idxEntry{isBid: isBid, price: price, elem: elem}
	if isBid && price > b.bestBid {
		b.bestBid = price
	}
	if !isBid && price < b.bestAsk {
		b.bestAsk = price
	}
}

// FrontAt returns the resting order at the front of a price level's queue,
// or nil if the level is empty.
func (b *Book) FrontAt(isBid bool, price int32) *RestingOrder {
	arr := &b.asks
	if isBid {
		arr = &b.bids
	}
	l := arr[price]
	if l == nil || l.Front() == nil {
		return nil
	}
	return l.Front().Value.(*RestingOrder)
}

// RotateFront moves the front entry of a level to its back, used by the
// self-trade skip.
func (b *Book) RotateFront(isBid bool, price int32) {
	arr := &b.asks
	if isBid {
		arr = &b.bids
	}
	l := arr[price]
	if l == nil || l.Front() == nil {
		return
	}
	front := l.Front()
	l.MoveToBack(front)
}

// LevelSize returns the number of resting orders at a price level.
func (b *Book) LevelSize(isBid bool, price int32) int {
	arr := &b.asks
	if isBid {
		arr = &b.bids
	}
	if arr[price] == nil {
		return 0
	}
	return arr[price].Len()
}

// PopFront removes and returns the front entry of a level, refreshing the
// best cursor by linear scan if the level became empty.
func (b *Book) PopFront(isBid bool, price int32) *RestingOrder {
	arr := &b.asks
	if isBid {
		arr = &b.bids
	}
	l := arr[price]
	if l == nil || l.Front() == nil {
		return nil
	}
	front := l.Remove(l.Front()).(*RestingOrder)
	delete(b.index, front.OrderID)
	if l.Len() == 0 {
		if isBid && price == b.bestBid {
			b.refreshBestBid()
		}
		if !isBid && price == b.bestAsk {
			b.refreshBestAsk()
		}
	}
	return front
}

func (b *Book) refreshBestBid() {
	for p := int32(99); p >= 1; p-- {
		if b.bids[p] != nil && b.bids[p].Len() > 0 {
			b.bestBid = p
			return
		}
	}
	b.bestBid = 0
}

func (b *Book) refreshBestAsk() {
	for p := int32(1); p <= 99; p++ {
		if b.asks[p] != nil && b.asks[p].Len() > 0 {
			b.bestAsk = p
			return
		}
	}
	b.bestAsk = 100
}

// Cancel removes a resting order by id in O(1) via the aux index,
// refreshing the cursor if its level empties.
func (b *Book) Cancel(orderID string) bool {
	ie, ok := b.index[orderID]
	if !ok {
		return false
	}
	arr := &b.asks
	if ie.isBid {
		arr = &b.bids
	}
	l := arr[ie.price]
	l.Remove(ie.elem)
	delete(b.index, orderID)
	if l.Len() == 0 {
		if ie.isBid && ie.price == b.bestBid {
			b.refreshBestBid()
		}
		if !ie.isBid && ie.price == b.bestAsk {
			b.refreshBestAsk()
		}
	}
	return true
}

// Has reports whether orderID currently rests on the book.
func (b *Book) Has(orderID string) bool {
	_, ok := b.index[orderID]
	return ok
}
