// Package match implements the price-time-priority matcher (C8): given an
// incoming order, it walks opposing price levels and fills FIFO from the
// front of each, skipping self-trades by rotating them to the back of
// their level (bounded by a per-level counter so the loop always
// terminates), until the incoming order is exhausted or no crossing
// levels remain. Grounded on
// original_source/pm_matching/engine/matching_algo.py (the rotation
// loop) and the teacher's offchain/matcher matchOrder fill loop.
package match

import (
	"strings"

	"github.com/openalpha/predictx/internal/book"
	"github.com/openalpha/predictx/internal/domain"
)

// Incoming is the mutable view of the order being matched; Remaining is
// decremented in place as fills are produced.
type Incoming struct {
	OrderID       string
	UserID        string
	BookType      domain.BookType
	BookDirection domain.BookDirection
	BookPriceCents int32
	Remaining     int32
}

// ExemptSet names user ids (case-insensitive) exempt from self-trade
// prevention — at minimum the AMM account (§4.8/§9).
type ExemptSet map[string]struct{}

// NewExemptSet builds a case-insensitive exempt set from raw user ids.
func NewExemptSet(ids ...string) ExemptSet {
	s := make(ExemptSet, len(ids))
	for _, id := range ids {
		s[strings.ToUpper(id)] = struct{}{}
	}
	return s
}

func (s ExemptSet) has(userID string) bool {
	_, ok := s[strings.ToUpper(userID)]
	return ok
}

// Has reports whether userID is in the exempt set — used outside the
// package to gate AMM-only operations (C16).
func (s ExemptSet) Has(userID string) bool { return s.has(userID) }

func isSelfTrade(a, b string, exempt ExemptSet) bool {
	if !strings.EqualFold(a, b) {
		return false
	}
	if exempt.has(a) || exempt.has(b) {
		return false
	}
	return true
}

// Match runs the fill loop against b for incoming, mutating both the book
// and incoming.Remaining, and returns the ordered fills produced.
func Match(b *book.Book, incoming *Incoming, exempt ExemptSet) []domain.Fill {
	if incoming.BookDirection == domain.BookBuy {
		return matchBuy(b, incoming, exempt)
	}
	return matchSell(b, incoming, exempt)
}

func matchBuy(b *book.Book, incoming *Incoming, exempt ExemptSet) []domain.Fill {
	var fills []domain.Fill
	level := b.BestAsk()
	for incoming.Remaining > 0 && level <= incoming.BookPriceCents && level <= 99 {
		levelSize := b.LevelSize(false, level)
		if levelSize == 0 {
			level++
			continue
		}
		checked := 0
		for incoming.Remaining > 0 && checked < levelSize {
			front := b.FrontAt(false, level)
			if front == nil {
				break
			}
			if isSelfTrade(incoming.UserID, front.UserID, exempt) {
				b.RotateFront(false, level)
				checked++
				continue
			}
			qty := min32(incoming.Remaining, front.Remaining)
			fills = append(fills, domain.Fill{
				BuyOrderID:   incoming.OrderID,
				SellOrderID:  front.OrderID,
				BuyUserID:    incoming.UserID,
				SellUserID:   front.UserID,
				BuyBookType:  incoming.BookType,
				SellBookType: domain.BookType(front.BookType),
				PriceCents:   level,
				Quantity:     qty,
				TakerOrderID: incoming.OrderID,
				TakerUserID:  incoming.UserID,
			})
			incoming.Remaining -= qty
			front.Remaining -= qty
			if front.Remaining == 0 {
				b.PopFront(false, level)
			}
			checked++
		}
		if b.LevelSize(false, level) == 0 {
			level = b.BestAsk()
		} else {
			level++
		}
	}
	return fills
}

func matchSell(b *book.Book, incoming *Incoming, exempt ExemptSet) []domain.Fill {
	var fills []domain.Fill
	level := b.BestBid()
	for incoming.Remaining > 0 && level >= incoming.BookPriceCents && level >= 1 {
		levelSize := b.LevelSize(true, level)
		if levelSize == 0 {
			level--
			continue
		}
		checked := 0
		for incoming.Remaining > 0 && checked < levelSize {
			front := b.FrontAt(true, level)
			if front == nil {
				break
			}
			if isSelfTrade(incoming.UserID, front.UserID, exempt) {
				b.RotateFront(true, level)
				checked++
				continue
			}
			qty := min32(incoming.Remaining, front.Remaining)
			fills = append(fills, domain.Fill{
				BuyOrderID:   front.OrderID,
				SellOrderID:  incoming.OrderID,
				BuyUserID:    front.UserID,
				SellUserID:   incoming.UserID,
				BuyBookType:  domain.BookType(front.BookType),
				SellBookType: incoming.BookType,
				PriceCents:   level,
				Quantity:     qty,
				TakerOrderID: incoming.OrderID,
				TakerUserID:  incoming.UserID,
			})
			incoming.Remaining -= qty
			front.Remaining -= qty
			if front.Remaining == 0 {
				b.PopFront(true, level)
			}
			checked++
		}
		if b.LevelSize(true, level) == 0 {
			level = b.BestBid()
		} else {
			level--
		}
	}
	return fills
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}
