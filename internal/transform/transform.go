// Package transform implements the order-intent transformer (C5): the
// pure, total function that projects the four user-visible
// (side, direction) combinations onto the single YES-priced order book.
package transform

import "github.com/openalpha/predictx/internal/domain"

// Result is the book-internal view of a user's order intent.
type Result struct {
	BookType      domain.BookType
	BookDirection domain.BookDirection
	BookPriceCents int32
}

// Transform maps (side, direction, price) to (book_type, book_direction,
// book_price) per the fixed table:
//
//	YES BUY  -> NATIVE_BUY      BUY   price
//	YES SELL -> NATIVE_SELL     SELL  price
//	NO  BUY  -> SYNTHETIC_SELL  SELL  100-price
//	NO  SELL -> SYNTHETIC_BUY   BUY   100-price
func Transform(side domain.Side, direction domain.Direction, priceCents int32) Result {
	switch {
	case side == domain.SideYes && direction == domain.DirectionBuy:
		return Result{domain.BookNativeBuy, domain.BookBuy, priceCents}
	case side == domain.SideYes && direction == domain.DirectionSell:
		return Result{domain.BookNativeSell, domain.BookSell, priceCents}
	case side == domain.SideNo && direction == domain.DirectionBuy:
		return Result{domain.BookSyntheticSell, domain.BookSell, 100 - priceCents}
	default: // NO, SELL
		return Result{domain.BookSyntheticBuy, domain.BookBuy, 100 - priceCents}
	}
}
