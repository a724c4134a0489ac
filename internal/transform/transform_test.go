package transform

import (
	"testing"

	"github.com/openalpha/predictx/internal/domain"
)

func TestTransform(t *testing.T) {
	cases := []struct {
		side domain.Side
		dir  domain.Direction
		price int32
		want Result
	}{
		{domain.SideYes, domain.DirectionBuy, 40, Result{domain.BookNativeBuy, domain.BookBuy, 40}},
		{domain.SideYes, domain.DirectionSell, 60, Result{domain.BookNativeSell, domain.BookSell, 60}},
		{domain.SideNo, domain.DirectionBuy, 35, Result{domain.BookSyntheticSell, domain.BookSell, 65}},
		{domain.SideNo, domain.DirectionSell, 30, Result{domain.BookSyntheticBuy, domain.BookBuy, 70}},
	}
	for _, c := range cases {
		got := Transform(c.side, c.dir, c.price)
		if got != c.want {
			t.Errorf("Transform(%s,%s,%d) = %+v, want %+v", c.side, c.dir, c.price, got, c.want)
		}
	}
}

// TestRoundTrip exercises P10: for every (side, dir, p) the book_price
// recovers the original price under the side's own inverse.
func TestRoundTrip(t *testing.T) {
	for p := int32(1); p <= 99; p++ {
		yb := Transform(domain.SideYes, domain.DirectionBuy, p)
		if yb.BookPriceCents != p {
			t.Fatalf("YES BUY round trip broke at %d", p)
		}
		nb := Transform(domain.SideNo, domain.DirectionBuy, p)
		if 100-nb.BookPriceCents != p {
			t.Fatalf("NO BUY round trip broke at %d", p)
		}
		ys := Transform(domain.SideYes, domain.DirectionSell, p)
		if ys.BookPriceCents != p {
			t.Fatalf("YES SELL round trip broke at %d", p)
		}
		ns := Transform(domain.SideNo, domain.DirectionSell, p)
		if 100-ns.BookPriceCents != p {
			t.Fatalf("NO SELL round trip broke at %d", p)
		}
	}
}
