// Package money implements the cents arithmetic shared by risk, fee, and
// clearing math. Every function is pure and operates on signed 64-bit
// integer cents; there is no floating point anywhere in this core.
package money

import "fmt"

// Fee returns the ceiling-division fee on value at bps basis points:
// fee = ceil(value * bps / 10000), computed with integer division as
// (value*bps + 9999) / 10000 so the platform never loses to rounding.
func Fee(valueCents int64, bps int32) int64 {
	if valueCents <= 0 || bps <= 0 {
		return 0
	}
	return (valueCents*int64(bps) + 9999) / 10000
}

// ReleaseProportional computes floor(costSum * closedQty / volume), the
// cost released on a partial close of a position.
func ReleaseProportional(costSum, closedQty, volume int64) int64 {
	if volume <= 0 || closedQty <= 0 {
		return 0
	}
	return costSum * closedQty / volume
}

// CentsToDisplay formats signed cents as "[-]$d,ddd.cc".
func CentsToDisplay(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	dollars := cents / 100
	rem := cents % 100
	s := fmt.Sprintf("$%s.%02d", groupThousands(dollars), rem)
	if neg {
		return "-" + s
	}
	return s
}

func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	return string(out)
}
