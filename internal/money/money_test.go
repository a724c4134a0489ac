package money

import "testing"

func TestFee(t *testing.T) {
	cases := []struct {
		value int64
		bps   int32
		want  int64
	}{
		{200, 20, 1},      // 40*5 at 20bps in S1: 200*20/10000 = 0.4 -> ceil 1
		{0, 20, 0},
		{1000, 0, 0},
		{100000, 20, 200}, // exact division, no rounding needed
	}
	for _, c := range cases {
		if got := Fee(c.value, c.bps); got != c.want {
			t.Errorf("Fee(%d,%d) = %d, want %d", c.value, c.bps, got, c.want)
		}
	}
}

func TestFeeS1(t *testing.T) {
	// S1: YES BUY p=40 q=5 -> freeze = 40*5 + ceil(40*5*20/10000) = 200 + 1 = 201
	value := int64(40 * 5)
	fee := Fee(value, 20)
	if fee != 1 {
		t.Fatalf("S1 fee = %d, want 1", fee)
	}
	if value+fee != 201 {
		t.Fatalf("S1 freeze = %d, want 201", value+fee)
	}
}

func TestReleaseProportional(t *testing.T) {
	if got := ReleaseProportional(1000, 5, 10); got != 500 {
		t.Fatalf("got %d want 500", got)
	}
	if got := ReleaseProportional(1001, 5, 10); got != 500 {
		t.Fatalf("floor division: got %d want 500", got)
	}
	if got := ReleaseProportional(100, 0, 10); got != 0 {
		t.Fatalf("got %d want 0", got)
	}
}

func TestCentsToDisplay(t *testing.T) {
	cases := map[int64]string{
		0:        "$0.00",
		5:        "$0.05",
		201:      "$2.01",
		123456:   "$1,234.56",
		-123456:  "-$1,234.56",
	}
	for in, want := range cases {
		if got := CentsToDisplay(in); got != want {
			t.Errorf("CentsToDisplay(%d) = %q, want %q", in, got, want)
		}
	}
}
