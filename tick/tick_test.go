package tick

import "testing"

func Test_SubWraps(t *testing.T) {
	cases := []struct{ now, earlier, want Ticks }{
		{100, 40, 60},
		{10, 65530, 16},  // wraps past 65535
		{0, 65535, 1},
		{5, 5, 0},
	}
	for _, c := range cases {
		if got := Sub(c.now, c.earlier); got != c.want {
			t.Errorf("Sub(%d,%d) = %d, want %d", c.now, c.earlier, got, c.want)
		}
	}
}

func Test_CounterAdvance(t *testing.T) {
	var c Counter
	c.Set(65530)
	c.Advance(10)
	if got := c.Now(); got != 4 {
		t.Errorf("Now() = %d, want 4", got)
	}
}
