package mathx

import "testing"

func TestFloorDivMod(t *testing.T) {
	cases := []struct{ a, b, div, mod int }{
		{0, 8, 0, 0},
		{7, 8, 0, 7},
		{8, 8, 1, 0},
		{-1, 8, -1, 7},
		{-8, 8, -1, 0},
		{-9, 8, -2, 7},
		{17, 8, 2, 1},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.div {
			t.Fatalf("FloorDiv(%d,%d)=%d want %d", c.a, c.b, got, c.div)
		}
		if got := Mod(c.a, c.b); got != c.mod {
			t.Fatalf("Mod(%d,%d)=%d want %d", c.a, c.b, got, c.mod)
		}
	}
}

func TestHash2Deterministic(t *testing.T) {
	if Hash2(42, 10, -3) != Hash2(42, 10, -3) {
		t.Fatalf("Hash2 not deterministic")
	}
	if Hash2(42, 10, -3) == Hash2(43, 10, -3) {
		t.Fatalf("Hash2 ignores seed")
	}
	if Hash2(42, 10, -3) == Hash2(42, -3, 10) {
		t.Fatalf("Hash2 symmetric in x/z")
	}
}

func TestUnitRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		u := Unit(Hash2(7, i, i*31))
		if u < 0 || u >= 1 {
			t.Fatalf("Unit out of range: %v", u)
		}
		s := Signed(Hash3(7, i, 2*i, 3*i))
		if s < -1 || s >= 1 {
			t.Fatalf("Signed out of range: %v", s)
		}
	}
}

func TestSmoothstep(t *testing.T) {
	if Smoothstep(0) != 0 || Smoothstep(1) != 1 {
		t.Fatalf("Smoothstep endpoints wrong")
	}
	if Smoothstep(-5) != 0 || Smoothstep(5) != 1 {
		t.Fatalf("Smoothstep not clamped")
	}
	if m := Smoothstep(0.5); m != 0.5 {
		t.Fatalf("Smoothstep(0.5)=%v want 0.5", m)
	}
}
