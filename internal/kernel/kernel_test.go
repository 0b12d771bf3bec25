package kernel

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func TestTimepoints(t *testing.T) {
	tp := Timepoints(100, 100)
	if len(tp) != 100 {
		t.Fatalf("expected 100 timepoints, got %d", len(tp))
	}
	if tp[0] != 0 {
		t.Fatalf("expected t[0]=0, got %f", tp[0])
	}
	if math.Abs(tp[99]-0.99) > 1e-12 {
		t.Fatalf("expected t[99]=0.99, got %f", tp[99])
	}
	if got := Timepoints(0, 100); len(got) != 0 {
		t.Fatalf("expected empty axis, got %d", len(got))
	}
}

func TestOrder(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{3, 3},
		{2.4, 2},
		{2.6, 3},
		{2.5, 2},
		{3.5, 4},
		{0.2, 1},
		{0, 1},
		{-4, 1},
		{math.NaN(), 0},
	}
	for _, tc := range cases {
		if got := Order(tc.in); got != tc.want {
			t.Fatalf("Order(%v)=%d want %d", tc.in, got, tc.want)
		}
	}
}

func TestGammaUnitSumAndNonNegative(t *testing.T) {
	tp := Timepoints(512, 512)
	for _, tau := range []float64{0.001, 0.005, 0.05, 0.3, 1} {
		for order := 1; order <= 10; order++ {
			y := Gamma(tp, tau, order)
			if sum := floats.Sum(y); math.Abs(sum-1) > 1e-9 {
				t.Fatalf("tau=%v order=%d: sum=%v", tau, order, sum)
			}
			for i, v := range y {
				if v < 0 || math.IsNaN(v) {
					t.Fatalf("tau=%v order=%d: y[%d]=%v", tau, order, i, v)
				}
			}
		}
	}
}

func TestGammaStaysFiniteForExtremeShapes(t *testing.T) {
	tp := Timepoints(512, 512)
	cases := []struct {
		tau   float64
		order int
	}{
		{0.05, 171},
		{0.05, 172},
		{0.01, 200},
		{1e-6, 200},
		{1e-6, 2},
		{2e-6, 3},
		{1e-6, 1},
	}
	for _, tc := range cases {
		y := Gamma(tp, tc.tau, tc.order)
		if !Finite(y) {
			t.Fatalf("tau=%v order=%d: non-finite kernel", tc.tau, tc.order)
		}
		if sum := floats.Sum(y); math.Abs(sum-1) > 1e-9 {
			t.Fatalf("tau=%v order=%d: sum=%v", tc.tau, tc.order, sum)
		}
		if floats.Min(y) < 0 {
			t.Fatalf("tau=%v order=%d: negative kernel value", tc.tau, tc.order)
		}
	}
}

func TestGammaPeakMovesWithOrder(t *testing.T) {
	tp := Timepoints(200, 100)
	peak2 := floats.MaxIdx(Gamma(tp, 0.05, 2))
	peak4 := floats.MaxIdx(Gamma(tp, 0.05, 4))
	if peak4 <= peak2 {
		t.Fatalf("expected higher order to peak later: order2=%d order4=%d", peak2, peak4)
	}
	if peak1 := floats.MaxIdx(Gamma(tp, 0.05, 1)); peak1 != 0 {
		t.Fatalf("order 1 is a pure exponential and should peak at 0, got %d", peak1)
	}
}

func TestExponentialDecay(t *testing.T) {
	tp := Timepoints(300, 100)
	for _, tau := range []float64{0.01, 0.07, 2} {
		y := ExponentialDecay(tp, tau)
		if sum := floats.Sum(y); math.Abs(sum-1) > 1e-9 {
			t.Fatalf("tau=%v: sum=%v", tau, sum)
		}
		for i := range y {
			if y[i] < 0 {
				t.Fatalf("tau=%v: negative y[%d]=%v", tau, i, y[i])
			}
			if i > 0 && y[i] > y[i-1] {
				t.Fatalf("tau=%v: increasing at %d", tau, i)
			}
		}
	}
	y := ExponentialDecay(tp, 0.5)
	for i, v := range y {
		if v <= 0 {
			t.Fatalf("expected strictly positive kernel, y[%d]=%v", i, v)
		}
	}
}

func TestDegenerateKernelsAreNaN(t *testing.T) {
	tp := Timepoints(50, 100)
	cases := map[string][]float64{
		"gamma zero tau":     Gamma(tp, 0, 2),
		"gamma negative tau": Gamma(tp, -0.1, 3),
		"gamma nan tau":      Gamma(tp, math.NaN(), 2),
		"gamma zero order":   Gamma(tp, 0.05, 0),
		"decay zero tau":     ExponentialDecay(tp, 0),
		"decay negative tau": ExponentialDecay(tp, -1),
	}
	for name, y := range cases {
		if Finite(y) {
			t.Fatalf("%s: expected non-finite kernel, got %v", name, y[:3])
		}
	}
}

func TestDifferenceWithZeroWeightMatchesGamma(t *testing.T) {
	tp := Timepoints(256, 512)
	want := Gamma(tp, 0.02, 3)
	got := Difference(tp, 0.02, 0.04, 3, 0)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestDifferenceScalesNegativeLobe(t *testing.T) {
	tp := Timepoints(256, 512)
	pos := Gamma(tp, 0.02, 2)
	neg := Gamma(tp, NegativeLobeScale*0.03, 2)
	got := Difference(tp, 0.02, 0.03, 2, 0.4)
	for i := range got {
		want := pos[i] - 0.4*neg[i]
		if math.Abs(got[i]-want) > 1e-15 {
			t.Fatalf("index %d: got %v want %v", i, got[i], want)
		}
	}
	if sum := floats.Sum(got); math.Abs(sum-0.6) > 1e-9 {
		t.Fatalf("expected kernel mass 1-weight=0.6, got %v", sum)
	}
}

func TestConvolveTruncatesCausally(t *testing.T) {
	input := []float64{1, 2, 3, 0, 0}
	k := []float64{0.5, 0.25, 0.25, 0, 0}
	got := Convolve(input, k, 5)
	want := []float64{0.5, 1.25, 2.25, 1.25, 0.75}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("index %d: got %v want %v", i, got[i], want[i])
		}
	}

	impulse := make([]float64, 8)
	impulse[3] = 1
	kern := []float64{0.1, 0.2, 0.3, 0.4, 0, 0, 0, 0}
	out := Convolve(impulse, kern, 8)
	for i := 0; i < 3; i++ {
		if out[i] != 0 {
			t.Fatalf("expected no response before impulse, out[%d]=%v", i, out[i])
		}
	}
	if out[3] != 0.1 || out[6] != 0.4 {
		t.Fatalf("unexpected impulse response: %v", out)
	}
}
