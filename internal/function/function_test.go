package function

import (
	"errors"
	"math"
	"testing"
)

func apply(t *testing.T, f Func, x []float64) []float64 {
	t.Helper()
	n, err := f.OutDim(len(x))
	if err != nil {
		t.Fatalf("%s.OutDim(%d) error = %v", f.Name(), len(x), err)
	}
	dst := make([]float64, n)
	f.Apply(dst, x)
	return dst
}

func TestIdentityAndScale(t *testing.T) {
	x := []float64{1.5, -2, 0}
	got := apply(t, Identity(), x)
	for i := range x {
		if got[i] != x[i] {
			t.Errorf("identity[%d] = %v, want %v", i, got[i], x[i])
		}
	}

	got = apply(t, Scale(0.2), x)
	want := []float64{0.3, -0.4, 0}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-15 {
			t.Errorf("scale[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOscillatorRecurrence_ExactFormula(t *testing.T) {
	f := OscillatorRecurrence(10, 1, 0.2)
	got := apply(t, f, []float64{1, 0, 1, 0})

	if math.Abs(got[0]-1) > 1e-12 {
		t.Errorf("x0' = %v, want 1", got[0])
	}
	if math.Abs(got[1]-2) > 1e-12 {
		t.Errorf("x1' = %v, want 2 (tau*omega*x0 + x1)", got[1])
	}
}

func TestOscillatorRecurrence_General(t *testing.T) {
	omega, gamma, tau := 10.0, 1.0, 0.2
	x := []float64{0.3, -0.7, 0.5, 0.25}
	got := apply(t, OscillatorRecurrence(omega, gamma, tau), x)

	want0 := -tau*x[2]*omega*x[1] - tau*gamma*x[3]*x[0] + x[0]
	want1 := tau*x[2]*omega*x[0] + x[1]
	if got[0] != want0 || got[1] != want1 {
		t.Errorf("got %v, want [%v %v]", got, want0, want1)
	}
}

func TestOscillatorRecurrence_AmplitudeFeedbackSign(t *testing.T) {
	// With no rotation, a positive amplitude error must pull x0 toward zero.
	f := OscillatorRecurrence(10, 1, 0.2)
	got := apply(t, f, []float64{1, 0, 0, 0.5})
	if got[0] >= 1 {
		t.Errorf("x0' = %v, want < 1 for positive amplitude error", got[0])
	}
	got = apply(t, f, []float64{1, 0, 0, -0.5})
	if got[0] <= 1 {
		t.Errorf("x0' = %v, want > 1 for negative amplitude error", got[0])
	}
}

func TestOscillatorRecurrence_RotationWithoutFeedback(t *testing.T) {
	// Iterating the discrete map with gamma removed rotates the (x0, x1)
	// plane; forward Euler makes the squared radius grow monotonically.
	f := OscillatorRecurrence(10, 0, 0.01)
	x := []float64{1, 0, 1, 0}
	prev := 1.0
	for i := 0; i < 100; i++ {
		next := apply(t, f, x)
		x[0], x[1] = next[0], next[1]
		r2 := x[0]*x[0] + x[1]*x[1]
		if r2 <= prev {
			t.Fatalf("step %d: r^2 = %v did not grow from %v", i, r2, prev)
		}
		prev = r2
	}
}

func TestSquareAndSumOfSquares(t *testing.T) {
	if got := apply(t, Square(), []float64{-3}); got[0] != 9 {
		t.Errorf("square(-3) = %v, want 9", got[0])
	}
	if got := apply(t, SumOfSquares(), []float64{3, 4, 100, 100}); got[0] != 25 {
		t.Errorf("sum_of_squares = %v, want 25", got[0])
	}
}

func TestOutDim_Errors(t *testing.T) {
	tests := []struct {
		name string
		f    Func
		in   int
	}{
		{"oscillator needs 4", OscillatorRecurrence(1, 1, 1), 2},
		{"square needs scalar", Square(), 2},
		{"sum_of_squares needs 2", SumOfSquares(), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.f.OutDim(tt.in); err == nil {
				t.Errorf("%s.OutDim(%d) expected error", tt.f.Name(), tt.in)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		fn      string
		params  map[string]float64
		wantErr bool
		unknown bool
	}{
		{"identity", "identity", nil, false, false},
		{"case insensitive", " Square ", nil, false, false},
		{"scale", "scale", map[string]float64{"k": 0.2}, false, false},
		{"scale missing k", "scale", nil, true, false},
		{"oscillator", "oscillator", map[string]float64{"omega": 10, "gamma": 1, "tau": 0.2}, false, false},
		{"oscillator extra param", "oscillator", map[string]float64{"omega": 10, "gamma": 1, "tau": 0.2, "phi": 1}, true, false},
		{"unknown", "cube", nil, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Lookup(tt.fn, tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Lookup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.unknown && !errors.Is(err, ErrUnknownFunction) {
				t.Errorf("error = %v, want ErrUnknownFunction", err)
			}
			if !tt.wantErr && f == nil {
				t.Error("Lookup() returned nil function")
			}
		})
	}
}

func TestLookup_ScaleUsesParameter(t *testing.T) {
	f, err := Lookup("scale", map[string]float64{"k": -2})
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got := apply(t, f, []float64{3}); got[0] != -6 {
		t.Errorf("scale(k=-2)(3) = %v, want -6", got[0])
	}
}

func TestNames(t *testing.T) {
	names := Names()
	want := []string{"identity", "oscillator", "scale", "square", "sum_of_squares"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
