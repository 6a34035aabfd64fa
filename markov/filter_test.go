package markov

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// switchingSeries builds a noiseless two-regime log-space series: the first
// half follows slope betaHigh, the second half betaLow, with shared intercept
// alpha.
func switchingSeries(T int, alpha, betaHigh, betaLow float64) (x, y []float64) {
	x = make([]float64, T)
	y = make([]float64, T)
	for t := 0; t < T; t++ {
		x[t] = math.Log(1000) + 0.05*float64(t)
		beta := betaHigh
		if t >= T/2 {
			beta = betaLow
		}
		// Tiny deterministic perturbation keeps the residual variance away
		// from zero without pulling in a random source.
		y[t] = alpha + beta*x[t] + 0.005*math.Sin(3.7*float64(t))
	}
	return x, y
}

func TestHamiltonFilterProducesDistributions(t *testing.T) {
	x, y := switchingSeries(60, 10, 1.8, 0.8)
	p := Params{
		Alpha:      10,
		Betas:      []float64{1.8, 0.8},
		Transition: persistenceMatrix(2, 0.95),
		Sigma2:     0.01,
	}

	logLik, predicted, filtered, err := hamiltonFilter(x, y, p, 2)
	if err != nil {
		t.Fatalf("hamiltonFilter: %v", err)
	}
	if math.IsNaN(logLik) || math.IsInf(logLik, 0) {
		t.Fatalf("logLik = %v, want finite", logLik)
	}

	for _, m := range []*mat.Dense{predicted, filtered} {
		T, k := m.Dims()
		for t1 := 0; t1 < T; t1++ {
			rowSum := 0.0
			for j := 0; j < k; j++ {
				v := m.At(t1, j)
				if v < -1e-12 || v > 1+1e-12 {
					t.Fatalf("probability out of range at (%d,%d): %v", t1, j, v)
				}
				rowSum += v
			}
			if math.Abs(rowSum-1) > 1e-9 {
				t.Fatalf("row %d sums to %v, want 1", t1, rowSum)
			}
		}
	}
}

func TestKimSmootherRowsSumToOne(t *testing.T) {
	x, y := switchingSeries(60, 10, 1.8, 0.8)
	p := Params{
		Alpha:      10,
		Betas:      []float64{1.8, 0.8},
		Transition: persistenceMatrix(2, 0.95),
		Sigma2:     0.01,
	}

	fr, err := runFilter(x, y, p, 2)
	if err != nil {
		t.Fatalf("runFilter: %v", err)
	}

	T, k := fr.smoothed.Dims()
	for t1 := 0; t1 < T; t1++ {
		rowSum := 0.0
		for j := 0; j < k; j++ {
			rowSum += fr.smoothed.At(t1, j)
		}
		if math.Abs(rowSum-1) > 1e-9 {
			t.Fatalf("smoothed row %d sums to %v, want 1", t1, rowSum)
		}
	}
}

func TestSmootherSeparatesRegimesAtTrueParams(t *testing.T) {
	// With the true parameters, the smoother should place the early sample in
	// the high-slope regime and the late sample in the low-slope regime.
	x, y := switchingSeries(60, 10, 1.8, 0.8)
	p := Params{
		Alpha:      10,
		Betas:      []float64{1.8, 0.8},
		Transition: persistenceMatrix(2, 0.95),
		Sigma2:     0.001,
	}

	fr, err := runFilter(x, y, p, 2)
	if err != nil {
		t.Fatalf("runFilter: %v", err)
	}

	if got := fr.smoothed.At(5, 0); got < 0.9 {
		t.Errorf("early sample regime-1 probability = %v, want > 0.9", got)
	}
	if got := fr.smoothed.At(55, 1); got < 0.9 {
		t.Errorf("late sample regime-2 probability = %v, want > 0.9", got)
	}
}

func TestStationaryDistribution(t *testing.T) {
	// For P = [[0.9, 0.1], [0.3, 0.7]] the stationary distribution is
	// (0.75, 0.25).
	P := mat.NewDense(2, 2, []float64{0.9, 0.1, 0.3, 0.7})

	pi := stationaryDistribution(P, 2)
	if math.Abs(pi[0]-0.75) > 1e-9 || math.Abs(pi[1]-0.25) > 1e-9 {
		t.Errorf("stationary distribution = %v, want (0.75, 0.25)", pi)
	}
}

func TestLogNormPDF(t *testing.T) {
	// Standard normal at 0: -0.5·log(2π).
	want := -0.5 * math.Log(2*math.Pi)
	if got := logNormPDF(0, 1); math.Abs(got-want) > 1e-12 {
		t.Errorf("logNormPDF(0, 1) = %v, want %v", got, want)
	}
	if got := logNormPDF(1, 0); !math.IsInf(got, -1) {
		t.Errorf("logNormPDF with zero variance = %v, want -Inf", got)
	}
}
