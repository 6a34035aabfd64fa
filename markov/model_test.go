package markov

import (
	"math"
	"strings"
	"testing"

	"github.com/metcalfe-go/metcalfe/pkg/errors"
	"github.com/metcalfe-go/metcalfe/pkg/log"
)

// regimeData builds a natural-scale two-regime fixture: user growth at 5% per
// period with the Metcalfe exponent dropping from 1.8 to 0.8 halfway through.
func regimeData(T int) (users, value []float64) {
	x, y := switchingSeries(T, 10, 1.8, 0.8)
	users = make([]float64, T)
	value = make([]float64, T)
	for t := 0; t < T; t++ {
		users[t] = math.Exp(x[t])
		value[t] = math.Exp(y[t])
	}
	return users, value
}

func TestNewFTPMSModelRejectsUnsupportedRegimes(t *testing.T) {
	for _, k := range []int{-1, 0, 1, 4} {
		m, err := NewFTPMSModel(k)
		if err == nil {
			t.Fatalf("NewFTPMSModel(%d) should fail", k)
		}
		if m != nil {
			t.Errorf("NewFTPMSModel(%d) returned a model alongside the error", k)
		}
		var ire *errors.InvalidRegimeError
		if !errors.As(err, &ire) {
			t.Errorf("expected InvalidRegimeError, got %v", err)
		}
	}
}

func TestFitRecoversRegimeStructure(t *testing.T) {
	users, value := regimeData(80)

	m, err := NewFTPMSModel(2)
	if err != nil {
		t.Fatal(err)
	}

	res, err := m.Fit(users, value)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	if math.IsNaN(res.Alpha) || math.IsInf(res.Alpha, 0) {
		t.Errorf("Alpha = %v, want finite", res.Alpha)
	}
	if len(res.Betas) != 2 {
		t.Fatalf("len(Betas) = %d, want 2", len(res.Betas))
	}
	spread := math.Abs(res.Betas[1] - res.Betas[2])
	if spread < 0.5 {
		t.Errorf("slope spread = %v, want > 0.5", spread)
	}
	if res.Sigma2 <= 0 {
		t.Errorf("Sigma2 = %v, want > 0", res.Sigma2)
	}
	if res.Degraded {
		t.Error("fit on clean data should not be degraded")
	}
	if res.Strategy != "split-sample" {
		t.Errorf("Strategy = %q, want split-sample", res.Strategy)
	}
	if res.NObs != 80 {
		t.Errorf("NObs = %d, want 80", res.NObs)
	}
	if math.IsNaN(res.LogLikelihood) || math.IsNaN(res.AIC) || math.IsNaN(res.BIC) {
		t.Errorf("information criteria not finite: ll=%v aic=%v bic=%v",
			res.LogLikelihood, res.AIC, res.BIC)
	}
	if !m.IsFitted() {
		t.Error("IsFitted should be true")
	}
}

func TestFitTransitionMatrixIsProper(t *testing.T) {
	users, value := regimeData(80)

	m, _ := NewFTPMSModel(2)
	res, err := m.Fit(users, value)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	for i := 0; i < 2; i++ {
		rowSum := 0.0
		for j := 0; j < 2; j++ {
			v := res.TransitionMatrix.At(i, j)
			if v < 0.01-1e-9 || v > 0.99+1e-9 {
				t.Errorf("P[%d,%d] = %v outside [0.01, 0.99]", i, j, v)
			}
			rowSum += v
		}
		if math.Abs(rowSum-1) > 1e-6 {
			t.Errorf("row %d sums to %v, want 1", i, rowSum)
		}
	}

	// Flat two-regime view mirrors the matrix.
	if len(res.TransitionProbs) != 4 {
		t.Fatalf("TransitionProbs has %d entries, want 4", len(res.TransitionProbs))
	}
	if got := res.TransitionProbs["P11"]; got != res.TransitionMatrix.At(0, 0) {
		t.Errorf("P11 = %v, matrix has %v", got, res.TransitionMatrix.At(0, 0))
	}
	if math.Abs(res.TransitionProbs["P21"]+res.TransitionProbs["P22"]-1) > 1e-6 {
		t.Error("P21 + P22 should sum to 1")
	}
}

func TestFitSmoothedProbabilities(t *testing.T) {
	users, value := regimeData(80)

	m, _ := NewFTPMSModel(2)
	res, err := m.Fit(users, value)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	probs, err := m.SmoothedProbabilities()
	if err != nil {
		t.Fatalf("SmoothedProbabilities: %v", err)
	}
	T, k := probs.Dims()
	if T != 80 || k != 2 {
		t.Fatalf("dims = %d×%d, want 80×2", T, k)
	}
	for t1 := 0; t1 < T; t1++ {
		rowSum := 0.0
		for j := 0; j < k; j++ {
			rowSum += probs.At(t1, j)
		}
		if math.Abs(rowSum-1) > 1e-6 {
			t.Fatalf("smoothed row %d sums to %v", t1, rowSum)
		}
	}

	// The final regime is the argmax of the final smoothed row, and the
	// current regime carries the smaller slope: the sample ends in the
	// low-exponent phase.
	current, err := m.CurrentRegime()
	if err != nil {
		t.Fatalf("CurrentRegime: %v", err)
	}
	if current != res.CurrentRegime {
		t.Errorf("CurrentRegime() = %d, result has %d", current, res.CurrentRegime)
	}
	other := 3 - current
	if res.Betas[current] >= res.Betas[other] {
		t.Errorf("current regime slope %v should be the smaller of (%v, %v)",
			res.Betas[current], res.Betas[current], res.Betas[other])
	}
	if len(res.RegimeProbabilities) != 2 {
		t.Fatalf("RegimeProbabilities length = %d", len(res.RegimeProbabilities))
	}
	if res.RegimeProbabilities[current-1] < 0.5 {
		t.Errorf("final probability of the current regime = %v, want >= 0.5",
			res.RegimeProbabilities[current-1])
	}
}

func TestPredictReplaysFittedEquation(t *testing.T) {
	users, value := regimeData(80)

	m, _ := NewFTPMSModel(2)
	res, err := m.Fit(users, value)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	newUsers := []float64{1500, 4000, 9000}
	for regime := 1; regime <= 2; regime++ {
		preds, err := m.Predict(newUsers, regime)
		if err != nil {
			t.Fatalf("Predict(regime=%d): %v", regime, err)
		}
		for i, u := range newUsers {
			want := math.Exp(res.Alpha + res.Betas[regime]*math.Log(u))
			if math.Abs(preds[i]-want)/want > 1e-12 {
				t.Errorf("regime %d: Predict(%v) = %v, want %v", regime, u, preds[i], want)
			}
		}
	}

	// Without an explicit regime the current one is used.
	defaultPreds, err := m.Predict(newUsers)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	currentPreds, err := m.Predict(newUsers, res.CurrentRegime)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for i := range newUsers {
		if defaultPreds[i] != currentPreds[i] {
			t.Errorf("default prediction differs from current-regime prediction at %d", i)
		}
	}
}

func TestPredictRejectsInvalidInput(t *testing.T) {
	users, value := regimeData(80)

	m, _ := NewFTPMSModel(2)
	if _, err := m.Fit(users, value); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	if _, err := m.Predict([]float64{0}); err == nil {
		t.Error("zero users should fail")
	}
	if _, err := m.Predict([]float64{-5}); err == nil {
		t.Error("negative users should fail")
	}
	if _, err := m.Predict(nil); err == nil {
		t.Error("empty users should fail")
	}

	_, err := m.Predict([]float64{1000}, 3)
	var ire *errors.InvalidRegimeError
	if !errors.As(err, &ire) {
		t.Fatalf("expected InvalidRegimeError for regime 3, got %v", err)
	}
	if ire.Regime != 3 {
		t.Errorf("Regime = %d, want 3", ire.Regime)
	}
}

func TestAccessorsBeforeFit(t *testing.T) {
	m, _ := NewFTPMSModel(2)

	var nfe *errors.NotFittedError
	if _, err := m.Predict([]float64{1000}); !errors.As(err, &nfe) {
		t.Errorf("Predict before fit: expected NotFittedError, got %v", err)
	}
	if _, err := m.Result(); !errors.As(err, &nfe) {
		t.Errorf("Result before fit: expected NotFittedError, got %v", err)
	}
	if _, err := m.CurrentRegime(); !errors.As(err, &nfe) {
		t.Errorf("CurrentRegime before fit: expected NotFittedError, got %v", err)
	}
	if _, err := m.SmoothedProbabilities(); !errors.As(err, &nfe) {
		t.Errorf("SmoothedProbabilities before fit: expected NotFittedError, got %v", err)
	}
}

func TestFitRejectsInvalidSeriesWithoutNumericalWork(t *testing.T) {
	m, _ := NewFTPMSModel(2)

	cases := []struct {
		name  string
		users []float64
		value []float64
	}{
		{"mismatched lengths", []float64{1, 2, 3}, []float64{1, 2}},
		{"empty", nil, nil},
		{"zero users", []float64{0, 100, 200}, []float64{1, 2, 3}},
		{"negative value", []float64{100, 200, 300}, []float64{1, -2, 3}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Fit(tt.users, tt.value)
			if err == nil {
				t.Fatal("expected an error")
			}
			var de *errors.DomainError
			if !errors.As(err, &de) {
				t.Errorf("expected DomainError, got %v", err)
			}
		})
	}

	if m.IsFitted() {
		t.Error("rejected fits must leave the model unfitted")
	}
	if m.optimizerCalls != 0 {
		t.Errorf("optimizerCalls = %d, want 0: validation failures must not reach the engine", m.optimizerCalls)
	}
}

func TestFailedRefitPreservesPreviousResult(t *testing.T) {
	users, value := regimeData(80)

	m, _ := NewFTPMSModel(2)
	first, err := m.Fit(users, value)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	// Constant users make every initialization strategy fail on a singular
	// design, exhausting the cascade.
	badUsers := make([]float64, 12)
	badValue := make([]float64, 12)
	for i := range badUsers {
		badUsers[i] = 100
		badValue[i] = float64(i + 1)
	}
	_, err = m.Fit(badUsers, badValue)
	var fe *errors.FittingError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FittingError, got %v", err)
	}

	if !m.IsFitted() {
		t.Error("a failed re-fit must not clear the fitted state")
	}
	res, err := m.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res != first {
		t.Error("a failed re-fit must preserve the previous result")
	}
}

func TestFitLogsFallbacks(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)

	badUsers := make([]float64, 12)
	badValue := make([]float64, 12)
	for i := range badUsers {
		badUsers[i] = 100
		badValue[i] = float64(i + 1)
	}

	m, _ := NewFTPMSModel(2)
	if _, err := m.Fit(badUsers, badValue, WithLogger(logger)); err == nil {
		t.Fatal("expected the cascade to fail")
	}

	if !logger.ContainsMessage("falling back") {
		t.Error("each failed strategy should log a fallback warning")
	}
	for _, strategy := range []string{"split-sample", "conservative", "default"} {
		if !logger.ContainsField(log.StrategyKey, strategy) {
			t.Errorf("missing fallback log for strategy %q", strategy)
		}
	}
}

func TestFitIsDeterministic(t *testing.T) {
	users, value := regimeData(80)

	a, _ := NewFTPMSModel(2)
	b, _ := NewFTPMSModel(2)

	resA, err := a.Fit(users, value)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	resB, err := b.Fit(users, value)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	if resA.LogLikelihood != resB.LogLikelihood {
		t.Errorf("log-likelihoods differ: %v vs %v", resA.LogLikelihood, resB.LogLikelihood)
	}
	for r := 1; r <= 2; r++ {
		if resA.Betas[r] != resB.Betas[r] {
			t.Errorf("Betas[%d] differ: %v vs %v", r, resA.Betas[r], resB.Betas[r])
		}
	}
	if resA.CurrentRegime != resB.CurrentRegime {
		t.Errorf("current regimes differ: %d vs %d", resA.CurrentRegime, resB.CurrentRegime)
	}
}

func TestThreeRegimeFit(t *testing.T) {
	// Three segments with decreasing exponents.
	const T = 90
	users := make([]float64, T)
	value := make([]float64, T)
	for t1 := 0; t1 < T; t1++ {
		x := math.Log(1000) + 0.05*float64(t1)
		beta := 2.0
		switch {
		case t1 >= 2*T/3:
			beta = 0.8
		case t1 >= T/3:
			beta = 1.4
		}
		y := 10 + beta*x + 0.005*math.Sin(3.7*float64(t1))
		users[t1] = math.Exp(x)
		value[t1] = math.Exp(y)
	}

	m, err := NewFTPMSModel(3)
	if err != nil {
		t.Fatal(err)
	}
	res, err := m.Fit(users, value)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	if len(res.Betas) != 3 {
		t.Fatalf("len(Betas) = %d, want 3", len(res.Betas))
	}
	if res.TransitionProbs != nil {
		t.Error("the flat P11..P22 view is two-regime only")
	}
	r, c := res.TransitionMatrix.Dims()
	if r != 3 || c != 3 {
		t.Errorf("transition dims = %d×%d, want 3×3", r, c)
	}
	for i := 0; i < 3; i++ {
		rowSum := 0.0
		for j := 0; j < 3; j++ {
			v := res.TransitionMatrix.At(i, j)
			if v < 0.01-1e-9 || v > 0.99+1e-9 {
				t.Errorf("P[%d,%d] = %v outside [0.01, 0.99]", i, j, v)
			}
			rowSum += v
		}
		if math.Abs(rowSum-1) > 1e-6 {
			t.Errorf("row %d sums to %v, want 1", i, rowSum)
		}
	}
}

func TestModelString(t *testing.T) {
	m, _ := NewFTPMSModel(2)
	if got := m.String(); got != "FTPMSModel(k_regimes=2, not fitted)" {
		t.Errorf("String before fit = %q", got)
	}

	users, value := regimeData(80)
	if _, err := m.Fit(users, value); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	got := m.String()
	if !strings.Contains(got, "k_regimes=2") || !strings.Contains(got, "β1=") || !strings.Contains(got, "β2=") {
		t.Errorf("String after fit = %q", got)
	}
}

func TestFitBudgetOptions(t *testing.T) {
	users, value := regimeData(80)

	m, _ := NewFTPMSModel(2)
	res, err := m.Fit(users, value,
		WithMaxIter(100),
		WithEMIter(10),
		WithFallbackBudget(50, 5),
		WithFinalBudget(30, 3),
		WithTol(1e-5),
	)
	if err != nil {
		t.Fatalf("Fit with reduced budgets: %v", err)
	}
	if res.Strategy != "split-sample" {
		t.Errorf("Strategy = %q, want split-sample", res.Strategy)
	}
}
