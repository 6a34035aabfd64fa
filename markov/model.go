package markov

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/metcalfe-go/metcalfe/core/model"
	"github.com/metcalfe-go/metcalfe/core/parallel"
	"github.com/metcalfe-go/metcalfe/pkg/errors"
	"github.com/metcalfe-go/metcalfe/preprocessing"
)

// FTPMSModel is the Fixed Transition Probability Markov-Switching model of
// Metcalfe's Law.
//
// A model instance moves from Unfitted to Fitted through a successful Fit
// call. Fit builds a complete FitResult before installing it, so a failed
// re-fit never corrupts or partially overwrites a previously successful fit.
// Concurrent Fit calls on the same instance must be serialized by the caller.
type FTPMSModel struct {
	spec  ModelSpec
	state *model.StateManager

	mu     sync.RWMutex
	result *FitResult

	// optimizerCalls counts estimation attempts across all Fit calls, for
	// test instrumentation.
	optimizerCalls int
}

// FitResult is the immutable outcome of one successful fit. The smoothed
// probability matrix is owned by the result and must be treated as read-only.
type FitResult struct {
	KRegimes int
	NObs     int

	Alpha  float64
	Betas  map[int]float64 // keyed 1..k
	Sigma2 float64

	// TransitionMatrix is the k×k transition matrix; rows sum to one and
	// entries lie in [0.01, 0.99].
	TransitionMatrix *mat.Dense

	// TransitionProbs is the flat view {P11, P12, P21, P22}, populated for
	// two-regime fits only.
	TransitionProbs map[string]float64

	// SmoothedProbabilities is the T×k matrix of full-sample regime
	// probabilities; each row is a distribution over regimes at time t.
	SmoothedProbabilities *mat.Dense

	// RegimeProbabilities is the final row of SmoothedProbabilities.
	RegimeProbabilities []float64

	LogLikelihood float64
	AIC           float64
	BIC           float64

	// CurrentRegime is the 1-indexed argmax of the final smoothed row.
	// Regime labels are identified only by the initializer's "regime 1 has
	// the larger β" convention; the optimizer may converge with labels
	// swapped and no relabeling is applied after fitting.
	CurrentRegime int

	// Degraded marks a fit whose parameters came from the extraction
	// fallback rather than a genuine convergence.
	Degraded bool

	// Strategy names the initialization strategy that produced this fit:
	// "split-sample", "conservative", or "default".
	Strategy string
}

// NewFTPMSModel creates an FTP-MS model with the given regime count.
// Returns an InvalidRegimeError unless kRegimes is 2 or 3; the check runs
// before any numerical work.
func NewFTPMSModel(kRegimes int) (*FTPMSModel, error) {
	spec, err := NewModelSpec(kRegimes)
	if err != nil {
		return nil, err
	}
	return &FTPMSModel{
		spec:  spec,
		state: model.NewStateManager(),
	}, nil
}

// Spec returns the model specification.
func (m *FTPMSModel) Spec() ModelSpec {
	return m.spec
}

// Fit estimates the model from the paired (users, value) series.
//
// The series must be equal-length and strictly positive; rows whose log
// transform is non-finite are dropped in lockstep. Estimation runs the
// three-strategy initialization cascade of the engine; a FittingError is
// returned only after all strategies fail. On success the returned FitResult
// is also installed on the model; on failure any previously installed result
// is left untouched.
func (m *FTPMSModel) Fit(users, value []float64, opts ...FitOption) (*FitResult, error) {
	if !m.spec.Valid() {
		return nil, errors.NewInvalidRegimeError("FTPMSModel.Fit", m.spec.KRegimes(), supportedRegimes)
	}

	logUsers, logValue, err := preprocessing.LogSeries(users, value)
	if err != nil {
		return nil, err
	}

	options := defaultFitOptions()
	for _, opt := range opts {
		opt(&options)
	}

	eng := newEngine(m.spec, options)
	res, err := eng.fit(logUsers, logValue)
	m.mu.Lock()
	m.optimizerCalls += eng.optimizerCalls
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	result := newFitResult(m.spec, res, len(logUsers))

	m.mu.Lock()
	m.result = result
	m.mu.Unlock()
	m.state.SetFitted(len(logUsers))

	return result, nil
}

// newFitResult assembles the immutable result from a successful engine run.
func newFitResult(spec ModelSpec, res *engineResult, nObs int) *FitResult {
	k := spec.KRegimes()

	betas := make(map[int]float64, k)
	for r := 0; r < k; r++ {
		betas[r+1] = res.params.Betas[r]
	}

	var flat map[string]float64
	if k == 2 {
		P := res.params.Transition
		flat = map[string]float64{
			"P11": P.At(0, 0),
			"P12": P.At(0, 1),
			"P21": P.At(1, 0),
			"P22": P.At(1, 1),
		}
	}

	lastRow := make([]float64, k)
	currentRegime := 1
	best := math.Inf(-1)
	for j := 0; j < k; j++ {
		lastRow[j] = res.smoothed.At(nObs-1, j)
		if lastRow[j] > best {
			best = lastRow[j]
			currentRegime = j + 1
		}
	}

	nParams := float64(spec.NParams())
	return &FitResult{
		KRegimes:              k,
		NObs:                  nObs,
		Alpha:                 res.params.Alpha,
		Betas:                 betas,
		Sigma2:                res.params.Sigma2,
		TransitionMatrix:      res.params.Transition,
		TransitionProbs:       flat,
		SmoothedProbabilities: res.smoothed,
		RegimeProbabilities:   lastRow,
		LogLikelihood:         res.logLik,
		AIC:                   2*nParams - 2*res.logLik,
		BIC:                   math.Log(float64(nObs))*nParams - 2*res.logLik,
		CurrentRegime:         currentRegime,
		Degraded:              res.degraded,
		Strategy:              res.strategy,
	}
}

// Result returns the result of the last successful fit.
func (m *FTPMSModel) Result() (*FitResult, error) {
	if err := m.state.RequireFitted("FTPMSModel", "Result"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.result, nil
}

// CurrentRegime returns the most likely regime at the end of the fitted
// sample, 1-indexed.
func (m *FTPMSModel) CurrentRegime() (int, error) {
	res, err := m.Result()
	if err != nil {
		return 0, err
	}
	return res.CurrentRegime, nil
}

// SmoothedProbabilities returns the T×k matrix of full-sample regime
// probabilities. The matrix is owned by the fitted result and must be
// treated as read-only.
func (m *FTPMSModel) SmoothedProbabilities() (*mat.Dense, error) {
	res, err := m.Result()
	if err != nil {
		return nil, err
	}
	return res.SmoothedProbabilities, nil
}

// Predict returns the predicted network value exp(α + β_regime·ln(users))
// for each user count.
//
// The user counts must be strictly positive. When regime is omitted the
// current regime is used; an explicit regime must be a key of the fitted
// betas or an InvalidRegimeError is returned. Predictions are deterministic
// given the fitted parameters.
func (m *FTPMSModel) Predict(users []float64, regime ...int) ([]float64, error) {
	const op = "FTPMSModel.Predict"

	res, err := m.Result()
	if err != nil {
		return nil, err
	}
	if err := preprocessing.ValidatePositive(op, users); err != nil {
		return nil, err
	}

	r := res.CurrentRegime
	if len(regime) > 0 {
		r = regime[0]
	}

	beta, ok := res.Betas[r]
	if !ok {
		valid := make([]int, 0, len(res.Betas))
		for key := range res.Betas {
			valid = append(valid, key)
		}
		sort.Ints(valid)
		return nil, errors.NewInvalidRegimeError(op, r, valid)
	}

	predictions := make([]float64, len(users))

	const parallelThreshold = 1000
	parallel.ParallelizeWithThreshold(len(users), parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			predictions[i] = math.Exp(res.Alpha + beta*math.Log(users[i]))
		}
	})

	return predictions, nil
}

// IsFitted returns whether the model has been fitted successfully.
func (m *FTPMSModel) IsFitted() bool {
	return m.state.IsFitted()
}

func (m *FTPMSModel) String() string {
	if !m.state.IsFitted() {
		return fmt.Sprintf("FTPMSModel(k_regimes=%d, not fitted)", m.spec.KRegimes())
	}

	m.mu.RLock()
	res := m.result
	m.mu.RUnlock()

	parts := make([]string, 0, len(res.Betas))
	for r := 1; r <= res.KRegimes; r++ {
		parts = append(parts, fmt.Sprintf("β%d=%.4f", r, res.Betas[r]))
	}
	return fmt.Sprintf("FTPMSModel(k_regimes=%d, %s)", m.spec.KRegimes(), strings.Join(parts, ", "))
}
