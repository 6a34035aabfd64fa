package markov

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/metcalfe-go/metcalfe/pkg/errors"
	"github.com/metcalfe-go/metcalfe/pkg/log"
	"github.com/metcalfe-go/metcalfe/regression"
)

// engine produces maximum-likelihood estimates of the FTP-MS parameters from
// log-space series. Each fit runs a cascade of initialization strategies: the
// split-sample initializer first, a conservative variant if that attempt
// raises, and the library defaults as a last resort. The likelihood surface
// is multimodal, so the starting point matters more than the optimizer.
type engine struct {
	spec ModelSpec
	opts fitOptions

	// optimizerCalls counts estimation attempts, for test instrumentation.
	optimizerCalls int
}

// engineResult is a successful estimation attempt.
type engineResult struct {
	params       Params
	raw          RawParams
	logLik       float64
	degraded     bool
	strategy     string
	emIterations int
	smoothed     *mat.Dense
}

func newEngine(spec ModelSpec, opts fitOptions) *engine {
	return &engine{spec: spec, opts: opts}
}

// strategy is one stage of the initialization cascade.
type strategy struct {
	name    string
	maxIter int
	emIter  int
	start   func(x, y []float64) (Params, error)
}

func (e *engine) strategies() []strategy {
	return []strategy{
		{
			name:    "split-sample",
			maxIter: e.opts.maxIter,
			emIter:  e.opts.emIter,
			start:   e.splitSampleStart,
		},
		{
			name:    "conservative",
			maxIter: e.opts.fallbackMaxIter,
			emIter:  e.opts.fallbackEMIter,
			start:   e.conservativeStart,
		},
		{
			name:    "default",
			maxIter: e.opts.finalMaxIter,
			emIter:  e.opts.finalEMIter,
			start:   e.defaultStart,
		},
	}
}

// fit runs the initialization cascade over the log-space series. Each
// strategy is tried at most once; a FittingError is returned only after all
// of them fail.
func (e *engine) fit(x, y []float64) (*engineResult, error) {
	logger := e.opts.logger

	var attempts []error
	for idx, s := range e.strategies() {
		res, err := e.attempt(x, y, s)
		if err == nil {
			logger.Info("estimation converged",
				log.ComponentKey, "markov",
				log.StrategyKey, s.name,
				log.AttemptKey, idx+1,
				log.LogLikelihoodKey, res.logLik,
				log.EMIterationsKey, res.emIterations,
			)
			return res, nil
		}

		attempts = append(attempts, errors.Wrapf(err, "strategy %q", s.name))
		errors.Warn(errors.NewConvergenceWarning("FTPMS/"+s.name, s.maxIter, err.Error()))
		logger.Warn("estimation attempt failed, falling back to next initialization",
			log.ComponentKey, "markov",
			log.StrategyKey, s.name,
			log.AttemptKey, idx+1,
			"error", err.Error(),
		)
	}

	return nil, errors.NewFittingError("markov.engine.fit", attempts)
}

// attempt runs one strategy: EM warm start within the strategy's EM budget,
// then derivative-free likelihood refinement in the unconstrained space
// within its optimizer budget. Panics inside the numerical code are
// recovered and fail only this attempt.
func (e *engine) attempt(x, y []float64, s strategy) (res *engineResult, err error) {
	defer errors.Recover(&err, "engine.attempt")

	start, err := s.start(x, y)
	if err != nil {
		return nil, err
	}

	e.optimizerCalls++
	k := e.spec.KRegimes()

	params, emLogLik, iterations, err := runEM(x, y, start, k, s.emIter, e.opts.tol)
	if err != nil {
		return nil, err
	}

	params, logLik := e.refine(x, y, params, emLogLik, s.maxIter)
	if err := errors.CheckScalar("engine.attempt", logLik, iterations); err != nil {
		return nil, err
	}

	// The optimizer's raw transformed vector is what parameter extraction
	// consumes; the typed record below comes back out of it.
	raw := rawFromParams(params, k)
	extracted, degraded := ExtractParams(raw, k)

	// Smoothing pass with the final clamped parameters, once per fit.
	fr, err := runFilter(x, y, extracted, k)
	if err != nil {
		return nil, err
	}

	return &engineResult{
		params:       extracted,
		raw:          raw,
		logLik:       fr.logLik,
		degraded:     degraded,
		strategy:     s.name,
		emIterations: iterations,
		smoothed:     fr.smoothed,
	}, nil
}

// refine maximizes the log-likelihood over the unconstrained parameter space
// with Nelder-Mead, starting from the EM estimate. The refinement is
// opportunistic: the EM result is kept whenever the optimizer errors out or
// does not improve on it.
func (e *engine) refine(x, y []float64, params Params, emLogLik float64, maxIter int) (Params, float64) {
	k := e.spec.KRegimes()

	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			p := paramsFromCanonical(untransformParams(u, k), k)
			logLik, _, _, err := hamiltonFilter(x, y, p, k)
			if err != nil || math.IsNaN(logLik) {
				return math.Inf(1)
			}
			return -logLik
		},
	}

	settings := &optimize.Settings{
		MajorIterations: maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   e.opts.tol,
			Iterations: 20,
		},
	}

	u0 := transformParams(params.canonical(k), k)
	result, err := optimize.Minimize(problem, u0, settings, &optimize.NelderMead{})
	if err != nil || result == nil {
		return params, emLogLik
	}

	if !math.IsNaN(result.F) && !math.IsInf(result.F, 0) && -result.F > emLogLik {
		return paramsFromCanonical(untransformParams(result.X, k), k), -result.F
	}
	return params, emLogLik
}

// splitSampleStart fits the baseline regressor separately on k contiguous
// segments of the time-ordered series (the two halves for k=2), assigns the
// larger slope to regime 1 and the smaller to regime 2, averages the
// intercepts for α, and pools the OLS residual variances for σ². Transition
// probabilities stay at the high-persistence default rather than being
// data-derived, for numerical stability.
func (e *engine) splitSampleStart(x, y []float64) (Params, error) {
	k := e.spec.KRegimes()
	T := len(x)

	segment := T / k
	if segment < 3 {
		return Params{}, errors.NewDomainError("markov.splitSampleStart", "series too short for split-sample initialization")
	}

	betas := make([]float64, 0, k)
	var alphaSum, rssSum float64
	var dofSum int
	for seg := 0; seg < k; seg++ {
		lo := seg * segment
		hi := lo + segment
		if seg == k-1 {
			hi = T
		}

		baseline := regression.NewMetcalfeRegression()
		if err := baseline.FitLog(x[lo:hi], y[lo:hi]); err != nil {
			return Params{}, err
		}

		betas = append(betas, baseline.Beta)
		alphaSum += baseline.Alpha
		for _, r := range baseline.Residuals {
			rssSum += r * r
		}
		dofSum += (hi - lo) - 2
	}

	// Larger β first: regime 1 is the bullish regime by convention. The
	// convention holds only for the starting values; the optimizer is free
	// to relabel.
	sort.Sort(sort.Reverse(sort.Float64Slice(betas)))

	sigma2 := rssSum / float64(dofSum)
	if sigma2 < 1e-12 {
		sigma2 = 1e-12
	}

	return Params{
		Alpha:      alphaSum / float64(k),
		Betas:      betas,
		Transition: persistenceMatrix(k, defaultPersistence),
		Sigma2:     sigma2,
	}, nil
}

// conservativeStart keeps the library-default starting values and replaces
// only the slopes with the split-sample estimates, the most important part of
// the starting point on a multimodal surface.
func (e *engine) conservativeStart(x, y []float64) (Params, error) {
	split, err := e.splitSampleStart(x, y)
	if err != nil {
		return Params{}, err
	}

	start, err := e.defaultStart(x, y)
	if err != nil {
		return Params{}, err
	}
	copy(start.Betas, split.Betas)
	return start, nil
}

// defaultStart supplies generic library-default starting values with no
// data-driven guidance. The slopes are staggered so the regimes do not start
// exactly symmetric.
func (e *engine) defaultStart(x, y []float64) (Params, error) {
	k := e.spec.KRegimes()

	betas := make([]float64, k)
	for r := 0; r < k; r++ {
		betas[r] = 1.0 + 0.1*float64(r)
	}

	return Params{
		Alpha:      0,
		Betas:      betas,
		Transition: persistenceMatrix(k, 0.9),
		Sigma2:     1.0,
	}, nil
}
