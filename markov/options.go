package markov

import (
	"github.com/metcalfe-go/metcalfe/pkg/log"
)

// fitOptions carries the estimation knobs of a single Fit call. The iteration
// budgets default to the cascade's standard values and can be overridden per
// attempt stage.
type fitOptions struct {
	// Primary (split-sample) attempt budgets.
	maxIter int
	emIter  int

	// Conservative fallback attempt budgets.
	fallbackMaxIter int
	fallbackEMIter  int

	// Final library-default attempt budgets.
	finalMaxIter int
	finalEMIter  int

	// Convergence tolerance on relative log-likelihood improvement.
	tol float64

	logger log.Logger
}

func defaultFitOptions() fitOptions {
	return fitOptions{
		maxIter:         500,
		emIter:          20,
		fallbackMaxIter: 300,
		fallbackEMIter:  15,
		finalMaxIter:    200,
		finalEMIter:     10,
		tol:             1e-6,
		logger:          log.GetLogger(),
	}
}

// FitOption configures a Fit call.
type FitOption func(*fitOptions)

// WithMaxIter sets the optimizer iteration budget of the primary attempt.
func WithMaxIter(n int) FitOption {
	return func(o *fitOptions) {
		o.maxIter = n
	}
}

// WithEMIter sets the EM iteration budget of the primary attempt.
func WithEMIter(n int) FitOption {
	return func(o *fitOptions) {
		o.emIter = n
	}
}

// WithFallbackBudget sets the budgets of the conservative fallback attempt.
func WithFallbackBudget(maxIter, emIter int) FitOption {
	return func(o *fitOptions) {
		o.fallbackMaxIter = maxIter
		o.fallbackEMIter = emIter
	}
}

// WithFinalBudget sets the budgets of the last-resort default attempt.
func WithFinalBudget(maxIter, emIter int) FitOption {
	return func(o *fitOptions) {
		o.finalMaxIter = maxIter
		o.finalEMIter = emIter
	}
}

// WithTol sets the convergence tolerance on log-likelihood improvement.
func WithTol(tol float64) FitOption {
	return func(o *fitOptions) {
		o.tol = tol
	}
}

// WithLogger sets the logger used to report fallbacks and fit progress.
func WithLogger(logger log.Logger) FitOption {
	return func(o *fitOptions) {
		o.logger = logger
	}
}
