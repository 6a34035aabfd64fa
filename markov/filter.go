package markov

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/metcalfe-go/metcalfe/pkg/errors"
)

// filterResult holds the output of one forward-backward pass over the series
// for a fixed parameter record.
type filterResult struct {
	logLik float64

	// filtered[t][j] = P(s_t = j | y_1..y_t)
	filtered *mat.Dense
	// predicted[t][j] = P(s_t = j | y_1..y_{t-1})
	predicted *mat.Dense
	// smoothed[t][j] = P(s_t = j | y_1..y_T)
	smoothed *mat.Dense
}

// hamiltonFilter runs the forward recursion of the regime-switching
// regression in log space, returning the log-likelihood together with the
// predicted and filtered regime probabilities. The chain is initialized at
// its stationary distribution.
func hamiltonFilter(x, y []float64, p Params, k int) (logLik float64, predicted, filtered *mat.Dense, err error) {
	T := len(y)
	predicted = mat.NewDense(T, k, nil)
	filtered = mat.NewDense(T, k, nil)

	logP := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			logP.Set(i, j, errors.StabilizeLog(p.Transition.At(i, j)))
		}
	}

	pi := stationaryDistribution(p.Transition, k)

	logFiltered := make([]float64, k)
	logJoint := make([]float64, k)

	for t := 0; t < T; t++ {
		// Predicted probabilities for this step.
		logPred := make([]float64, k)
		if t == 0 {
			for j := 0; j < k; j++ {
				logPred[j] = errors.StabilizeLog(pi[j])
			}
		} else {
			scratch := make([]float64, k)
			for j := 0; j < k; j++ {
				for i := 0; i < k; i++ {
					scratch[i] = logFiltered[i] + logP.At(i, j)
				}
				logPred[j] = errors.LogSumExp(scratch)
			}
		}

		// Joint with the regime-conditional Gaussian density.
		for j := 0; j < k; j++ {
			logJoint[j] = logPred[j] + logNormPDF(y[t]-p.Alpha-p.Betas[j]*x[t], p.Sigma2)
		}

		stepLik := errors.LogSumExp(logJoint)
		if math.IsNaN(stepLik) || math.IsInf(stepLik, 0) {
			return 0, nil, nil, errors.NewNumericalInstabilityError("hamiltonFilter", []float64{stepLik}, t)
		}
		logLik += stepLik

		for j := 0; j < k; j++ {
			logFiltered[j] = logJoint[j] - stepLik
			predicted.Set(t, j, math.Exp(logPred[j]))
			filtered.Set(t, j, math.Exp(logFiltered[j]))
		}
	}

	return logLik, predicted, filtered, nil
}

// kimSmoother runs the backward pass, producing the full-sample (non-causal)
// smoothed regime probabilities from the filter output.
func kimSmoother(predicted, filtered *mat.Dense, p Params, k int) *mat.Dense {
	T, _ := filtered.Dims()
	smoothed := mat.NewDense(T, k, nil)

	for j := 0; j < k; j++ {
		smoothed.Set(T-1, j, filtered.At(T-1, j))
	}

	for t := T - 2; t >= 0; t-- {
		for i := 0; i < k; i++ {
			sum := 0.0
			for j := 0; j < k; j++ {
				pred := predicted.At(t+1, j)
				if pred < 1e-300 {
					continue
				}
				sum += p.Transition.At(i, j) * smoothed.At(t+1, j) / pred
			}
			smoothed.Set(t, i, filtered.At(t, i)*sum)
		}

		// Guard against drift away from a proper distribution.
		rowSum := 0.0
		for i := 0; i < k; i++ {
			rowSum += smoothed.At(t, i)
		}
		if rowSum > 0 {
			for i := 0; i < k; i++ {
				smoothed.Set(t, i, smoothed.At(t, i)/rowSum)
			}
		}
	}

	return smoothed
}

// runFilter performs the full forward-backward pass.
func runFilter(x, y []float64, p Params, k int) (*filterResult, error) {
	logLik, predicted, filtered, err := hamiltonFilter(x, y, p, k)
	if err != nil {
		return nil, err
	}
	smoothed := kimSmoother(predicted, filtered, p, k)
	return &filterResult{
		logLik:    logLik,
		filtered:  filtered,
		predicted: predicted,
		smoothed:  smoothed,
	}, nil
}

// stationaryDistribution approximates the stationary distribution of the
// chain by power iteration from the uniform distribution. The transition
// matrices seen here have entries clamped away from 0 and 1, so the chain is
// ergodic and the iteration converges geometrically.
func stationaryDistribution(P *mat.Dense, k int) []float64 {
	pi := make([]float64, k)
	next := make([]float64, k)
	for i := range pi {
		pi[i] = 1.0 / float64(k)
	}

	const iterations = 200
	for iter := 0; iter < iterations; iter++ {
		for j := 0; j < k; j++ {
			sum := 0.0
			for i := 0; i < k; i++ {
				sum += pi[i] * P.At(i, j)
			}
			next[j] = sum
		}
		copy(pi, next)
	}
	return pi
}

// logNormPDF is the log density of N(0, sigma2) at residual.
func logNormPDF(residual, sigma2 float64) float64 {
	if sigma2 <= 0 {
		return math.Inf(-1)
	}
	return -0.5*math.Log(2*math.Pi*sigma2) - residual*residual/(2*sigma2)
}
