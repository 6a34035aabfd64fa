package markov

import (
	"gonum.org/v1/gonum/mat"

	"github.com/metcalfe-go/metcalfe/pkg/errors"
)

// emStep performs one probability-weighted re-estimation of the parameter
// record given the smoothed regime probabilities of the current record.
func emStep(x, y []float64, p Params, k int, fr *filterResult) (Params, error) {
	T := len(y)

	// --- Regression update: shared α, per-regime β by weighted least squares.
	//
	// Minimizing Σ_t Σ_s w_ts (y_t - α - β_s x_t)² is linear in (α, β_1..β_k);
	// the normal equations have a (k+1)×(k+1) system with no cross terms
	// between slopes of different regimes.
	dim := k + 1
	A := mat.NewDense(dim, dim, nil)
	b := mat.NewVecDense(dim, nil)

	for t := 0; t < T; t++ {
		for s := 0; s < k; s++ {
			w := fr.smoothed.At(t, s)
			A.Set(0, 0, A.At(0, 0)+w)
			A.Set(0, 1+s, A.At(0, 1+s)+w*x[t])
			A.Set(1+s, 0, A.At(1+s, 0)+w*x[t])
			A.Set(1+s, 1+s, A.At(1+s, 1+s)+w*x[t]*x[t])
			b.SetVec(0, b.AtVec(0)+w*y[t])
			b.SetVec(1+s, b.AtVec(1+s)+w*x[t]*y[t])
		}
	}

	var coef mat.VecDense
	if err := coef.SolveVec(A, b); err != nil {
		return Params{}, errors.Wrap(errors.ErrSingularMatrix, "markov.emStep")
	}

	next := p.clone()
	next.Alpha = coef.AtVec(0)
	for s := 0; s < k; s++ {
		next.Betas[s] = coef.AtVec(1 + s)
	}

	// --- Variance update: pooled weighted residual variance.
	var rss float64
	for t := 0; t < T; t++ {
		for s := 0; s < k; s++ {
			r := y[t] - next.Alpha - next.Betas[s]*x[t]
			rss += fr.smoothed.At(t, s) * r * r
		}
	}
	next.Sigma2 = rss / float64(T)
	if next.Sigma2 < 1e-12 {
		next.Sigma2 = 1e-12
	}

	// --- Transition update from the pairwise smoothed probabilities
	// ξ_t(i,j) ∝ filtered_t(i)·P(i,j)·smoothed_{t+1}(j)/predicted_{t+1}(j).
	xiSum := mat.NewDense(k, k, nil)
	gammaSum := make([]float64, k)
	for t := 0; t < T-1; t++ {
		for i := 0; i < k; i++ {
			gammaSum[i] += fr.smoothed.At(t, i)
			for j := 0; j < k; j++ {
				pred := fr.predicted.At(t+1, j)
				if pred < 1e-300 {
					continue
				}
				xi := fr.filtered.At(t, i) * p.Transition.At(i, j) * fr.smoothed.At(t+1, j) / pred
				xiSum.Set(i, j, xiSum.At(i, j)+xi)
			}
		}
	}

	P := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		if gammaSum[i] < 1e-300 {
			// A regime with no mass keeps its previous row.
			for j := 0; j < k; j++ {
				P.Set(i, j, p.Transition.At(i, j))
			}
			continue
		}
		for j := 0; j < k; j++ {
			P.Set(i, j, xiSum.At(i, j)/gammaSum[i])
		}
	}
	next.Transition = clampTransition(P, k)

	return next, nil
}

// runEM alternates regime-probability inference and weighted re-estimation
// until the log-likelihood stops improving by more than tol or the iteration
// budget is exhausted. It returns the final record together with its
// log-likelihood and the number of iterations performed.
func runEM(x, y []float64, start Params, k, emIter int, tol float64) (Params, float64, int, error) {
	params := start.clone()

	fr, err := runFilter(x, y, params, k)
	if err != nil {
		return Params{}, 0, 0, err
	}
	logLik := fr.logLik

	iterations := 0
	for iter := 0; iter < emIter; iter++ {
		next, err := emStep(x, y, params, k, fr)
		if err != nil {
			return Params{}, 0, iterations, err
		}

		nextFr, err := runFilter(x, y, next, k)
		if err != nil {
			return Params{}, 0, iterations, err
		}
		iterations++

		improvement := nextFr.logLik - logLik
		params, fr, logLik = next, nextFr, nextFr.logLik

		if improvement < tol*(1+abs(logLik)) && iter > 0 {
			break
		}
	}

	return params, logLik, iterations, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
