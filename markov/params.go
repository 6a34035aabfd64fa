package markov

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/metcalfe-go/metcalfe/pkg/errors"
)

// Transition probabilities are clamped to this range before they are stored
// on a result, so a fitted chain can never become absorbing.
const (
	minTransitionProb = 0.01
	maxTransitionProb = 0.99
)

// defaultPersistence is the remain-probability used by initializers and by
// the degraded extraction fallback.
const defaultPersistence = 0.95

// Params is the strongly-typed parameter record of the FTP-MS regression in
// constrained space.
type Params struct {
	Alpha      float64
	Betas      []float64 // slope per regime, 0-based
	Transition *mat.Dense
	Sigma2     float64
}

// clone returns a deep copy of the record.
func (p Params) clone() Params {
	betas := make([]float64, len(p.Betas))
	copy(betas, p.Betas)
	var P *mat.Dense
	if p.Transition != nil {
		P = mat.DenseCopyOf(p.Transition)
	}
	return Params{Alpha: p.Alpha, Betas: betas, Transition: P, Sigma2: p.Sigma2}
}

// canonical flattens the record into the canonical constrained vector.
func (p Params) canonical(k int) []float64 {
	c := make([]float64, k*(k-1)+1+k+1)
	canonicalFromTransition(p.Transition, k, c)
	c[constIndex(k)] = p.Alpha
	for r := 0; r < k; r++ {
		c[betaIndex(r, k)] = p.Betas[r]
	}
	c[sigma2Index(k)] = p.Sigma2
	return c
}

// paramsFromCanonical rebuilds the typed record from a canonical constrained
// vector.
func paramsFromCanonical(c []float64, k int) Params {
	betas := make([]float64, k)
	for r := 0; r < k; r++ {
		betas[r] = c[betaIndex(r, k)]
	}
	return Params{
		Alpha:      c[constIndex(k)],
		Betas:      betas,
		Transition: transitionFromCanonical(c, k),
		Sigma2:     c[sigma2Index(k)],
	}
}

// RawParams is the optimizer's parameter vector in the unconstrained
// (transformed) space, together with the parameter names the estimator
// assigns to each position.
type RawParams struct {
	Names  []string
	Values []float64
}

// canonicalNames returns the estimator's parameter names in canonical order,
// e.g. for k=2: p[0->0], p[1->0], const, x1[0], x1[1], sigma2.
func canonicalNames(k int) []string {
	names := make([]string, k*(k-1)+1+k+1)
	for j := 0; j < k-1; j++ {
		for i := 0; i < k; i++ {
			names[transitionIndex(i, j, k)] = fmt.Sprintf("p[%d->%d]", i, j)
		}
	}
	names[constIndex(k)] = "const"
	for r := 0; r < k; r++ {
		names[betaIndex(r, k)] = fmt.Sprintf("x1[%d]", r)
	}
	names[sigma2Index(k)] = "sigma2"
	return names
}

// rawFromParams packs a typed record into the raw transformed vector the
// optimizer sees.
func rawFromParams(p Params, k int) RawParams {
	return RawParams{
		Names:  canonicalNames(k),
		Values: transformParams(p.canonical(k), k),
	}
}

// ExtractParams converts a raw transformed parameter vector into the typed
// record.
//
// The primary path locates each semantic quantity by parameter-name
// substring. If names are missing or unmatched, a positional layout
// [p(0→0), p(1→0), const, β₀, β₁, σ²] is assumed (two-regime only). If even
// that layout does not have enough elements, the extraction degrades to a
// default record (equal betas, 0.95 persistence) instead of failing; the
// degraded flag is set and a DegradedExtractionWarning is emitted so the
// condition stays distinguishable from a genuine convergence.
//
// Recovered transition probabilities are always clamped to [0.01, 0.99].
func ExtractParams(raw RawParams, k int) (Params, bool) {
	canonical, ok := reorderToCanonical(raw, k)
	if !ok {
		reason := "parameter names unmatched and positional layout too short"
		errors.Warn(errors.NewDegradedExtractionWarning(reason, len(raw.Values)))
		return defaultParams(k), true
	}

	p := paramsFromCanonical(untransformParams(canonical, k), k)
	p.Transition = clampTransition(p.Transition, k)
	return p, false
}

// reorderToCanonical maps the raw vector into canonical order, trying names
// first and falling back to positions.
func reorderToCanonical(raw RawParams, k int) ([]float64, bool) {
	n := k*(k-1) + 1 + k + 1

	if len(raw.Names) == len(raw.Values) {
		canonical := make([]float64, n)
		matched := 0
		wanted := canonicalNames(k)
		for pos, want := range wanted {
			if idx := findByName(raw.Names, want); idx >= 0 {
				canonical[pos] = raw.Values[idx]
				matched++
			}
		}
		if matched == n {
			return canonical, true
		}
	}

	// Positional fallback: assume the canonical two-regime layout.
	if k == 2 && len(raw.Values) >= n {
		canonical := make([]float64, n)
		copy(canonical, raw.Values[:n])
		return canonical, true
	}

	return nil, false
}

// findByName returns the index of the first name containing want as a
// substring, or -1. The "const" match is deliberately loose: estimators may
// label the shared constant "const" or "const[0]".
func findByName(names []string, want string) int {
	for i, name := range names {
		if strings.Contains(name, want) {
			return i
		}
	}
	return -1
}

// clampTransition projects every row onto the set of distributions with
// entries in [0.01, 0.99]. Entries are clipped first; the row-sum excess (or
// deficit) is then absorbed proportionally by the entries' remaining slack
// toward the violated bound, so a near-absorbing row cannot push another
// entry back through the floor during renormalization.
func clampTransition(P *mat.Dense, k int) *mat.Dense {
	clamped := mat.NewDense(k, k, nil)
	row := make([]float64, k)
	for i := 0; i < k; i++ {
		rowSum := 0.0
		for j := 0; j < k; j++ {
			row[j] = errors.ClipValue(P.At(i, j), minTransitionProb, maxTransitionProb)
			rowSum += row[j]
		}

		switch {
		case rowSum > 1:
			// Shrink toward the floor; entries at the floor keep it.
			scale := (1 - float64(k)*minTransitionProb) / (rowSum - float64(k)*minTransitionProb)
			for j := 0; j < k; j++ {
				row[j] = minTransitionProb + (row[j]-minTransitionProb)*scale
			}
		case rowSum < 1:
			// Grow toward the cap; entries at the cap keep it.
			scale := (float64(k)*maxTransitionProb - 1) / (float64(k)*maxTransitionProb - rowSum)
			for j := 0; j < k; j++ {
				row[j] = maxTransitionProb - (maxTransitionProb-row[j])*scale
			}
		}

		for j := 0; j < k; j++ {
			clamped.Set(i, j, row[j])
		}
	}
	return clamped
}

// defaultParams is the degraded extraction fallback: equal unit betas, zero
// constant, unit variance, high-persistence transitions.
func defaultParams(k int) Params {
	betas := make([]float64, k)
	for r := range betas {
		betas[r] = 1.0
	}
	return Params{
		Alpha:      0,
		Betas:      betas,
		Transition: persistenceMatrix(k, defaultPersistence),
		Sigma2:     1.0,
	}
}

// persistenceMatrix builds a k×k transition matrix with the given
// remain-probability on the diagonal and the residual spread uniformly.
func persistenceMatrix(k int, persistence float64) *mat.Dense {
	P := mat.NewDense(k, k, nil)
	off := (1 - persistence) / float64(k-1)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			if i == j {
				P.Set(i, j, persistence)
			} else {
				P.Set(i, j, off)
			}
		}
	}
	return P
}
