package markov

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// The optimizer works in an unconstrained parameter space; the model works in
// the constrained space of probabilities and variances. The mapping between
// the two lives entirely in this file so no inverse-transform logic leaks
// into the extraction or estimation code.
//
// Canonical vector layout for k regimes (destination-major transition order,
// the last destination column of each row is the residual):
//
//	[p[0->0] .. p[k-1->0], p[0->1] .. p[k-1->1], ..., const, x1[0] .. x1[k-1], sigma2]
//
// Constrained space:
//   - transitions: row i of the k×k matrix lies in the open simplex
//   - const, x1[r]: unrestricted
//   - sigma2: strictly positive
//
// Unconstrained space:
//   - transitions: multinomial logit per row, u_ij = ln(p_ij / p_i,k-1)
//   - const, x1[r]: identity
//   - sigma2: natural log

// transitionIndex returns the position of p[i->j] (j < k-1) in the canonical
// vector.
func transitionIndex(i, j, k int) int {
	return j*k + i
}

// constIndex returns the position of the shared constant.
func constIndex(k int) int { return k * (k - 1) }

// betaIndex returns the position of the slope for regime r (0-based).
func betaIndex(r, k int) int { return k*(k-1) + 1 + r }

// sigma2Index returns the position of the shared variance.
func sigma2Index(k int) int { return k*(k-1) + 1 + k }

// transformParams maps a constrained canonical vector to the unconstrained
// space. It is the exact inverse of untransformParams.
func transformParams(constrained []float64, k int) []float64 {
	u := make([]float64, len(constrained))
	copy(u, constrained)

	for i := 0; i < k; i++ {
		// Residual probability of row i (the implicit last column).
		residual := 1.0
		for j := 0; j < k-1; j++ {
			residual -= constrained[transitionIndex(i, j, k)]
		}
		for j := 0; j < k-1; j++ {
			p := constrained[transitionIndex(i, j, k)]
			u[transitionIndex(i, j, k)] = math.Log(p / residual)
		}
	}

	u[sigma2Index(k)] = math.Log(constrained[sigma2Index(k)])
	return u
}

// untransformParams maps an unconstrained vector back to the constrained
// space. Transition rows come out of the multinomial logit inverse and sum to
// one by construction; sigma2 comes out strictly positive.
func untransformParams(unconstrained []float64, k int) []float64 {
	c := make([]float64, len(unconstrained))
	copy(c, unconstrained)

	for i := 0; i < k; i++ {
		denom := 1.0
		for j := 0; j < k-1; j++ {
			denom += math.Exp(unconstrained[transitionIndex(i, j, k)])
		}
		for j := 0; j < k-1; j++ {
			c[transitionIndex(i, j, k)] = math.Exp(unconstrained[transitionIndex(i, j, k)]) / denom
		}
	}

	c[sigma2Index(k)] = math.Exp(unconstrained[sigma2Index(k)])
	return c
}

// transitionFromCanonical assembles the full k×k transition matrix from a
// constrained canonical vector, filling each row's last column with the
// residual probability.
func transitionFromCanonical(constrained []float64, k int) *mat.Dense {
	P := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		rowSum := 0.0
		for j := 0; j < k-1; j++ {
			p := constrained[transitionIndex(i, j, k)]
			P.Set(i, j, p)
			rowSum += p
		}
		P.Set(i, k-1, 1-rowSum)
	}
	return P
}

// canonicalFromTransition flattens the free entries of a k×k transition
// matrix into the canonical destination-major order.
func canonicalFromTransition(P *mat.Dense, k int, dst []float64) {
	for j := 0; j < k-1; j++ {
		for i := 0; i < k; i++ {
			dst[transitionIndex(i, j, k)] = P.At(i, j)
		}
	}
}
