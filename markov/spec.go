// Package markov implements the Fixed Transition Probability Markov-Switching
// (FTP-MS) extension of Metcalfe's Law.
//
// The model is the two- or three-regime switching regression
//
//	ln(value_t) = α + β_{s_t}·ln(users_t) + ε_t,  ε_t ~ N(0, σ²)
//
// where the hidden state s_t follows a first-order homogeneous Markov chain
// with a fixed k×k transition matrix. Only the slope β switches between
// regimes; the intercept α and the residual variance σ² are shared.
package markov

import (
	"github.com/metcalfe-go/metcalfe/pkg/errors"
)

// supportedRegimes lists the regime counts the specification accepts.
var supportedRegimes = []int{2, 3}

// ModelSpec encodes the regime count and the switching structure of the
// FTP-MS regression. It is immutable after creation; construct it through
// NewModelSpec, which rejects unsupported regime counts before any numerical
// work begins.
type ModelSpec struct {
	k int
}

// NewModelSpec creates a specification for a k-regime model.
// Returns an InvalidRegimeError unless k is 2 or 3.
func NewModelSpec(kRegimes int) (ModelSpec, error) {
	if kRegimes != 2 && kRegimes != 3 {
		return ModelSpec{}, errors.NewInvalidRegimeError("NewModelSpec", kRegimes, supportedRegimes)
	}
	return ModelSpec{k: kRegimes}, nil
}

// KRegimes returns the number of latent regimes.
func (s ModelSpec) KRegimes() int {
	return s.k
}

// Valid reports whether the specification was constructed through
// NewModelSpec. The zero value is invalid.
func (s ModelSpec) Valid() bool {
	return s.k == 2 || s.k == 3
}

// SwitchingSlope reports whether the slope coefficient switches between
// regimes. Fixed to true for FTP-MS.
func (s ModelSpec) SwitchingSlope() bool { return true }

// SwitchingIntercept reports whether the intercept switches between regimes.
// Fixed to false for FTP-MS: α is shared.
func (s ModelSpec) SwitchingIntercept() bool { return false }

// SwitchingVariance reports whether the residual variance switches between
// regimes. Fixed to false for FTP-MS: σ² is shared.
func (s ModelSpec) SwitchingVariance() bool { return false }

// NParams returns the size of the optimizer's parameter vector:
// k·(k-1) free transition probabilities, the shared constant, k slopes, and
// the shared variance.
func (s ModelSpec) NParams() int {
	return s.k*(s.k-1) + 1 + s.k + 1
}
