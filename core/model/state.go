// Package model provides fitted-state management shared by all estimators.
package model

import (
	"sync"

	"github.com/metcalfe-go/metcalfe/pkg/errors"
)

// StateManager tracks whether an estimator has been fitted, in a thread-safe
// manner. Estimators embed it by composition and consult RequireFitted before
// serving results.
type StateManager struct {
	fitted bool
	mu     sync.RWMutex

	// Dimensions seen during the last successful fit.
	nObservations int
}

// NewStateManager creates a new StateManager in the unfitted state.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// IsFitted returns whether the estimator has been fitted.
func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fitted
}

// SetFitted marks the estimator as fitted with the given sample count.
func (s *StateManager) SetFitted(nObservations int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fitted = true
	s.nObservations = nObservations
}

// Reset returns the estimator to the unfitted state.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fitted = false
	s.nObservations = 0
}

// NObservations returns the sample count of the last successful fit.
func (s *StateManager) NObservations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nObservations
}

// RequireFitted returns a NotFittedError naming the model and method if the
// estimator has not been fitted.
func (s *StateManager) RequireFitted(modelName, method string) error {
	if !s.IsFitted() {
		return errors.NewNotFittedError(modelName, method)
	}
	return nil
}
