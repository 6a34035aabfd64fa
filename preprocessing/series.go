// Package preprocessing provides input validation and transforms for paired
// observation series.
package preprocessing

import (
	"math"

	"github.com/metcalfe-go/metcalfe/pkg/errors"
)

// LogSeries validates the paired (users, value) series and returns both in
// natural log space.
//
// Validation fails with a DomainError when the lengths differ, the series are
// empty, or any value is non-positive. Rows where either log value is
// non-finite are dropped from both series in lockstep; no interpolation is
// performed. The inputs are never modified.
func LogSeries(users, value []float64) (logUsers, logValue []float64, err error) {
	const op = "preprocessing.LogSeries"

	if len(users) != len(value) {
		return nil, nil, errors.NewDomainError(op, "users and value must have the same length")
	}
	if len(users) == 0 {
		return nil, nil, errors.NewDomainError(op, "empty data")
	}

	for _, u := range users {
		if u <= 0 {
			return nil, nil, errors.NewDomainError(op, "users must be strictly positive")
		}
	}
	for _, v := range value {
		if v <= 0 {
			return nil, nil, errors.NewDomainError(op, "value must be strictly positive")
		}
	}

	logUsers = make([]float64, 0, len(users))
	logValue = make([]float64, 0, len(value))
	for i := range users {
		lu := math.Log(users[i])
		lv := math.Log(value[i])
		if !isFinite(lu) || !isFinite(lv) {
			continue
		}
		logUsers = append(logUsers, lu)
		logValue = append(logValue, lv)
	}

	if len(logUsers) == 0 {
		return nil, nil, errors.NewDomainError(op, "no finite observations after log transform")
	}

	return logUsers, logValue, nil
}

// ValidatePositive returns a DomainError unless every element of series is
// strictly positive. Used by Predict on new user counts.
func ValidatePositive(op string, series []float64) error {
	if len(series) == 0 {
		return errors.NewDomainError(op, "empty data")
	}
	for _, v := range series {
		if v <= 0 {
			return errors.NewDomainError(op, "users must be strictly positive")
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
