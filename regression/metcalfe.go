// Package regression implements the single-regime Metcalfe's Law baseline:
// an ordinary least squares fit of ln(value) = α + β·ln(users).
//
// The baseline is usable standalone as a sanity check and supplies the
// split-sample slope estimates consumed by the markov estimation engine's
// initializers.
package regression

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/metcalfe-go/metcalfe/core/model"
	"github.com/metcalfe-go/metcalfe/core/parallel"
	"github.com/metcalfe-go/metcalfe/metrics"
	"github.com/metcalfe-go/metcalfe/pkg/errors"
	"github.com/metcalfe-go/metcalfe/preprocessing"
)

// MetcalfeRegression fits the power law value = exp(α)·users^β by OLS in log
// space and reports the usual inferential statistics for β.
type MetcalfeRegression struct {
	state           *model.StateManager
	confidenceLevel float64

	// Fitted parameters and statistics, valid once IsFitted reports true.
	Alpha              float64
	Beta               float64
	RSquared           float64
	StdError           float64
	PValue             float64
	ConfidenceInterval [2]float64
	FittedValues       []float64 // in log space
	Residuals          []float64 // in log space
}

// NewMetcalfeRegression creates a new baseline regressor.
func NewMetcalfeRegression(opts ...Option) *MetcalfeRegression {
	m := &MetcalfeRegression{
		state:           model.NewStateManager(),
		confidenceLevel: 0.95,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Fit estimates α and β from the paired series by solving the normal
// equations on the log-transformed data.
//
// The series must be equal-length and strictly positive; rows whose log
// transform is non-finite are dropped in lockstep. A failed Fit leaves the
// receiver unfitted and does not partially populate any field.
func (m *MetcalfeRegression) Fit(users, value []float64) error {
	const op = "MetcalfeRegression.Fit"

	logUsers, logValue, err := preprocessing.LogSeries(users, value)
	if err != nil {
		return err
	}
	return m.fitLogSpace(op, logUsers, logValue)
}

// FitLog estimates α and β from series that are already in natural log space.
// It behaves like Fit minus the positivity validation and log transform, for
// callers that work in log space throughout, such as the regime model's
// split-sample initializer. The inputs must be equal-length and finite.
func (m *MetcalfeRegression) FitLog(logUsers, logValue []float64) error {
	const op = "MetcalfeRegression.FitLog"

	if len(logUsers) != len(logValue) {
		return errors.NewDomainError(op, "logUsers and logValue must have the same length")
	}
	for _, series := range [][]float64{logUsers, logValue} {
		for _, v := range series {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.NewDomainError(op, "series must be finite")
			}
		}
	}
	return m.fitLogSpace(op, logUsers, logValue)
}

func (m *MetcalfeRegression) fitLogSpace(op string, logUsers, logValue []float64) error {
	n := len(logUsers)
	if n < 3 {
		return errors.NewDomainError(op, "need at least 3 observations for inference")
	}

	alpha, beta, err := solveOLS(op, logUsers, logValue)
	if err != nil {
		return err
	}

	fitted := make([]float64, n)
	residuals := make([]float64, n)
	for i := range logUsers {
		fitted[i] = alpha + beta*logUsers[i]
		residuals[i] = logValue[i] - fitted[i]
	}

	r2, err := metrics.R2(mat.NewVecDense(n, logValue), mat.NewVecDense(n, fitted))
	if err != nil {
		return errors.Wrap(err, op)
	}

	// Standard error of β from the residual variance.
	var rss, sxx, xMean float64
	for _, x := range logUsers {
		xMean += x
	}
	xMean /= float64(n)
	for i, x := range logUsers {
		rss += residuals[i] * residuals[i]
		sxx += (x - xMean) * (x - xMean)
	}
	mse := rss / float64(n-2)
	stdError := math.Sqrt(mse / sxx)

	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}

	pValue := 0.0
	if stdError > 0 {
		tStat := beta / stdError
		pValue = 2 * (1 - tDist.CDF(math.Abs(tStat)))
	}

	tCritical := tDist.Quantile((1 + m.confidenceLevel) / 2)
	margin := tCritical * stdError

	m.Alpha = alpha
	m.Beta = beta
	m.RSquared = r2
	m.StdError = stdError
	m.PValue = pValue
	m.ConfidenceInterval = [2]float64{beta - margin, beta + margin}
	m.FittedValues = fitted
	m.Residuals = residuals
	m.state.SetFitted(n)

	return nil
}

// Predict returns the predicted network value exp(α + β·ln(users)) for each
// user count. The inputs must be strictly positive.
func (m *MetcalfeRegression) Predict(users []float64) ([]float64, error) {
	const op = "MetcalfeRegression.Predict"

	if err := m.state.RequireFitted("MetcalfeRegression", "Predict"); err != nil {
		return nil, err
	}
	if err := preprocessing.ValidatePositive(op, users); err != nil {
		return nil, err
	}

	predictions := make([]float64, len(users))

	const parallelThreshold = 1000
	parallel.ParallelizeWithThreshold(len(users), parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			predictions[i] = math.Exp(m.Alpha + m.Beta*math.Log(users[i]))
		}
	})

	return predictions, nil
}

// ResidualVariance returns the unbiased residual variance of the fit.
func (m *MetcalfeRegression) ResidualVariance() (float64, error) {
	if err := m.state.RequireFitted("MetcalfeRegression", "ResidualVariance"); err != nil {
		return 0, err
	}

	n := len(m.Residuals)
	var rss float64
	for _, r := range m.Residuals {
		rss += r * r
	}
	return rss / float64(n-2), nil
}

// IsFitted returns whether the regressor has been fitted.
func (m *MetcalfeRegression) IsFitted() bool {
	return m.state.IsFitted()
}

func (m *MetcalfeRegression) String() string {
	if !m.state.IsFitted() {
		return "MetcalfeRegression(not fitted)"
	}
	return fmt.Sprintf("MetcalfeRegression(α=%.4f, β=%.4f, R²=%.4f)", m.Alpha, m.Beta, m.RSquared)
}

// solveOLS solves the 1-feature normal equations [1, x]·(α, β) = y.
func solveOLS(op string, x, y []float64) (alpha, beta float64, err error) {
	n := len(x)

	X := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, 1.0)
		X.Set(i, 1, x[i])
	}
	yVec := mat.NewVecDense(n, y)

	var xt mat.Dense
	xt.CloneFrom(X.T())

	var xtx mat.Dense
	xtx.Mul(&xt, X)

	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err != nil {
		return 0, 0, errors.Wrap(errors.ErrSingularMatrix, op)
	}

	var xty mat.VecDense
	xty.MulVec(&xt, yVec)

	var coef mat.VecDense
	coef.MulVec(&xtxInv, &xty)

	return coef.AtVec(0), coef.AtVec(1), nil
}
