package regression

// Option is a function that configures MetcalfeRegression.
type Option func(*MetcalfeRegression)

// WithConfidenceLevel sets the confidence level for the β confidence
// interval. The default is 0.95.
func WithConfidenceLevel(level float64) Option {
	return func(m *MetcalfeRegression) {
		m.confidenceLevel = level
	}
}
