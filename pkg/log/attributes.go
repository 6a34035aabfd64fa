package log

// Model and operation context attributes.
const (
	// ModelNameKey identifies the estimator type.
	// Examples: "FTPMSModel", "MetcalfeRegression"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "smooth"
	OperationKey = "estimation.operation"

	// ComponentKey identifies which package is performing the operation.
	// Examples: "markov", "regression", "preprocessing"
	ComponentKey = "estimation.component"
)

// Data shape attributes.
const (
	// ObservationsKey indicates the number of time steps in the cleaned series.
	ObservationsKey = "data.observations"

	// DroppedRowsKey indicates how many rows were dropped during cleaning.
	DroppedRowsKey = "data.dropped_rows"

	// RegimesKey indicates the number of latent regimes in the specification.
	RegimesKey = "model.regimes"
)

// Estimation attributes.
const (
	// StrategyKey identifies the initialization strategy of a cascade attempt.
	// Values: "split-sample", "conservative", "default"
	StrategyKey = "fit.strategy"

	// AttemptKey is the 1-based index of the cascade attempt.
	AttemptKey = "fit.attempt"

	// LogLikelihoodKey records the maximized log-likelihood of a fit.
	LogLikelihoodKey = "fit.log_likelihood"

	// EMIterationsKey records the number of EM iterations performed.
	EMIterationsKey = "fit.em_iterations"

	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"
)
