// Package metcalfe provides regime-switching estimation of Metcalfe-style
// network valuation models in Go.
//
// The library fits the power law value = exp(α)·users^β in log space, where the
// network-effect exponent β is allowed to switch between a small number of
// latent market regimes governed by a first-order Markov chain with fixed
// transition probabilities (FTP-MS).
//
// # Quick Start
//
// Fitting the two-regime model and predicting under the current regime:
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/metcalfe-go/metcalfe/markov"
//	)
//
//	func main() {
//	    model, err := markov.NewFTPMSModel(2)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    result, err := model.Fit(users, marketCap)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    fmt.Printf("alpha=%.4f betas=%v regime=%d\n",
//	        result.Alpha, result.Betas, result.CurrentRegime)
//
//	    predicted, err := model.Predict([]float64{50000})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println("predicted value:", predicted)
//	}
//
// # Packages
//
// The library is organized into several packages:
//
//   - markov: the FTP-MS regime-switching model (Hamilton filter, Kim smoother,
//     EM estimation with maximum-likelihood refinement)
//   - regression: the single-regime OLS baseline (Metcalfe's Law in log space)
//   - preprocessing: series validation and log transforms
//   - metrics: evaluation metrics (MSE, RMSE, R²)
//   - core/model: fitted-state management shared by all estimators
//   - core/parallel: parallel processing utilities
//   - pkg/errors: structured errors, warnings, and numerical safety helpers
//   - pkg/log: structured logging utilities
//
// # Error Handling
//
// All estimators return typed errors from pkg/errors: DomainError for invalid
// inputs, InvalidRegimeError for unsupported regime counts or unknown regime
// keys, FittingError when the full initialization cascade is exhausted, and
// NotFittedError when results are requested before a successful fit. Non-fatal
// parameter-extraction degrades are surfaced through the warning handler and a
// Degraded flag on the result rather than an error.
package metcalfe
