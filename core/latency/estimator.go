// Package latency estimates model-executor step time from batch
// composition, standing in for the real executor's timing the way
// sim/latency's BlackboxLatencyModel stands in for real hardware:
// step_time ≈ beta0 + beta1*cacheMissTokens + beta2*decodeTokens. The
// teacher hand-sets beta from calibration data; here the coefficients
// are fit by ordinary least squares over observed (batch, duration)
// samples, using gonum's QR-based solver instead of a hand-rolled
// normal-equations routine.
package latency

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// Sample is one observed step: how many prefill (cache-miss) tokens
// and decode tokens were in the batch, and how long the step actually
// took (in microseconds).
type Sample struct {
	CacheMissTokens float64
	DecodeTokens    float64
	DurationMicros  float64
}

// StepTimeEstimator predicts step duration from batch composition.
type StepTimeEstimator struct {
	beta [3]float64 // [intercept, cacheMissCoeff, decodeCoeff]
}

// NewStepTimeEstimator wraps a pre-fitted or hand-set coefficient
// triple, matching the teacher's BlackboxLatencyModel constructor shape
// for callers who already have calibration data.
func NewStepTimeEstimator(intercept, cacheMissCoeff, decodeCoeff float64) *StepTimeEstimator {
	return &StepTimeEstimator{beta: [3]float64{intercept, cacheMissCoeff, decodeCoeff}}
}

// Fit estimates the coefficient triple from observed samples via
// ordinary least squares. Requires at least 3 samples.
func Fit(samples []Sample) (*StepTimeEstimator, error) {
	n := len(samples)
	if n < 3 {
		return nil, errors.New("latency: need at least 3 samples to fit a step-time model")
	}

	x := mat.NewDense(n, 3, nil)
	y := mat.NewDense(n, 1, nil)
	for i, s := range samples {
		x.SetRow(i, []float64{1, s.CacheMissTokens, s.DecodeTokens})
		y.Set(i, 0, s.DurationMicros)
	}

	var beta mat.Dense
	if err := beta.Solve(x, y); err != nil {
		return nil, errors.New("latency: least-squares fit failed: " + err.Error())
	}

	return &StepTimeEstimator{beta: [3]float64{beta.At(0, 0), beta.At(1, 0), beta.At(2, 0)}}, nil
}

// Predict returns the estimated step duration, in microseconds, for a
// batch with the given token composition. Never negative: a degenerate
// fit that would predict a negative duration is clamped to zero.
func (e *StepTimeEstimator) Predict(cacheMissTokens, decodeTokens int) int64 {
	v := e.beta[0] + e.beta[1]*float64(cacheMissTokens) + e.beta[2]*float64(decodeTokens)
	if v < 0 {
		return 0
	}
	return int64(v)
}

// Coefficients returns the fitted (or configured) [intercept,
// cacheMissCoeff, decodeCoeff] triple, for inspection/logging.
func (e *StepTimeEstimator) Coefficients() [3]float64 { return e.beta }
