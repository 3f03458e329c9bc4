package latency

import "testing"

// TestFit_RecoversExactLinearRelationship verifies:
// GIVEN samples generated from a known exact linear relationship
// WHEN Fit is called
// THEN the recovered coefficients MUST match the generating ones.
func TestFit_RecoversExactLinearRelationship(t *testing.T) {
	const intercept, cacheMissCoeff, decodeCoeff = 200.0, 3.0, 7.0
	samples := []Sample{
		{CacheMissTokens: 0, DecodeTokens: 0},
		{CacheMissTokens: 100, DecodeTokens: 0},
		{CacheMissTokens: 0, DecodeTokens: 10},
		{CacheMissTokens: 50, DecodeTokens: 20},
		{CacheMissTokens: 200, DecodeTokens: 5},
	}
	for i := range samples {
		samples[i].DurationMicros = intercept + cacheMissCoeff*samples[i].CacheMissTokens + decodeCoeff*samples[i].DecodeTokens
	}

	est, err := Fit(samples)
	if err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}

	got := est.Coefficients()
	want := [3]float64{intercept, cacheMissCoeff, decodeCoeff}
	for i := range want {
		if diff := got[i] - want[i]; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("coefficient[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// TestFit_TooFewSamples verifies:
// GIVEN fewer than 3 samples
// WHEN Fit is called
// THEN it MUST return an error rather than attempt an underdetermined solve.
func TestFit_TooFewSamples(t *testing.T) {
	_, err := Fit([]Sample{{CacheMissTokens: 1, DecodeTokens: 1, DurationMicros: 10}})
	if err == nil {
		t.Fatal("expected an error for fewer than 3 samples, got nil")
	}
}

// TestPredict_UsesConfiguredCoefficients verifies:
// GIVEN a pre-configured estimator
// WHEN Predict is called
// THEN the result MUST equal the linear combination of the coefficients.
func TestPredict_UsesConfiguredCoefficients(t *testing.T) {
	est := NewStepTimeEstimator(50, 2, 4)
	got := est.Predict(10, 5)
	want := int64(50 + 2*10 + 4*5)
	if got != want {
		t.Errorf("Predict(10, 5) = %d, want %d", got, want)
	}
}

// TestPredict_ClampsNegativeToZero verifies:
// GIVEN coefficients that would predict a negative duration
// WHEN Predict is called
// THEN the result MUST be clamped to zero rather than returned negative.
func TestPredict_ClampsNegativeToZero(t *testing.T) {
	est := NewStepTimeEstimator(-1000, 0, 0)
	if got := est.Predict(0, 0); got != 0 {
		t.Errorf("Predict(0, 0) = %d, want 0 (clamped)", got)
	}
}

// TestNewStepTimeEstimator_CoefficientsRoundTrip verifies:
// GIVEN coefficients passed directly to the constructor
// WHEN Coefficients is called
// THEN it MUST return exactly what was configured.
func TestNewStepTimeEstimator_CoefficientsRoundTrip(t *testing.T) {
	est := NewStepTimeEstimator(1, 2, 3)
	got := est.Coefficients()
	want := [3]float64{1, 2, 3}
	if got != want {
		t.Errorf("Coefficients() = %v, want %v", got, want)
	}
}
