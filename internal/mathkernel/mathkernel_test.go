package mathkernel

import (
	"math"
	"math/rand"
	"testing"

	"github.com/synapsed/synapsed/internal/errs"
)

// Scenario A — forgetting curve benchmark: S=1.0, decay_rate=1.0,
// last_accessed_at = now-1h. Expected R = exp(-1) ~= 0.3679.
func TestForgettingCurve_ScenarioA(t *testing.T) {
	result, err := ForgettingCurve(Parameters{
		ConsolidationStrength: 1.0,
		DecayRate:             1.0,
		ImportanceScore:       0.5,
		TimeSinceAccessHours:  1.0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := math.Abs(result.RecallProbability - 0.3679); diff >= 0.001 {
		t.Errorf("expected recall probability within 0.001 of 0.3679, got %v (diff %v)", result.RecallProbability, diff)
	}
}

func TestForgettingCurve_AtZeroIsOne(t *testing.T) {
	result, err := ForgettingCurve(Parameters{
		ConsolidationStrength: 2.0,
		DecayRate:             1.0,
		ImportanceScore:       0.5,
		TimeSinceAccessHours:  0.0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(result.RecallProbability-1.0) > AccuracyTolerance {
		t.Errorf("expected R(0) = 1.0, got %v", result.RecallProbability)
	}
}

func TestForgettingCurve_NeverAccessedFloorsStrength(t *testing.T) {
	// importance_score near zero would collapse strength to ~0; the floor
	// at MinConsolidationStrength keeps the curve well-defined.
	result, err := ForgettingCurve(Parameters{
		ConsolidationStrength: 1.0,
		DecayRate:             1.0,
		ImportanceScore:       0.01,
		TimeSinceAccessHours:  1.0,
		NeverAccessed:         true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RecallProbability < 0 || result.RecallProbability > 1 {
		t.Errorf("recall probability out of [0,1]: %v", result.RecallProbability)
	}
}

func TestForgettingCurve_RejectsInvalidParameters(t *testing.T) {
	cases := []Parameters{
		{ConsolidationStrength: -1, DecayRate: 1, ImportanceScore: 0.5},
		{ConsolidationStrength: 1, DecayRate: 0, ImportanceScore: 0.5},
		{ConsolidationStrength: 1, DecayRate: 1, ImportanceScore: 1.5},
		{ConsolidationStrength: 1, DecayRate: 1, ImportanceScore: 0.5, TimeSinceAccessHours: -1},
	}
	for i, p := range cases {
		if _, err := ForgettingCurve(p); !errs.Is(err, errs.KindValidation) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestForgettingCurve_OverflowGuard(t *testing.T) {
	result, err := ForgettingCurve(Parameters{
		ConsolidationStrength: 1.0,
		DecayRate:             1.0,
		ImportanceScore:       0.5,
		TimeSinceAccessHours:  10_000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RecallProbability != 0.0 {
		t.Errorf("expected recall probability to collapse to 0 for very large t, got %v", result.RecallProbability)
	}
}

func TestForgettingCurve_MonotonicDecreasing(t *testing.T) {
	prev := math.Inf(1)
	for _, hours := range []float64{0, 0.5, 1, 2, 5, 10, 50, 200} {
		result, err := ForgettingCurve(Parameters{
			ConsolidationStrength: 1.0,
			DecayRate:             1.0,
			ImportanceScore:       0.5,
			TimeSinceAccessHours:  hours,
		})
		if err != nil {
			t.Fatalf("unexpected error at t=%v: %v", hours, err)
		}
		if result.RecallProbability > prev {
			t.Errorf("recall probability increased at t=%v: %v > %v", hours, result.RecallProbability, prev)
		}
		prev = result.RecallProbability
	}
}

func TestGeneralizedRecallProbability_AtZeroIsOne(t *testing.T) {
	p, err := GeneralizedRecallProbability(0.0, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(p-1.0) > AccuracyTolerance {
		t.Errorf("expected p(0) = 1.0, got %v", p)
	}
}

func TestGeneralizedRecallProbability_MonotonicDecreasing(t *testing.T) {
	prev := math.Inf(1)
	for _, nt := range []float64{0, 0.5, 1, 2, 5, 10, 50} {
		p, err := GeneralizedRecallProbability(nt, 1.0)
		if err != nil {
			t.Fatalf("unexpected error at t=%v: %v", nt, err)
		}
		if p > prev {
			t.Errorf("probability increased at normalized_time=%v: %v > %v", nt, p, prev)
		}
		prev = p
	}
}

func TestGeneralizedRecallProbability_RejectsInvalid(t *testing.T) {
	if _, err := GeneralizedRecallProbability(-1, 1); !errs.Is(err, errs.KindValidation) {
		t.Errorf("expected validation error for negative normalized_time, got %v", err)
	}
	if _, err := GeneralizedRecallProbability(1, 0); !errs.Is(err, errs.KindValidation) {
		t.Errorf("expected validation error for non-positive decay_rate, got %v", err)
	}
}

// Scenario B — consolidation on access: S=1.5, Δt=2h.
// ΔS = (1-e^-2)/(1+e^-2) ~= 0.7616; S' ~= 2.2616.
func TestUpdateConsolidationStrength_ScenarioB(t *testing.T) {
	result, err := UpdateConsolidationStrength(1.5, 2.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := math.Abs(result.StrengthIncrement - 0.7616); diff >= 0.001 {
		t.Errorf("expected increment within 0.001 of 0.7616, got %v", result.StrengthIncrement)
	}
	if diff := math.Abs(result.NewStrength - 2.2616); diff >= 0.001 {
		t.Errorf("expected new strength within 0.001 of 2.2616, got %v", result.NewStrength)
	}
}

func TestUpdateConsolidationStrength_RapidReaccessIsNoOp(t *testing.T) {
	result, err := UpdateConsolidationStrength(1.5, 1.0/120.0) // 30 seconds
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StrengthIncrement != 0.0 {
		t.Errorf("expected zero increment for sub-minute gap, got %v", result.StrengthIncrement)
	}
	if result.NewStrength != 1.5 {
		t.Errorf("expected unchanged strength for sub-minute gap, got %v", result.NewStrength)
	}
}

func TestUpdateConsolidationStrength_ClampsToBounds(t *testing.T) {
	result, err := UpdateConsolidationStrength(MaxConsolidationStrength, 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NewStrength > MaxConsolidationStrength {
		t.Errorf("new strength exceeds max: %v", result.NewStrength)
	}

	result, err = UpdateConsolidationStrength(0.0, 0.02)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NewStrength < MinConsolidationStrength {
		t.Errorf("new strength below min: %v", result.NewStrength)
	}
}

func TestUpdateConsolidationStrength_RejectsOutOfRangeCurrent(t *testing.T) {
	if _, err := UpdateConsolidationStrength(-0.1, 2.0); !errs.Is(err, errs.KindValidation) {
		t.Errorf("expected validation error for negative current strength, got %v", err)
	}
	if _, err := UpdateConsolidationStrength(MaxConsolidationStrength*2.1, 2.0); !errs.Is(err, errs.KindValidation) {
		t.Errorf("expected validation error for current strength above 2x max, got %v", err)
	}
}

func TestAdaptiveDecayRate_BoundsAndMonotonicity(t *testing.T) {
	low, err := AdaptiveDecayRate(Parameters{AccessCount: 0, ImportanceScore: 0.0, AgeDays: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	high, err := AdaptiveDecayRate(Parameters{AccessCount: 100, ImportanceScore: 1.0, AgeDays: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if high >= low {
		t.Errorf("expected frequently-accessed, high-importance memory to decay slower: high=%v low=%v", high, low)
	}

	veryOld, err := AdaptiveDecayRate(Parameters{AccessCount: 0, ImportanceScore: 0.0, AgeDays: 10_000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if veryOld < MinDecayRate || veryOld > MaxDecayRate {
		t.Errorf("decay rate out of bounds: %v", veryOld)
	}
}

func TestAdaptiveDecayRate_RejectsInvalidParameters(t *testing.T) {
	if _, err := AdaptiveDecayRate(Parameters{AccessCount: -1, ImportanceScore: 0.5}); !errs.Is(err, errs.KindValidation) {
		t.Errorf("expected validation error for negative access_count")
	}
	if _, err := AdaptiveDecayRate(Parameters{AccessCount: 1, ImportanceScore: 1.5}); !errs.Is(err, errs.KindValidation) {
		t.Errorf("expected validation error for out-of-range importance_score")
	}
}

func TestValidateAccuracy(t *testing.T) {
	if err := ValidateAccuracy(0.5, 0.5005); err != nil {
		t.Errorf("expected values within tolerance to pass, got %v", err)
	}
	if err := ValidateAccuracy(0.5, 0.6); !errs.Is(err, errs.KindAccuracy) {
		t.Errorf("expected AccuracyError for values outside tolerance, got %v", err)
	}
}

func TestRecencyScore_DefaultsAndClamps(t *testing.T) {
	if got := RecencyScore(0, 0); got != 1.0 {
		t.Errorf("expected RecencyScore(0, default lambda) = 1.0, got %v", got)
	}
	if got := RecencyScore(1_000_000, DefaultRecencyLambda); got != 0.0 {
		t.Errorf("expected RecencyScore to collapse to 0 for very large gap, got %v", got)
	}
	if got := RecencyScore(-5, DefaultRecencyLambda); got != 1.0 {
		t.Errorf("expected negative gap to be treated as 0, got %v", got)
	}
}

// Property test: both forgetting-curve forms must stay within [0,1]
// across 10,000+ random inputs.
func TestForgettingCurve_PropertyRandomInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const iterations = 10_000

	for i := 0; i < iterations; i++ {
		strength := 0.1 + rng.Float64()*9.9
		decayRate := 0.1 + rng.Float64()*4.9
		importance := rng.Float64()
		hours := rng.Float64() * 500

		result, err := ForgettingCurve(Parameters{
			ConsolidationStrength: strength,
			DecayRate:             decayRate,
			ImportanceScore:       importance,
			TimeSinceAccessHours:  hours,
		})
		if err != nil {
			t.Fatalf("iteration %d: unexpected error: %v", i, err)
		}
		if result.RecallProbability < 0 || result.RecallProbability > 1 {
			t.Fatalf("iteration %d: recall probability out of [0,1]: %v", i, result.RecallProbability)
		}

		generalized, err := GeneralizedRecallProbability(result.NormalizedTime, decayRate)
		if err != nil {
			t.Fatalf("iteration %d: unexpected error in generalized form: %v", i, err)
		}
		if generalized < 0 || generalized > 1 {
			t.Fatalf("iteration %d: generalized probability out of [0,1]: %v", i, generalized)
		}
	}
}

func TestUpdateConsolidationStrength_PropertyStaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const iterations = 10_000

	for i := 0; i < iterations; i++ {
		current := rng.Float64() * MaxConsolidationStrength
		interval := rng.Float64() * 1000

		result, err := UpdateConsolidationStrength(current, interval)
		if err != nil {
			t.Fatalf("iteration %d: unexpected error: %v", i, err)
		}
		if result.NewStrength < MinConsolidationStrength || result.NewStrength > MaxConsolidationStrength {
			t.Fatalf("iteration %d: strength out of bounds: %v", i, result.NewStrength)
		}
	}
}
