package testingeffect

import (
	"math"
	"testing"
	"time"

	"github.com/synapsed/synapsed/internal/errs"
)

func TestProcess_RejectsInvalidConfidence(t *testing.T) {
	_, err := Process(Attempt{Confidence: 1.5}, 1.0, 2.5, 1.0)
	if !errs.Is(err, errs.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestProcess_SuccessfulModerateDifficultyBoostsStrength(t *testing.T) {
	result, err := Process(Attempt{
		Success:          true,
		RetrievalLatency: 2000 * time.Millisecond, // difficulty 0.5 latency bucket
		Confidence:       0.5,
		RetrievalType:    FreeRecall,
	}, 2.0, 2.5, 5.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.DifficultyScore < 0.4 || result.DifficultyScore > 0.6 {
		t.Errorf("expected moderate difficulty, got %v", result.DifficultyScore)
	}
	if result.ConsolidationBoost < 0.5 || result.ConsolidationBoost > 2.0 {
		t.Errorf("boost out of bounds: %v", result.ConsolidationBoost)
	}
	if !result.Compliance.BoostInBounds {
		t.Error("expected BoostInBounds true")
	}
	if result.NewStrength <= 2.0 {
		t.Errorf("expected strength to increase on successful moderate-difficulty recall, got %v", result.NewStrength)
	}
	if !result.Compliance.ImplementsDesirableDifficulty {
		t.Error("expected desirable-difficulty flag for successful moderate-difficulty attempt")
	}
	if result.EaseFactorDelta != 0.15 {
		t.Errorf("expected ease factor delta 0.15 (0.1 base + 0.05 optimal-difficulty bonus), got %v", result.EaseFactorDelta)
	}
}

func TestProcess_FailureResetsIntervalAndLowersEase(t *testing.T) {
	result, err := Process(Attempt{
		Success:          false,
		RetrievalLatency: 6500 * time.Millisecond,
		Confidence:       0.2,
		RetrievalType:    Recognition,
	}, 2.0, 2.5, 30.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.NextIntervalDays != 1.0 {
		t.Errorf("expected interval reset to 1 day on failure, got %v", result.NextIntervalDays)
	}
	if result.EaseFactorDelta != -0.2 {
		t.Errorf("expected ease factor delta -0.2 on failure, got %v", result.EaseFactorDelta)
	}
	if result.NewStrength >= 2.0 {
		t.Errorf("expected strength to decrease on failure, got %v", result.NewStrength)
	}
}

func TestProcess_EaseFactorClampedToBounds(t *testing.T) {
	result, err := Process(Attempt{Success: true, Confidence: 1.0, RetrievalType: FreeRecall}, 1.0, 2.95, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NewEaseFactor > 3.0 {
		t.Errorf("expected ease factor clamped to 3.0, got %v", result.NewEaseFactor)
	}

	result2, err := Process(Attempt{Success: false, Confidence: 1.0, RetrievalType: FreeRecall}, 1.0, 1.35, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result2.NewEaseFactor < 1.3 {
		t.Errorf("expected ease factor clamped to 1.3, got %v", result2.NewEaseFactor)
	}
}

func TestProcess_StrengthClampedTo15AfterBoost(t *testing.T) {
	result, err := Process(Attempt{
		Success:          true,
		RetrievalLatency: 2000 * time.Millisecond,
		Confidence:       0.5,
		RetrievalType:    FreeRecall,
	}, 10.0, 2.5, 5.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NewStrength > 15.0 {
		t.Errorf("expected strength clamped to 15.0, got %v", result.NewStrength)
	}
}

func TestProcess_IntervalNeverExceeds365(t *testing.T) {
	result, err := Process(Attempt{Success: true, Confidence: 0.9, RetrievalType: FreeRecall}, 5.0, 3.0, 300.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NextIntervalDays > 365.0 {
		t.Errorf("expected interval clamped to 365, got %v", result.NextIntervalDays)
	}
	if !result.Compliance.IntervalInBounds {
		t.Error("expected IntervalInBounds true")
	}
}

func TestQueryTypeModifier_OrdersBySpec(t *testing.T) {
	order := []RetrievalType{SimilaritySearch, Recognition, ContextualRetrieval, CuedRecall, FreeRecall}
	prev := 0.0
	for _, rt := range order {
		m := queryTypeModifier(rt)
		if m <= prev {
			t.Errorf("expected increasing modifiers in order %v, got %v <= %v at %s", order, m, prev, rt)
		}
		prev = m
	}
}

func TestDifficultyScore_WeightsLatencyAndConfidence(t *testing.T) {
	d := difficultyScore(Attempt{RetrievalLatency: 4000 * time.Millisecond, Confidence: 1.0})
	// latency bucket 0.8, confidence component 0: 0.7*0.8 + 0.3*0 = 0.56
	if math.Abs(d-0.56) > 1e-9 {
		t.Errorf("expected difficulty 0.56, got %v", d)
	}
}
