package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestManager_DisabledStartIsNoOp(t *testing.T) {
	m := New(func(ctx context.Context, batchSize int) (int, error) { return 0, nil }, Config{Enabled: false})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.State() != StateStopped {
		t.Errorf("expected disabled scheduler to remain Stopped, got %v", m.State())
	}
	h := m.GetHealth()
	if !h.Healthy {
		t.Error("expected a disabled scheduler to report healthy")
	}
}

func TestTriggerNow_SkipsWhenAlreadyExecuting(t *testing.T) {
	m := New(func(ctx context.Context, batchSize int) (int, error) { return 1, nil }, Config{})
	m.executing.Store(true) // simulate an in-flight run

	err := m.TriggerNow(context.Background())
	if err == nil {
		t.Fatal("expected busy error when a run is already in flight")
	}

	stats := m.GetStatistics()
	if stats.SkippedRuns != 1 {
		t.Errorf("expected 1 skipped run, got %d", stats.SkippedRuns)
	}
}

func TestTriggerNow_RecordsSuccessStatistics(t *testing.T) {
	m := New(func(ctx context.Context, batchSize int) (int, error) { return 7, nil }, Config{})

	if err := m.TriggerNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := m.GetStatistics()
	if stats.SuccessfulRuns != 1 {
		t.Errorf("expected 1 successful run, got %d", stats.SuccessfulRuns)
	}
	if stats.TotalRuns != 1 {
		t.Errorf("expected 1 total run, got %d", stats.TotalRuns)
	}
	if stats.LastSuccessAt.IsZero() {
		t.Error("expected LastSuccessAt to be set")
	}
}

func TestTriggerNow_RecordsFailureOnJobError(t *testing.T) {
	m := New(func(ctx context.Context, batchSize int) (int, error) {
		return 0, errTestJobFailed
	}, Config{})

	if err := m.TriggerNow(context.Background()); err != nil {
		t.Fatalf("unexpected error from TriggerNow itself: %v", err)
	}

	stats := m.GetStatistics()
	if stats.FailedRuns != 1 {
		t.Errorf("expected 1 failed run, got %d", stats.FailedRuns)
	}
	if stats.LastError == "" {
		t.Error("expected LastError to be populated")
	}
	if m.State() != StateError {
		t.Errorf("expected state Error after a failed run, got %v", m.State())
	}
}

func TestTriggerNow_RejectsWithinMinInterval(t *testing.T) {
	m := New(func(ctx context.Context, batchSize int) (int, error) { return 1, nil }, Config{MinInterval: time.Hour})

	if err := m.TriggerNow(context.Background()); err != nil {
		t.Fatalf("unexpected error on first trigger: %v", err)
	}
	if err := m.TriggerNow(context.Background()); err == nil {
		t.Fatal("expected second trigger within MinInterval to be rejected")
	}

	stats := m.GetStatistics()
	if stats.TotalRuns != 1 {
		t.Errorf("expected the rejected trigger to not count as a run, got %d total runs", stats.TotalRuns)
	}
}

func TestRunOnce_EnforcesMaxProcessingDuration(t *testing.T) {
	m := New(func(ctx context.Context, batchSize int) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}, Config{MaxProcessingDuration: 10 * time.Millisecond})

	start := time.Now()
	if err := m.TriggerNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected run to be cut off quickly by the deadline, took %v", elapsed)
	}

	stats := m.GetStatistics()
	if stats.FailedRuns != 1 {
		t.Errorf("expected the deadline-exceeded run to count as failed, got %d failed", stats.FailedRuns)
	}
}

func TestBatchSize_AppliesBackpressureAboveThreshold(t *testing.T) {
	var gotBatchSize int32
	m := New(func(ctx context.Context, batchSize int) (int, error) {
		atomic.StoreInt32(&gotBatchSize, int32(batchSize))
		return 0, nil
	}, Config{
		DefaultBatchSize:      20,
		BackpressureBatchSize: 5,
		MaxTierLoadThreshold:  0.5,
		TierLoad:              func(ctx context.Context) (float64, error) { return 0.9, nil },
	})

	if err := m.TriggerNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&gotBatchSize); got != 5 {
		t.Errorf("expected backpressure batch size 5 under high load, got %d", got)
	}
}

func TestBatchSize_UsesDefaultBelowThreshold(t *testing.T) {
	var gotBatchSize int32
	m := New(func(ctx context.Context, batchSize int) (int, error) {
		atomic.StoreInt32(&gotBatchSize, int32(batchSize))
		return 0, nil
	}, Config{
		DefaultBatchSize:      20,
		BackpressureBatchSize: 5,
		MaxTierLoadThreshold:  0.9,
		TierLoad:              func(ctx context.Context) (float64, error) { return 0.1, nil },
	})

	if err := m.TriggerNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&gotBatchSize); got != 20 {
		t.Errorf("expected default batch size 20 under low load, got %d", got)
	}
}

func TestGetHealth_UnhealthyAfterError(t *testing.T) {
	m := New(func(ctx context.Context, batchSize int) (int, error) {
		return 0, errTestJobFailed
	}, Config{Enabled: true})

	if err := m.TriggerNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := m.GetHealth()
	if h.Healthy {
		t.Error("expected scheduler to report unhealthy after a failed run")
	}
	if h.Status != StateError {
		t.Errorf("expected health status Error, got %v", h.Status)
	}
}

func TestStart_RejectsInvalidCronExpression(t *testing.T) {
	m := New(func(ctx context.Context, batchSize int) (int, error) { return 0, nil }, Config{
		Enabled:        true,
		CronExpression: "not a cron expression",
	})
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTestJobFailed = testError("job failed")
