// Package scheduler implements the consolidation/tier-migration scheduler:
// a cron-driven runner that triggers a batch processing job on a
// schedule, with an execution-in-flight guard, a hard per-run deadline,
// tier-load backpressure, and time-of-day pacing.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/synapsed/synapsed/internal/errs"
	"github.com/synapsed/synapsed/internal/logging"
	"github.com/synapsed/synapsed/internal/metrics"
)

var log = logging.GetLogger("scheduler")

// State is one of the scheduler's lifecycle states. Stopped, Running,
// Error and ShuttingDown share their names with the tier manager's
// states; where the tier manager has Scanning and Migrating, the
// scheduler has a single Executing state.
type State string

const (
	StateStopped      State = "stopped"
	StateRunning      State = "running"
	StateExecuting    State = "executing"
	StateError        State = "error"
	StateShuttingDown State = "shutting_down"
)

// Job is the unit of work the scheduler runs on each firing. batchSize is
// the caller-suggested batch size, already reduced for backpressure; the
// job returns how many items it actually processed.
type Job func(ctx context.Context, batchSize int) (processed int, err error)

// TierLoadFunc reports the current tier load as a fraction in [0,1], used
// to decide whether to shrink the batch size passed to Job.
type TierLoadFunc func(ctx context.Context) (float64, error)

// Config configures the scheduler.
type Config struct {
	Enabled                bool
	CronExpression         string
	MaxProcessingDuration  time.Duration
	RunOnStartup           bool
	MinInterval            time.Duration
	MaxTierLoadThreshold   float64
	TimeOfDayOptimization  bool
	DefaultBatchSize       int
	BackpressureBatchSize  int
	TierLoad               TierLoadFunc
}

func (c Config) withDefaults() Config {
	if c.CronExpression == "" {
		c.CronExpression = "0 0 * * * *" // hourly, on the hour
	}
	if c.MaxProcessingDuration <= 0 {
		c.MaxProcessingDuration = 30 * time.Minute
	}
	if c.MinInterval <= 0 {
		c.MinInterval = time.Minute
	}
	if c.MaxTierLoadThreshold <= 0 {
		c.MaxTierLoadThreshold = 0.8
	}
	if c.DefaultBatchSize <= 0 {
		c.DefaultBatchSize = 20
	}
	if c.BackpressureBatchSize <= 0 {
		c.BackpressureBatchSize = 5
	}
	return c
}

// Stats is the statistics surface exposed by GetStatistics.
type Stats struct {
	TotalRuns         int64
	SuccessfulRuns    int64
	FailedRuns        int64
	SkippedRuns       int64
	AverageDurationMs float64
	LastSuccessAt     time.Time
	LastFailureAt     time.Time
	LastError         string
	NextScheduledRun  time.Time
	Status            State
}

// Health is the GetHealth surface: healthy when the
// scheduler is actively cycling or intentionally disabled, unhealthy when
// it has failed or is tearing down.
type Health struct {
	Healthy bool
	Status  State
}

// Manager runs Job on a cron schedule with single-flight, timeout,
// backpressure, and time-of-day pacing. Grounded on the mutex-guarded
// running flag and cron.AddFunc/context.WithTimeout shape used for
// periodic background work across the pack, generalized here to the
// consolidation/tier-migration domain.
type Manager struct {
	job  Job
	cfg  Config
	cron *cron.Cron
	entryID cron.EntryID

	mu    sync.RWMutex
	state State
	stats Stats

	executing atomic.Bool
	lastRunAt time.Time

	now func() time.Time
}

// New creates a Manager. cfg is defaulted via withDefaults.
func New(job Job, cfg Config) *Manager {
	return &Manager{
		job:   job,
		cfg:   cfg.withDefaults(),
		state: StateStopped,
		now:   time.Now,
	}
}

// Start begins the cron schedule. A disabled scheduler is a no-op that
// leaves the manager Stopped.
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}

	m.mu.Lock()
	if m.state == StateRunning || m.state == StateExecuting {
		m.mu.Unlock()
		return nil
	}

	c := cron.New(cron.WithSeconds())
	id, err := c.AddFunc(m.cfg.CronExpression, func() { m.fire(ctx) })
	if err != nil {
		m.mu.Unlock()
		return errs.Config(fmt.Sprintf("scheduler: invalid cron expression %q", m.cfg.CronExpression), err)
	}
	m.cron = c
	m.entryID = id
	m.state = StateRunning
	m.mu.Unlock()

	c.Start()
	log.Info("scheduler started", "cron", m.cfg.CronExpression)

	if m.cfg.RunOnStartup {
		go m.fire(ctx)
	}

	return nil
}

// Stop halts the cron schedule and waits for any in-flight run to settle.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return nil
	}
	m.state = StateShuttingDown
	c := m.cron
	m.mu.Unlock()

	if c != nil {
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
	return nil
}

// TriggerNow runs the job immediately, bypassing the cron schedule. It
// still respects the single-flight guard and MinInterval: a trigger
// that lands within MinInterval of the previous run's start is rejected
// rather than queued.
func (m *Manager) TriggerNow(ctx context.Context) error {
	m.mu.RLock()
	sinceLast := m.now().Sub(m.lastRunAt)
	m.mu.RUnlock()
	if !m.lastRunAt.IsZero() && sinceLast < m.cfg.MinInterval {
		return errs.Busy(fmt.Sprintf("scheduler: manual trigger rejected, %s since last run is below MinInterval %s", sinceLast, m.cfg.MinInterval))
	}

	if !m.executing.CompareAndSwap(false, true) {
		m.recordSkip()
		return errs.Busy("scheduler: a run is already in flight")
	}
	defer m.executing.Store(false)
	m.runOnce(ctx)
	return nil
}

// fire is the cron callback: apply the single-flight guard, then run.
func (m *Manager) fire(ctx context.Context) {
	if !m.executing.CompareAndSwap(false, true) {
		m.recordSkip()
		return
	}
	defer m.executing.Store(false)
	m.runOnce(ctx)
}

func (m *Manager) recordSkip() {
	m.mu.Lock()
	m.stats.SkippedRuns++
	m.mu.Unlock()
	metrics.SchedulerRuns.WithLabelValues("skipped").Inc()
	log.Debug("scheduler run skipped: already in flight")
}

// runOnce executes the job once, enforcing the hard processing deadline,
// tier-load backpressure, and time-of-day pacing, and records statistics.
func (m *Manager) runOnce(ctx context.Context) {
	m.pace(ctx)

	m.mu.Lock()
	m.state = StateExecuting
	m.stats.TotalRuns++
	m.lastRunAt = m.now()
	m.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, m.cfg.MaxProcessingDuration)
	defer cancel()

	batchSize := m.batchSize(runCtx)
	metrics.SchedulerBatchSize.Set(float64(batchSize))

	start := m.now()
	processed, err := m.job(runCtx, batchSize)
	duration := m.now().Sub(start)
	metrics.SchedulerRunDuration.Observe(duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.AverageDurationMs = rollingAverage(m.stats.AverageDurationMs, m.stats.TotalRuns, float64(duration.Milliseconds()))

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			err = errs.Timeout("scheduler: run exceeded max processing duration")
		}
		m.stats.FailedRuns++
		m.stats.LastFailureAt = m.now()
		m.stats.LastError = err.Error()
		m.state = StateError
		metrics.SchedulerRuns.WithLabelValues("failure").Inc()
		log.Warn("scheduler run failed", "error", err, "processed", processed)
		return
	}

	m.stats.SuccessfulRuns++
	m.stats.LastSuccessAt = m.now()
	m.state = StateRunning
	metrics.SchedulerRuns.WithLabelValues("success").Inc()
	log.Debug("scheduler run completed", "processed", processed, "duration_ms", duration.Milliseconds())
}

// batchSize applies tier-load backpressure: if the configured TierLoad
// function reports load at or above MaxTierLoadThreshold, the job is
// handed the smaller BackpressureBatchSize instead of DefaultBatchSize.
func (m *Manager) batchSize(ctx context.Context) int {
	if m.cfg.TierLoad == nil {
		return m.cfg.DefaultBatchSize
	}
	load, err := m.cfg.TierLoad(ctx)
	if err != nil {
		log.Warn("scheduler: tier load check failed, using default batch size", "error", err)
		return m.cfg.DefaultBatchSize
	}
	if load >= m.cfg.MaxTierLoadThreshold {
		return m.cfg.BackpressureBatchSize
	}
	return m.cfg.DefaultBatchSize
}

// pace sleeps a short, time-of-day-dependent delay before a run starts.
// This does not affect correctness; it is load shaping so scheduled runs
// land more gently during business hours than overnight.
func (m *Manager) pace(ctx context.Context) {
	if !m.cfg.TimeOfDayOptimization {
		return
	}
	hour := m.now().Hour()
	var delay time.Duration
	switch {
	case hour >= 9 && hour < 17:
		delay = 100 * time.Millisecond
	case hour >= 22 || hour < 6:
		delay = 500 * time.Millisecond
	default:
		delay = 200 * time.Millisecond
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// GetStatistics returns a snapshot of run statistics.
func (m *Manager) GetStatistics() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := m.stats
	stats.Status = m.state
	if m.cron != nil {
		for _, e := range m.cron.Entries() {
			if e.ID == m.entryID {
				stats.NextScheduledRun = e.Next
			}
		}
	}
	return stats
}

// GetHealth reports healthy when the scheduler is cycling normally or
// intentionally disabled, unhealthy when it has errored or is tearing
// down.
func (m *Manager) GetHealth() Health {
	if !m.cfg.Enabled {
		return Health{Healthy: true, Status: StateStopped}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	state := m.state
	healthy := state == StateRunning || state == StateExecuting
	return Health{Healthy: healthy, Status: state}
}

// State returns the current run state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func rollingAverage(avg float64, n int64, sample float64) float64 {
	if n <= 1 {
		return sample
	}
	return avg + (sample-avg)/float64(n)
}
