// Package tiermanager implements the tier manager: a long-lived
// background task that, on each scan tick, demotes stale memories from
// Working to Warm to Cold to Frozen according to their recall
// probability, importance, and access recency.
package tiermanager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/synapsed/synapsed/internal/logging"
	"github.com/synapsed/synapsed/internal/mathkernel"
	"github.com/synapsed/synapsed/internal/metrics"
	"github.com/synapsed/synapsed/internal/store"
)

var log = logging.GetLogger("tiermanager")

// State is one of the tier manager's lifecycle states.
type State string

const (
	StateStopped      State = "stopped"
	StateRunning      State = "running"
	StateScanning     State = "scanning"
	StateMigrating    State = "migrating"
	StateError        State = "error"
	StateShuttingDown State = "shutting_down"
)

// TierRule configures one source tier's migration thresholds.
type TierRule struct {
	Next               store.Tier
	MinAgeHours        float64
	RecallThreshold    float64
	MigrationBatchSize int
}

// DefaultRules returns the default tier-migration thresholds.
func DefaultRules() map[store.Tier]TierRule {
	return map[store.Tier]TierRule{
		store.TierWorking: {Next: store.TierWarm, MinAgeHours: 1, RecallThreshold: 0.7, MigrationBatchSize: 20},
		store.TierWarm:    {Next: store.TierCold, MinAgeHours: 24, RecallThreshold: 0.5, MigrationBatchSize: 20},
		store.TierCold:    {Next: store.TierFrozen, MinAgeHours: 168, RecallThreshold: 0.2, MigrationBatchSize: 20},
	}
}

// Config configures a Manager.
type Config struct {
	Enabled                bool
	ScanInterval           time.Duration
	Rules                  map[store.Tier]TierRule
	MaxConcurrentMigrations int64
	// IsLocked reports whether memoryID is exclusively held by a
	// concurrent retrieval. A
	// nil hook means nothing is ever locked.
	IsLocked func(memoryID string) bool
}

func (c Config) withDefaults() Config {
	if c.ScanInterval <= 0 {
		c.ScanInterval = time.Minute
	}
	if c.Rules == nil {
		c.Rules = DefaultRules()
	}
	if c.MaxConcurrentMigrations <= 0 {
		c.MaxConcurrentMigrations = 2
	}
	if c.IsLocked == nil {
		c.IsLocked = func(string) bool { return false }
	}
	return c
}

// Gateway is the subset of store.Gateway the tier manager depends on.
type Gateway interface {
	ListByTier(ctx context.Context, tier store.Tier, limit int) ([]*store.Memory, error)
	MigrateTier(ctx context.Context, id string, from, to store.Tier, reason string) error
	Freeze(ctx context.Context, memoryID string, payload map[string]any, reason string, compressionRatio float64) error
	RecordTierSnapshot(ctx context.Context) error
}

// Stats summarizes the manager's lifetime activity.
type Stats struct {
	TotalScans         int64
	SkippedRuns        int64
	MigrationsExecuted int64
	LastScanAt         time.Time
	LastError          string
}

// Manager drives the background tier-migration loop.
type Manager struct {
	gateway Gateway
	cfg     Config

	mu    sync.RWMutex
	state State
	stats Stats

	scanning atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	now      func() time.Time
}

// New returns a Manager in the Stopped state.
func New(gateway Gateway, cfg Config) *Manager {
	return &Manager{
		gateway: gateway,
		cfg:     cfg.withDefaults(),
		state:   StateStopped,
		now:     time.Now,
	}
}

// Start begins the scan loop. If the manager is disabled, Start is a
// no-op that returns success.
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		log.Info("tier manager disabled, start is a no-op")
		return nil
	}

	m.mu.Lock()
	if m.state == StateRunning || m.state == StateScanning || m.state == StateMigrating {
		m.mu.Unlock()
		return nil
	}
	m.state = StateRunning
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.loop(ctx)
	return nil
}

// Stop signals the scan loop to exit and waits up to 5 minutes for any
// in-flight scan to finish.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return nil
	}
	m.state = StateShuttingDown
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}

	if doneCh != nil {
		select {
		case <-doneCh:
		case <-time.After(5 * time.Minute):
		}
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
	return nil
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetStats returns a snapshot of the manager's lifetime counters.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs one scan, skipping it outright (and incrementing
// skipped_runs) if a previous scan is still in flight.
func (m *Manager) tick(ctx context.Context) {
	if !m.scanning.CompareAndSwap(false, true) {
		m.mu.Lock()
		m.stats.SkippedRuns++
		m.mu.Unlock()
		metrics.TierManagerScans.WithLabelValues("skipped").Inc()
		return
	}
	defer m.scanning.Store(false)

	m.mu.Lock()
	m.state = StateScanning
	m.stats.TotalScans++
	m.stats.LastScanAt = m.now()
	m.mu.Unlock()

	start := time.Now()
	migrated, err := m.scanOnce(ctx)
	metrics.TierManagerScanDuration.Observe(time.Since(start).Seconds())

	m.mu.Lock()
	if err != nil {
		m.state = StateError
		m.stats.LastError = err.Error()
	} else {
		m.state = StateRunning
		m.stats.MigrationsExecuted += int64(migrated)
	}
	m.mu.Unlock()

	if err != nil {
		metrics.TierManagerScans.WithLabelValues("error").Inc()
		return
	}
	metrics.TierManagerScans.WithLabelValues("completed").Inc()

	if err := m.gateway.RecordTierSnapshot(ctx); err != nil {
		log.Warn("tier statistics snapshot failed", "error", err)
	}
}

// TriggerScan runs one scan on demand, guarded by the same single-flight
// flag as the ticker-driven loop. batchSize
// is accepted for symmetry with scheduler.Job but is advisory only: each
// tier rule already carries its own configured batch size.
func (m *Manager) TriggerScan(ctx context.Context, batchSize int) (int, error) {
	if !m.scanning.CompareAndSwap(false, true) {
		m.mu.Lock()
		m.stats.SkippedRuns++
		m.mu.Unlock()
		metrics.TierManagerScans.WithLabelValues("skipped").Inc()
		return 0, nil
	}
	defer m.scanning.Store(false)

	m.mu.Lock()
	m.state = StateScanning
	m.stats.TotalScans++
	m.stats.LastScanAt = m.now()
	m.mu.Unlock()

	start := time.Now()
	migrated, err := m.scanOnce(ctx)
	metrics.TierManagerScanDuration.Observe(time.Since(start).Seconds())

	m.mu.Lock()
	if err != nil {
		m.state = StateError
		m.stats.LastError = err.Error()
	} else {
		m.state = StateRunning
		m.stats.MigrationsExecuted += int64(migrated)
	}
	m.mu.Unlock()

	if err != nil {
		metrics.TierManagerScans.WithLabelValues("error").Inc()
		return migrated, err
	}
	metrics.TierManagerScans.WithLabelValues("completed").Inc()

	if snapErr := m.gateway.RecordTierSnapshot(ctx); snapErr != nil {
		log.Warn("tier statistics snapshot failed", "error", snapErr)
	}

	return migrated, err
}

// candidate is a memory paired with its computed migration priority.
type candidate struct {
	memory   *store.Memory
	priority float64
	rule     TierRule
	from     store.Tier
}

// scanOnce performs one full pass over {Working, Warm, Cold}, returning
// the number of memories migrated.
func (m *Manager) scanOnce(ctx context.Context) (int, error) {
	rules := m.cfg.Rules
	sourceTiers := []store.Tier{store.TierWorking, store.TierWarm, store.TierCold}

	var candidates []candidate
	for _, tier := range sourceTiers {
		rule, ok := rules[tier]
		if !ok {
			continue
		}
		memories, err := m.gateway.ListByTier(ctx, tier, rule.MigrationBatchSize)
		if err != nil {
			return 0, err
		}
		for _, mem := range memories {
			if !m.eligible(mem, rule) {
				continue
			}
			if m.safetyGateBlocks(mem, rule) {
				continue
			}
			candidates = append(candidates, candidate{
				memory:   mem,
				priority: priorityScore(mem, rule, m.now()),
				rule:     rule,
				from:     tier,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].memory.UpdatedAt.Before(candidates[j].memory.UpdatedAt)
	})

	if len(candidates) == 0 {
		return 0, nil
	}

	m.mu.Lock()
	m.state = StateMigrating
	m.mu.Unlock()

	sem := semaphore.NewWeighted(m.cfg.MaxConcurrentMigrations)
	var wg sync.WaitGroup
	var migratedCount atomic.Int64

	for _, c := range candidates {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(c candidate) {
			defer wg.Done()
			defer sem.Release(1)
			if m.migrate(ctx, c) {
				migratedCount.Add(1)
			}
		}(c)
	}
	wg.Wait()

	return int(migratedCount.Load()), nil
}

func (m *Manager) eligible(mem *store.Memory, rule TierRule) bool {
	ageHours := m.now().Sub(mem.CreatedAt).Hours()
	if ageHours < rule.MinAgeHours {
		return false
	}
	if mem.RecallProbability == nil {
		return false
	}
	return *mem.RecallProbability < rule.RecallThreshold
}

func (m *Manager) safetyGateBlocks(mem *store.Memory, rule TierRule) bool {
	if mem.Importance >= 0.85 && mem.RecallProbability != nil && *mem.RecallProbability >= 0.5 {
		return true
	}
	if mem.AccessCount >= 10 && mem.LastAccessed != nil {
		window := time.Duration(rule.MinAgeHours * float64(time.Hour))
		if m.now().Sub(*mem.LastAccessed) < window {
			return true
		}
	}
	if m.cfg.IsLocked(mem.ID) {
		return true
	}
	return false
}

func priorityScore(mem *store.Memory, rule TierRule, now time.Time) float64 {
	recall := 0.0
	if mem.RecallProbability != nil {
		recall = *mem.RecallProbability
	}
	ageHours := now.Sub(mem.CreatedAt).Hours()
	ageFactor := ageHours / (24.0 * rule.MinAgeHours)
	if ageFactor > 1.0 {
		ageFactor = 1.0
	}
	return 0.5*(1-recall) + 0.3*(1-mem.Importance) + 0.2*ageFactor
}

// migrate performs step 4.7.4 for a single surviving candidate: recompute
// recall probability, move the tier, optionally freeze, and record the
// audit event. Returns true if the migration succeeded.
func (m *Manager) migrate(ctx context.Context, c candidate) bool {
	recallResult, err := mathkernel.ForgettingCurve(mathkernel.Parameters{
		ConsolidationStrength: c.memory.ConsolidationStrength,
		DecayRate:             orDefault(c.memory.DecayRate, mathkernel.DefaultDecayRate),
		AccessCount:           c.memory.AccessCount,
		ImportanceScore:       c.memory.Importance,
		TimeSinceAccessHours:  timeSinceAccessHours(c.memory, m.now()),
		NeverAccessed:         c.memory.LastAccessed == nil,
		AgeDays:               m.now().Sub(c.memory.CreatedAt).Hours() / 24.0,
	})
	if err != nil {
		log.Warn("tier migration: recall computation failed", "memory_id", c.memory.ID, "error", err)
		return false
	}

	reason := fmt.Sprintf("priority=%.4f recall_threshold=%.2f min_age_hours=%.0f recomputed_recall=%.4f",
		c.priority, c.rule.RecallThreshold, c.rule.MinAgeHours, recallResult.RecallProbability)

	if err := m.gateway.MigrateTier(ctx, c.memory.ID, c.from, c.rule.Next, reason); err != nil {
		log.Warn("tier migration failed", "memory_id", c.memory.ID, "from", c.from, "to", c.rule.Next, "error", err)
		return false
	}
	metrics.TierManagerMigrations.WithLabelValues(string(c.from), string(c.rule.Next)).Inc()

	if c.rule.Next == store.TierFrozen {
		payload, ratio := compress(c.memory.Content)
		if err := m.gateway.Freeze(ctx, c.memory.ID, payload, reason, ratio); err != nil {
			log.Warn("freeze archival failed", "memory_id", c.memory.ID, "error", err)
			return false
		}
	}

	return true
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func timeSinceAccessHours(mem *store.Memory, now time.Time) float64 {
	reference := mem.CreatedAt
	if mem.LastAccessed != nil {
		reference = *mem.LastAccessed
	}
	h := now.Sub(reference).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// compress builds the structured summary stored in FrozenMemory.CompressedPayload:
// a word-frequency top-N keyword list and basic content counters.
// compressionRatio is the ratio of the original content's size to the
// compressed payload's size, floored at 1.0 (a ratio of 10.5 means the
// original was 10.5x the compressed size).
func compress(content string) (map[string]any, float64) {
	words := strings.Fields(strings.ToLower(content))
	freq := make(map[string]int, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()[]{}")
		if len(w) < 3 {
			continue
		}
		freq[w]++
	}

	type kv struct {
		word  string
		count int
	}
	ranked := make([]kv, 0, len(freq))
	for w, c := range freq {
		ranked = append(ranked, kv{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	const topN = 10
	keywords := make([]string, 0, topN)
	for i := 0; i < len(ranked) && i < topN; i++ {
		keywords = append(keywords, ranked[i].word)
	}

	payload := map[string]any{
		"top_keywords": keywords,
		"word_count":   len(words),
		"char_count":   len(content),
	}

	compressedSize := 0
	for _, k := range keywords {
		compressedSize += len(k) + 1
	}
	ratio := 1.0
	if compressedSize > 0 {
		ratio = float64(len(content)) / float64(compressedSize)
	}
	if ratio < 1.0 {
		ratio = 1.0
	}

	return payload, ratio
}
