package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/synapsed/synapsed/internal/consolidation"
	"github.com/synapsed/synapsed/internal/scheduler"
	"github.com/synapsed/synapsed/internal/store"
	"github.com/synapsed/synapsed/internal/testingeffect"
	"github.com/synapsed/synapsed/internal/tiermanager"
	"github.com/synapsed/synapsed/internal/trigger"
)

type fakeStore struct {
	created            store.CreateInput
	memories           map[string]*store.Memory
	testingEffectCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{memories: map[string]*store.Memory{}}
}

func (f *fakeStore) Create(ctx context.Context, in store.CreateInput) (*store.Memory, error) {
	f.created = in
	mem := &store.Memory{
		ID:                    "mem-1",
		Content:               in.Content,
		Importance:            in.Importance,
		Tier:                  in.Tier,
		CreatedAt:             time.Now(),
		ConsolidationStrength: store.DefaultConsolidationStrength,
		DecayRate:             store.DefaultDecayRate,
		EaseFactor:            store.DefaultEaseFactor,
	}
	f.memories[mem.ID] = mem
	return mem, nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*store.Memory, error) {
	return f.memories[id], nil
}

func (f *fakeStore) Update(ctx context.Context, id string, in store.UpdateInput) (*store.Memory, error) {
	return f.memories[id], nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	delete(f.memories, id)
	return nil
}

func (f *fakeStore) Search(ctx context.Context, req store.SearchRequest) (*store.SearchResponse, error) {
	results := make([]store.SearchResult, 0, len(f.memories))
	for _, m := range f.memories {
		results = append(results, store.SearchResult{Memory: m, SimilarityScore: 0.5})
	}
	return &store.SearchResponse{Results: results, Mode: req.Mode}, nil
}

func (f *fakeStore) ApplyTestingEffectUpdate(ctx context.Context, id string, compute store.TestingEffectComputer) (*store.Memory, error) {
	f.testingEffectCalls++
	mem := f.memories[id]
	u, err := compute(mem)
	if err != nil {
		return nil, err
	}
	mem.ConsolidationStrength = u.NewStrength
	mem.EaseFactor = u.NewEaseFactor
	mem.CurrentIntervalDays = &u.NextIntervalDays
	return mem, nil
}

func (f *fakeStore) GetStats(ctx context.Context) (*store.Stats, error) {
	return &store.Stats{MemoryCount: len(f.memories)}, nil
}

type fakeConsolidation struct {
	calls    int
	lastType store.AccessType
	lastPos  *int
	memories map[string]*store.Memory
}

func (f *fakeConsolidation) RecordAccess(ctx context.Context, memoryID string, opts consolidation.AccessOptions) (*store.Memory, error) {
	f.calls++
	f.lastType = opts.AccessType
	f.lastPos = opts.RankingPosition
	if mem, ok := f.memories[memoryID]; ok {
		return mem, nil
	}
	return &store.Memory{ID: memoryID, ConsolidationStrength: 2.0, EaseFactor: 2.5}, nil
}

type fakeTrigger struct{ match trigger.Match }

func (f fakeTrigger) Classify(content string) trigger.Match { return f.match }

func TestCreate_BoostsImportanceWhenTriggered(t *testing.T) {
	fs := newFakeStore()
	o, err := New(Config{
		Store:             fs,
		Consolidation:     &fakeConsolidation{},
		TriggerEngine:     fakeTrigger{match: trigger.Match{Triggered: true, TriggerType: trigger.CategorySecurity, Confidence: 0.8}},
		TriggerCategories: trigger.DefaultCategories(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mem, err := o.Create(context.Background(), CreateRequest{Content: "SQL injection vulnerability", Importance: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem.Importance != 1.0 {
		t.Errorf("expected boosted importance 1.0, got %v", mem.Importance)
	}
	if fs.created.Metadata["event_trigger"] == nil {
		t.Error("expected event_trigger metadata to be attached")
	}
}

func TestCreate_NoTriggerEngineLeavesImportanceUnchanged(t *testing.T) {
	fs := newFakeStore()
	o, err := New(Config{Store: fs, Consolidation: &fakeConsolidation{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mem, err := o.Create(context.Background(), CreateRequest{Content: "ordinary note", Importance: 0.4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem.Importance != 0.4 {
		t.Errorf("expected unchanged importance, got %v", mem.Importance)
	}
}

func TestGet_ReturnsLiveRecallEstimate(t *testing.T) {
	fs := newFakeStore()
	fs.memories["mem-1"] = &store.Memory{
		ID: "mem-1", CreatedAt: time.Now().Add(-2 * time.Hour),
		ConsolidationStrength: 2.0, DecayRate: 1.0, Importance: 0.5,
	}
	fc := &fakeConsolidation{memories: fs.memories}
	o, err := New(Config{Store: fs, Consolidation: fc})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mem, recall, err := o.Get(context.Background(), "mem-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem == nil || recall == nil {
		t.Fatal("expected both memory and recall estimate")
	}
	if fc.calls != 1 || fc.lastType != store.AccessDirectRetrieval {
		t.Errorf("expected Get to record one direct-retrieval access, got calls=%d type=%v", fc.calls, fc.lastType)
	}
	if recall.RecallProbability <= 0 || recall.RecallProbability > 1 {
		t.Errorf("expected recall probability in (0,1], got %v", recall.RecallProbability)
	}
}

func TestSearch_RecordsAccessForEveryResult(t *testing.T) {
	fs := newFakeStore()
	fs.memories["mem-1"] = &store.Memory{ID: "mem-1", CreatedAt: time.Now(), Importance: 0.5}
	fc := &fakeConsolidation{memories: fs.memories}
	o, err := New(Config{Store: fs, Consolidation: fc})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := o.Search(context.Background(), store.SearchRequest{Mode: store.SearchFulltext, QueryText: "x"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if fc.calls != 1 || fc.lastType != store.AccessSearch {
		t.Errorf("expected Search to record one search access, got calls=%d type=%v", fc.calls, fc.lastType)
	}
	if fc.lastPos == nil || *fc.lastPos != 1 {
		t.Errorf("expected ranking position 1, got %v", fc.lastPos)
	}
}

func TestRecordRetrieval_AppliesTestingEffectWhenAttemptPresent(t *testing.T) {
	fs := newFakeStore()
	fs.memories["mem-1"] = &store.Memory{ID: "mem-1", ConsolidationStrength: 2.0, EaseFactor: 2.5}
	fc := &fakeConsolidation{}
	o, err := New(Config{Store: fs, Consolidation: fc})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attempt := testingeffect.Attempt{Success: true, Confidence: 0.8, RetrievalType: testingeffect.FreeRecall}
	_, err = o.RecordRetrieval(context.Background(), RecordRetrievalRequest{
		MemoryID:   "mem-1",
		AccessType: store.AccessDirectRetrieval,
		Attempt:    &attempt,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.calls != 1 {
		t.Errorf("expected consolidation RecordAccess called once, got %d", fc.calls)
	}
	if fs.testingEffectCalls != 1 {
		t.Errorf("expected testing effect update applied once, got %d", fs.testingEffectCalls)
	}
}

func TestRecordRetrieval_SkipsTestingEffectWithoutAttempt(t *testing.T) {
	fs := newFakeStore()
	fs.memories["mem-1"] = &store.Memory{ID: "mem-1"}
	o, err := New(Config{Store: fs, Consolidation: &fakeConsolidation{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = o.RecordRetrieval(context.Background(), RecordRetrievalRequest{MemoryID: "mem-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.testingEffectCalls != 0 {
		t.Errorf("expected no testing effect update without an attempt, got %d", fs.testingEffectCalls)
	}
}

type fakeTierManager struct{ state tiermanager.State }

func (f fakeTierManager) Start(ctx context.Context) error { return nil }
func (f fakeTierManager) Stop() error                     { return nil }
func (f fakeTierManager) State() tiermanager.State         { return f.state }
func (f fakeTierManager) GetStats() tiermanager.Stats       { return tiermanager.Stats{TotalScans: 3} }

type fakeScheduler struct {
	healthy   bool
	triggered int
}

func (f *fakeScheduler) TriggerNow(ctx context.Context) error {
	f.triggered++
	return nil
}
func (f *fakeScheduler) GetStatistics() scheduler.Stats { return scheduler.Stats{TotalRuns: 5} }
func (f *fakeScheduler) GetHealth() scheduler.Health {
	return scheduler.Health{Healthy: f.healthy, Status: scheduler.StateRunning}
}

func TestGetHealth_UnhealthyWhenAnyComponentUnhealthy(t *testing.T) {
	fs := newFakeStore()
	o, err := New(Config{
		Store:         fs,
		Consolidation: &fakeConsolidation{},
		TierManager:   fakeTierManager{state: tiermanager.StateRunning},
		Scheduler:     &fakeScheduler{healthy: false},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := o.GetHealth()
	if h.Healthy {
		t.Error("expected overall health to be false when scheduler is unhealthy")
	}
}

func TestGetHealth_HealthyWhenAllComponentsHealthy(t *testing.T) {
	fs := newFakeStore()
	o, err := New(Config{
		Store:         fs,
		Consolidation: &fakeConsolidation{},
		TierManager:   fakeTierManager{state: tiermanager.StateRunning},
		Scheduler:     &fakeScheduler{healthy: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !o.GetHealth().Healthy {
		t.Error("expected overall health to be true")
	}
}

func TestTriggerConsolidation_RequiresScheduler(t *testing.T) {
	fs := newFakeStore()
	o, err := New(Config{Store: fs, Consolidation: &fakeConsolidation{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.TriggerConsolidation(context.Background()); err == nil {
		t.Fatal("expected an error when no scheduler is configured")
	}
}

func TestTriggerConsolidation_DelegatesToScheduler(t *testing.T) {
	fs := newFakeStore()
	fake := &fakeScheduler{healthy: true}
	o, err := New(Config{Store: fs, Consolidation: &fakeConsolidation{}, Scheduler: fake})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.TriggerConsolidation(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.triggered != 1 {
		t.Errorf("expected scheduler triggered once, got %d", fake.triggered)
	}
}

func TestNew_RequiresStoreAndConsolidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error when Store is missing")
	}
	if _, err := New(Config{Store: newFakeStore()}); err == nil {
		t.Fatal("expected error when Consolidation is missing")
	}
}
