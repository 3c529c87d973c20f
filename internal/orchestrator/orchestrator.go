// Package orchestrator implements the composition layer: it exposes
// the system's public operation surface and wires each one through the
// components that actually do the work, without containing domain logic
// of its own. Writes route trigger -> store; Create does not call the
// consolidation engine, and the store sets the initial strength and
// recall probability itself. Reads route store -> consolidation -> scoring.
package orchestrator

import (
	"context"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/synapsed/synapsed/internal/consolidation"
	"github.com/synapsed/synapsed/internal/errs"
	"github.com/synapsed/synapsed/internal/logging"
	"github.com/synapsed/synapsed/internal/mathkernel"
	"github.com/synapsed/synapsed/internal/scheduler"
	"github.com/synapsed/synapsed/internal/scoring"
	"github.com/synapsed/synapsed/internal/store"
	"github.com/synapsed/synapsed/internal/testingeffect"
	"github.com/synapsed/synapsed/internal/tiermanager"
	"github.com/synapsed/synapsed/internal/trigger"
)

var log = logging.GetLogger("orchestrator")

// Store is the subset of the storage gateway the orchestrator depends on.
type Store interface {
	Create(ctx context.Context, in store.CreateInput) (*store.Memory, error)
	Get(ctx context.Context, id string) (*store.Memory, error)
	Update(ctx context.Context, id string, in store.UpdateInput) (*store.Memory, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, req store.SearchRequest) (*store.SearchResponse, error)
	ApplyTestingEffectUpdate(ctx context.Context, id string, compute store.TestingEffectComputer) (*store.Memory, error)
	GetStats(ctx context.Context) (*store.Stats, error)
}

// TriggerEngine is the subset of trigger.Engine the orchestrator depends
// on (classification only; Apply is a free function called directly).
type TriggerEngine interface {
	Classify(content string) trigger.Match
}

// ConsolidationEngine is the subset of consolidation.Engine the
// orchestrator depends on.
type ConsolidationEngine interface {
	RecordAccess(ctx context.Context, memoryID string, opts consolidation.AccessOptions) (*store.Memory, error)
}

// TierManager is the subset of tiermanager.Manager the orchestrator
// depends on for manual triggers and health/statistics.
type TierManager interface {
	Start(ctx context.Context) error
	Stop() error
	State() tiermanager.State
	GetStats() tiermanager.Stats
}

// Scheduler is the subset of scheduler.Manager the orchestrator depends
// on for manual triggers and health/statistics.
type Scheduler interface {
	TriggerNow(ctx context.Context) error
	GetStatistics() scheduler.Stats
	GetHealth() scheduler.Health
}

// Config wires every dependency the orchestrator composes. TriggerEngine,
// Scorer, TierManager, and Scheduler are optional: a nil value disables
// the corresponding behavior (importance boosting, re-ranking by
// relevance, and manual consolidation triggers/health reporting,
// respectively) rather than panicking, so the orchestrator is usable
// before every background component is wired up.
type Config struct {
	Store             Store
	TriggerEngine     TriggerEngine
	TriggerCategories []trigger.CategoryConfig
	Consolidation     ConsolidationEngine
	Scorer            *scoring.Scorer
	TierManager       TierManager
	Scheduler         Scheduler
}

// Orchestrator is the public entry point for every memory operation.
type Orchestrator struct {
	cfg Config
	now func() time.Time
}

// New wires an Orchestrator from cfg. Store and Consolidation are
// required; every other field is optional (see Config).
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errs.Config("orchestrator: Store is required", nil)
	}
	if cfg.Consolidation == nil {
		return nil, errs.Config("orchestrator: Consolidation is required", nil)
	}
	return &Orchestrator{cfg: cfg, now: time.Now}, nil
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	Content    string
	Embedding  *pgvector.Vector
	Importance float64
	Tier       store.Tier
	Metadata   map[string]any
	ParentID   *string
	ExpiresAt  *time.Time
}

// Create classifies content through the event-trigger engine, boosts
// importance when a category matches, and persists the memory.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*store.Memory, error) {
	importance := req.Importance
	metadata := req.Metadata

	if o.cfg.TriggerEngine != nil {
		match := o.cfg.TriggerEngine.Classify(req.Content)
		boosted, triggerMeta := trigger.Apply(importance, match, o.cfg.TriggerCategories)
		importance = boosted
		if triggerMeta != nil {
			if metadata == nil {
				metadata = map[string]any{}
			} else {
				merged := make(map[string]any, len(metadata))
				for k, v := range metadata {
					merged[k] = v
				}
				metadata = merged
			}
			metadata["event_trigger"] = triggerMeta
		}
	}

	mem, err := o.cfg.Store.Create(ctx, store.CreateInput{
		Content:    req.Content,
		Embedding:  req.Embedding,
		Importance: importance,
		Tier:       req.Tier,
		Metadata:   metadata,
		ParentID:   req.ParentID,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}
	log.Debug("memory created", "id", mem.ID, "importance", importance)
	return mem, nil
}

// Get fetches a memory, recording the access against the consolidation
// engine so strength and recall probability advance the same way a
// search hit does, and reports a live (unpersisted) recall estimate
// alongside the refreshed row. RecordAccess itself locks and reads the
// row, so Get never queries the store twice.
func (o *Orchestrator) Get(ctx context.Context, id string) (*store.Memory, *mathkernel.RecallResult, error) {
	mem, err := o.cfg.Consolidation.RecordAccess(ctx, id, consolidation.AccessOptions{
		AccessType: store.AccessDirectRetrieval,
	})
	if err != nil {
		return nil, nil, err
	}

	live, err := consolidation.Decay(mem, o.now())
	if err != nil {
		return mem, nil, err
	}
	return mem, &live, nil
}

// Update applies a partial update to a memory.
func (o *Orchestrator) Update(ctx context.Context, id string, in store.UpdateInput) (*store.Memory, error) {
	return o.cfg.Store.Update(ctx, id, in)
}

// Delete removes a memory.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	return o.cfg.Store.Delete(ctx, id)
}

// SearchResult augments a stored search hit with its final, re-scored
// ranking value when a Scorer is configured.
type SearchResult struct {
	store.SearchResult
	RankedScore *float64
}

// Search retrieves candidates, records each hit as a consolidation
// access (so appearing in a result set advances strength and recall
// probability the same way a direct Get does), and, when a Scorer is
// configured, re-ranks them against the query context. Re-ranking never
// drops results the store already matched; it only reorders and
// annotates them.
func (o *Orchestrator) Search(ctx context.Context, req store.SearchRequest, queryEmbedding []float32) ([]SearchResult, error) {
	resp, err := o.cfg.Store.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = SearchResult{SearchResult: r}

		position := i + 1
		similarity := r.SimilarityScore
		updated, err := o.cfg.Consolidation.RecordAccess(ctx, r.Memory.ID, consolidation.AccessOptions{
			AccessType:      store.AccessSearch,
			SimilarityScore: &similarity,
			RankingPosition: &position,
		})
		if err != nil {
			return nil, err
		}
		out[i].SearchResult.Memory = updated
	}

	if o.cfg.Scorer == nil {
		return out, nil
	}

	now := o.now()
	for i := range out {
		mem := out[i].SearchResult.Memory
		var embedding []float32
		if mem.Embedding != nil {
			embedding = mem.Embedding.Slice()
		}
		score, _, err := o.cfg.Scorer.Score(scoring.Candidate{
			ImportanceScore: mem.Importance,
			LastAccessedAt:  mem.LastAccessed,
			CreatedAt:       mem.CreatedAt,
			Embedding:       embedding,
		}, scoring.Context{QueryEmbedding: queryEmbedding, QueryTime: now}, req.Explain)
		if err != nil {
			return nil, err
		}
		out[i].RankedScore = &score
	}

	return out, nil
}

// RecordRetrievalRequest is the input to RecordRetrieval.
type RecordRetrievalRequest struct {
	MemoryID         string
	AccessType       store.AccessType
	SimilarityScore  *float64
	RetrievalTimeMs  float64
	RankingPosition  *int
	Attempt          *testingeffect.Attempt
}

// RecordRetrieval logs the access and advances consolidation state;
// when Attempt is supplied it also applies the testing-effect boost to
// ease factor and next-review interval.
func (o *Orchestrator) RecordRetrieval(ctx context.Context, req RecordRetrievalRequest) (*store.Memory, error) {
	mem, err := o.cfg.Consolidation.RecordAccess(ctx, req.MemoryID, consolidation.AccessOptions{
		AccessType:      req.AccessType,
		SimilarityScore: req.SimilarityScore,
		RetrievalTimeMs: req.RetrievalTimeMs,
		RankingPosition: req.RankingPosition,
	})
	if err != nil {
		return nil, err
	}

	if req.Attempt == nil {
		return mem, nil
	}

	attempt := *req.Attempt
	return o.cfg.Store.ApplyTestingEffectUpdate(ctx, req.MemoryID, func(current *store.Memory) (store.TestingEffectUpdate, error) {
		intervalDays := 1.0
		if current.CurrentIntervalDays != nil {
			intervalDays = *current.CurrentIntervalDays
		}
		result, err := testingeffect.Process(attempt, current.ConsolidationStrength, current.EaseFactor, intervalDays)
		if err != nil {
			return store.TestingEffectUpdate{}, err
		}
		return store.TestingEffectUpdate{
			NewStrength:      result.NewStrength,
			NewEaseFactor:    result.NewEaseFactor,
			NextIntervalDays: result.NextIntervalDays,
			DifficultyScore:  result.DifficultyScore,
		}, nil
	})
}

// TriggerConsolidation manually kicks off a scheduler run, bypassing the
// cron schedule.
func (o *Orchestrator) TriggerConsolidation(ctx context.Context) error {
	if o.cfg.Scheduler == nil {
		return errs.Config("orchestrator: no scheduler configured", nil)
	}
	return o.cfg.Scheduler.TriggerNow(ctx)
}

// Statistics aggregates the store's roll-up counts with the background
// components' run statistics.
type Statistics struct {
	Store        *store.Stats
	TierManager  *tiermanager.Stats
	Scheduler    *scheduler.Stats
}

// GetStatistics composes every component's statistics surface.
func (o *Orchestrator) GetStatistics(ctx context.Context) (Statistics, error) {
	stats, err := o.cfg.Store.GetStats(ctx)
	if err != nil {
		return Statistics{}, err
	}
	out := Statistics{Store: stats}
	if o.cfg.TierManager != nil {
		s := o.cfg.TierManager.GetStats()
		out.TierManager = &s
	}
	if o.cfg.Scheduler != nil {
		s := o.cfg.Scheduler.GetStatistics()
		out.Scheduler = &s
	}
	return out, nil
}

// Health is the aggregate health surface: healthy only when every
// configured background component reports healthy.
type Health struct {
	Healthy         bool
	TierManagerState *tiermanager.State
	SchedulerHealth  *scheduler.Health
}

// GetHealth composes every background component's health status.
func (o *Orchestrator) GetHealth() Health {
	healthy := true
	h := Health{}

	if o.cfg.TierManager != nil {
		state := o.cfg.TierManager.State()
		h.TierManagerState = &state
		if state == tiermanager.StateError {
			healthy = false
		}
	}
	if o.cfg.Scheduler != nil {
		sh := o.cfg.Scheduler.GetHealth()
		h.SchedulerHealth = &sh
		if !sh.Healthy {
			healthy = false
		}
	}

	h.Healthy = healthy
	return h
}
