// Package consolidation implements the consolidation engine: on
// every memory access it recomputes consolidation strength, decay rate,
// and recall probability via the math kernel, persists them atomically
// alongside an audit event, and returns the refreshed memory.
package consolidation

import (
	"context"
	"time"

	"github.com/synapsed/synapsed/internal/logging"
	"github.com/synapsed/synapsed/internal/mathkernel"
	"github.com/synapsed/synapsed/internal/store"
)

var log = logging.GetLogger("consolidation")

// Gateway is the subset of store.Gateway the engine depends on, so tests
// can substitute a fake without a real database.
type Gateway interface {
	ApplyConsolidationUpdate(ctx context.Context, id string, compute store.ConsolidationComputer) (*store.Memory, error)
}

// Engine drives the access-time consolidation update: recomputing
// strength, decay rate, and recall probability whenever a memory is read.
type Engine struct {
	gateway Gateway
	now     func() time.Time
}

// New returns a ready Engine.
func New(gateway Gateway) *Engine {
	return &Engine{gateway: gateway, now: time.Now}
}

// AccessOptions carries the retrieval metadata recorded alongside the
// consolidation update.
type AccessOptions struct {
	AccessType      store.AccessType
	SimilarityScore *float64
	RetrievalTimeMs float64
	RankingPosition *int
}

// RecordAccess is the single entry point for the read path: it derives
// elapsed time since the memory's last access (or creation, if never
// accessed), calls the math kernel for the new strength, decay rate, and
// recall probability, and persists the result under the gateway's
// per-row lock.
func (e *Engine) RecordAccess(ctx context.Context, memoryID string, opts AccessOptions) (*store.Memory, error) {
	now := e.now()

	memory, err := e.gateway.ApplyConsolidationUpdate(ctx, memoryID, func(current *store.Memory) (store.ConsolidationUpdate, error) {
		reference := current.CreatedAt
		neverAccessed := current.LastAccessed == nil
		if current.LastAccessed != nil {
			reference = *current.LastAccessed
		}
		elapsed := now.Sub(reference)
		if elapsed < 0 {
			elapsed = 0
		}
		elapsedHours := elapsed.Hours()

		strengthResult, err := mathkernel.UpdateConsolidationStrength(current.ConsolidationStrength, elapsedHours)
		if err != nil {
			return store.ConsolidationUpdate{}, err
		}

		decayRate, err := mathkernel.AdaptiveDecayRate(mathkernel.Parameters{
			AccessCount:     current.AccessCount,
			ImportanceScore: current.Importance,
			AgeDays:         now.Sub(current.CreatedAt).Hours() / 24.0,
		})
		if err != nil {
			return store.ConsolidationUpdate{}, err
		}

		recallResult, err := mathkernel.ForgettingCurve(mathkernel.Parameters{
			ConsolidationStrength: strengthResult.NewStrength,
			DecayRate:             decayRate,
			AccessCount:           current.AccessCount,
			ImportanceScore:       current.Importance,
			TimeSinceAccessHours:  0, // freshly accessed: t=0 relative to this event
			NeverAccessed:         neverAccessed,
			AgeDays:               now.Sub(current.CreatedAt).Hours() / 24.0,
		})
		if err != nil {
			return store.ConsolidationUpdate{}, err
		}

		return store.ConsolidationUpdate{
			NewStrength:          strengthResult.NewStrength,
			NewDecayRate:         decayRate,
			NewRecallProbability: recallResult.RecallProbability,
			LastRecallInterval:   elapsed,
			AccessType:           opts.AccessType,
			SimilarityScore:      opts.SimilarityScore,
			RetrievalTimeMs:      opts.RetrievalTimeMs,
			RankingPosition:      opts.RankingPosition,
		}, nil
	})
	if err != nil {
		log.Warn("consolidation update failed", "memory_id", memoryID, "error", err)
		return nil, err
	}

	log.Debug("consolidation update applied", "memory_id", memoryID,
		"strength", memory.ConsolidationStrength, "decay_rate", memory.DecayRate)
	return memory, nil
}

// Decay computes, without persisting anything, what a memory's recall
// probability would be right now given its currently-stored state. Used
// by the scoring path and by dashboards that want a live estimate
// between accesses.
func Decay(m *store.Memory, at time.Time) (mathkernel.RecallResult, error) {
	reference := m.CreatedAt
	neverAccessed := m.LastAccessed == nil
	if m.LastAccessed != nil {
		reference = *m.LastAccessed
	}
	elapsedHours := at.Sub(reference).Hours()
	if elapsedHours < 0 {
		elapsedHours = 0
	}

	decayRate := m.DecayRate
	if decayRate <= 0 {
		decayRate = mathkernel.DefaultDecayRate
	}

	return mathkernel.ForgettingCurve(mathkernel.Parameters{
		ConsolidationStrength: m.ConsolidationStrength,
		DecayRate:             decayRate,
		AccessCount:           m.AccessCount,
		ImportanceScore:       m.Importance,
		TimeSinceAccessHours:  elapsedHours,
		NeverAccessed:         neverAccessed,
		AgeDays:               at.Sub(m.CreatedAt).Hours() / 24.0,
	})
}
