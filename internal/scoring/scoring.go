// Package scoring implements the three-component scorer: it ranks
// candidate memories by combining recency, importance, and relevance
// into a single weighted score given a query context.
package scoring

import (
	"math"
	"time"

	"github.com/synapsed/synapsed/internal/errs"
	"github.com/synapsed/synapsed/internal/mathkernel"
)

// Weights holds the three component weights, normalized to sum to 1.0 at
// load time.
type Weights struct {
	Recency    float64
	Importance float64
	Relevance  float64
}

// Normalize rejects negative weights and rescales the triple to sum to
// 1.0. A configuration with all-zero weights is rejected as invalid
// (there would be nothing to rank by).
func (w Weights) Normalize() (Weights, error) {
	if w.Recency < 0 || w.Importance < 0 || w.Relevance < 0 {
		return Weights{}, errs.Validation("scoring weights must be non-negative")
	}
	sum := w.Recency + w.Importance + w.Relevance
	if sum <= 0 {
		return Weights{}, errs.Validation("scoring weights must not all be zero")
	}
	return Weights{
		Recency:    w.Recency / sum,
		Importance: w.Importance / sum,
		Relevance:  w.Relevance / sum,
	}, nil
}

// Scorer ranks candidate memories using a fixed, normalized set of
// weights and a recency decay constant.
type Scorer struct {
	weights       Weights
	recencyLambda float64
}

// New validates and normalizes weights, then returns a ready Scorer.
// lambda <= 0 falls back to mathkernel.DefaultRecencyLambda.
func New(weights Weights, lambda float64) (*Scorer, error) {
	normalized, err := weights.Normalize()
	if err != nil {
		return nil, err
	}
	if lambda <= 0 {
		lambda = mathkernel.DefaultRecencyLambda
	}
	return &Scorer{weights: normalized, recencyLambda: lambda}, nil
}

// Candidate is the subset of a memory's fields the scorer needs.
type Candidate struct {
	ImportanceScore    float64
	LastAccessedAt     *time.Time
	CreatedAt          time.Time
	Embedding          []float32
}

// Context carries the query-time factors the scorer ranks against.
type Context struct {
	QueryEmbedding []float32
	QueryTime      time.Time
}

// Breakdown is the component-level explanation returned only when
// explain mode is requested.
type Breakdown struct {
	Recency    float64
	Importance float64
	Relevance  float64
	Combined   float64
}

// Score computes the weighted score for one candidate. explain controls
// whether a non-nil Breakdown is returned alongside the combined score.
func (s *Scorer) Score(c Candidate, ctx Context, explain bool) (float64, *Breakdown, error) {
	if c.ImportanceScore < 0 || c.ImportanceScore > 1 {
		return 0, nil, errs.Validation("importance_score must be in [0.0, 1.0]")
	}

	reference := c.CreatedAt
	if c.LastAccessedAt != nil {
		reference = *c.LastAccessedAt
	}
	deltaHours := ctx.QueryTime.Sub(reference).Hours()
	recency := mathkernel.RecencyScore(deltaHours, s.recencyLambda)

	importance := clamp01(c.ImportanceScore)

	relevance := 0.0
	if len(c.Embedding) > 0 && len(ctx.QueryEmbedding) > 0 {
		cos, err := cosineSimilarity(c.Embedding, ctx.QueryEmbedding)
		if err != nil {
			return 0, nil, err
		}
		relevance = clamp01((cos + 1.0) / 2.0)
	}

	combined := clamp01(s.weights.Recency*recency + s.weights.Importance*importance + s.weights.Relevance*relevance)

	var breakdown *Breakdown
	if explain {
		breakdown = &Breakdown{
			Recency:    recency,
			Importance: importance,
			Relevance:  relevance,
			Combined:   combined,
		}
	}

	return combined, breakdown, nil
}

// Scored pairs a candidate's original index with its computed score, for
// callers that need to re-sort their own candidate slice.
type Scored struct {
	Index     int
	Score     float64
	Breakdown *Breakdown
}

// ScoreBatch scores every candidate against the same context. Latency
// target: <=5ms per memory, >=1000 memories/s — achieved
// here by doing no I/O and no allocation beyond the output slice.
func (s *Scorer) ScoreBatch(candidates []Candidate, ctx Context, explain bool) ([]Scored, error) {
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		score, breakdown, err := s.Score(c, ctx, explain)
		if err != nil {
			return nil, err
		}
		out[i] = Scored{Index: i, Score: score, Breakdown: breakdown}
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errs.Validation("embedding dimension mismatch")
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if cos > 1 {
		cos = 1
	}
	if cos < -1 {
		cos = -1
	}
	return cos, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
