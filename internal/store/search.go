package store

import (
	"context"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/synapsed/synapsed/internal/errs"
)

// SearchMode selects which candidate-generation path a request uses. All
// three modes populate identical result attributes — only how candidates are found and ranked differs.
type SearchMode string

const (
	SearchFulltext SearchMode = "fulltext"
	SearchVector   SearchMode = "vector"
	SearchHybrid   SearchMode = "hybrid"
)

// SearchRequest bundles every optional filter the gateway's search
// contract accepts.
type SearchRequest struct {
	Mode               SearchMode
	QueryText          string
	QueryEmbedding     *pgvector.Vector
	MetadataFilter     map[string]string
	TierFilter         []Tier
	CreatedAfter       *time.Time
	CreatedBefore      *time.Time
	MinImportance      *float64
	MaxImportance      *float64
	SimilarityThreshold *float64
	Limit              int
	Explain            bool
}

// SearchResult is one hit: the full memory record plus the attributes
// that only make sense in the context of a specific query.
type SearchResult struct {
	Memory           *Memory
	SimilarityScore  float64
	ScoreExplanation *string
}

// SearchResponse is the gateway's uniform search response shape,
// regardless of which SearchMode produced it.
type SearchResponse struct {
	Results []SearchResult
	Mode    SearchMode
}

// Search dispatches to the fulltext, vector, or hybrid candidate-
// generation path per req.Mode. Every path returns SearchResult with the
// identical field set populated, enforced here by routing all three modes
// through the same scanMemoryWithRank + SearchResult assembly instead of bespoke
// queries with different projections.
func (g *Gateway) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	mode := req.Mode
	if mode == "" {
		mode = SearchFulltext
	}

	switch mode {
	case SearchFulltext:
		return g.searchFulltext(ctx, req)
	case SearchVector:
		return g.searchVector(ctx, req)
	case SearchHybrid:
		return g.searchHybrid(ctx, req)
	default:
		return nil, errs.Validation("unknown search mode")
	}
}

type filterClause struct {
	sql  string
	args []any
}

// buildFilters assembles the WHERE-clause fragments shared by every
// search path (tier, date range, importance range, status=active); argN
// is the next free placeholder index.
func buildFilters(req SearchRequest, argN int) (clauses []string, args []any, nextArg int) {
	clauses = []string{"status = $" + itoa(argN)}
	args = append(args, string(StatusActive))
	argN++

	if len(req.TierFilter) > 0 {
		placeholders := make([]string, len(req.TierFilter))
		for i, tier := range req.TierFilter {
			placeholders[i] = "$" + itoa(argN)
			args = append(args, string(tier))
			argN++
		}
		clauses = append(clauses, "tier IN ("+strings.Join(placeholders, ", ")+")")
	}
	if req.CreatedAfter != nil {
		clauses = append(clauses, "created_at >= $"+itoa(argN))
		args = append(args, *req.CreatedAfter)
		argN++
	}
	if req.CreatedBefore != nil {
		clauses = append(clauses, "created_at <= $"+itoa(argN))
		args = append(args, *req.CreatedBefore)
		argN++
	}
	if req.MinImportance != nil {
		clauses = append(clauses, "importance_score >= $"+itoa(argN))
		args = append(args, *req.MinImportance)
		argN++
	}
	if req.MaxImportance != nil {
		clauses = append(clauses, "importance_score <= $"+itoa(argN))
		args = append(args, *req.MaxImportance)
		argN++
	}

	return clauses, args, argN
}

func (g *Gateway) searchFulltext(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.QueryText == "" {
		return nil, errs.Validation("fulltext search requires query_text")
	}

	clauses, args, argN := buildFilters(req, 2)
	args = append([]any{req.QueryText}, args...)
	clauses = append(clauses, "to_tsvector('english', content) @@ plainto_tsquery('english', $1)")

	query := `
		SELECT ` + memoryColumns + `,
			ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS rank
		FROM memories
		WHERE ` + strings.Join(clauses, " AND ") + `
		ORDER BY rank DESC
		LIMIT $` + itoa(argN)
	args = append(args, req.Limit)

	return g.runSearch(ctx, query, args, req, SearchFulltext)
}

func (g *Gateway) searchVector(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.QueryEmbedding == nil {
		return nil, errs.Validation("vector search requires query_embedding")
	}

	clauses, args, argN := buildFilters(req, 2)
	args = append([]any{req.QueryEmbedding}, args...)

	query := `
		SELECT ` + memoryColumns + `,
			1 - (embedding <=> $1) AS rank
		FROM memories
		WHERE embedding IS NOT NULL AND ` + strings.Join(clauses, " AND ") + `
		ORDER BY embedding <=> $1 ASC
		LIMIT $` + itoa(argN)
	args = append(args, req.Limit)

	return g.runSearch(ctx, query, args, req, SearchVector)
}

func (g *Gateway) searchHybrid(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.QueryText == "" && req.QueryEmbedding == nil {
		return nil, errs.Validation("hybrid search requires query_text or query_embedding")
	}

	clauses, args, argN := buildFilters(req, 3)
	args = append([]any{req.QueryText, req.QueryEmbedding}, args...)

	// Reciprocal-style blend of text rank and vector similarity; either
	// term degrades gracefully to 0 if its query input was omitted.
	query := `
		SELECT ` + memoryColumns + `,
			(
				COALESCE(ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)), 0) * 0.5
				+ COALESCE(1 - (embedding <=> $2), 0) * 0.5
			) AS rank
		FROM memories
		WHERE ` + strings.Join(clauses, " AND ") + `
		ORDER BY rank DESC
		LIMIT $` + itoa(argN)
	args = append(args, req.Limit)

	return g.runSearch(ctx, query, args, req, SearchHybrid)
}

func (g *Gateway) runSearch(ctx context.Context, query string, args []any, req SearchRequest, mode SearchMode) (*SearchResponse, error) {
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapPgError("search", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		m, rank, err := scanMemoryWithRank(rows)
		if err != nil {
			return nil, wrapPgError("search: scan", err)
		}
		if req.SimilarityThreshold != nil && rank < *req.SimilarityThreshold {
			continue
		}
		result := SearchResult{Memory: m, SimilarityScore: rank}
		if req.Explain {
			explanation := explainScore(mode, rank)
			result.ScoreExplanation = &explanation
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgError("search: iterate", err)
	}

	return &SearchResponse{Results: results, Mode: mode}, nil
}

// scanMemoryWithRank scans the memoryColumns projection plus a trailing
// rank/similarity column shared by all three search queries.
func scanMemoryWithRank(rows interface {
	Scan(dest ...any) error
}) (*Memory, float64, error) {
	// scanMemory expects exactly the memoryColumns projection; here the
	// row carries one extra trailing column, so scanMemoryRankAware scans
	// the same fields in scanMemory's order followed by the rank.
	var rank float64
	m, err := scanMemoryRankAware(rows, &rank)
	if err != nil {
		return nil, 0, err
	}
	return m, rank, nil
}

func explainScore(mode SearchMode, rank float64) string {
	switch mode {
	case SearchFulltext:
		return "fulltext: ts_rank over English-stemmed content tokens"
	case SearchVector:
		return "vector: cosine similarity (1 - cosine_distance) against query embedding"
	default:
		return "hybrid: 0.5*fulltext_rank + 0.5*vector_similarity"
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
