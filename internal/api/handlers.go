package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pgvector/pgvector-go"

	"github.com/synapsed/synapsed/internal/errs"
	"github.com/synapsed/synapsed/internal/mathkernel"
	"github.com/synapsed/synapsed/internal/orchestrator"
	"github.com/synapsed/synapsed/internal/store"
	"github.com/synapsed/synapsed/internal/testingeffect"
)

// handleError maps an internal error kind to the matching HTTP status.
func handleError(c *gin.Context, err error) {
	var e *errs.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case errs.KindValidation:
			BadRequestError(c, e.Error())
			return
		case errs.KindNotFound:
			NotFoundError(c, e.Error())
			return
		case errs.KindConflict:
			ErrorResponse(c, http.StatusConflict, e.Error())
			return
		case errs.KindBusy:
			ErrorResponse(c, http.StatusServiceUnavailable, e.Error())
			return
		case errs.KindTimeout:
			ErrorResponse(c, http.StatusGatewayTimeout, e.Error())
			return
		}
	}
	InternalError(c, err.Error())
}

func (s *Server) health(c *gin.Context) {
	h := s.orchestrator.GetHealth()
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, &Response{Success: h.Healthy, Message: "health check", Data: h})
}

func (s *Server) statistics(c *gin.Context) {
	stats, err := s.orchestrator.GetStatistics(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	SuccessResponse(c, "statistics retrieved", stats)
}

// createMemoryRequest is the wire shape of POST /memories.
type createMemoryRequest struct {
	Content    string         `json:"content" binding:"required"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Importance float64        `json:"importance"`
	Tier       string         `json:"tier,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ParentID   *string        `json:"parent_id,omitempty"`
}

func (s *Server) createMemory(c *gin.Context) {
	var req createMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, err.Error())
		return
	}

	vec, err := s.resolveEmbedding(c.Request.Context(), req.Embedding, req.Content)
	if err != nil {
		handleError(c, err)
		return
	}

	mem, err := s.orchestrator.Create(c.Request.Context(), orchestrator.CreateRequest{
		Content:    req.Content,
		Embedding:  vec,
		Importance: req.Importance,
		Tier:       store.Tier(req.Tier),
		Metadata:   req.Metadata,
		ParentID:   req.ParentID,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	CreatedResponse(c, "memory created", mem)
}

// resolveEmbedding returns a vector for raw (when non-empty), otherwise
// derives one from text via the configured embedding provider when one is
// set. Returns (nil, nil) when neither is available, leaving the memory
// to be created without an embedding.
func (s *Server) resolveEmbedding(ctx context.Context, raw []float32, text string) (*pgvector.Vector, error) {
	if len(raw) > 0 {
		v := pgvector.NewVector(raw)
		return &v, nil
	}
	if s.embedder == nil || text == "" {
		return nil, nil
	}
	generated, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	v := pgvector.NewVector(generated)
	return &v, nil
}

// getMemoryResponse bundles the stored memory with its live, unpersisted
// recall estimate.
type getMemoryResponse struct {
	Memory *store.Memory            `json:"memory"`
	Recall *mathkernel.RecallResult `json:"recall"`
}

func (s *Server) getMemory(c *gin.Context) {
	id := c.Param("id")
	mem, recall, err := s.orchestrator.Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	SuccessResponse(c, "memory retrieved", getMemoryResponse{Memory: mem, Recall: recall})
}

type updateMemoryRequest struct {
	Content    *string        `json:"content,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Tier       *string        `json:"tier,omitempty"`
	Importance *float64       `json:"importance,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (s *Server) updateMemory(c *gin.Context) {
	id := c.Param("id")
	var req updateMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, err.Error())
		return
	}

	in := store.UpdateInput{Content: req.Content, Importance: req.Importance, Metadata: req.Metadata}
	if req.Tier != nil {
		t := store.Tier(*req.Tier)
		in.Tier = &t
	}
	if len(req.Embedding) > 0 {
		v := pgvector.NewVector(req.Embedding)
		in.Embedding = &v
	}

	mem, err := s.orchestrator.Update(c.Request.Context(), id, in)
	if err != nil {
		handleError(c, err)
		return
	}
	SuccessResponse(c, "memory updated", mem)
}

func (s *Server) deleteMemory(c *gin.Context) {
	id := c.Param("id")
	if err := s.orchestrator.Delete(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}
	SuccessResponse(c, "memory deleted", nil)
}

type searchMemoriesRequest struct {
	Mode           string         `json:"mode"`
	QueryText      string         `json:"query_text,omitempty"`
	QueryEmbedding []float32      `json:"query_embedding,omitempty"`
	TierFilter     []string       `json:"tier_filter,omitempty"`
	MinImportance  *float64       `json:"min_importance,omitempty"`
	MaxImportance  *float64       `json:"max_importance,omitempty"`
	MetadataFilter map[string]string `json:"metadata_filter,omitempty"`
	Limit          int            `json:"limit,omitempty"`
	Explain        bool           `json:"explain,omitempty"`
}

func (s *Server) searchMemories(c *gin.Context) {
	var req searchMemoriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, err.Error())
		return
	}

	mode := store.SearchMode(req.Mode)
	if mode == "" {
		mode = store.SearchHybrid
	}

	queryVector, err := s.resolveEmbedding(c.Request.Context(), req.QueryEmbedding, req.QueryText)
	if err != nil {
		handleError(c, err)
		return
	}
	queryEmbedding := req.QueryEmbedding
	if queryEmbedding == nil && queryVector != nil {
		queryEmbedding = queryVector.Slice()
	}

	tiers := make([]store.Tier, len(req.TierFilter))
	for i, t := range req.TierFilter {
		tiers[i] = store.Tier(t)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}

	results, err := s.orchestrator.Search(c.Request.Context(), store.SearchRequest{
		Mode:           mode,
		QueryText:      req.QueryText,
		QueryEmbedding: queryVector,
		TierFilter:     tiers,
		MinImportance:  req.MinImportance,
		MaxImportance:  req.MaxImportance,
		MetadataFilter: req.MetadataFilter,
		Limit:          limit,
		Explain:        req.Explain,
	}, queryEmbedding)
	if err != nil {
		handleError(c, err)
		return
	}
	SuccessResponse(c, "search complete", results)
}

type recordRetrievalRequest struct {
	AccessType      string                     `json:"access_type"`
	SimilarityScore *float64                   `json:"similarity_score,omitempty"`
	RetrievalTimeMs float64                    `json:"retrieval_time_ms,omitempty"`
	RankingPosition *int                       `json:"ranking_position,omitempty"`
	Attempt         *recordRetrievalAttemptDTO `json:"attempt,omitempty"`
}

type recordRetrievalAttemptDTO struct {
	Success       bool    `json:"success"`
	Confidence    float64 `json:"confidence"`
	RetrievalType string  `json:"retrieval_type"`
}

func (s *Server) recordRetrieval(c *gin.Context) {
	id := c.Param("id")
	var req recordRetrievalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, err.Error())
		return
	}

	var attempt *testingeffect.Attempt
	if req.Attempt != nil {
		attempt = &testingeffect.Attempt{
			Success:       req.Attempt.Success,
			Confidence:    req.Attempt.Confidence,
			RetrievalType: testingeffect.RetrievalType(req.Attempt.RetrievalType),
		}
	}

	accessType := store.AccessType(req.AccessType)
	if accessType == "" {
		accessType = store.AccessDirectRetrieval
	}

	mem, err := s.orchestrator.RecordRetrieval(c.Request.Context(), orchestrator.RecordRetrievalRequest{
		MemoryID:        id,
		AccessType:      accessType,
		SimilarityScore: req.SimilarityScore,
		RetrievalTimeMs: req.RetrievalTimeMs,
		RankingPosition: req.RankingPosition,
		Attempt:         attempt,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	SuccessResponse(c, "retrieval recorded", mem)
}

func (s *Server) triggerConsolidation(c *gin.Context) {
	if err := s.orchestrator.TriggerConsolidation(c.Request.Context()); err != nil {
		handleError(c, err)
		return
	}
	SuccessResponse(c, "consolidation triggered", nil)
}
