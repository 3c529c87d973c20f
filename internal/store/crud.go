package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/synapsed/synapsed/internal/errs"
)

// ContentHash returns the stable digest used for per-tier deduplication.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// CreateInput is the subset of Memory fields a caller supplies; the
// gateway fills in id, hash, and timestamps.
type CreateInput struct {
	Content    string
	Embedding  *pgvector.Vector
	Importance float64
	Tier       Tier
	Metadata   map[string]any
	ParentID   *string
	ExpiresAt  *time.Time
}

// Create inserts a new memory with consolidation strength initialized to
// 1.0 and recall_probability = 1 at t=0.
func (g *Gateway) Create(ctx context.Context, in CreateInput) (*Memory, error) {
	if in.Content == "" {
		return nil, errs.Validation("content must not be empty")
	}
	if in.Importance < 0.0 || in.Importance > 1.0 {
		return nil, errs.Validation("importance_score must be in [0.0, 1.0]")
	}
	tier := in.Tier
	if tier == "" {
		tier = TierWorking
	}
	if !IsValidTier(string(tier)) {
		return nil, errs.Validation("invalid tier")
	}
	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, errs.Validation("metadata is not JSON-serializable")
	}

	id := uuid.NewString()
	recallProbability := 1.0
	now := time.Now().UTC()

	_, err = g.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, content, content_hash, embedding, tier, status,
			importance_score, access_count, created_at, updated_at,
			consolidation_strength, decay_rate, recall_probability,
			ease_factor, metadata, parent_id, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, 0, $8, $8,
			$9, $10, $11,
			$12, $13, $14, $15
		)
	`, id, in.Content, ContentHash(in.Content), in.Embedding, string(tier), string(StatusActive),
		in.Importance, now,
		DefaultConsolidationStrength, DefaultDecayRate, recallProbability,
		DefaultEaseFactor, metadataJSON, in.ParentID, in.ExpiresAt)
	if err != nil {
		return nil, wrapPgError("create memory", err)
	}

	return g.Get(ctx, id)
}

var memoryColumns = `
	id, content, content_hash, embedding, tier, status,
	importance_score, access_count, last_accessed_at, created_at, updated_at,
	consolidation_strength, decay_rate, recall_probability, last_recall_interval_seconds,
	successful_retrievals, failed_retrievals, total_retrieval_attempts,
	ease_factor, current_interval_days, next_review_at,
	metadata, parent_id, expires_at
`

// nullVector adapts pgvector.Vector to a nullable sql.Scanner, following
// the stdlib sql.NullString shape: the embedding column is optional,
// and wrapping the vector ourselves avoids relying on
// pgvector.Vector's own Scan to handle a nil driver value.
type nullVector struct {
	Vector pgvector.Vector
	Valid  bool
}

func (n *nullVector) Scan(src any) error {
	if src == nil {
		n.Valid = false
		return nil
	}
	n.Valid = true
	return n.Vector.Scan(src)
}

func scanMemory(row interface {
	Scan(dest ...any) error
}) (*Memory, error) {
	var m Memory
	var lastRecallSeconds sql.NullFloat64
	var metadataJSON []byte
	var recallProbability sql.NullFloat64
	var lastAccessed sql.NullTime
	var currentIntervalDays sql.NullFloat64
	var nextReviewAt sql.NullTime
	var parentID sql.NullString
	var expiresAt sql.NullTime
	var embedding nullVector

	err := row.Scan(
		&m.ID, &m.Content, &m.ContentHash, &embedding, &m.Tier, &m.Status,
		&m.Importance, &m.AccessCount, &lastAccessed, &m.CreatedAt, &m.UpdatedAt,
		&m.ConsolidationStrength, &m.DecayRate, &recallProbability, &lastRecallSeconds,
		&m.SuccessfulRetrievals, &m.FailedRetrievals, &m.TotalRetrievalAttempts,
		&m.EaseFactor, &currentIntervalDays, &nextReviewAt,
		&metadataJSON, &parentID, &expiresAt,
	)
	if err != nil {
		return nil, err
	}
	if embedding.Valid {
		m.Embedding = &embedding.Vector
	}

	if lastAccessed.Valid {
		m.LastAccessed = &lastAccessed.Time
	}
	if recallProbability.Valid {
		v := recallProbability.Float64
		m.RecallProbability = &v
	}
	if lastRecallSeconds.Valid {
		d := time.Duration(lastRecallSeconds.Float64 * float64(time.Second))
		m.LastRecallInterval = &d
	}
	if currentIntervalDays.Valid {
		v := currentIntervalDays.Float64
		m.CurrentIntervalDays = &v
	}
	if nextReviewAt.Valid {
		m.NextReviewAt = &nextReviewAt.Time
	}
	if parentID.Valid {
		v := parentID.String
		m.ParentID = &v
	}
	if expiresAt.Valid {
		m.ExpiresAt = &expiresAt.Time
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
			return nil, err
		}
	} else {
		m.Metadata = map[string]any{}
	}

	return &m, nil
}

// scanMemoryRankAware scans the memoryColumns projection followed by one
// trailing rank/similarity column into rank, sharing scanMemory's field
// order so every search path populates identical Memory attributes.
func scanMemoryRankAware(row interface {
	Scan(dest ...any) error
}, rank *float64) (*Memory, error) {
	var m Memory
	var lastRecallSeconds sql.NullFloat64
	var metadataJSON []byte
	var recallProbability sql.NullFloat64
	var lastAccessed sql.NullTime
	var currentIntervalDays sql.NullFloat64
	var nextReviewAt sql.NullTime
	var parentID sql.NullString
	var expiresAt sql.NullTime
	var embedding nullVector

	err := row.Scan(
		&m.ID, &m.Content, &m.ContentHash, &embedding, &m.Tier, &m.Status,
		&m.Importance, &m.AccessCount, &lastAccessed, &m.CreatedAt, &m.UpdatedAt,
		&m.ConsolidationStrength, &m.DecayRate, &recallProbability, &lastRecallSeconds,
		&m.SuccessfulRetrievals, &m.FailedRetrievals, &m.TotalRetrievalAttempts,
		&m.EaseFactor, &currentIntervalDays, &nextReviewAt,
		&metadataJSON, &parentID, &expiresAt,
		rank,
	)
	if err != nil {
		return nil, err
	}
	if embedding.Valid {
		m.Embedding = &embedding.Vector
	}

	if lastAccessed.Valid {
		m.LastAccessed = &lastAccessed.Time
	}
	if recallProbability.Valid {
		v := recallProbability.Float64
		m.RecallProbability = &v
	}
	if lastRecallSeconds.Valid {
		d := time.Duration(lastRecallSeconds.Float64 * float64(time.Second))
		m.LastRecallInterval = &d
	}
	if currentIntervalDays.Valid {
		v := currentIntervalDays.Float64
		m.CurrentIntervalDays = &v
	}
	if nextReviewAt.Valid {
		m.NextReviewAt = &nextReviewAt.Time
	}
	if parentID.Valid {
		v := parentID.String
		m.ParentID = &v
	}
	if expiresAt.Valid {
		m.ExpiresAt = &expiresAt.Time
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
			return nil, err
		}
	} else {
		m.Metadata = map[string]any{}
	}

	return &m, nil
}

// Get returns the memory with the given id, or errs.NotFound.
func (g *Gateway) Get(ctx context.Context, id string) (*Memory, error) {
	row := g.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id)
	m, err := scanMemory(row)
	if err != nil {
		return nil, wrapPgError("get memory", err)
	}
	return m, nil
}

// UpdateInput carries the subset of fields an explicit update may change.
// Nil pointers leave the corresponding column unchanged.
type UpdateInput struct {
	Content    *string
	Embedding  *pgvector.Vector
	Tier       *Tier
	Importance *float64
	Metadata   map[string]any
}

// Update applies a partial update and refreshes updated_at.
func (g *Gateway) Update(ctx context.Context, id string, in UpdateInput) (*Memory, error) {
	current, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	content := current.Content
	if in.Content != nil {
		content = *in.Content
	}
	tier := current.Tier
	if in.Tier != nil {
		if !IsValidTier(string(*in.Tier)) {
			return nil, errs.Validation("invalid tier")
		}
		tier = *in.Tier
	}
	importance := current.Importance
	if in.Importance != nil {
		if *in.Importance < 0.0 || *in.Importance > 1.0 {
			return nil, errs.Validation("importance_score must be in [0.0, 1.0]")
		}
		importance = *in.Importance
	}
	embedding := current.Embedding
	if in.Embedding != nil {
		embedding = in.Embedding
	}
	metadata := current.Metadata
	if in.Metadata != nil {
		metadata = in.Metadata
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, errs.Validation("metadata is not JSON-serializable")
	}

	_, err = g.db.ExecContext(ctx, `
		UPDATE memories SET
			content = $2, content_hash = $3, embedding = $4, tier = $5,
			importance_score = $6, metadata = $7, updated_at = now()
		WHERE id = $1
	`, id, content, ContentHash(content), embedding, string(tier), importance, metadataJSON)
	if err != nil {
		return nil, wrapPgError("update memory", err)
	}

	return g.Get(ctx, id)
}

// Delete removes a memory. If it is Frozen, the matching frozen_memories
// row is removed in the same statement via ON DELETE CASCADE. The
// memory's audit trail is never deleted: its consolidation_events and
// memory_access_log rows are tombstoned instead, so they keep their
// dangling memory_id and remain queryable after the memory is gone.
func (g *Gateway) Delete(ctx context.Context, id string) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Store("delete memory: failed to begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		UPDATE consolidation_events SET tombstoned = true WHERE memory_id = $1
	`, id); err != nil {
		return wrapPgError("delete memory: tombstone consolidation events", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE memory_access_log SET tombstoned = true WHERE memory_id = $1
	`, id); err != nil {
		return wrapPgError("delete memory: tombstone access log", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return wrapPgError("delete memory", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Store("delete memory: failed to read rows affected", err)
	}
	if n == 0 {
		return errs.NotFound("delete memory: not found")
	}

	if err := tx.Commit(); err != nil {
		return errs.Store("delete memory: failed to commit transaction", err)
	}
	return nil
}

// ListByTier returns up to limit Active memories in the given tier,
// ordered by recall_probability ascending (closest to migration first).
func (g *Gateway) ListByTier(ctx context.Context, tier Tier, limit int) ([]*Memory, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE tier = $1 AND status = $2
		ORDER BY recall_probability ASC NULLS LAST
		LIMIT $3
	`, string(tier), string(StatusActive), limit)
	if err != nil {
		return nil, wrapPgError("list by tier", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, wrapPgError("list by tier: scan", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgError("list by tier: iterate", err)
	}
	return out, nil
}

// ConsolidationUpdate carries the C1-computed values the consolidation
// engine applies to a memory on access.
type ConsolidationUpdate struct {
	NewStrength          float64
	NewDecayRate         float64
	NewRecallProbability float64
	LastRecallInterval   time.Duration
	AccessType           AccessType
	SimilarityScore      *float64
	RetrievalTimeMs      float64
	RankingPosition      *int
}

// ConsolidationComputer derives the new consolidation fields from the
// row currently locked inside ApplyConsolidationUpdate. It is invoked
// exactly once per call, with the row already held under SELECT ... FOR
// UPDATE, so the math always runs against the freshest state rather than
// a value read before the lock was acquired.
type ConsolidationComputer func(current *Memory) (ConsolidationUpdate, error)

// ApplyConsolidationUpdate locks the memory row (SELECT ... FOR UPDATE),
// invokes compute against the freshly-locked state, applies the
// resulting consolidation fields, appends one access-log row, and
// records exactly one ConsolidationEvent with event_type=access — all
// inside a single transaction. Locking before computing (rather than
// accepting pre-computed values) is what prevents two concurrent
// accesses to the same memory from both reading stale state and
// double-incrementing access_count.
func (g *Gateway) ApplyConsolidationUpdate(ctx context.Context, id string, compute ConsolidationComputer) (*Memory, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Store("apply consolidation update: failed to begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = $1 FOR UPDATE`, id)
	current, err := scanMemory(row)
	if err != nil {
		return nil, wrapPgError("apply consolidation update: lock row", err)
	}

	u, err := compute(current)
	if err != nil {
		return nil, err
	}

	oldS := current.ConsolidationStrength
	var oldR float64
	if current.RecallProbability != nil {
		oldR = *current.RecallProbability
	}

	now := time.Now().UTC()
	intervalSeconds := u.LastRecallInterval.Seconds()

	res, err := tx.ExecContext(ctx, `
		UPDATE memories SET
			access_count = access_count + 1,
			last_accessed_at = $2,
			updated_at = $2,
			consolidation_strength = $3,
			decay_rate = $4,
			recall_probability = $5,
			last_recall_interval_seconds = $6,
			total_retrieval_attempts = total_retrieval_attempts + 1,
			successful_retrievals = successful_retrievals + 1
		WHERE id = $1
	`, id, now, u.NewStrength, u.NewDecayRate, u.NewRecallProbability, intervalSeconds)
	if err != nil {
		return nil, wrapPgError("apply consolidation update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errs.NotFound("apply consolidation update: not found")
	}

	logID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_access_log (
			id, memory_id, access_type, similarity_score, retrieval_time_ms, ranking_position, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, logID, id, string(u.AccessType), u.SimilarityScore, u.RetrievalTimeMs, u.RankingPosition, now); err != nil {
		return nil, wrapPgError("apply consolidation update: access log", err)
	}

	eventID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO consolidation_events (
			id, memory_id, event_type, old_strength, new_strength,
			old_recall_probability, new_recall_probability,
			strength_delta, probability_delta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, eventID, id, string(EventAccess), oldS, u.NewStrength, oldR, u.NewRecallProbability,
		u.NewStrength-oldS, u.NewRecallProbability-oldR, now); err != nil {
		return nil, wrapPgError("apply consolidation update: audit event", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Store("apply consolidation update: failed to commit", err)
	}

	return g.Get(ctx, id)
}

// TestingEffectUpdate carries the C6-computed values the testing-effect
// engine applies to a memory after a scored retrieval attempt.
type TestingEffectUpdate struct {
	NewStrength      float64
	NewEaseFactor    float64
	NextIntervalDays float64
	DifficultyScore  float64
}

// TestingEffectComputer derives the new review-scheduling fields from the
// row currently locked inside ApplyTestingEffectUpdate, mirroring
// ConsolidationComputer's lock-before-compute shape for the same reason:
// two concurrent retrieval attempts against the same memory must not both
// read the pre-attempt ease_factor/interval and double-apply their boosts.
type TestingEffectComputer func(current *Memory) (TestingEffectUpdate, error)

// ApplyTestingEffectUpdate locks the memory row, invokes compute against
// the freshly-locked state, persists the resulting strength/ease/interval
// fields plus next_review_at, and records one
// testing_effect_boost ConsolidationEvent, all inside a single
// transaction.
func (g *Gateway) ApplyTestingEffectUpdate(ctx context.Context, id string, compute TestingEffectComputer) (*Memory, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Store("apply testing effect update: failed to begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = $1 FOR UPDATE`, id)
	current, err := scanMemory(row)
	if err != nil {
		return nil, wrapPgError("apply testing effect update: lock row", err)
	}

	u, err := compute(current)
	if err != nil {
		return nil, err
	}

	oldS := current.ConsolidationStrength
	now := time.Now().UTC()
	nextReview := now.Add(time.Duration(u.NextIntervalDays * float64(24*time.Hour)))

	res, err := tx.ExecContext(ctx, `
		UPDATE memories SET
			consolidation_strength = $2,
			ease_factor = $3,
			current_interval_days = $4,
			next_review_at = $5,
			updated_at = $6
		WHERE id = $1
	`, id, u.NewStrength, u.NewEaseFactor, u.NextIntervalDays, nextReview, now)
	if err != nil {
		return nil, wrapPgError("apply testing effect update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errs.NotFound("apply testing effect update: not found")
	}

	eventID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO consolidation_events (
			id, memory_id, event_type, old_strength, new_strength, strength_delta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, eventID, id, string(EventTestingEffectBoost), oldS, u.NewStrength, u.NewStrength-oldS, now); err != nil {
		return nil, wrapPgError("apply testing effect update: audit event", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Store("apply testing effect update: failed to commit", err)
	}

	return g.Get(ctx, id)
}

// RecordEvent appends a ConsolidationEvent audit row.
func (g *Gateway) RecordEvent(ctx context.Context, ev ConsolidationEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	var triggerReason []byte
	if ev.TriggerReason != "" {
		triggerReason = []byte(ev.TriggerReason)
	}
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO consolidation_events (
			id, memory_id, event_type, old_strength, new_strength,
			old_recall_probability, new_recall_probability,
			strength_delta, probability_delta, trigger_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, ev.ID, ev.MemoryID, string(ev.EventType), ev.OldStrength, ev.NewStrength,
		ev.OldRecallProb, ev.NewRecallProb, ev.StrengthDelta, ev.ProbabilityDelta,
		triggerReason, time.Now().UTC())
	if err != nil {
		return wrapPgError("record consolidation event", err)
	}
	return nil
}

// MigrateTier moves a memory to a new tier inside a transaction and
// records exactly one tier_migration_<from>_<to> event.
func (g *Gateway) MigrateTier(ctx context.Context, id string, from, to Tier, reason string) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Store("migrate tier: failed to begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE memories SET tier = $2, updated_at = now() WHERE id = $1 AND tier = $3
	`, id, string(to), string(from))
	if err != nil {
		return wrapPgError("migrate tier", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Store("migrate tier: failed to read rows affected", err)
	}
	if n == 0 {
		return errs.Conflict("migrate tier: memory not in expected source tier")
	}

	eventID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO consolidation_events (id, memory_id, event_type, trigger_reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, eventID, id, string(TierMigrationEvent(from, to)), []byte(`"`+reason+`"`), time.Now().UTC()); err != nil {
		return wrapPgError("migrate tier: audit event", err)
	}

	return tx.Commit()
}

// Freeze inserts a FrozenMemory row and moves the memory into the Frozen
// tier, inside a single transaction.
func (g *Gateway) Freeze(ctx context.Context, memoryID string, payload map[string]any, reason string, compressionRatio float64) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return errs.Validation("compressed payload is not JSON-serializable")
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Store("freeze: failed to begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE memories SET tier = $2, updated_at = now() WHERE id = $1
	`, memoryID, string(TierFrozen))
	if err != nil {
		return wrapPgError("freeze: update tier", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("freeze: memory not found")
	}

	frozenID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO frozen_memories (id, original_memory_id, compressed_payload, freeze_reason, frozen_at, compression_ratio)
		VALUES ($1, $2, $3, $4, now(), $5)
	`, frozenID, memoryID, payloadJSON, reason, compressionRatio); err != nil {
		return wrapPgError("freeze: insert frozen row", err)
	}

	eventID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO consolidation_events (id, memory_id, event_type, trigger_reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, eventID, memoryID, string(EventFreeze), []byte(`"`+reason+`"`), time.Now().UTC()); err != nil {
		return wrapPgError("freeze: audit event", err)
	}

	return tx.Commit()
}
