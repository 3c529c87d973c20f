package store

import "fmt"

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// coreSchema builds the table definitions for the given embedding
// dimension. The dimension is a deployment constant so it
// is substituted into the vector column type rather than hard-coded.
func coreSchema(dimension int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- =============================================================================
-- MEMORIES TABLE
-- =============================================================================
CREATE TABLE IF NOT EXISTS memories (
	id UUID PRIMARY KEY,
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	embedding vector(%d),
	tier TEXT NOT NULL DEFAULT 'working' CHECK (tier IN ('working', 'warm', 'cold', 'frozen')),
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived', 'deleted')),
	importance_score DOUBLE PRECISION NOT NULL DEFAULT 0.5 CHECK (importance_score >= 0.0 AND importance_score <= 1.0),
	access_count INTEGER NOT NULL DEFAULT 0 CHECK (access_count >= 0),
	last_accessed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	consolidation_strength DOUBLE PRECISION NOT NULL DEFAULT 1.0
		CHECK (consolidation_strength >= 0.1 AND consolidation_strength <= 15.0),
	decay_rate DOUBLE PRECISION NOT NULL DEFAULT 1.0 CHECK (decay_rate > 0.0 AND decay_rate <= 5.0),
	recall_probability DOUBLE PRECISION CHECK (recall_probability IS NULL OR (recall_probability >= 0.0 AND recall_probability <= 1.0)),
	last_recall_interval_seconds DOUBLE PRECISION,

	successful_retrievals INTEGER NOT NULL DEFAULT 0 CHECK (successful_retrievals >= 0),
	failed_retrievals INTEGER NOT NULL DEFAULT 0 CHECK (failed_retrievals >= 0),
	total_retrieval_attempts INTEGER NOT NULL DEFAULT 0 CHECK (total_retrieval_attempts >= 0),
	CHECK (successful_retrievals + failed_retrievals <= total_retrieval_attempts),

	ease_factor DOUBLE PRECISION NOT NULL DEFAULT 2.5 CHECK (ease_factor >= 1.3 AND ease_factor <= 3.0),
	current_interval_days DOUBLE PRECISION CHECK (current_interval_days IS NULL OR current_interval_days >= 0.0),
	next_review_at TIMESTAMPTZ,

	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	parent_id UUID REFERENCES memories(id) ON DELETE SET NULL,
	expires_at TIMESTAMPTZ,

	CHECK (updated_at >= created_at),
	UNIQUE (content_hash, tier)
);

-- Composite index backing the tier manager's candidate-selection scan:
-- memories are always queried by tier, ordered by how close they are to
-- the next migration threshold.
CREATE INDEX IF NOT EXISTS idx_memories_tier_recall ON memories (tier, recall_probability);
CREATE INDEX IF NOT EXISTS idx_memories_status ON memories (status);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories (created_at);
CREATE INDEX IF NOT EXISTS idx_memories_last_accessed ON memories (last_accessed_at);
CREATE INDEX IF NOT EXISTS idx_memories_next_review ON memories (next_review_at) WHERE next_review_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_memories_parent ON memories (parent_id);
CREATE INDEX IF NOT EXISTS idx_memories_metadata ON memories USING GIN (metadata);
CREATE INDEX IF NOT EXISTS idx_memories_content_fts ON memories USING GIN (to_tsvector('english', content));

-- HNSW approximate-nearest-neighbor index for cosine similarity search.
-- m/ef_construction mirror the values the pack's own vector-search code
-- (HNSW m=16, ef_construct=100) converged on for comparable dimensions.
CREATE INDEX IF NOT EXISTS idx_memories_embedding_hnsw
	ON memories USING hnsw (embedding vector_cosine_ops)
	WITH (m = 16, ef_construction = 100);

-- =============================================================================
-- FROZEN MEMORIES TABLE
-- =============================================================================
CREATE TABLE IF NOT EXISTS frozen_memories (
	id UUID PRIMARY KEY,
	original_memory_id UUID NOT NULL UNIQUE REFERENCES memories(id) ON DELETE CASCADE,
	compressed_payload JSONB NOT NULL,
	freeze_reason TEXT NOT NULL,
	frozen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	unfreeze_count INTEGER NOT NULL DEFAULT 0 CHECK (unfreeze_count >= 0),
	last_unfrozen_at TIMESTAMPTZ,
	compression_ratio DOUBLE PRECISION NOT NULL CHECK (compression_ratio >= 1.0)
);

CREATE INDEX IF NOT EXISTS idx_frozen_memories_original ON frozen_memories (original_memory_id);

-- =============================================================================
-- CONSOLIDATION EVENTS TABLE (append-only audit log)
-- =============================================================================
-- memory_id deliberately carries no foreign key: deleting a memory must
-- never delete or block on its audit trail. Rows survive with a dangling
-- memory_id once the memory is gone; tombstoned is set on that delete so
-- a reader can tell a row refers to a memory that no longer exists.
CREATE TABLE IF NOT EXISTS consolidation_events (
	id UUID PRIMARY KEY,
	memory_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	old_strength DOUBLE PRECISION,
	new_strength DOUBLE PRECISION,
	old_recall_probability DOUBLE PRECISION,
	new_recall_probability DOUBLE PRECISION,
	strength_delta DOUBLE PRECISION,
	probability_delta DOUBLE PRECISION,
	trigger_reason JSONB,
	tombstoned BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_consolidation_events_memory ON consolidation_events (memory_id);
CREATE INDEX IF NOT EXISTS idx_consolidation_events_type ON consolidation_events (event_type);
CREATE INDEX IF NOT EXISTS idx_consolidation_events_created_at ON consolidation_events (created_at);

-- =============================================================================
-- MEMORY ACCESS LOG TABLE (append-only)
-- =============================================================================
-- Same dangling-id + tombstone treatment as consolidation_events, for the
-- same reason: an audit trail must outlive the row it describes.
CREATE TABLE IF NOT EXISTS memory_access_log (
	id UUID PRIMARY KEY,
	memory_id UUID NOT NULL,
	access_type TEXT NOT NULL,
	similarity_score DOUBLE PRECISION,
	retrieval_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	ranking_position INTEGER,
	importance_boost DOUBLE PRECISION,
	tombstoned BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_access_log_memory ON memory_access_log (memory_id);
CREATE INDEX IF NOT EXISTS idx_memory_access_log_created_at ON memory_access_log (created_at);

-- =============================================================================
-- TIER STATISTICS TABLE
-- =============================================================================
CREATE TABLE IF NOT EXISTS tier_statistics (
	id UUID PRIMARY KEY,
	tier TEXT NOT NULL,
	count INTEGER NOT NULL,
	avg_strength DOUBLE PRECISION NOT NULL,
	avg_recall_probability DOUBLE PRECISION NOT NULL,
	avg_access_count DOUBLE PRECISION NOT NULL,
	total_bytes BIGINT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tier_statistics_tier_recorded ON tier_statistics (tier, recorded_at);
`, dimension)
}
