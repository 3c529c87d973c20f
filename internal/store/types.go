// Package store is the typed façade over the persistent store: CRUD of
// memories, batched vector/fulltext/hybrid search, audit-log inserts, and
// the frozen-archive table. It owns all SQL — no other package constructs
// queries against these tables.
package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Tier is one of the four storage tiers a memory can occupy.
type Tier string

const (
	TierWorking Tier = "working"
	TierWarm    Tier = "warm"
	TierCold    Tier = "cold"
	TierFrozen  Tier = "frozen"
)

// IsValidTier reports whether s names one of the four storage tiers.
func IsValidTier(s string) bool {
	switch Tier(s) {
	case TierWorking, TierWarm, TierCold, TierFrozen:
		return true
	}
	return false
}

// Status is the lifecycle state of a memory row. Only Active memories
// participate in scoring.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// IsValidStatus reports whether s names a known memory status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusActive, StatusArchived, StatusDeleted:
		return true
	}
	return false
}

// Bounds on the numeric fields enforced throughout the gateway.
const (
	MinConsolidationStrength = 0.1
	MaxConsolidationStrength = 10.0
	// MaxConsolidationStrengthBoosted is the ceiling after a testing-effect
	// boost is applied.
	MaxConsolidationStrengthBoosted = 15.0
	MinDecayRate                    = 0.0 // exclusive lower bound, enforced by the schema's decay_rate CHECK
	MaxDecayRate                    = 5.0
	MinEaseFactor                   = 1.3
	MaxEaseFactor                   = 3.0
	DefaultEaseFactor               = 2.5
	DefaultConsolidationStrength    = 1.0
	DefaultDecayRate                = 1.0
)

// Memory is the primary record: textual content, its embedding, and all
// derived consolidation/scoring state.
type Memory struct {
	ID           string
	Content      string
	ContentHash  string
	Embedding    *pgvector.Vector
	Tier         Tier
	Status       Status
	Importance   float64
	AccessCount  int
	LastAccessed *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time

	ConsolidationStrength float64
	DecayRate             float64
	RecallProbability     *float64
	LastRecallInterval    *time.Duration

	SuccessfulRetrievals   int
	FailedRetrievals       int
	TotalRetrievalAttempts int

	EaseFactor          float64
	CurrentIntervalDays *float64
	NextReviewAt        *time.Time

	Metadata  map[string]any
	ParentID  *string
	ExpiresAt *time.Time

	// RecencyScore and RelevanceScore are populated by the scorer at
	// query time; they are not persisted columns but are surfaced on
	// search results per the identical-attribute-set contract.
	RecencyScore   float64
	RelevanceScore float64
}

// FrozenMemory is the compressed archival form of a Memory that has
// migrated into the Frozen tier.
type FrozenMemory struct {
	ID                 string
	OriginalMemoryID   string
	CompressedPayload  map[string]any
	FreezeReason       string
	FrozenAt           time.Time
	UnfreezeCount      int
	LastUnfrozenAt     *time.Time
	CompressionRatio   float64
}

// ConsolidationEventType enumerates the audit-row kinds emitted whenever a
// memory's consolidation state changes.
type ConsolidationEventType string

const (
	EventAccess                  ConsolidationEventType = "access"
	EventImportanceUpdate        ConsolidationEventType = "importance_update"
	EventFreeze                  ConsolidationEventType = "freeze"
	EventUnfreeze                ConsolidationEventType = "unfreeze"
	EventTestingEffectBoost      ConsolidationEventType = "testing_effect_boost"
)

// TierMigrationEvent formats the event_type for a tier transition, e.g.
// "tier_migration_working_warm".
func TierMigrationEvent(from, to Tier) ConsolidationEventType {
	return ConsolidationEventType("tier_migration_" + string(from) + "_" + string(to))
}

// ConsolidationEvent is an append-only audit row for every strength/tier
// change. MemoryID is not a foreign key: deleting the memory tombstones
// this row rather than deleting or blocking on it, so MemoryID can
// outlive the memory it names.
type ConsolidationEvent struct {
	ID               string
	MemoryID         string
	EventType        ConsolidationEventType
	OldStrength      *float64
	NewStrength      *float64
	OldRecallProb    *float64
	NewRecallProb    *float64
	StrengthDelta    *float64
	ProbabilityDelta *float64
	TriggerReason    string
	Tombstoned       bool
	CreatedAt        time.Time
}

// AccessType enumerates how a memory was read for MemoryAccessLog rows.
type AccessType string

const (
	AccessSearch          AccessType = "search"
	AccessDirectRetrieval AccessType = "direct_retrieval"
)

// MemoryAccessLog is an append-only record of reads. Same dangling-id
// treatment as ConsolidationEvent: Tombstoned marks a row whose memory
// has since been deleted.
type MemoryAccessLog struct {
	ID              string
	MemoryID        string
	AccessType      AccessType
	SimilarityScore *float64
	RetrievalTimeMs float64
	RankingPosition *int
	ImportanceBoost *float64
	Tombstoned      bool
	CreatedAt       time.Time
}

// TierStatistic is a per-tier roll-up used by the tier manager and
// orchestrator for dashboards and migration decisions.
type TierStatistic struct {
	Tier               Tier
	Count              int
	AvgStrength        float64
	AvgRecallProb      float64
	AvgAccessCount     float64
	TotalBytes         int64
	RecordedAt         time.Time
}
