package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/synapsed/synapsed/internal/errs"
	"github.com/synapsed/synapsed/internal/logging"
	"github.com/synapsed/synapsed/internal/metrics"
)

var log = logging.GetLogger("store")

// Gateway is the typed façade over the memory store. It wraps a
// database/sql pool (backed by pgx's stdlib adapter, which keeps the
// standard driver interface so the package remains testable with
// go-sqlmock without a live Postgres instance) and owns every query
// against the memory tables.
type Gateway struct {
	db        *sql.DB
	dimension int
	mu        sync.RWMutex
}

// Config configures how the gateway connects and initializes its schema.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Dimension       int
	AutoMigrate     bool
}

// Open opens a pooled connection to Postgres and, if cfg.AutoMigrate is
// set, ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*Gateway, error) {
	log.Info("opening store gateway", "dimension", cfg.Dimension)

	// Register the vector codec on every new connection so rows.Scan can
	// populate *pgvector.Vector directly, the pattern pgvector-go's own
	// stdlib integration documents for database/sql callers.
	connConfig, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errs.Config("failed to parse database DSN", err)
	}
	connConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgvector.RegisterTypes(ctx, conn)
	}
	connStr := stdlib.RegisterConnConfig(connConfig)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, errs.Store("failed to open database connection", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.Store("failed to ping database", err)
	}

	gw := &Gateway{db: db, dimension: cfg.Dimension}

	if cfg.AutoMigrate {
		if err := gw.InitSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	log.Info("store gateway ready")
	return gw, nil
}

// InitSchema creates all tables, indexes, and constraints if they do not
// already exist, then records the schema version.
func (g *Gateway) InitSchema(ctx context.Context) error {
	log.Info("initializing schema", "version", SchemaVersion)

	g.mu.Lock()
	defer g.mu.Unlock()

	var exists bool
	err := g.db.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables WHERE table_name = 'memories'
	)`).Scan(&exists)
	if err != nil {
		return errs.Store("failed to check schema existence", err)
	}
	if exists {
		log.Info("schema already initialized")
		return nil
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Store("failed to begin schema transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, coreSchema(g.dimension)); err != nil {
		return errs.Store("failed to create core schema", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_version (version, applied_at)
		VALUES ($1, now())
		ON CONFLICT (version) DO UPDATE SET applied_at = now()
	`, SchemaVersion); err != nil {
		return errs.Store("failed to record schema version", err)
	}

	if err := tx.Commit(); err != nil {
		return errs.Store("failed to commit schema", err)
	}

	log.Info("schema initialized", "version", SchemaVersion)
	return nil
}

// Close closes the underlying connection pool.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

// DB returns the underlying *sql.DB for components that need to
// participate in a transaction the gateway itself does not model.
func (g *Gateway) DB() *sql.DB { return g.db }

// Dimension returns the configured embedding dimension.
func (g *Gateway) Dimension() int { return g.dimension }

// GetSchemaVersion returns the highest applied schema version.
func (g *Gateway) GetSchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := g.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, errs.Store("failed to read schema version", err)
	}
	return version, nil
}

// TableExists reports whether the named table exists in the current schema.
func (g *Gateway) TableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := g.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1
	`, name).Scan(&count)
	if err != nil {
		return false, errs.Store("failed to check table existence", err)
	}
	return count > 0, nil
}

// CountRows returns the number of rows in table. table is never taken from
// user input; callers pass a fixed identifier from this package.
func (g *Gateway) CountRows(ctx context.Context, table string) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	if err := g.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, errs.Store(fmt.Sprintf("failed to count rows in %s", table), err)
	}
	return count, nil
}

// Stats summarizes the gateway's current occupancy.
type Stats struct {
	SchemaVersion           int
	MemoryCount             int
	FrozenMemoryCount       int
	ConsolidationEventCount int
	TierStatistics          []TierStatistic
}

// GetStats returns roll-up counts across the core tables, plus the most
// recent per-tier snapshot the tier manager recorded.
func (g *Gateway) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	version, err := g.GetSchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	stats.SchemaVersion = version

	if stats.MemoryCount, err = g.CountRows(ctx, "memories"); err != nil {
		return nil, err
	}
	if stats.FrozenMemoryCount, err = g.CountRows(ctx, "frozen_memories"); err != nil {
		return nil, err
	}
	if stats.ConsolidationEventCount, err = g.CountRows(ctx, "consolidation_events"); err != nil {
		return nil, err
	}
	if stats.TierStatistics, err = g.LatestTierStatistics(ctx); err != nil {
		return nil, err
	}

	return stats, nil
}

// RecordTierSnapshot computes a per-tier roll-up over active memories and
// appends one tier_statistics row per tier (including tiers with zero
// active memories), the per-tick dashboard snapshot the tier manager
// takes alongside its migration scan.
func (g *Gateway) RecordTierSnapshot(ctx context.Context) error {
	tiers := []Tier{TierWorking, TierWarm, TierCold, TierFrozen}
	for _, tier := range tiers {
		var (
			count                             int
			avgStrength, avgRecall, avgAccess sql.NullFloat64
			totalBytes                        sql.NullInt64
		)
		err := g.db.QueryRowContext(ctx, `
			SELECT COUNT(*), AVG(consolidation_strength), AVG(recall_probability),
				AVG(access_count), COALESCE(SUM(length(content)), 0)
			FROM memories WHERE tier = $1 AND status = $2
		`, string(tier), string(StatusActive)).Scan(&count, &avgStrength, &avgRecall, &avgAccess, &totalBytes)
		if err != nil {
			return wrapPgError("record tier snapshot: query", err)
		}

		_, err = g.db.ExecContext(ctx, `
			INSERT INTO tier_statistics
				(id, tier, count, avg_strength, avg_recall_probability, avg_access_count, total_bytes)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.NewString(), string(tier), count, avgStrength.Float64, avgRecall.Float64, avgAccess.Float64, totalBytes.Int64)
		if err != nil {
			return wrapPgError("record tier snapshot: insert", err)
		}

		metrics.TierStatisticsCount.WithLabelValues(string(tier)).Set(float64(count))
	}
	return nil
}

// LatestTierStatistics returns the most recent snapshot row for each
// tier that has ever had one recorded.
func (g *Gateway) LatestTierStatistics(ctx context.Context) ([]TierStatistic, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT DISTINCT ON (tier) tier, count, avg_strength, avg_recall_probability,
			avg_access_count, total_bytes, recorded_at
		FROM tier_statistics
		ORDER BY tier, recorded_at DESC
	`)
	if err != nil {
		return nil, wrapPgError("latest tier statistics", err)
	}
	defer rows.Close()

	var out []TierStatistic
	for rows.Next() {
		var s TierStatistic
		var tier string
		if err := rows.Scan(&tier, &s.Count, &s.AvgStrength, &s.AvgRecallProb, &s.AvgAccessCount, &s.TotalBytes, &s.RecordedAt); err != nil {
			return nil, wrapPgError("latest tier statistics: scan", err)
		}
		s.Tier = Tier(tier)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgError("latest tier statistics: iterate", err)
	}
	return out, nil
}

// wrapPgError maps a Postgres error into the errs taxonomy: sql.ErrNoRows
// becomes NotFound, unique violations become Conflict, check violations
// become Validation, and everything else becomes a generic StoreError
// carrying the underlying cause.
func wrapPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return errs.NotFound(op + ": not found")
	}
	var pgErr *pgconn.PgError
	if asPgError(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return errs.Conflict(op + ": duplicate content within tier")
		case "23514": // check_violation
			return errs.Validation(op + ": " + pgErr.Message)
		}
	}
	return errs.Store(op, err)
}

func asPgError(err error, target **pgconn.PgError) bool {
	for err != nil {
		if pe, ok := err.(*pgconn.PgError); ok {
			*target = pe
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
