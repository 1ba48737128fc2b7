// Package postgres implements the completion manifest on Postgres, for
// crawlers that share state across hosts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
)

// DefaultTable names the manifest table when none is configured.
const DefaultTable = "transcript_manifest"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Manifest stores completion records in Postgres.
type Manifest struct {
	pool  querier
	table string
}

// New connects to Postgres and creates the manifest table if needed.
func New(ctx context.Context, cfg Config) (*Manifest, error) {
	if cfg.DSN == "" {
		return nil, errors.New("manifest.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	m := &Manifest{pool: pool, table: table}
	if err := m.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return m, nil
}

// NewWithPool constructs a manifest from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string) (*Manifest, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Manifest{pool: pool, table: name}, nil
}

// EnsureSchema creates the manifest table when missing.
func (m *Manifest) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	channel_key  TEXT NOT NULL,
	video_key    TEXT NOT NULL,
	status       TEXT NOT NULL,
	artifact_key TEXT NOT NULL DEFAULT '',
	language     TEXT NOT NULL DEFAULT '',
	digest       TEXT NOT NULL DEFAULT '',
	run_id       TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (channel_key, video_key)
)`, m.table)
	if _, err := m.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create manifest table: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (m *Manifest) Close() error {
	if m == nil || m.pool == nil {
		return nil
	}
	m.pool.Close()
	return nil
}

// Lookup returns the record for the pair, if any.
func (m *Manifest) Lookup(ctx context.Context, channelKey, videoKey string) (crawler.ManifestEntry, bool, error) {
	query := fmt.Sprintf(`
SELECT status, artifact_key, language, digest, run_id, updated_at
FROM %s
WHERE channel_key = $1 AND video_key = $2`, m.table)

	entry := crawler.ManifestEntry{ChannelKey: channelKey, VideoKey: videoKey}
	var status string
	err := m.pool.QueryRow(ctx, query, channelKey, videoKey).
		Scan(&status, &entry.ArtifactKey, &entry.Language, &entry.Digest, &entry.RunID, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.ManifestEntry{}, false, nil
	}
	if err != nil {
		return crawler.ManifestEntry{}, false, fmt.Errorf("lookup manifest: %w", err)
	}
	entry.Status = crawler.Outcome(status)
	return entry, true, nil
}

// Record upserts the record for entry's pair.
func (m *Manifest) Record(ctx context.Context, entry crawler.ManifestEntry) error {
	if entry.ChannelKey == "" || entry.VideoKey == "" {
		return errors.New("manifest entry requires channel and video keys")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	channel_key,
	video_key,
	status,
	artifact_key,
	language,
	digest,
	run_id,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (channel_key, video_key) DO UPDATE SET
	status = EXCLUDED.status,
	artifact_key = EXCLUDED.artifact_key,
	language = EXCLUDED.language,
	digest = EXCLUDED.digest,
	run_id = EXCLUDED.run_id,
	updated_at = EXCLUDED.updated_at`, m.table)

	args := []any{
		entry.ChannelKey,
		entry.VideoKey,
		string(entry.Status),
		entry.ArtifactKey,
		entry.Language,
		entry.Digest,
		entry.RunID,
		entry.UpdatedAt.UTC(),
	}
	if _, err := m.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert manifest: %w", err)
	}
	return nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}
