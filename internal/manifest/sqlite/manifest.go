// Package sqlite implements the completion manifest on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Manifest stores completion records in SQLite.
type Manifest struct {
	db *sql.DB
}

// Open creates or opens the manifest database at path and applies pending
// migrations.
func Open(ctx context.Context, path string) (*Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("manifest path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create manifest directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	m := &Manifest{db: db}
	if err := m.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// Close releases the database handle.
func (m *Manifest) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Lookup returns the record for the pair, if any.
func (m *Manifest) Lookup(ctx context.Context, channelKey, videoKey string) (crawler.ManifestEntry, bool, error) {
	entry := crawler.ManifestEntry{ChannelKey: channelKey, VideoKey: videoKey}
	var (
		status    string
		updatedAt int64
	)
	err := m.db.QueryRowContext(ctx, `
SELECT status, artifact_key, language, digest, run_id, updated_at
FROM transcript_manifest
WHERE channel_key = ? AND video_key = ?`, channelKey, videoKey).
		Scan(&status, &entry.ArtifactKey, &entry.Language, &entry.Digest, &entry.RunID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.ManifestEntry{}, false, nil
	}
	if err != nil {
		return crawler.ManifestEntry{}, false, fmt.Errorf("lookup manifest: %w", err)
	}
	entry.Status = crawler.Outcome(status)
	entry.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return entry, true, nil
}

// Record upserts the record for entry's pair.
func (m *Manifest) Record(ctx context.Context, entry crawler.ManifestEntry) error {
	if entry.ChannelKey == "" || entry.VideoKey == "" {
		return errors.New("manifest entry requires channel and video keys")
	}
	_, err := m.db.ExecContext(ctx, `
INSERT INTO transcript_manifest (
	channel_key, video_key, status, artifact_key, language, digest, run_id, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (channel_key, video_key) DO UPDATE SET
	status = excluded.status,
	artifact_key = excluded.artifact_key,
	language = excluded.language,
	digest = excluded.digest,
	run_id = excluded.run_id,
	updated_at = excluded.updated_at`,
		entry.ChannelKey,
		entry.VideoKey,
		string(entry.Status),
		entry.ArtifactKey,
		entry.Language,
		entry.Digest,
		entry.RunID,
		entry.UpdatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record manifest: %w", err)
	}
	return nil
}

// Counts returns the number of records per status for one channel.
func (m *Manifest) Counts(ctx context.Context, channelKey string) (map[crawler.Outcome]int, error) {
	rows, err := m.db.QueryContext(ctx, `
SELECT status, COUNT(*) FROM transcript_manifest
WHERE channel_key = ? GROUP BY status`, channelKey)
	if err != nil {
		return nil, fmt.Errorf("count manifest: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[crawler.Outcome]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan manifest count: %w", err)
		}
		out[crawler.Outcome(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manifest counts: %w", err)
	}
	return out, nil
}

func (m *Manifest) init(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		version := migrationVersion(entry.Name())
		if entry.IsDir() || version <= 0 {
			continue
		}
		var applied int
		if err := m.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := m.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := m.db.ExecContext(ctx,
			`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer of a migration file name.
func migrationVersion(name string) int {
	end := strings.IndexFunc(name, func(r rune) bool { return r < '0' || r > '9' })
	if end <= 0 {
		return 0
	}
	n, err := strconv.Atoi(name[:end])
	if err != nil {
		return 0
	}
	return n
}
