package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
	"github.com/JakeFAU/dealer-gatherer/internal/transport"
)

// SourceStore persists data sources. The host column holds the normalized host of url
// so duplicate detection is an indexed lookup.
type SourceStore struct {
	db    DB
	table string
}

// NewSourceStore builds a store over db. An empty table defaults to "data_sources".
func NewSourceStore(db DB, table string) (*SourceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table, "data_sources")
	if err != nil {
		return nil, err
	}
	return &SourceStore{db: db, table: table}, nil
}

// ExistsAtURL reports whether a source other than excludeID already covers rawURL's host.
func (s *SourceStore) ExistsAtURL(ctx context.Context, rawURL string, excludeID int64) (bool, error) {
	host := transport.HostOf(rawURL)
	if host == "" {
		return false, fmt.Errorf("url %q has no host", rawURL)
	}
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE host = $1 AND id <> $2)", s.table)
	var exists bool
	if err := s.db.QueryRow(ctx, query, host, excludeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check source host %s: %w", host, err)
	}
	return exists, nil
}

// SaveStatus upserts ds with the outcome of its latest run.
func (s *SourceStore) SaveStatus(ctx context.Context, ds crawler.DataSource) error {
	if ds.ID <= 0 {
		return fmt.Errorf("data source id must be positive")
	}
	stats, err := json.Marshal(ds.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	var lastRun *time.Time
	if !ds.LastRun.IsZero() {
		t := ds.LastRun.UTC()
		lastRun = &t
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, url, host, name, asset_type, bot_key, crawl_rate,
	failure_count, status, reason, details, last_run, stats
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
	url = EXCLUDED.url,
	host = EXCLUDED.host,
	failure_count = EXCLUDED.failure_count,
	status = EXCLUDED.status,
	reason = EXCLUDED.reason,
	details = EXCLUDED.details,
	last_run = EXCLUDED.last_run,
	stats = EXCLUDED.stats`, s.table)
	args := []any{
		ds.ID, ds.URL, transport.HostOf(ds.URL), ds.Name, ds.AssetType, ds.BotKey, ds.CrawlRate,
		ds.FailureCount, string(ds.Status), string(ds.Reason), ds.Details, lastRun, stats,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save source %d: %w", ds.ID, err)
	}
	return nil
}

// Get loads the source with id; ok is false when it does not exist.
func (s *SourceStore) Get(ctx context.Context, id int64) (crawler.DataSource, bool, error) {
	query := fmt.Sprintf(`SELECT id, url, name, asset_type, bot_key, crawl_rate,
	failure_count, status, reason, details, last_run, stats
FROM %s WHERE id = $1`, s.table)
	var (
		ds             crawler.DataSource
		status, reason string
		lastRun        *time.Time
		stats          []byte
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&ds.ID, &ds.URL, &ds.Name, &ds.AssetType, &ds.BotKey, &ds.CrawlRate,
		&ds.FailureCount, &status, &reason, &ds.Details, &lastRun, &stats,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.DataSource{}, false, nil
	}
	if err != nil {
		return crawler.DataSource{}, false, fmt.Errorf("load source %d: %w", id, err)
	}
	ds.Status = crawler.Status(status)
	ds.Reason = crawler.Reason(reason)
	if lastRun != nil {
		ds.LastRun = lastRun.UTC()
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &ds.Stats); err != nil {
			return crawler.DataSource{}, false, fmt.Errorf("decode stats of source %d: %w", id, err)
		}
	}
	return ds, true, nil
}
