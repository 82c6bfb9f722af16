package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"airmap/pkg/db"
	"airmap/pkg/model"
)

// SnapshotStore persists state snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *model.StateSnapshot) error
	RecentSnapshots(ctx context.Context, limit int) ([]model.StateSnapshot, error)
}

// CacheStore handles generic key-value caching.
type CacheStore interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// SQLiteStore implements SnapshotStore and CacheStore.
type SQLiteStore struct {
	db       *db.DB
	clock    clock.Clock
	cacheTTL time.Duration
}

// NewSQLiteStore creates a new store. Cached values older than cacheTTL read
// as misses; zero keeps them until pruned.
func NewSQLiteStore(d *db.DB, clk clock.Clock, cacheTTL time.Duration) *SQLiteStore {
	if clk == nil {
		clk = clock.New()
	}
	return &SQLiteStore{db: d, clock: clk, cacheTTL: cacheTTL}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Snapshots ---

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *model.StateSnapshot) error {
	visible, err := json.Marshal(snap.VisibleLayers)
	if err != nil {
		return fmt.Errorf("encode visible layers: %w", err)
	}

	query := `INSERT INTO state_snapshots
		(taken_at, revision, status, layer_count, aircraft_count, has_airspace_data, airspace_feature_count, loading, has_error, error, visible_layers)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		snap.Timestamp.UnixMilli(), int64(snap.Revision), string(snap.Status),
		snap.LayerCount, snap.AircraftCount, snap.HasAirspaceData, snap.AirspaceFeatureCount,
		snap.Loading, snap.HasError, snap.Error, string(visible),
	)
	return err
}

// RecentSnapshots returns up to limit snapshots, newest first.
func (s *SQLiteStore) RecentSnapshots(ctx context.Context, limit int) ([]model.StateSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT taken_at, revision, status, layer_count, aircraft_count, has_airspace_data, airspace_feature_count, loading, has_error, error, visible_layers
		 FROM state_snapshots ORDER BY taken_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []model.StateSnapshot{}
	for rows.Next() {
		var (
			snap     model.StateSnapshot
			takenAt  int64
			revision int64
			status   string
			errText  sql.NullString
			visible  sql.NullString
		)
		if err := rows.Scan(&takenAt, &revision, &status,
			&snap.LayerCount, &snap.AircraftCount, &snap.HasAirspaceData, &snap.AirspaceFeatureCount,
			&snap.Loading, &snap.HasError, &errText, &visible); err != nil {
			return nil, err
		}
		snap.Timestamp = time.UnixMilli(takenAt).UTC()
		snap.Revision = uint64(revision)
		snap.Status = model.Status(status)
		snap.Error = errText.String
		snap.VisibleLayers = []model.VisibleLayer{}
		if visible.Valid && visible.String != "" {
			if err := json.Unmarshal([]byte(visible.String), &snap.VisibleLayers); err != nil {
				return nil, fmt.Errorf("decode visible layers: %w", err)
			}
		}
		results = append(results, snap)
	}
	return results, rows.Err()
}

// --- Cache ---

func (s *SQLiteStore) GetCache(ctx context.Context, key string) ([]byte, bool) {
	var (
		val       []byte
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT value, created_at FROM cache WHERE key = ?", key).Scan(&val, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	if s.cacheTTL > 0 && s.clock.Since(time.UnixMilli(createdAt)) > s.cacheTTL {
		return nil, false
	}

	// Transparent Decompression
	if len(val) > 2 && val[0] == 0x1f && val[1] == 0x8b {
		if decompressed, err := decompress(val); err == nil {
			return decompressed, true
		}
	}
	return val, true
}

func (s *SQLiteStore) SetCache(ctx context.Context, key string, val []byte) error {
	compressed, err := compress(val)
	if err == nil {
		val = compressed
	}

	query := `INSERT OR REPLACE INTO cache (key, value, created_at) VALUES (?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, key, val, s.clock.Now().UnixMilli())
	return err
}

// --- Compression Pooling ---

var (
	gzipWriterPool = sync.Pool{
		New: func() interface{} {
			return gzip.NewWriter(io.Discard)
		},
	}
	bufferPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}
)

func compress(data []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// Must copy because buf is returned to pool
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
