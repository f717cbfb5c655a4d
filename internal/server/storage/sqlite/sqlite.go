// Package sqlite stores the heightmap cache in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/OCharnyshevich/geoterrain/internal/server/cache"
	"github.com/OCharnyshevich/geoterrain/pkg/geo"
	"github.com/OCharnyshevich/geoterrain/pkg/terrain/heightmap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements cache.Store on top of SQLite.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the database at path and migrates it to the
// latest schema.
func Open(path string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// m is not closed: that would close s.db.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	v, _, _ := m.Version()
	s.log.Debug("sqlite schema ready", "version", v)
	return nil
}

// Load returns the stored snapshot, or (nil, nil) when the database holds
// no session.
func (s *Store) Load(ctx context.Context) (*cache.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM session_meta WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session meta: %w", err)
	}

	var meta cache.Meta
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, fmt.Errorf("parse session meta: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT x, z, blob FROM heightmaps ORDER BY z, x`)
	if err != nil {
		return nil, fmt.Errorf("query heightmaps: %w", err)
	}
	defer rows.Close()

	snap := &cache.Snapshot{Meta: &meta}
	for rows.Next() {
		var (
			key  geo.CellKey
			blob []byte
		)
		if err := rows.Scan(&key.X, &key.Z, &blob); err != nil {
			return nil, fmt.Errorf("scan heightmap: %w", err)
		}
		h, err := heightmap.Decode(blob)
		if err != nil {
			s.log.Warn("skipping unreadable heightmap", "key", key, "error", err)
			continue
		}
		snap.Tiles = append(snap.Tiles, cache.Entry{Key: key, Heightmap: h})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate heightmaps: %w", err)
	}
	return snap, nil
}

// Save stores meta and the heightmaps in one transaction. Heightmaps
// already stored for a cell are kept; saving a different session first
// clears the previous one.
func (s *Store) Save(ctx context.Context, snap *cache.Snapshot) error {
	if snap.Meta == nil {
		return errors.New("snapshot without session meta")
	}
	data, err := json.Marshal(snap.Meta)
	if err != nil {
		return fmt.Errorf("marshal session meta: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx, `SELECT session_id FROM session_meta WHERE id = 1`).Scan(&previous)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("query session id: %w", err)
	case previous != snap.Meta.SessionID:
		if _, err := tx.ExecContext(ctx, `DELETE FROM heightmaps`); err != nil {
			return fmt.Errorf("clear heightmaps: %w", err)
		}
		s.log.Info("replacing stored session", "previous", previous, "session", snap.Meta.SessionID)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_meta (id, session_id, data, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET session_id = excluded.session_id, data = excluded.data, updated_at = excluded.updated_at`,
		snap.Meta.SessionID, string(data), time.Now().Unix()); err != nil {
		return fmt.Errorf("upsert session meta: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO heightmaps (x, z, width, blob) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range snap.Tiles {
		blob, err := heightmap.Encode(e.Heightmap)
		if err != nil {
			return fmt.Errorf("encode heightmap %v: %w", e.Key, err)
		}
		if _, err := stmt.ExecContext(ctx, e.Key.X, e.Key.Z, e.Heightmap.Width, blob); err != nil {
			return fmt.Errorf("insert heightmap %v: %w", e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Count returns the number of stored heightmaps.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM heightmaps`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count heightmaps: %w", err)
	}
	return n, nil
}
