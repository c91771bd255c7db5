package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"quakepush/pkg/geohash"
	logx "quakepush/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const totalKey = "total"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Repository, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert runs as a sequence of single-statement writes rather than one
// transaction; see the package comment.
func (s *sqliteStore) Upsert(ctx context.Context, sub Subscription) error {
	cell := geohash.Encode(sub.Latitude, sub.Longitude)

	_, err := s.Get(ctx, sub.ID)
	isNew := errors.Is(err, ErrNotFound)
	if err != nil && !isNew {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(id, latitude, longitude, min_intensity, created_at, cell)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   latitude=excluded.latitude,
		   longitude=excluded.longitude,
		   min_intensity=excluded.min_intensity,
		   cell=excluded.cell`,
		sub.ID, sub.Latitude, sub.Longitude, sub.MinIntensity, sub.CreatedAt, cell,
	)
	if err != nil {
		return err
	}

	if isNew {
		if err := s.adjustTotal(ctx, 1); err != nil {
			return err
		}
		s.log.Info("subscription created", logx.String("id", sub.ID), logx.String("cell", cell))
	} else {
		s.log.Info("subscription updated", logx.String("id", sub.ID), logx.String("cell", cell))
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return s.adjustTotal(ctx, -1)
}

func (s *sqliteStore) Get(ctx context.Context, id string) (Subscription, error) {
	var sub Subscription
	err := s.db.QueryRowContext(ctx,
		`SELECT id, latitude, longitude, min_intensity, created_at
		 FROM subscriptions WHERE id = ?`, id,
	).Scan(&sub.ID, &sub.Latitude, &sub.Longitude, &sub.MinIntensity, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

func (s *sqliteStore) GetByCells(ctx context.Context, cells []string) ([]Subscription, error) {
	if len(cells) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(cells))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(cells))
	for i, c := range cells {
		args[i] = c
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, latitude, longitude, min_intensity, created_at
		 FROM subscriptions WHERE cell IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.Latitude, &sub.Longitude, &sub.MinIntensity, &sub.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM stats WHERE key = ?`, totalKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

// adjustTotal keeps the reporting counter; it saturates at zero and is not
// authoritative for index correctness.
func (s *sqliteStore) adjustTotal(ctx context.Context, delta int) error {
	cur, err := s.Count(ctx)
	if err != nil {
		return err
	}
	next := cur + delta
	if next < 0 {
		next = 0
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stats(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		totalKey, next,
	)
	return err
}
