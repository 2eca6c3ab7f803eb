/*
Copyright 2024 The Waterflow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/modelengine/waterflow/pkg/shared/logging"
	"github.com/modelengine/waterflow/pkg/window"
)

const sqliteRepo = "sqlite"

// SQLiteRepo is a ContextRepo backed by SQLite through the modernc.org/sqlite driver.
type SQLiteRepo struct {
	db     *sql.DB
	log    *zap.SugaredLogger
	closed *atomic.Bool
}

var _ ContextRepo = (*SQLiteRepo)(nil)

// OpenSQLiteRepo opens the database at dsn and initializes the schema.
func OpenSQLiteRepo(ctx context.Context, dsn string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q, %w", dsn, err)
	}
	// sqlite has a single writer
	db.SetMaxOpenConns(1)
	r, err := NewSQLiteRepo(ctx, db)
	if err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return r, nil
}

// NewSQLiteRepo initializes the required schema in the given database and returns a new SQLiteRepo.
func NewSQLiteRepo(ctx context.Context, db *sql.DB) (*SQLiteRepo, error) {
	r := &SQLiteRepo{
		db:     db,
		log:    logging.FromContext(ctx).With("repo", sqliteRepo),
		closed: atomic.NewBool(false),
	}
	if err := r.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to init sqlite schema, %w", err)
	}
	return r, nil
}

func (r *SQLiteRepo) initSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS contexts (
			id TEXT PRIMARY KEY,
			idx INTEGER NOT NULL,
			payload BLOB,
			seq INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS contexts_idx ON contexts (idx);`)
	return err
}

func (r *SQLiteRepo) UpdateIndex(ctx context.Context, items []window.Indexable) error {
	start := time.Now()
	err := r.write(ctx, items, false)
	return observe(sqliteRepo, "update_index", start, err)
}

func (r *SQLiteRepo) Update(ctx context.Context, items []window.Indexable) error {
	start := time.Now()
	err := r.write(ctx, items, true)
	return observe(sqliteRepo, "update", start, err)
}

func (r *SQLiteRepo) write(ctx context.Context, items []window.Indexable, payload bool) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if len(items) == 0 {
		return nil
	}
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var seq int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM contexts`).Scan(&seq); err != nil {
			return err
		}
		now := time.Now().UnixNano()
		for _, item := range items {
			seq++
			if !payload {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO contexts (id, idx, seq, updated_at) VALUES (?, ?, ?, ?)
					ON CONFLICT(id) DO UPDATE SET idx = excluded.idx, seq = excluded.seq, updated_at = excluded.updated_at`,
					item.GetID(), item.GetIndex(), seq, now,
				); err != nil {
					return err
				}
				continue
			}
			b, err := encode(item)
			if err != nil {
				return fmt.Errorf("failed to encode context %s, %w", item.GetID(), err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO contexts (id, idx, payload, seq, updated_at) VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET idx = excluded.idx, payload = excluded.payload, seq = excluded.seq, updated_at = excluded.updated_at`,
				item.GetID(), item.GetIndex(), b, seq, now,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.log.Errorw("Failed to write contexts", zap.Int("count", len(items)), zap.Error(err))
		return fmt.Errorf("failed to write %d contexts, %w", len(items), err)
	}
	return nil
}

func (r *SQLiteRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return multierr.Append(err, tx.Rollback())
	}
	return tx.Commit()
}

func (r *SQLiteRepo) Get(ctx context.Context, id string) (*Record, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	row := r.db.QueryRowContext(ctx, `SELECT id, idx, payload, seq, updated_at FROM contexts WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get %s, %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s, %w", id, err)
	}
	return rec, nil
}

func (r *SQLiteRepo) Ordered(ctx context.Context) (records []*Record, err error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, idx, payload, seq, updated_at FROM contexts WHERE idx >= 0 ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ordered contexts, %w", err)
	}
	defer func() {
		err = multierr.Append(err, rows.Close())
	}()
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec       Record
		updatedAt int64
	)
	if err := s.Scan(&rec.ID, &rec.Index, &rec.Payload, &rec.Seq, &updatedAt); err != nil {
		return nil, err
	}
	rec.UpdatedAt = time.Unix(0, updatedAt)
	return &rec, nil
}

func (r *SQLiteRepo) IsHealthy(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepo) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.db.Close()
}
