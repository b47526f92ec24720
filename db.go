package gaspard

import (
	"context"
	"database/sql"
	_ "embed"
	"sync"
	"time"

	"github.com/tailscale/squibble"
	_ "modernc.org/sqlite"
)

//go:embed db/latest_schema.sql
var dbSchema string

var schema = &squibble.Schema{
	Current: dbSchema,
}

// DB is an optional caption journal. The CLI records every generated
// caption here; the caption call path itself never reads it, it is
// bookkeeping and not a cache.
type DB struct {
	mu sync.Mutex
	db *sql.DB

	filepath string
}

// CaptionRecord is one journaled caption run.
type CaptionRecord struct {
	Id        int
	Path      string
	PathMTime time.Time
	Caption   string
	Model     string
	Captioner string
	CreatedAt time.Time
}

func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.db.Close()
}

func NewDB(ctx context.Context, fname string) (*DB, error) {
	// Open the DB but flip on the cleaner timestamps from Go
	sqldb, err := sql.Open("sqlite", fname+"?_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	if err := sqldb.PingContext(ctx); err != nil {
		return nil, err
	}
	if err := schema.Apply(ctx, sqldb); err != nil {
		return nil, err
	}

	return &DB{db: sqldb, filepath: fname}, nil
}

// RecordCaption inserts a new row into the captions table and fills in
// the record's Id.
func (db *DB) RecordCaption(ctx context.Context, rec *CaptionRecord) error {
	res, err := db.db.ExecContext(ctx, `
		INSERT INTO captions
		(image_path, image_mtime, caption, model, captioner, created_at)
		VALUES (?,?,?,?,?,?)`,
		rec.Path, rec.PathMTime, rec.Caption, rec.Model, rec.Captioner, rec.CreatedAt)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.Id = int(id)

	return nil
}

// CaptionsForPath returns the journaled captions for one image path,
// newest first.
func (db *DB) CaptionsForPath(ctx context.Context, path string) ([]*CaptionRecord, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, image_path, image_mtime, caption, model, captioner, created_at
		FROM captions
		WHERE image_path=?
		ORDER BY created_at DESC, id DESC`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCaptions(rows)
}

// RecentCaptions returns up to limit of the most recently journaled
// captions, newest first.
func (db *DB) RecentCaptions(ctx context.Context, limit int) ([]*CaptionRecord, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, image_path, image_mtime, caption, model, captioner, created_at
		FROM captions
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCaptions(rows)
}

func scanCaptions(rows *sql.Rows) ([]*CaptionRecord, error) {
	var recs []*CaptionRecord
	for rows.Next() {
		rec := &CaptionRecord{}

		var mtime sql.NullTime
		var model, cpt sql.NullString
		err := rows.Scan(&rec.Id, &rec.Path, &mtime, &rec.Caption, &model, &cpt, &rec.CreatedAt)
		if err != nil {
			return nil, err
		}
		if mtime.Valid {
			rec.PathMTime = mtime.Time
		}
		if model.Valid {
			rec.Model = model.String
		}
		if cpt.Valid {
			rec.Captioner = cpt.String
		}

		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return recs, nil
}
