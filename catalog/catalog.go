/*
Copyright © 2026 the geostack authors.
This file is part of geostack.

geostack is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

geostack is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with geostack.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package catalog keeps a SQLite record of saved stacks, so repeated
// runs over the same inputs can be compared.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Record describes one saved stack.
type Record struct {
	ID          int64
	CreatedAt   time.Time
	Destination string
	Format      string
	Dim         string
	Length      int
	Labels      []string
	Checksum    string
	Sources     []string
}

// Catalog is an open catalog database.
type Catalog struct {
	db   *sql.DB
	path string
}

var schema = []string{
	`PRAGMA busy_timeout=5000;`,
	`CREATE TABLE IF NOT EXISTS geostack_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  created_at_ns INTEGER NOT NULL,
  destination TEXT NOT NULL,
  format TEXT NOT NULL,
  dim TEXT NOT NULL,
  length INTEGER NOT NULL,
  labels_json TEXT NOT NULL,
  checksum TEXT NOT NULL,
  sources_json TEXT NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_geostack_runs_destination ON geostack_runs(destination, id DESC);`,
}

// Open opens the catalog at path, creating it if necessary.
func Open(ctx context.Context, path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("catalog: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "catalog: creating directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: opening database")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "catalog: initializing %s", path)
		}
	}
	return &Catalog{db: db, path: path}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Add stores r and returns it with its ID set. A zero CreatedAt is
// set to the current time.
func (c *Catalog) Add(ctx context.Context, r Record) (Record, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.Labels, r.Sources = nonNil(r.Labels), nonNil(r.Sources)
	labels, err := json.Marshal(r.Labels)
	if err != nil {
		return r, errors.Wrap(err, "catalog: encoding labels")
	}
	sources, err := json.Marshal(r.Sources)
	if err != nil {
		return r, errors.Wrap(err, "catalog: encoding sources")
	}
	res, err := c.db.ExecContext(ctx, `INSERT INTO geostack_runs
  (created_at_ns, destination, format, dim, length, labels_json, checksum, sources_json)
  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CreatedAt.UnixNano(), r.Destination, r.Format, r.Dim, r.Length, string(labels), r.Checksum, string(sources))
	if err != nil {
		return r, errors.Wrap(err, "catalog: adding record")
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return r, errors.Wrap(err, "catalog: adding record")
	}
	return r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

const columns = `id, created_at_ns, destination, format, dim, length, labels_json, checksum, sources_json`

// List returns all records, oldest first.
func (c *Catalog) List(ctx context.Context) ([]Record, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+columns+` FROM geostack_runs ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: listing records")
	}
	defer rows.Close()
	var o []Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		o = append(o, r)
	}
	return o, errors.Wrap(rows.Err(), "catalog: listing records")
}

// Latest returns the most recent record for destination. The boolean
// is false if there is none.
func (c *Catalog) Latest(ctx context.Context, destination string) (Record, bool, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+columns+` FROM geostack_runs
  WHERE destination = ? ORDER BY id DESC LIMIT 1`, destination)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scan(s scanner) (Record, error) {
	var (
		r                Record
		ns               int64
		labels, sources string
	)
	if err := s.Scan(&r.ID, &ns, &r.Destination, &r.Format, &r.Dim, &r.Length, &labels, &r.Checksum, &sources); err != nil {
		if err == sql.ErrNoRows {
			return r, err
		}
		return r, errors.Wrap(err, "catalog: reading record")
	}
	r.CreatedAt = time.Unix(0, ns).UTC()
	if err := json.Unmarshal([]byte(labels), &r.Labels); err != nil {
		return r, errors.Wrapf(err, "catalog: decoding labels of record %d", r.ID)
	}
	if err := json.Unmarshal([]byte(sources), &r.Sources); err != nil {
		return r, errors.Wrapf(err, "catalog: decoding sources of record %d", r.ID)
	}
	return r, nil
}
