// Package sqlite keeps a category index in a single SQLite file. Vectors are
// stored as float32 blobs and searched by brute force, which is plenty for a
// few thousand chunks per category.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	// Register modernc SQLite driver with database/sql.
	_ "modernc.org/sqlite"

	"rag/internal/domain"
	"rag/internal/vectorstore"
)

// FileName is the database file created inside a partition directory.
const FileName = "index.db"

const (
	metaDimension = "dimension"
	metaEmbedder  = "embedder"
	metaPersisted = "persisted_at"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	id        TEXT NOT NULL UNIQUE,
	source    TEXT NOT NULL,
	category  TEXT NOT NULL,
	position  INTEGER NOT NULL,
	page      INTEGER NOT NULL,
	text      TEXT NOT NULL,
	embedding BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// Storage is a vectorstore.Storage backed by one SQLite database.
type Storage struct {
	db   *sql.DB
	path string

	mu        sync.RWMutex
	dimension int
}

// Open opens or creates the database at path and loads its dimension.
func Open(ctx context.Context, path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create index directory: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	s := &Storage{db: db, path: path}
	dim, err := s.meta(ctx, metaDimension)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if dim != "" {
		if s.dimension, err = strconv.Atoi(dim); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: corrupt dimension %q: %w", dim, err)
		}
	}
	return s, nil
}

// Path returns the database file path.
func (s *Storage) Path() string { return s.path }

// Dimension returns the vector dimension, or 0 before Init.
func (s *Storage) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM meta`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES (?, ?)`, metaDimension, strconv.Itoa(dimension))
		return err
	})
	if err != nil {
		return fmt.Errorf("sqlite: init: %w", err)
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		return vectorstore.ErrNotInitialized
	}
	if err := vectorstore.CheckBatch(chunks, vectors, s.dimension); err != nil {
		return err
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks(id, source, category, position, page, text, embedding)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	source = excluded.source,
	category = excluded.category,
	position = excluded.position,
	page = excluded.page,
	text = excluded.text,
	embedding = excluded.embedding`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, c := range chunks {
			if _, err := stmt.ExecContext(ctx, c.ID, c.Source, c.Category.Key(), c.Position, c.Page, c.Text, encodeVector(vectors[i])); err != nil {
				return fmt.Errorf("chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlite: upsert: %w", err)
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, source, category, position, page, text, embedding FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer rows.Close()
	var results []domain.SearchResult
	for rows.Next() {
		var (
			c    domain.Chunk
			cat  string
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.Source, &cat, &c.Position, &c.Page, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("sqlite: scan chunk: %w", err)
		}
		if c.Category, err = domain.CategoryFromKey(cat); err != nil {
			return nil, fmt.Errorf("sqlite: chunk %s: %w", c.ID, err)
		}
		v, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("sqlite: chunk %s: %w", c.ID, err)
		}
		if len(v) != len(vector) {
			return nil, fmt.Errorf("%w: query has %d, index has %d", vectorstore.ErrDimensionMismatch, len(vector), len(v))
		}
		results = append(results, domain.SearchResult{Chunk: c, Score: vectorstore.Cosine(v, vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	return vectorstore.TopK(results, k), nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

func (s *Storage) Persisted(ctx context.Context) (bool, error) {
	v, err := s.meta(ctx, metaPersisted)
	return v != "", err
}

func (s *Storage) MarkPersisted(ctx context.Context) error {
	return s.setMeta(ctx, metaPersisted, time.Now().UTC().Format(time.RFC3339))
}

// SetEmbedder records the name of the embedder that produced the vectors.
func (s *Storage) SetEmbedder(ctx context.Context, name string) error {
	return s.setMeta(ctx, metaEmbedder, name)
}

// Embedder returns the recorded embedder name, or "" when none was recorded.
func (s *Storage) Embedder(ctx context.Context) (string, error) {
	return s.meta(ctx, metaEmbedder)
}

func (s *Storage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM meta`)
		return err
	})
	if err != nil {
		return fmt.Errorf("sqlite: clear: %w", err)
	}
	s.dimension = 0
	return nil
}

func (s *Storage) Close() error { return s.db.Close() }

func (s *Storage) meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: read meta %s: %w", key, err)
	}
	return v, nil
}

func (s *Storage) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("sqlite: write meta %s: %w", key, err)
	}
	return nil
}

func (s *Storage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
