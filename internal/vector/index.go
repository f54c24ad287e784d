// Package vector keeps a searchable embedding index of saved capsules in a
// local SQLite database. Vectors are stored JSON-encoded and similarity is
// computed in process; corpus sizes here are a personal archive, not a fleet.
package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/GriffinCanCode/insight-capsule/internal/errs"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Match is a search hit.
type Match struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	LogPath   string    `json:"log_path"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// Index is the capsule embedding store.
type Index struct {
	db       *sql.DB
	embedder Embedder
}

const schema = `
CREATE TABLE IF NOT EXISTS capsules (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	log_path   TEXT NOT NULL,
	embedding  TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_capsules_created ON capsules(created_at DESC);
`

// Open opens or creates the index database at path.
func Open(path string, embedder Embedder) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(err, errs.StorageFailed, "open vector index").
			WithMetadata("path", path)
	}
	// Single writer; the pipeline serializes sessions anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(err, errs.StorageFailed, "create vector schema")
	}

	return &Index{db: db, embedder: embedder}, nil
}

// Close closes the database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Add embeds text and stores the capsule entry.
func (ix *Index) Add(ctx context.Context, id, title, logPath, text string) error {
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return errs.Wrap(err, errs.StorageFailed, "embed capsule").WithMetadata("id", id)
	}
	if len(vec) == 0 {
		return errs.New(errs.StorageFailed, "embedder returned empty vector").WithMetadata("id", id)
	}

	encoded, err := json.Marshal(vec)
	if err != nil {
		return errs.Wrap(err, errs.Internal, "encode embedding")
	}

	_, err = ix.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO capsules (id, title, log_path, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, title, logPath, string(encoded), time.Now().UTC(),
	)
	if err != nil {
		return errs.Wrap(err, errs.StorageFailed, "insert capsule embedding").WithMetadata("id", id)
	}

	slog.Debug("capsule indexed", "id", id, "dims", len(vec))
	return nil
}

// Search embeds the query and returns the top limit capsules by cosine
// similarity, best first.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 5
	}

	queryVec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errs.Wrap(err, errs.StorageFailed, "embed search query")
	}

	rows, err := ix.db.QueryContext(ctx, `SELECT id, title, log_path, embedding, created_at FROM capsules`)
	if err != nil {
		return nil, errs.Wrap(err, errs.StorageFailed, "query vector index")
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var encoded string
		if err := rows.Scan(&m.ID, &m.Title, &m.LogPath, &encoded, &m.CreatedAt); err != nil {
			return nil, errs.Wrap(err, errs.StorageFailed, "scan capsule row")
		}

		var vec []float32
		if err := json.Unmarshal([]byte(encoded), &vec); err != nil {
			slog.Warn("skipping capsule with corrupt embedding", "id", m.ID, "error", err)
			continue
		}

		m.Score = cosine(queryVec, vec)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, errs.StorageFailed, "iterate vector index")
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Count returns the number of indexed capsules.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM capsules`).Scan(&n); err != nil {
		return 0, errs.Wrap(err, errs.StorageFailed, "count capsules")
	}
	return n, nil
}

// cosine computes cosine similarity. Mismatched dimensions score zero.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
