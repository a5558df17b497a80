package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// SQLiteStore implements VectorStore backed by a local SQLite database.
// Chunks and their embeddings are persisted in a single table partitioned by
// the derived collection name; similarity search is brute-force cosine over
// the tenant's rows. It trades query speed for zero external services, which
// is the right trade for single-host deployments.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB

	// embedder converts chunk and query text into vectors.
	embedder Embedder
}

// NewSQLiteStore opens (or creates) the database at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func NewSQLiteStore(path string, embedder Embedder) (*SQLiteStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: sqlite store requires an embedder")
	}

	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("rag: sqlite open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, embedder: embedder}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist. The columns
// mirror the fixed field schema shared by all backends.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chunks (
    id          TEXT    PRIMARY KEY,
    collection  TEXT    NOT NULL,
    text        TEXT    NOT NULL,
    title       TEXT    NOT NULL DEFAULT '',
    type        TEXT    NOT NULL DEFAULT '',
    source      TEXT    NOT NULL,
    start_index INTEGER NOT NULL DEFAULT 0,
    modified    INTEGER NOT NULL DEFAULT 0,
    provider    TEXT    NOT NULL DEFAULT '',
    embedding   BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_collection_source
    ON chunks (collection, source);
CREATE INDEX IF NOT EXISTS idx_chunks_collection_provider
    ON chunks (collection, provider);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("rag: sqlite migrate: %w", err)
	}
	return nil
}

// EnsureCollection validates the tenant and returns the derived collection
// name. The schema is dynamic — rows are partitioned by the collection
// column — so there is nothing to create.
func (s *SQLiteStore) EnsureCollection(_ context.Context, tenant string) (string, error) {
	return CollectionName(tenant)
}

// metadataColumns maps the contract's metadata keys to table columns.
// Restricting the set keeps user input out of SQL identifiers.
var metadataColumns = map[string]string{
	"source":   "source",
	"title":    "title",
	"type":     "type",
	"provider": "provider",
}

// GetByMetadata returns entry ids and modified times grouped by metadata value.
func (s *SQLiteStore) GetByMetadata(ctx context.Context, tenant, key string, values []string) (map[string]MetadataHit, error) {
	name, err := s.EnsureCollection(ctx, tenant)
	if err != nil {
		return nil, err
	}
	col, ok := metadataColumns[key]
	if !ok {
		return nil, backendErr("get by metadata", fmt.Errorf("unknown metadata key %q", key))
	}
	if len(values) == 0 {
		return map[string]MetadataHit{}, nil
	}

	q := fmt.Sprintf(
		`SELECT id, %s, modified FROM chunks WHERE collection = ? AND %s IN (%s)`,
		col, col, placeholders(len(values)),
	)
	args := make([]any, 0, len(values)+1)
	args = append(args, name)
	for _, v := range values {
		args = append(args, v)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, backendErr("get by metadata", err)
	}
	defer rows.Close()

	out := make(map[string]MetadataHit)
	for rows.Next() {
		var id, val string
		var modified int64
		if err := rows.Scan(&id, &val, &modified); err != nil {
			return nil, backendErr("get by metadata scan", err)
		}
		hit := out[val]
		hit.IDs = append(hit.IDs, id)
		hit.Modified = modified
		out[val] = hit
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("get by metadata rows", err)
	}
	return out, nil
}

// DeleteByIDs removes entries by id. Empty input is a no-op success.
// SQLite reports exact affected-row counts, so there is no ambiguous result
// to trust or distrust here.
func (s *SQLiteStore) DeleteByIDs(ctx context.Context, tenant string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	name, err := s.EnsureCollection(ctx, tenant)
	if err != nil {
		return err
	}

	q := fmt.Sprintf(`DELETE FROM chunks WHERE collection = ? AND id IN (%s)`, placeholders(len(ids)))
	args := make([]any, 0, len(ids)+1)
	args = append(args, name)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return backendErr("delete by ids", err)
	}
	return nil
}

// DeleteByMetadata resolves ids for the given values and deletes them.
func (s *SQLiteStore) DeleteByMetadata(ctx context.Context, tenant, key string, values []string) error {
	return deleteByMetadata(ctx, s, tenant, key, values)
}

// AddChunks embeds and commits the chunks in one transaction, returning the
// assigned ids. The transaction covers the insert only — embedding happens
// before it — so a failed commit never leaves partial rows.
func (s *SQLiteStore) AddChunks(ctx context.Context, tenant string, chunks []Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	name, err := s.EnsureCollection(ctx, tenant)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, backendErr("embed", err)
	}
	if len(vectors) != len(chunks) {
		return nil, backendErr("embed", fmt.Errorf("expected %d vectors, got %d", len(chunks), len(vectors)))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, backendErr("add chunks", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const ins = `INSERT INTO chunks
	(id, collection, text, title, type, source, start_index, modified, provider, embedding)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	ids := make([]string, 0, len(chunks))
	for i, c := range chunks {
		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx, ins,
			id, name, c.Text, c.Title, c.MediaType, c.Source,
			c.StartOffset, c.Modified, c.Provider, encodeVector(vectors[i]),
		); err != nil {
			return nil, backendErr("add chunks", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, backendErr("add chunks commit", err)
	}
	return ids, nil
}

// Search embeds the query and scans the tenant's rows, ranking by cosine
// similarity. The optional filters narrow the scan server-side.
func (s *SQLiteStore) Search(ctx context.Context, tenant, query string, k int, filters []MetadataFilter) ([]SearchHit, error) {
	name, err := s.EnsureCollection(ctx, tenant)
	if err != nil {
		return nil, err
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, backendErr("embed query", err)
	}
	if len(vectors) != 1 {
		return nil, backendErr("embed query", fmt.Errorf("expected 1 vector, got %d", len(vectors)))
	}
	qv := vectors[0]

	where, args, err := s.filterClause(name, filters)
	if err != nil {
		return nil, err
	}

	q := `SELECT text, title, type, source, start_index, modified, provider, embedding
	FROM chunks WHERE ` + where

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, backendErr("search", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.Text, &c.Title, &c.MediaType, &c.Source, &c.StartOffset, &c.Modified, &c.Provider, &blob); err != nil {
			return nil, backendErr("search scan", err)
		}
		hits = append(hits, SearchHit{Chunk: c, Score: cosine(qv, decodeVector(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("search rows", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// filterClause builds the WHERE clause for Search. Filter construction with
// an unknown metadata key is a programmer error surfaced as a backend error
// up front, before any query runs.
func (s *SQLiteStore) filterClause(collection string, filters []MetadataFilter) (string, []any, error) {
	where := `collection = ?`
	args := []any{collection}

	if len(filters) == 0 {
		return where, args, nil
	}

	var ors []string
	for _, f := range filters {
		col, ok := metadataColumns[f.Key]
		if !ok {
			return "", nil, backendErr("search filter", fmt.Errorf("unknown metadata key %q", f.Key))
		}
		if len(f.Values) == 0 {
			continue
		}
		ors = append(ors, fmt.Sprintf("%s IN (%s)", col, placeholders(len(f.Values))))
		for _, v := range f.Values {
			args = append(args, v)
		}
	}
	if len(ors) == 0 {
		return "", nil, backendErr("search filter", fmt.Errorf("filter list resolved to no predicates"))
	}

	return where + ` AND (` + strings.Join(ors, ` OR `) + `)`, args, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("rag: sqlite close: %w", err)
	}
	return nil
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// encodeVector serialises a float32 vector as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserialises a vector written by encodeVector.
func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
