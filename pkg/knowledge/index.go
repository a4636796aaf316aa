package knowledge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/harun/concierge/internal/observability"
	"github.com/harun/concierge/internal/tracing"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "concierge.knowledge"

func init() {
	sqlite_vec.Auto()
}

// Config holds index configuration.
type Config struct {
	// Path is a knowledge file or a directory of .md/.json/.txt sources.
	Path string
	// DBPath is the SQLite database file.
	DBPath string
	// Embedder enables vector search when set.
	Embedder      Embedder
	Limit         int
	VectorWeight  float64
	KeywordWeight float64
	MinScore      float64
	// Watch re-syncs on the next retrieval after source files change.
	Watch  bool
	Logger zerolog.Logger
}

// Result is a scored passage.
type Result struct {
	Passage
	Score        float64  `json:"score"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
	KeywordScore *float64 `json:"keyword_score,omitempty"`
}

// Status describes the index contents.
type Status struct {
	Files    int        `json:"files"`
	Passages int        `json:"passages"`
	Dirty    bool       `json:"dirty"`
	FTS      bool       `json:"fts"`
	Vectors  bool       `json:"vectors"`
	LastSync *time.Time `json:"last_sync,omitempty"`
}

// SyncStats reports what a Sync changed.
type SyncStats struct {
	Indexed  int `json:"indexed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Pruned   int `json:"pruned"`
	Passages int `json:"passages"`
}

// Index is a SQLite-backed Retriever over a knowledge path.
type Index struct {
	db      *sql.DB
	cfg     Config
	logger  zerolog.Logger
	fts     bool
	vectors bool
	watcher *Watcher

	syncMu   sync.Mutex
	mu       sync.RWMutex
	dirty    bool
	closed   bool
	lastSync *time.Time
}

// Open opens (or creates) the index database. The first retrieval syncs it.
func Open(cfg Config) (*Index, error) {
	observability.EnsureRegistered()

	if cfg.Path == "" {
		return nil, errors.New("knowledge path is required")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.VectorWeight == 0 && cfg.KeywordWeight == 0 {
		cfg.VectorWeight, cfg.KeywordWeight = 0.7, 0.3
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("knowledge path: %w", err)
	}
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_fts5=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	ix := &Index{
		db:     db,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "knowledge").Logger(),
		dirty:  true,
	}
	if err := ix.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.Watch {
		watcher, err := NewWatcher(ix.logger, 0, ix.MarkDirty)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		if err := watcher.Watch(cfg.Path); err != nil {
			watcher.Stop()
			db.Close()
			return nil, fmt.Errorf("failed to watch knowledge path: %w", err)
		}
		ix.watcher = watcher
	}

	ix.logger.Info().
		Str("path", cfg.Path).
		Bool("fts", ix.fts).
		Bool("vectors", ix.vectors).
		Msg("Knowledge index opened")
	return ix, nil
}

func (ix *Index) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL UNIQUE,
			content_hash TEXT NOT NULL,
			indexed_at INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			file_id INTEGER NOT NULL,
			source_ref TEXT NOT NULL,
			content TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);

		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			dimension INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
	`
	if _, err := ix.db.Exec(schema); err != nil {
		return err
	}

	_, err := ix.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			chunk_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);
	`)
	switch {
	case err == nil:
		ix.fts = true
	case strings.Contains(err.Error(), "no such module"):
		ix.logger.Warn().Err(err).Msg("FTS5 unavailable, falling back to keyword scan")
	default:
		return err
	}

	if ix.cfg.Embedder != nil {
		_, err := ix.db.Exec(fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(
				chunk_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, ix.cfg.Embedder.Dimension()))
		if err != nil {
			ix.logger.Warn().Err(err).Msg("Vector table unavailable, using keyword search only")
		} else {
			ix.vectors = true
		}
	}
	return nil
}

type sourceFile struct {
	full string
	rel  string
}

// listSources returns the knowledge files under path in lexical order.
func listSources(path string) ([]sourceFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []sourceFile{{full: path, rel: filepath.Base(path)}}, nil
	}

	var files []sourceFile
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isSourceFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		files = append(files, sourceFile{full: p, rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

// Sync brings the index up to date with the knowledge path. Unchanged files
// are skipped by content hash and removed files are pruned. Files that fail
// to parse are logged and keep their previous entries.
func (ix *Index) Sync(ctx context.Context) (SyncStats, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "knowledge.sync")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, ix.logger)

	ix.syncMu.Lock()
	defer ix.syncMu.Unlock()

	if ix.isClosed() {
		return SyncStats{}, ErrIndexClosed
	}

	start := time.Now()
	var stats SyncStats

	files, err := listSources(ix.cfg.Path)
	if err != nil {
		tracing.Fail(span, err)
		return stats, fmt.Errorf("failed to list knowledge sources: %w", err)
	}

	existing := make([]string, 0, len(files))
	for _, f := range files {
		existing = append(existing, f.rel)
		indexed, err := ix.indexFile(ctx, f)
		switch {
		case err != nil:
			stats.Failed++
			span.RecordError(err)
			logger.Warn().Err(err).Str("file", f.rel).Msg("Failed to index knowledge file")
		case indexed:
			stats.Indexed++
		default:
			stats.Skipped++
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
	}

	pruned, err := ix.pruneDeleted(ctx, existing)
	if err != nil {
		span.RecordError(err)
		logger.Warn().Err(err).Msg("Failed to prune deleted knowledge files")
	}
	stats.Pruned = pruned

	now := time.Now()
	ix.mu.Lock()
	ix.dirty = false
	ix.lastSync = &now
	ix.mu.Unlock()

	status := ix.Status()
	stats.Passages = status.Passages
	observability.SetKnowledgePassages(status.Passages)
	span.SetAttributes(attribute.Int("passages", stats.Passages))

	logger.Info().
		Int("files_indexed", stats.Indexed).
		Int("files_skipped", stats.Skipped).
		Int("files_failed", stats.Failed).
		Int("files_pruned", stats.Pruned).
		Int("passages", stats.Passages).
		Dur("duration", time.Since(start)).
		Msg("Knowledge sync completed")

	return stats, nil
}

func (ix *Index) indexFile(ctx context.Context, f sourceFile) (bool, error) {
	content, err := os.ReadFile(f.full)
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(content)
	contentHash := hex.EncodeToString(sum[:])

	var existingHash string
	err = ix.db.QueryRowContext(ctx, "SELECT content_hash FROM files WHERE path = ?", f.rel).Scan(&existingHash)
	if err == nil && existingHash == contentHash {
		return false, nil
	}

	passages, err := ParseSource(f.rel, content)
	if err != nil {
		return false, err
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if err := ix.deleteFileTx(ctx, tx, f.rel); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO files (path, content_hash, indexed_at, size_bytes) VALUES (?, ?, ?, ?)",
		f.rel, contentHash, time.Now().Unix(), len(content),
	)
	if err != nil {
		return false, err
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return false, err
	}

	ids := make([]string, len(passages))
	for i, p := range passages {
		ids[i] = fmt.Sprintf("%s:%d", f.rel, i)
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO chunks (id, file_id, source_ref, content) VALUES (?, ?, ?, ?)",
			ids[i], fileID, p.SourceRef, p.Text,
		); err != nil {
			return false, err
		}
		if ix.fts {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO chunks_fts (chunk_id, content) VALUES (?, ?)", ids[i], p.Text,
			); err != nil {
				return false, err
			}
		}
	}

	if ix.vectors && len(passages) > 0 {
		if err := ix.storeEmbeddings(ctx, tx, ids, passages); err != nil {
			ix.logger.Warn().Err(err).Str("file", f.rel).Msg("Failed to store embeddings")
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// storeEmbeddings writes one vector per passage, reusing cached vectors for
// content seen before and embedding the rest in a single batch.
func (ix *Index) storeEmbeddings(ctx context.Context, tx *sql.Tx, ids []string, passages []Passage) error {
	vectors := make([][]float32, len(passages))
	hashes := make([]string, len(passages))
	var missing []int

	for i, p := range passages {
		sum := sha256.Sum256([]byte(p.Text))
		hashes[i] = hex.EncodeToString(sum[:])

		var cached []byte
		err := tx.QueryRowContext(ctx, "SELECT embedding FROM embedding_cache WHERE content_hash = ?", hashes[i]).Scan(&cached)
		if err == nil {
			if err := json.Unmarshal(cached, &vectors[i]); err == nil {
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = passages[i].Text
		}
		embedded, err := ix.cfg.Embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(embedded) != len(missing) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(embedded), len(missing))
		}
		for j, i := range missing {
			vectors[i] = embedded[j]
			data, err := json.Marshal(embedded[j])
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO embedding_cache (content_hash, embedding, dimension, created_at) VALUES (?, ?, ?, ?)",
				hashes[i], data, len(embedded[j]), time.Now().Unix(),
			); err != nil {
				return fmt.Errorf("failed to cache embedding: %w", err)
			}
		}
	}

	for i, vec := range vectors {
		data, err := json.Marshal(vec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO embeddings (chunk_id, embedding) VALUES (?, ?)", ids[i], string(data),
		); err != nil {
			return fmt.Errorf("failed to store embedding: %w", err)
		}
	}
	return nil
}

func (ix *Index) deleteFileTx(ctx context.Context, tx *sql.Tx, rel string) error {
	rows, err := tx.QueryContext(ctx,
		"SELECT c.id FROM chunks c JOIN files f ON c.file_id = f.id WHERE f.path = ?", rel)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if ix.fts {
			if _, err := tx.ExecContext(ctx, "DELETE FROM chunks_fts WHERE chunk_id = ?", id); err != nil {
				return err
			}
		}
		if ix.vectors {
			if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE chunk_id = ?", id); err != nil {
				return err
			}
		}
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE file_id IN (SELECT id FROM files WHERE path = ?)", rel); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "DELETE FROM files WHERE path = ?", rel)
	return err
}

func (ix *Index) pruneDeleted(ctx context.Context, existing []string) (int, error) {
	keep := make(map[string]bool, len(existing))
	for _, p := range existing {
		keep[p] = true
	}

	rows, err := ix.db.QueryContext(ctx, "SELECT path FROM files")
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return 0, err
		}
		if !keep[path] {
			stale = append(stale, path)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for _, path := range stale {
		if err := ix.deleteFileTx(ctx, tx, path); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Retrieve implements Retriever, syncing first when sources changed.
func (ix *Index) Retrieve(ctx context.Context, query string) (Passages, error) {
	results, err := ix.Search(ctx, query, ix.cfg.Limit)
	if err != nil {
		return nil, err
	}
	passages := make([]Passage, len(results))
	for i, r := range results {
		passages[i] = r.Passage
	}
	return FromSlice(passages), nil
}

// Search returns up to limit passages ranked by hybrid score.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "knowledge.search",
		attribute.String("query", query),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, ix.logger)

	if ix.isClosed() {
		return nil, ErrIndexClosed
	}
	if limit <= 0 {
		limit = ix.cfg.Limit
	}

	ix.mu.RLock()
	dirty := ix.dirty
	ix.mu.RUnlock()
	if dirty {
		if _, err := ix.Sync(ctx); err != nil {
			if errors.Is(err, ErrIndexClosed) {
				return nil, err
			}
			logger.Warn().Err(err).Msg("Sync failed before search")
		}
	}

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	keywordResults, keywordErr := ix.keywordSearch(ctx, query, 200)
	var vectorResults []scoredChunk
	var vectorErr error
	if ix.vectors {
		vectorResults, vectorErr = ix.vectorSearch(ctx, query, 200)
	}

	if keywordErr != nil {
		logger.Warn().Err(keywordErr).Msg("Keyword search failed")
	}
	if vectorErr != nil {
		logger.Warn().Err(vectorErr).Msg("Vector search failed")
	}
	if keywordErr != nil && (!ix.vectors || vectorErr != nil) {
		tracing.Fail(span, keywordErr)
		return nil, fmt.Errorf("knowledge search failed: %w", keywordErr)
	}

	results, err := ix.merge(ctx, vectorResults, keywordResults)
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}
	if len(results) > limit {
		results = results[:limit]
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

type scoredChunk struct {
	id    string
	score float64
}

func (ix *Index) keywordSearch(ctx context.Context, query string, limit int) ([]scoredChunk, error) {
	if !ix.fts {
		return ix.scanSearch(ctx, query, limit)
	}

	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := ix.db.QueryContext(ctx, `
		SELECT chunk_id, bm25(chunks_fts) AS score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []scoredChunk
	for rows.Next() {
		var sc scoredChunk
		if err := rows.Scan(&sc.id, &sc.score); err != nil {
			return nil, err
		}
		// bm25 is lower-is-better.
		sc.score = -sc.score
		results = append(results, sc)
	}
	return results, rows.Err()
}

// scanSearch scores every chunk by keyword overlap when FTS5 is missing.
func (ix *Index) scanSearch(ctx context.Context, query string, limit int) ([]scoredChunk, error) {
	terms := keywords(query)
	if len(terms) == 0 {
		return nil, nil
	}
	rows, err := ix.db.QueryContext(ctx, "SELECT id, content FROM chunks")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []scoredChunk
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, err
		}
		counts := termCounts(content)
		var score float64
		for _, t := range terms {
			if n := counts[t]; n > 0 {
				score += 1 + float64(n)/100
			}
		}
		if score > 0 {
			results = append(results, scoredChunk{id: id, score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (ix *Index) vectorSearch(ctx context.Context, query string, limit int) ([]scoredChunk, error) {
	vecs, err := ix.cfg.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 query", len(vecs))
	}
	data, err := json.Marshal(vecs[0])
	if err != nil {
		return nil, err
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT chunk_id, vec_distance_cosine(embedding, ?) AS distance
		FROM embeddings
		ORDER BY distance ASC
		LIMIT ?
	`, string(data), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []scoredChunk
	for rows.Next() {
		var sc scoredChunk
		var distance float64
		if err := rows.Scan(&sc.id, &distance); err != nil {
			return nil, err
		}
		sc.score = 1 - distance
		results = append(results, sc)
	}
	return results, rows.Err()
}

// merge combines normalized vector and keyword scores with the configured
// weights. Without vectors the keyword score is used as is.
func (ix *Index) merge(ctx context.Context, vector, keyword []scoredChunk) ([]Result, error) {
	vectorMap := make(map[string]float64, len(vector))
	keywordMap := make(map[string]float64, len(keyword))
	var maxKeyword float64
	var order []string

	for _, r := range keyword {
		if _, seen := keywordMap[r.id]; !seen {
			order = append(order, r.id)
		}
		keywordMap[r.id] = r.score
		if r.score > maxKeyword {
			maxKeyword = r.score
		}
	}
	for _, r := range vector {
		if _, seen := keywordMap[r.id]; !seen {
			if _, seen := vectorMap[r.id]; !seen {
				order = append(order, r.id)
			}
		}
		vectorMap[r.id] = r.score
	}

	vectorWeight, keywordWeight := ix.cfg.VectorWeight, ix.cfg.KeywordWeight
	if !ix.vectors {
		vectorWeight, keywordWeight = 0, 1
	}

	results := make([]Result, 0, len(order))
	for _, id := range order {
		var r Result
		var nv, nk float64
		if v, ok := vectorMap[id]; ok {
			// cosine similarity [-1, 1] to [0, 1]
			nv = (v + 1) / 2
			r.VectorScore = &nv
		}
		if k, ok := keywordMap[id]; ok {
			if maxKeyword > 0 {
				nk = k / maxKeyword
			}
			r.KeywordScore = &nk
		}
		r.Score = nv*vectorWeight + nk*keywordWeight
		if ix.cfg.MinScore > 0 && r.Score < ix.cfg.MinScore {
			continue
		}

		err := ix.db.QueryRowContext(ctx,
			"SELECT content, source_ref FROM chunks WHERE id = ?", id,
		).Scan(&r.Text, &r.SourceRef)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// Status returns current index counters.
func (ix *Index) Status() Status {
	ix.mu.RLock()
	st := Status{
		Dirty:    ix.dirty,
		FTS:      ix.fts,
		Vectors:  ix.vectors,
		LastSync: ix.lastSync,
	}
	closed := ix.closed
	ix.mu.RUnlock()

	if closed {
		return st
	}
	_ = ix.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&st.Files)
	_ = ix.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&st.Passages)
	return st
}

// MarkDirty schedules a sync before the next search.
func (ix *Index) MarkDirty() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.dirty = true
}

func (ix *Index) isClosed() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.closed
}

// Close stops the watcher and closes the database.
func (ix *Index) Close() error {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return nil
	}
	ix.closed = true
	ix.mu.Unlock()

	if ix.watcher != nil {
		ix.watcher.Stop()
	}

	// Wait for an in-flight sync.
	ix.syncMu.Lock()
	defer ix.syncMu.Unlock()

	ix.logger.Info().Msg("Closing knowledge index")
	return ix.db.Close()
}
