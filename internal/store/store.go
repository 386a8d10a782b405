// Package store implements the persistent inverted index: documents, terms
// and the postings relating them, kept in a single SQLite database per
// indexed root.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/termfreq"
)

// Store is the SQLite-backed document store and inverted index.
//
// A read-write Store expects a single writer; the connection pool is
// limited to one connection, so concurrent calls serialize. Upsert is
// transactional, so readers on another handle never see a torn write.
type Store struct {
	mu       sync.RWMutex
	db       *sql.DB
	path     string
	readOnly bool
	closed   bool

	docCount atomic.Int64

	// freqCache holds decoded term-frequency maps keyed by url.
	freqCache *lru.Cache[string, cachedFrequencies]
}

type cachedFrequencies struct {
	contentHash string
	freqs       termfreq.Frequencies
}

// PathFor returns the index database path for an indexed root.
func PathFor(root, dbName string) string {
	if dbName == "" {
		dbName = DefaultDBName
	}
	return filepath.Join(root, dbName)
}

// validateIntegrity checks an existing database before opening it.
// Returns nil if the file is absent or healthy.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Open opens or creates the index database at path. An empty path or
// ":memory:" opens a private in-memory index.
//
// Failures are reported as StorageUnavailable. A corrupted database is
// cleared and recreated when CreateIfMissing is set; otherwise it is
// reported as ErrCodeCorruptIndex.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	inMemory := path == "" || path == ":memory:"

	var dsn string
	if inMemory {
		if opts.ReadOnly {
			return nil, ferrors.StorageUnavailable(":memory:", errors.New("in-memory index cannot be opened read-only"))
		}
		dsn = ":memory:"
	} else {
		if err := prepareFile(path, opts); err != nil {
			return nil, err
		}
		dsn = path
		if opts.ReadOnly {
			dsn = "file:" + path + "?mode=ro"
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ferrors.StorageUnavailable(path, err)
	}

	// Single connection: one writer, and pragmas stay applied.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -65536",
	}
	if !opts.ReadOnly && !inMemory {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
		)
	}
	if opts.ReadOnly {
		pragmas = append(pragmas, "PRAGMA query_only = ON")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, ferrors.StorageUnavailable(path, fmt.Errorf("set pragma %q: %w", pragma, err))
		}
	}

	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, cachedFrequencies](cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, ferrors.InternalError("create term frequency cache", err)
	}

	s := &Store{
		db:        db,
		path:      path,
		readOnly:  opts.ReadOnly,
		freqCache: cache,
	}

	if opts.ReadOnly {
		err = s.checkSchemaVersion(ctx)
	} else {
		err = s.initSchema(ctx)
	}
	if err != nil {
		_ = db.Close()
		return nil, ferrors.StorageUnavailable(path, err)
	}

	count, err := s.countDocuments(ctx)
	if err != nil {
		_ = db.Close()
		return nil, ferrors.StorageUnavailable(path, err)
	}
	s.docCount.Store(int64(count))

	slog.Debug("index_store_opened",
		slog.String("path", path),
		slog.Bool("read_only", opts.ReadOnly),
		slog.Int("documents", count))

	return s, nil
}

// prepareFile validates the on-disk location before sql.Open, which would
// otherwise create files lazily.
func prepareFile(path string, opts Options) error {
	_, statErr := os.Stat(path)
	exists := statErr == nil
	if statErr != nil && !os.IsNotExist(statErr) {
		return ferrors.StorageUnavailable(path, statErr)
	}

	if !exists {
		if !opts.CreateIfMissing || opts.ReadOnly {
			return ferrors.StorageUnavailable(path, fmt.Errorf("index does not exist: %w", os.ErrNotExist)).
				WithSuggestion("run 'fusearch index' on the directory first")
		}
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ferrors.StorageUnavailable(path, fmt.Errorf("create directory %s: %w", dir, err))
		}
		return nil
	}

	validErr := validateIntegrity(path)
	if validErr == nil {
		return nil
	}
	if !opts.CreateIfMissing || opts.ReadOnly {
		return ferrors.New(ferrors.ErrCodeCorruptIndex, "index database is corrupted", validErr).
			WithDetail("path", path).
			WithSuggestion("re-run 'fusearch index' to rebuild it")
	}

	slog.Warn("index_store_corrupted",
		slog.String("path", path),
		slog.String("error", validErr.Error()))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ferrors.StorageUnavailable(path, fmt.Errorf("remove corrupted index: %w (original error: %v)", err, validErr))
	}
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")
	slog.Info("index_store_cleared",
		slog.String("path", path),
		slog.String("reason", "corruption detected, files will be re-indexed"))
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS documents (
	id               INTEGER PRIMARY KEY,
	url              TEXT    NOT NULL UNIQUE,
	filename         TEXT    NOT NULL,
	content          TEXT    NOT NULL,
	content_hash     TEXT    NOT NULL,
	mtime            INTEGER NOT NULL,
	term_frequencies TEXT    NOT NULL,
	distinct_terms   INTEGER NOT NULL,
	indexed_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS terms (
	id                  INTEGER PRIMARY KEY,
	term                TEXT    NOT NULL UNIQUE,
	aggregate_frequency INTEGER NOT NULL CHECK (aggregate_frequency >= 0)
);

CREATE TABLE IF NOT EXISTS postings (
	term_id     INTEGER NOT NULL REFERENCES terms(id),
	document_id INTEGER NOT NULL REFERENCES documents(id),
	count       INTEGER NOT NULL CHECK (count > 0),
	PRIMARY KEY (term_id, document_id)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_postings_document ON postings(document_id);
`

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if err := s.checkSchemaVersion(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, currentSchemaVersion)
	return err
}

func (s *Store) checkSchemaVersion(ctx context.Context) error {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version.Valid && version.Int64 > currentSchemaVersion {
		return fmt.Errorf("index schema version %d is newer than supported version %d",
			version.Int64, currentSchemaVersion)
	}
	return nil
}

func (s *Store) countDocuments(ctx context.Context) (int, error) {
	return countDocuments(ctx, s.db)
}

func countDocuments(ctx context.Context, q queryer) (int, error) {
	var count int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// Path returns the database path ("" or ":memory:" for in-memory stores).
func (s *Store) Path() string {
	return s.path
}

// DocumentCount returns the number of stored documents.
func (s *Store) DocumentCount() int {
	return int(s.docCount.Load())
}

// Refresh recounts the stored documents, so writes made through another
// handle are reflected in DocumentCount. Scoring uses Snapshot instead.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errStoreClosed
	}
	count, err := s.countDocuments(ctx)
	if err != nil {
		return ferrors.StorageUnavailable(s.path, err)
	}
	s.docCount.Store(int64(count))
	return nil
}

// Stats returns index statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errStoreClosed
	}

	stats := &Stats{Path: s.path}
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM terms),
			(SELECT COUNT(*) FROM postings),
			(SELECT COALESCE(MAX(indexed_at), 0) FROM documents)
	`)
	var lastIndexed int64
	if err := row.Scan(&stats.Documents, &stats.Terms, &stats.Postings, &lastIndexed); err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	if lastIndexed > 0 {
		stats.LastIndexed = time.Unix(lastIndexed, 0)
	}

	if s.path != "" && s.path != ":memory:" {
		if info, err := os.Stat(s.path); err == nil {
			stats.SizeBytes = info.Size()
		}
		if info, err := os.Stat(s.path + "-wal"); err == nil {
			stats.SizeBytes += info.Size()
		}
	}
	return stats, nil
}

// Checkpoint flushes the WAL into the main database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed
	}
	if s.readOnly {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close checkpoints and closes the database. It is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if !s.readOnly {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

var errStoreClosed = errors.New("index store is closed")

// HashContent returns the content digest stored with each document.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
