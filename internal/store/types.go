package store

import (
	"time"

	"github.com/larroy/fusearch/internal/termfreq"
)

// DefaultDBName is the index file created inside each indexed root.
const DefaultDBName = ".fusearch.db"

// DefaultCacheSize is the number of decoded term-frequency maps kept in memory.
const DefaultCacheSize = 4096

// currentSchemaVersion is bumped whenever the table layout changes.
const currentSchemaVersion = 1

// Options configures how a Store is opened.
type Options struct {
	// CreateIfMissing creates the database (and parent directory) when absent.
	CreateIfMissing bool

	// ReadOnly opens the database without write access. A read-only handle
	// may be held by a searcher while an indexer writes through another.
	ReadOnly bool

	// CacheSize bounds the decoded term-frequency cache (0 = DefaultCacheSize).
	CacheSize int
}

// Document is the unit written by Upsert.
type Document struct {
	URL      string
	Filename string
	Content  string

	// ContentHash is computed from Content when empty.
	ContentHash string

	// Mtime is the file modification time in seconds since the epoch.
	Mtime int64

	// TermFrequencies must be the encoder's output for Content.
	TermFrequencies termfreq.Frequencies
}

// DocumentView is a read-only snapshot of a stored document.
type DocumentView struct {
	URL             string
	Filename        string
	Content         string
	ContentHash     string
	Mtime           int64
	TermFrequencies termfreq.Frequencies
	DistinctTerms   int
	IndexedAt       time.Time
}

// TermStats describes one term and the documents containing it.
type TermStats struct {
	Term string

	// AggregateFrequency is the total number of occurrences of the term
	// across all documents.
	AggregateFrequency int

	// Postings lists the urls of documents containing the term, sorted.
	Postings []string
}

// DocumentFrequency is the number of documents containing the term.
func (t TermStats) DocumentFrequency() int {
	return len(t.Postings)
}

// UpsertResult reports how Upsert applied a document.
type UpsertResult int

const (
	// UpsertInserted means the url was not indexed before.
	UpsertInserted UpsertResult = iota
	// UpsertReplaced means a previous version was retracted and replaced.
	UpsertReplaced
	// UpsertUnchanged means content and terms matched; only mtime moved.
	UpsertUnchanged
)

// String returns a short label for logs.
func (r UpsertResult) String() string {
	switch r {
	case UpsertInserted:
		return "inserted"
	case UpsertReplaced:
		return "replaced"
	case UpsertUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Stats summarizes the index contents.
type Stats struct {
	Path      string
	Documents int
	Terms     int
	Postings  int
	SizeBytes int64

	// LastIndexed is the most recent document write, zero for an empty index.
	LastIndexed time.Time
}
