package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/termfreq"
)

// maxQueryParams bounds IN (...) lists; SQLite limits bound parameters.
const maxQueryParams = 500

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MtimeOf returns the last indexed mtime of url. The boolean is false when
// url has never been indexed. Only the mtime column is read.
func (s *Store) MtimeOf(ctx context.Context, url string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, false, errStoreClosed
	}

	var mtime int64
	err := s.db.QueryRowContext(ctx, `SELECT mtime FROM documents WHERE url = ?`, url).Scan(&mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query mtime of %s: %w", url, err)
	}
	return mtime, true, nil
}

// Lookup returns a snapshot of the document stored under url. The boolean
// is false when url is not indexed. A stored term-frequency map that cannot
// be decoded yields a MalformedStoredRecord error.
func (s *Store) Lookup(ctx context.Context, url string) (*DocumentView, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, errStoreClosed
	}

	var (
		view      DocumentView
		encoded   []byte
		indexedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT url, filename, content, content_hash, mtime, term_frequencies, distinct_terms, indexed_at
		FROM documents WHERE url = ?`, url).
		Scan(&view.URL, &view.Filename, &view.Content, &view.ContentHash, &view.Mtime,
			&encoded, &view.DistinctTerms, &indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup %s: %w", url, err)
	}
	view.IndexedAt = time.Unix(indexedAt, 0)

	freqs, err := termfreq.Unmarshal(encoded)
	if err != nil {
		return nil, false, ferrors.MalformedStoredRecord(url, err)
	}
	view.TermFrequencies = freqs
	return &view, true, nil
}

// TermPostings returns the sorted urls of documents containing term.
// An unknown term yields an empty slice.
func (s *Store) TermPostings(ctx context.Context, term string) ([]string, error) {
	stats, err := s.AllTermsMatching(ctx, []string{term})
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return []string{}, nil
	}
	return stats[0].Postings, nil
}

// AllTermsMatching returns postings and aggregate frequency for each of the
// candidate terms that exists in the index, in term order. Unknown terms
// are omitted. Candidates are fetched in bulk rather than one query per term.
func (s *Store) AllTermsMatching(ctx context.Context, candidates []string) ([]TermStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errStoreClosed
	}
	return allTermsMatching(ctx, s.db, candidates)
}

func allTermsMatching(ctx context.Context, q queryer, candidates []string) ([]TermStats, error) {
	terms := dedupe(candidates)
	if len(terms) == 0 {
		return []TermStats{}, nil
	}

	byTerm := make(map[string]*TermStats, len(terms))
	for _, batch := range chunk(terms, maxQueryParams) {
		query := fmt.Sprintf(`
			SELECT t.term, t.aggregate_frequency, d.url
			FROM terms t
			LEFT JOIN postings p ON p.term_id = t.id
			LEFT JOIN documents d ON d.id = p.document_id
			WHERE t.term IN (%s)`, placeholders(len(batch)))

		rows, err := q.QueryContext(ctx, query, toArgs(batch)...)
		if err != nil {
			return nil, fmt.Errorf("query terms: %w", err)
		}
		for rows.Next() {
			var (
				term string
				agg  int
				url  sql.NullString
			)
			if err := rows.Scan(&term, &agg, &url); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan term: %w", err)
			}
			ts, ok := byTerm[term]
			if !ok {
				ts = &TermStats{Term: term, AggregateFrequency: agg, Postings: []string{}}
				byTerm[term] = ts
			}
			if url.Valid {
				ts.Postings = append(ts.Postings, url.String)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("close term rows: %w", err)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate terms: %w", err)
		}
	}

	result := make([]TermStats, 0, len(byTerm))
	for _, ts := range byTerm {
		sort.Strings(ts.Postings)
		result = append(result, *ts)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Term < result[j].Term })
	return result, nil
}

// TermFrequencies returns the decoded term-frequency maps of the given
// documents. Maps are served from an LRU cache when the stored content hash
// still matches. Documents whose stored map cannot be decoded are omitted
// from the result and reported as MalformedStoredRecord in the second
// return value; unknown urls are omitted silently. The error return is
// reserved for storage failures.
func (s *Store) TermFrequencies(ctx context.Context, urls []string) (map[string]termfreq.Frequencies, []error, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, nil, errStoreClosed
	}
	return s.termFrequencies(ctx, s.db, urls)
}

// termFrequencies reads through q. The cache is consulted per content
// hash, which q also provides, so a transaction sees its own snapshot.
func (s *Store) termFrequencies(ctx context.Context, q queryer, urls []string) (map[string]termfreq.Frequencies, []error, error) {
	urls = dedupe(urls)
	result := make(map[string]termfreq.Frequencies, len(urls))
	var malformed []error

	for _, batch := range chunk(urls, maxQueryParams) {
		hashes, err := contentHashes(ctx, q, batch)
		if err != nil {
			return nil, nil, err
		}

		var misses []string
		for url, hash := range hashes {
			if cached, ok := s.freqCache.Get(url); ok && cached.contentHash == hash {
				result[url] = cached.freqs
				continue
			}
			misses = append(misses, url)
		}
		if len(misses) == 0 {
			continue
		}

		query := fmt.Sprintf(`
			SELECT url, content_hash, term_frequencies FROM documents
			WHERE url IN (%s)`, placeholders(len(misses)))
		rows, err := q.QueryContext(ctx, query, toArgs(misses)...)
		if err != nil {
			return nil, nil, fmt.Errorf("query term frequencies: %w", err)
		}
		for rows.Next() {
			var (
				url, hash string
				encoded   []byte
			)
			if err := rows.Scan(&url, &hash, &encoded); err != nil {
				rows.Close()
				return nil, nil, fmt.Errorf("scan term frequencies: %w", err)
			}
			freqs, err := termfreq.Unmarshal(encoded)
			if err != nil {
				malformed = append(malformed, ferrors.MalformedStoredRecord(url, err))
				continue
			}
			s.freqCache.Add(url, cachedFrequencies{contentHash: hash, freqs: freqs})
			result[url] = freqs
		}
		if err := rows.Close(); err != nil {
			return nil, nil, fmt.Errorf("close term frequency rows: %w", err)
		}
		if err := rows.Err(); err != nil {
			return nil, nil, fmt.Errorf("iterate term frequencies: %w", err)
		}
	}

	return result, malformed, nil
}

func contentHashes(ctx context.Context, q queryer, urls []string) (map[string]string, error) {
	query := fmt.Sprintf(`SELECT url, content_hash FROM documents WHERE url IN (%s)`, placeholders(len(urls)))
	rows, err := q.QueryContext(ctx, query, toArgs(urls)...)
	if err != nil {
		return nil, fmt.Errorf("query content hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string, len(urls))
	for rows.Next() {
		var url, hash string
		if err := rows.Scan(&url, &hash); err != nil {
			return nil, fmt.Errorf("scan content hash: %w", err)
		}
		hashes[url] = hash
	}
	return hashes, rows.Err()
}

// URLs returns all indexed urls in lexical order.
func (s *Store) URLs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT url FROM documents ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func chunk(values []string, size int) [][]string {
	var batches [][]string
	for start := 0; start < len(values); start += size {
		end := min(start+size, len(values))
		batches = append(batches, values[start:end])
	}
	return batches
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
