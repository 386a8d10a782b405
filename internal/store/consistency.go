package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/larroy/fusearch/internal/termfreq"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyMissingPosting: a document's stored map has a term with no posting.
	InconsistencyMissingPosting InconsistencyType = iota
	// InconsistencyStalePosting: a posting exists for a term the document no longer contains.
	InconsistencyStalePosting
	// InconsistencyPostingCount: a posting count differs from the stored map.
	InconsistencyPostingCount
	// InconsistencyAggregate: a term's aggregate frequency differs from the sum of its postings.
	InconsistencyAggregate
	// InconsistencyOrphanTerm: a term has no postings.
	InconsistencyOrphanTerm
	// InconsistencyMalformedRecord: a stored map cannot be decoded.
	InconsistencyMalformedRecord
	// InconsistencyDocumentCount: the in-memory document count drifted.
	InconsistencyDocumentCount
)

// String returns a short label for logs and CLI output.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyMissingPosting:
		return "missing_posting"
	case InconsistencyStalePosting:
		return "stale_posting"
	case InconsistencyPostingCount:
		return "posting_count"
	case InconsistencyAggregate:
		return "aggregate_frequency"
	case InconsistencyOrphanTerm:
		return "orphan_term"
	case InconsistencyMalformedRecord:
		return "malformed_record"
	case InconsistencyDocumentCount:
		return "document_count"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected issue.
type Inconsistency struct {
	Type    InconsistencyType
	URL     string
	Term    string
	Details string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Documents is the number of documents verified.
	Documents int
	// Terms is the number of terms verified.
	Terms int
	// Inconsistencies contains all detected issues.
	Inconsistencies []Inconsistency
	// Duration is how long the check took.
	Duration time.Duration
}

// OK reports whether no issues were found.
func (r *CheckResult) OK() bool {
	return len(r.Inconsistencies) == 0
}

// CheckConsistency verifies, from storage, that postings match the stored
// term-frequency maps, that each aggregate frequency equals the sum of its
// posting counts, and that the document count matches the documents table.
// It is O(postings) in time and memory.
func (s *Store) CheckConsistency(ctx context.Context) (*CheckResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errStoreClosed
	}

	start := time.Now()
	var issues []Inconsistency

	docs, err := s.loadStoredMaps(ctx)
	if err != nil {
		return nil, err
	}

	type postingKey struct{ url, term string }
	postings := make(map[postingKey]int)
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.url, t.term, p.count
		FROM postings p
		JOIN documents d ON d.id = p.document_id
		JOIN terms t ON t.id = p.term_id`)
	if err != nil {
		return nil, fmt.Errorf("query postings: %w", err)
	}
	for rows.Next() {
		var k postingKey
		var count int
		if err := rows.Scan(&k.url, &k.term, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		postings[k] = count
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	terms := make(map[string]int)
	rows, err = s.db.QueryContext(ctx, `SELECT term, aggregate_frequency FROM terms`)
	if err != nil {
		return nil, fmt.Errorf("query terms: %w", err)
	}
	for rows.Next() {
		var term string
		var agg int
		if err := rows.Scan(&term, &agg); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan term: %w", err)
		}
		terms[term] = agg
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	// Every term of every stored map must have a posting with the same count.
	for _, d := range docs {
		if d.err != nil {
			issues = append(issues, Inconsistency{
				Type: InconsistencyMalformedRecord, URL: d.url, Details: d.err.Error(),
			})
			continue
		}
		for term, n := range d.freqs {
			got, ok := postings[postingKey{d.url, term}]
			switch {
			case !ok:
				issues = append(issues, Inconsistency{
					Type:    InconsistencyMissingPosting,
					URL:     d.url,
					Term:    term,
					Details: fmt.Sprintf("stored count %d has no posting", n),
				})
			case got != n:
				issues = append(issues, Inconsistency{
					Type:    InconsistencyPostingCount,
					URL:     d.url,
					Term:    term,
					Details: fmt.Sprintf("posting count %d, stored count %d", got, n),
				})
			}
		}
	}

	// Every posting must be backed by its document's stored map.
	byURL := make(map[string]termfreq.Frequencies, len(docs))
	for _, d := range docs {
		if d.err == nil {
			byURL[d.url] = d.freqs
		}
	}
	sums := make(map[string]int, len(terms))
	for k, count := range postings {
		sums[k.term] += count
		freqs, ok := byURL[k.url]
		if !ok {
			continue // malformed document, already reported
		}
		if _, ok := freqs[k.term]; !ok {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyStalePosting,
				URL:     k.url,
				Term:    k.term,
				Details: "posting for a term the document does not contain",
			})
		}
	}

	for term, agg := range terms {
		sum, ok := sums[term]
		if !ok {
			issues = append(issues, Inconsistency{
				Type: InconsistencyOrphanTerm, Term: term, Details: "term has no postings",
			})
			continue
		}
		if sum != agg {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyAggregate,
				Term:    term,
				Details: fmt.Sprintf("aggregate frequency %d, sum of postings %d", agg, sum),
			})
		}
	}

	if int(s.docCount.Load()) != len(docs) {
		issues = append(issues, Inconsistency{
			Type:    InconsistencyDocumentCount,
			Details: fmt.Sprintf("document count %d, stored documents %d", s.docCount.Load(), len(docs)),
		})
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Type != issues[j].Type {
			return issues[i].Type < issues[j].Type
		}
		if issues[i].URL != issues[j].URL {
			return issues[i].URL < issues[j].URL
		}
		return issues[i].Term < issues[j].Term
	})

	return &CheckResult{
		Documents:       len(docs),
		Terms:           len(terms),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair rebuilds terms and postings from the stored term-frequency maps
// and resets the document count. Documents with malformed maps get an
// empty map and mtime 0, so the next indexing run re-extracts them.
func (s *Store) Repair(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed
	}
	if s.readOnly {
		return fmt.Errorf("cannot repair a read-only index")
	}

	docs, err := s.loadStoredMaps(ctx)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM postings`); err != nil {
		return fmt.Errorf("clear postings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM terms`); err != nil {
		return fmt.Errorf("clear terms: %w", err)
	}

	malformed := 0
	for _, d := range docs {
		if d.err != nil {
			malformed++
			if _, err := tx.ExecContext(ctx,
				`UPDATE documents SET term_frequencies = '{}', distinct_terms = 0, mtime = 0 WHERE id = ?`,
				d.id); err != nil {
				return fmt.Errorf("reset malformed document %s: %w", d.url, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET distinct_terms = ? WHERE id = ?`, d.freqs.Distinct(), d.id); err != nil {
			return fmt.Errorf("update distinct terms of %s: %w", d.url, err)
		}
		if err := addPostings(ctx, tx, d.id, d.freqs); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit repair: %w", err)
	}

	s.docCount.Store(int64(len(docs)))
	s.freqCache.Purge()

	slog.Info("index_repaired",
		slog.String("path", s.path),
		slog.Int("documents", len(docs)),
		slog.Int("malformed", malformed))
	return nil
}

type storedMap struct {
	id    int64
	url   string
	freqs termfreq.Frequencies
	err   error
}

func (s *Store) loadStoredMaps(ctx context.Context) ([]storedMap, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url, term_frequencies FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []storedMap
	for rows.Next() {
		var d storedMap
		var encoded []byte
		if err := rows.Scan(&d.id, &d.url, &encoded); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.freqs, d.err = termfreq.Unmarshal(encoded)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
