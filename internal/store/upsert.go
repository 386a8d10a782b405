package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/termfreq"
)

// Upsert inserts doc, or replaces the document previously stored under
// doc.URL. Replacement first retracts the old postings and aggregate
// frequencies, so terms that disappeared from the document lose their
// posting and terms left without occurrences are removed. The whole
// mutation runs in one transaction.
//
// When content and term frequencies are identical to what is stored, only
// the mtime is refreshed.
//
// Storage failures are returned as WriteFailed.
func (s *Store) Upsert(ctx context.Context, doc *Document) (UpsertResult, error) {
	if doc == nil || doc.URL == "" {
		return 0, ferrors.ValidationError("document url is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ferrors.WriteFailed(doc.URL, errStoreClosed)
	}
	if s.readOnly {
		return 0, ferrors.WriteFailed(doc.URL, errors.New("index store is read-only"))
	}

	freqs := doc.TermFrequencies
	if freqs == nil {
		freqs = termfreq.Frequencies{}
	}
	encoded, err := freqs.Marshal()
	if err != nil {
		return 0, ferrors.WriteFailed(doc.URL, fmt.Errorf("encode term frequencies: %w", err))
	}
	contentHash := doc.ContentHash
	if contentHash == "" {
		contentHash = HashContent(doc.Content)
	}

	result, err := s.upsertTx(ctx, doc, contentHash, encoded, freqs)
	if err != nil {
		return 0, ferrors.WriteFailed(doc.URL, err)
	}

	switch result {
	case UpsertInserted:
		s.docCount.Add(1)
		s.freqCache.Add(doc.URL, cachedFrequencies{contentHash: contentHash, freqs: freqs})
	case UpsertReplaced:
		s.freqCache.Add(doc.URL, cachedFrequencies{contentHash: contentHash, freqs: freqs})
	}
	return result, nil
}

func (s *Store) upsertTx(ctx context.Context, doc *Document, contentHash string, encoded []byte, freqs termfreq.Frequencies) (UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		docID      int64
		prevHash   string
		prevFreqs  []byte
		exists     = true
		indexedAt  = time.Now().Unix()
		resultKind = UpsertReplaced
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, content_hash, term_frequencies FROM documents WHERE url = ?`, doc.URL).
		Scan(&docID, &prevHash, &prevFreqs)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
		resultKind = UpsertInserted
	} else if err != nil {
		return 0, fmt.Errorf("query existing document: %w", err)
	}

	if exists && prevHash == contentHash && bytes.Equal(prevFreqs, encoded) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET mtime = ?, filename = ? WHERE id = ?`,
			doc.Mtime, doc.Filename, docID); err != nil {
			return 0, fmt.Errorf("update mtime: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("commit: %w", err)
		}
		return UpsertUnchanged, nil
	}

	if exists {
		if err := retractPostings(ctx, tx, docID); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE documents
			SET filename = ?, content = ?, content_hash = ?, mtime = ?,
			    term_frequencies = ?, distinct_terms = ?, indexed_at = ?
			WHERE id = ?`,
			doc.Filename, doc.Content, contentHash, doc.Mtime,
			string(encoded), freqs.Distinct(), indexedAt, docID); err != nil {
			return 0, fmt.Errorf("update document: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO documents (url, filename, content, content_hash, mtime,
			                       term_frequencies, distinct_terms, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.URL, doc.Filename, doc.Content, contentHash, doc.Mtime,
			string(encoded), freqs.Distinct(), indexedAt)
		if err != nil {
			return 0, fmt.Errorf("insert document: %w", err)
		}
		if docID, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("read document id: %w", err)
		}
	}

	if err := addPostings(ctx, tx, docID, freqs); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return resultKind, nil
}

// retractPostings subtracts a document's contribution from every term it
// contains, deletes its postings, and drops terms left with no occurrences.
func retractPostings(ctx context.Context, tx *sql.Tx, docID int64) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT term_id, count FROM postings WHERE document_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("query old postings: %w", err)
	}
	type posting struct {
		termID int64
		count  int
	}
	var old []posting
	for rows.Next() {
		var p posting
		if err := rows.Scan(&p.termID, &p.count); err != nil {
			rows.Close()
			return fmt.Errorf("scan old posting: %w", err)
		}
		old = append(old, p)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("close old postings: %w", err)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate old postings: %w", err)
	}
	if len(old) == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM postings WHERE document_id = ?`, docID); err != nil {
		return fmt.Errorf("delete old postings: %w", err)
	}

	decStmt, err := tx.PrepareContext(ctx,
		`UPDATE terms SET aggregate_frequency = MAX(aggregate_frequency - ?, 0) WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare term decrement: %w", err)
	}
	defer decStmt.Close()

	dropStmt, err := tx.PrepareContext(ctx, `
		DELETE FROM terms
		WHERE id = ? AND NOT EXISTS (SELECT 1 FROM postings WHERE term_id = terms.id)`)
	if err != nil {
		return fmt.Errorf("prepare term cleanup: %w", err)
	}
	defer dropStmt.Close()

	for _, p := range old {
		if _, err := decStmt.ExecContext(ctx, p.count, p.termID); err != nil {
			return fmt.Errorf("decrement term %d: %w", p.termID, err)
		}
		if _, err := dropStmt.ExecContext(ctx, p.termID); err != nil {
			return fmt.Errorf("drop term %d: %w", p.termID, err)
		}
	}
	return nil
}

// addPostings links a document to each of its terms, creating terms as
// needed and adding the counts to their aggregate frequency.
func addPostings(ctx context.Context, tx *sql.Tx, docID int64, freqs termfreq.Frequencies) error {
	if len(freqs) == 0 {
		return nil
	}

	termStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO terms (term, aggregate_frequency) VALUES (?, ?)
		ON CONFLICT(term) DO UPDATE SET aggregate_frequency = aggregate_frequency + excluded.aggregate_frequency
		RETURNING id`)
	if err != nil {
		return fmt.Errorf("prepare term upsert: %w", err)
	}
	defer termStmt.Close()

	postingStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO postings (term_id, document_id, count) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare posting insert: %w", err)
	}
	defer postingStmt.Close()

	// Sorted for a stable write order across runs.
	for _, term := range freqs.Terms() {
		count := freqs[term]
		if count <= 0 {
			continue
		}
		var termID int64
		if err := termStmt.QueryRowContext(ctx, term, count).Scan(&termID); err != nil {
			return fmt.Errorf("upsert term %q: %w", term, err)
		}
		if _, err := postingStmt.ExecContext(ctx, termID, docID, count); err != nil {
			return fmt.Errorf("insert posting %q: %w", term, err)
		}
	}
	return nil
}
