package store

import (
	"context"
	"database/sql"
	"fmt"

	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/termfreq"
)

// Snapshot is a read transaction over the index. The document count,
// postings and term frequencies it returns all come from the same
// committed state, whatever another handle writes meanwhile.
//
// A Snapshot holds the store's connection until Close; the Store must not
// be used by the same goroutine in between.
type Snapshot struct {
	store *Store
	tx    *sql.Tx
	count int
	done  bool
}

// Snapshot begins a read transaction and counts the documents in it. The
// store's DocumentCount is updated to the snapshot's count.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		s.mu.RUnlock()
		return nil, ferrors.StorageUnavailable(s.path, fmt.Errorf("begin read transaction: %w", err))
	}

	// The first read pins the WAL snapshot for the rest of the transaction.
	count, err := countDocuments(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		s.mu.RUnlock()
		return nil, ferrors.StorageUnavailable(s.path, err)
	}
	s.docCount.Store(int64(count))

	return &Snapshot{store: s, tx: tx, count: count}, nil
}

// DocumentCount returns the number of documents in the snapshot.
func (sn *Snapshot) DocumentCount() int {
	return sn.count
}

// AllTermsMatching is Store.AllTermsMatching read from the snapshot.
func (sn *Snapshot) AllTermsMatching(ctx context.Context, candidates []string) ([]TermStats, error) {
	return allTermsMatching(ctx, sn.tx, candidates)
}

// TermFrequencies is Store.TermFrequencies read from the snapshot.
func (sn *Snapshot) TermFrequencies(ctx context.Context, urls []string) (map[string]termfreq.Frequencies, []error, error) {
	return sn.store.termFrequencies(ctx, sn.tx, urls)
}

// Close ends the read transaction. It is safe to call more than once.
func (sn *Snapshot) Close() error {
	if sn.done {
		return nil
	}
	sn.done = true
	defer sn.store.mu.RUnlock()

	if err := sn.tx.Rollback(); err != nil {
		return fmt.Errorf("end read transaction: %w", err)
	}
	return nil
}
