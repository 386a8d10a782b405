package searcher

import (
	"context"
	"errors"
)

// ErrNoSearchers is returned when a MultiSearcher has nothing to search.
var ErrNoSearchers = errors.New("at least one searcher is required")

// Searcher performs search operations and returns ranked results.
//
// Implementations must be thread-safe for concurrent use.
type Searcher interface {
	// Search runs query and returns at most limit results (0 = all),
	// ordered by descending score then URL. It returns an empty slice,
	// not nil, when nothing matches.
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// Result is one ranked document.
type Result struct {
	// URL is the absolute path of the document.
	URL string `json:"url"`

	// Root is the indexed directory the document belongs to.
	Root string `json:"root"`

	// Score is the summed TF-IDF score of the matched terms.
	Score float64 `json:"score"`

	// MatchedTerms are the query terms, after tokenization, found in the
	// document.
	MatchedTerms []string `json:"matched_terms,omitempty"`
}
