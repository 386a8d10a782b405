// Package searcher answers queries across several indexed directories.
//
// Each directory indexed by fusearch carries its own database. A
// [RootSearcher] scores one of them with TF-IDF; a [MultiSearcher] fans a
// query out to many roots in parallel and merges the ranked lists:
//
//	s, err := searcher.Open(ctx, []string{"~/notes", "/srv/papers"},
//	    searcher.WithTokenizer(tok),
//	)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	results, err := s.Search(ctx, "porter stemmer", 10)
//
// Roots without an index are skipped when at least one root has one.
//
// # Thread Safety
//
// All Searcher implementations are safe for concurrent use.
package searcher
