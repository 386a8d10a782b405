package mcp

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"free-text query; words are matched after the index tokenizer (stemming by default)"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default from search.limit"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Query   string               `json:"query" jsonschema:"the query that was run"`
	Results []SearchResultOutput `json:"results" jsonschema:"documents ordered by descending score"`
}

// SearchResultOutput is one ranked document.
type SearchResultOutput struct {
	Path         string   `json:"path" jsonschema:"absolute path of the document"`
	Root         string   `json:"root" jsonschema:"indexed directory containing the document"`
	Filename     string   `json:"filename" jsonschema:"base name of the document"`
	Score        float64  `json:"score" jsonschema:"summed TF-IDF score; only comparable within one query"`
	MatchedTerms []string `json:"matched_terms,omitempty" jsonschema:"query terms found in the document"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Tokenizer string            `json:"tokenizer"`
	Roots     []RootIndexStatus `json:"roots"`
	Daemon    *DaemonInfo       `json:"daemon,omitempty"` // Present when a daemon answers on its socket
}

// RootIndexStatus describes the index of one directory.
type RootIndexStatus struct {
	Root        string `json:"root"`
	Documents   int    `json:"documents"`
	Terms       int    `json:"terms"`
	Postings    int    `json:"postings"`
	SizeBytes   int64  `json:"size_bytes"`
	LastIndexed string `json:"last_indexed,omitempty"` // RFC3339, empty for an empty index
	Indexing    bool   `json:"indexing,omitempty"`     // A daemon run is in progress
	Error       string `json:"error,omitempty"`
}

// DaemonInfo summarizes a running fusearch daemon.
type DaemonInfo struct {
	PID      int    `json:"pid"`
	Uptime   string `json:"uptime"`
	Watching bool   `json:"watching"`
	Interval string `json:"interval"`
}
