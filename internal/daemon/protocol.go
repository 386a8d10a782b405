package daemon

import "time"

// JSON-RPC 2.0 method names.
const (
	MethodPing    = "ping"
	MethodStatus  = "status"
	MethodReindex = "reindex"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Daemon-specific error codes.
const (
	ErrCodeUnknownRoot = -32001
	ErrCodeQueueFull   = -32002
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// ReindexParams are the parameters for the reindex method.
type ReindexParams struct {
	// Root restricts the run to one configured root. Empty queues all.
	Root string `json:"root,omitempty"`
}

// ReindexResult lists the roots queued for indexing.
type ReindexResult struct {
	Queued []string `json:"queued"`
}

// RunSummary is the wire form of the last indexing run of a root.
type RunSummary struct {
	RunID              string    `json:"run_id"`
	StartedAt          time.Time `json:"started_at"`
	Duration           string    `json:"duration"`
	Discovered         int       `json:"discovered"`
	Stale              int       `json:"stale"`
	Indexed            int       `json:"indexed"`
	Unchanged          int       `json:"unchanged"`
	ExtractionFailures int       `json:"extraction_failures"`
	WriteFailures      int       `json:"write_failures"`
	Documents          int       `json:"documents"`
}

// RootStatus reports one configured root.
type RootStatus struct {
	Root     string      `json:"root"`
	Indexing bool        `json:"indexing"`
	LastRun  *RunSummary `json:"last_run,omitempty"`
}

// StatusResult contains daemon status information.
type StatusResult struct {
	Running  bool         `json:"running"`
	PID      int          `json:"pid"`
	Uptime   string       `json:"uptime"`
	Watching bool         `json:"watching"`
	Interval string       `json:"interval"`
	Roots    []RootStatus `json:"roots"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}
