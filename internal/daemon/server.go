package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	ferrors "github.com/larroy/fusearch/internal/errors"
)

// RequestHandler answers the daemon RPC methods.
type RequestHandler interface {
	Status() StatusResult
	Reindex(root string) ([]string, error)
}

// Server listens on a Unix socket and handles RPC requests, one request
// per connection.
type Server struct {
	socketPath string
	handler    RequestHandler
	logger     *slog.Logger
	timeout    time.Duration

	mu       sync.Mutex
	listener net.Listener
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for socketPath. A nil logger uses slog.Default.
func NewServer(socketPath string, handler RequestHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		logger:     logger,
		timeout:    30 * time.Second,
	}
}

// ListenAndServe serves until ctx is cancelled, then waits for open
// connections and removes the socket. It returns nil on shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// A socket left by a crashed daemon blocks Listen. The PID lock is
	// held by now, so nobody else owns it.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	if s.shutdown {
		_ = listener.Close()
	}
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	s.logger.Info("daemon_socket_listening", slog.String("socket", s.socketPath))

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed() {
				break
			}
			s.logger.Error("daemon_socket_accept_failed", slog.String("error", err.Error()))
			if errors.Is(err, net.ErrClosed) {
				break
			}
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}

	s.wg.Wait()
	return nil
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		s.logger.Warn("daemon_socket_deadline_failed", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	_ = encoder.Encode(s.handleRequest(req))
}

func (s *Server) handleRequest(req Request) Response {
	if req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		if s.handler == nil {
			return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
		}
		return NewSuccessResponse(req.ID, s.handler.Status())

	case MethodReindex:
		return s.handleReindex(req)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleReindex(req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}

	var params ReindexParams
	if req.Params != nil {
		// Params arrive as a generic map; round-trip into the typed form.
		data, err := json.Marshal(req.Params)
		if err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to encode params")
		}
		if err := json.Unmarshal(data, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
		}
	}

	queued, err := s.handler.Reindex(params.Root)
	if err != nil {
		code := ErrCodeInternalError
		switch ferrors.GetCode(err) {
		case ferrors.ErrCodeInvalidPath:
			code = ErrCodeUnknownRoot
		case ferrors.ErrCodeAlreadyRunning:
			code = ErrCodeQueueFull
		}
		return NewErrorResponse(req.ID, code, err.Error())
	}
	return NewSuccessResponse(req.ID, ReindexResult{Queued: queued})
}

func (s *Server) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
