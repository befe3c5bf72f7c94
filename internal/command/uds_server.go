package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"

	"firestige.xyz/netcore/internal/core"
)

// maxRequestSize bounds one request line.
const maxRequestSize = 1 << 20

// JSONRPCRequest is one line read from the control socket.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse is the line written back for each request.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// UDSServer serves the command handler on a unix socket, one JSON-RPC
// request per line.
type UDSServer struct {
	path    string
	handler *CommandHandler

	mu       sync.Mutex
	ln       net.Listener
	sessions map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewUDSServer creates a server for the socket at path.
func NewUDSServer(path string, handler *CommandHandler) *UDSServer {
	return &UDSServer{
		path:     path,
		handler:  handler,
		sessions: make(map[net.Conn]struct{}),
	}
}

// Start listens on the socket and serves requests until ctx is done.
func (s *UDSServer) Start(ctx context.Context) error {
	ln, err := listenUnix(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.ln = ln
	s.mu.Unlock()

	slog.Info("control socket listening", "socket", s.path)
	go s.serve(ctx, ln)

	<-ctx.Done()
	return s.Stop()
}

// listenUnix replaces any stale socket file and restricts the new one to
// its owner.
func listenUnix(path string) (net.Listener, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod %s: %w", path, err)
	}
	return ln, nil
}

func (s *UDSServer) serve(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			slog.Warn("control socket accept failed", "error", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		go s.session(ctx, conn)
	}
}

// track registers conn unless the server is closing.
func (s *UDSServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *UDSServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.sessions, conn)
	s.mu.Unlock()
	conn.Close()
	s.wg.Done()
}

// session answers the requests of one client in order.
func (s *UDSServer) session(ctx context.Context, conn net.Conn) {
	defer s.untrack(conn)

	in := bufio.NewScanner(conn)
	in.Buffer(make([]byte, 0, 4096), maxRequestSize)
	out := json.NewEncoder(conn)
	for in.Scan() {
		if err := out.Encode(s.reply(ctx, in.Bytes())); err != nil {
			slog.Debug("control reply not sent", "error", err)
			return
		}
	}
	if err := in.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Warn("control session ended", "error", err)
	}
}

// reply runs one request line through the handler.
func (s *UDSServer) reply(ctx context.Context, line []byte) JSONRPCResponse {
	req, err := decodeRequest(line)
	if err != nil {
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &ErrorInfo{Code: errorCode(err), Message: err.Error()},
		}
	}
	resp := s.handler.Handle(ctx, Command{Method: req.Method, Params: req.Params, ID: requestID(req.ID)})
	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: resp.Result, Error: resp.Error}
}

// decodeRequest parses a request line. The returned request carries the
// ID whenever the line was valid JSON.
func decodeRequest(line []byte) (JSONRPCRequest, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return JSONRPCRequest{}, fmt.Errorf("%w: %v", core.ErrRequestMalformed, err)
	}
	if req.JSONRPC != "2.0" {
		return req, fmt.Errorf("%w: version %q", core.ErrRequestInvalid, req.JSONRPC)
	}
	if req.Method == "" {
		return req, fmt.Errorf("%w: method is required", core.ErrRequestInvalid)
	}
	return req, nil
}

// requestID renders a JSON-RPC id for logging and Response.ID.
func requestID(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Stop closes the listener and every open session, then removes the socket
// file. It may be called more than once.
func (s *UDSServer) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	for conn := range s.sessions {
		conn.Close()
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
		os.RemoveAll(s.path)
	}
	s.wg.Wait()
	slog.Info("control socket closed", "socket", s.path)
	return nil
}
