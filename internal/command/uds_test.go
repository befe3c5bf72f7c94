package command

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/netcore/internal/core"
)

func startServer(t *testing.T, handler *CommandHandler) (string, context.CancelFunc, chan error) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "netcore.sock")
	server := NewUDSServer(socketPath, handler)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	// Wait for the listener
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return socketPath, cancel, errCh
}

func TestUDSServerClient_Integration(t *testing.T) {
	s := newTestStack(t)
	socketPath, cancel, errCh := startServer(t, NewCommandHandler(s, nil))
	defer cancel()

	client := NewUDSClient(socketPath, 5*time.Second)
	ctx := context.Background()

	t.Run("ping", func(t *testing.T) {
		if err := client.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("bind", func(t *testing.T) {
		res, err := client.Bind(ctx, "eth0", "10.0.0.1/24")
		if err != nil {
			t.Fatalf("Bind failed: %v", err)
		}
		m := res.(map[string]interface{})
		if m["addr"] != "10.0.0.1" || m["netmask"] != "255.255.255.0" {
			t.Errorf("unexpected bind result: %v", m)
		}
	})

	t.Run("route_add", func(t *testing.T) {
		if _, err := client.RouteAdd(ctx, "192.168.0.0", "255.255.0.0", "10.0.0.254"); err != nil {
			t.Fatalf("RouteAdd failed: %v", err)
		}
		if _, ok := s.Routes().Lookup(netip.MustParseAddr("192.168.1.1")); !ok {
			t.Error("route not installed")
		}
	})

	t.Run("route_add_conflict", func(t *testing.T) {
		_, err := client.RouteAdd(ctx, "10.0.0.0", "255.255.255.0", "10.0.0.254")
		var info *ErrorInfo
		if !errors.As(err, &info) {
			t.Fatalf("expected an error response, got %v", err)
		}
		if info.Code != ErrCodeInvalidParams {
			t.Errorf("error code = %d, want %d", info.Code, ErrCodeInvalidParams)
		}
	})

	t.Run("routing", func(t *testing.T) {
		if _, err := client.SetRouting(ctx, true); err != nil {
			t.Fatalf("SetRouting failed: %v", err)
		}
		if !s.Routing() {
			t.Error("routing not enabled")
		}
	})

	t.Run("unknown_method", func(t *testing.T) {
		resp, err := client.Call(ctx, "task_list", nil)
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if resp.Error == nil {
			t.Fatal("expected error for unknown method")
		}
		if resp.Error.Code != ErrCodeMethodNotFound {
			t.Errorf("error code = %d, want %d", resp.Error.Code, ErrCodeMethodNotFound)
		}
	})

	cancel()

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Errorf("server error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("server didn't stop in time")
	}

	// Verify socket file is removed
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket file not removed after server stop")
	}
}

func TestUDSServer_InvalidRequests(t *testing.T) {
	socketPath, cancel, _ := startServer(t, NewCommandHandler(newTestStack(t), nil))
	defer cancel()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewScanner(conn)

	tests := []struct {
		line string
		code int
	}{
		{`not json`, ErrCodeParseError},
		{`{"jsonrpc":"1.0","method":"daemon_status","id":1}`, ErrCodeInvalidRequest},
		{`{"jsonrpc":"2.0","id":2}`, ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		if _, err := conn.Write([]byte(tt.line + "\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		if !reader.Scan() {
			t.Fatalf("no response to %q: %v", tt.line, reader.Err())
		}
		var resp JSONRPCResponse
		if err := json.Unmarshal(reader.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Error == nil || resp.Error.Code != tt.code {
			t.Errorf("%q: got %+v, want code %d", tt.line, resp.Error, tt.code)
		}
	}
}

func TestUDSClient_DaemonNotRunning(t *testing.T) {
	client := NewUDSClient(filepath.Join(t.TempDir(), "absent.sock"), time.Second)

	err := client.Ping(context.Background())
	if !errors.Is(err, core.ErrDaemonNotRunning) {
		t.Errorf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestUDSClient_Timeout(t *testing.T) {
	socketPath, cancel, _ := startServer(t, NewCommandHandler(newTestStack(t), nil))
	defer cancel()

	// Create client with very short timeout
	client := NewUDSClient(socketPath, 1*time.Nanosecond)

	if err := client.Ping(context.Background()); err == nil {
		t.Error("expected timeout error")
	}
}

func TestUDSServer_MultipleConnections(t *testing.T) {
	socketPath, cancel, _ := startServer(t, NewCommandHandler(newTestStack(t), nil))
	defer cancel()

	// Send requests concurrently
	errCh := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() {
			client := NewUDSClient(socketPath, 5*time.Second)
			_, err := client.Result(context.Background(), "iface_list", nil)
			errCh <- err
		}()
	}

	// Wait for all responses
	for i := 0; i < 5; i++ {
		if err := <-errCh; err != nil {
			t.Errorf("client %d failed: %v", i, err)
		}
	}
}

func TestNewUDSClient_DefaultTimeout(t *testing.T) {
	client := NewUDSClient("/tmp/test.sock", 0)
	if client.timeout != 10*time.Second {
		t.Errorf("default timeout = %v, want 10s", client.timeout)
	}

	client2 := NewUDSClient("/tmp/test.sock", 5*time.Second)
	if client2.timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", client2.timeout)
	}
}

func TestUDSServer_EchoesRequestID(t *testing.T) {
	socketPath, cancel, _ := startServer(t, NewCommandHandler(newTestStack(t), nil))
	defer cancel()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewScanner(conn)

	tests := []struct {
		line string
		id   interface{}
	}{
		{`{"jsonrpc":"2.0","method":"pool_stats","id":7}`, float64(7)},
		{`{"jsonrpc":"2.0","method":"pool_stats","id":"abc"}`, "abc"},
		{`{"jsonrpc":"2.0","method":"pool_stats"}`, nil},
		{`{"jsonrpc":"2.0","id":9}`, float64(9)},
	}
	for _, tt := range tests {
		if _, err := conn.Write([]byte(tt.line + "\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		if !reader.Scan() {
			t.Fatalf("no response to %q: %v", tt.line, reader.Err())
		}
		var resp JSONRPCResponse
		if err := json.Unmarshal(reader.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.ID != tt.id {
			t.Errorf("%q: id = %#v, want %#v", tt.line, resp.ID, tt.id)
		}
		if resp.JSONRPC != "2.0" {
			t.Errorf("%q: jsonrpc = %q", tt.line, resp.JSONRPC)
		}
	}
}

func TestUDSServer_OversizedRequestClosesSession(t *testing.T) {
	socketPath, cancel, _ := startServer(t, NewCommandHandler(newTestStack(t), nil))
	defer cancel()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	line := append(bytes.Repeat([]byte("x"), maxRequestSize+1), '\n')
	_, _ = conn.Write(line) // the server may hang up before the write completes

	if bufio.NewScanner(conn).Scan() {
		t.Error("expected the session to end without a reply")
	}

	// other clients are still served
	client := NewUDSClient(socketPath, 2*time.Second)
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping after oversized request: %v", err)
	}
}

func TestUDSServer_StopIsIdempotent(t *testing.T) {
	server := NewUDSServer(filepath.Join(t.TempDir(), "netcore.sock"), NewCommandHandler(newTestStack(t), nil))
	if err := server.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	// a stopped server refuses to start listening
	if err := server.Start(context.Background()); err != nil {
		t.Errorf("Start after Stop: %v", err)
	}
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		line string
		err  error
		code int
	}{
		{`{"jsonrpc":"2.0","method":"arp_list","id":1}`, nil, 0},
		{`{"jsonrpc":"2.0",`, core.ErrRequestMalformed, ErrCodeParseError},
		{`[]`, core.ErrRequestMalformed, ErrCodeParseError},
		{`{"jsonrpc":"1.0","method":"arp_list"}`, core.ErrRequestInvalid, ErrCodeInvalidRequest},
		{`{"jsonrpc":"2.0","method":""}`, core.ErrRequestInvalid, ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		_, err := decodeRequest([]byte(tt.line))
		if tt.err == nil {
			if err != nil {
				t.Errorf("%q: unexpected error %v", tt.line, err)
			}
			continue
		}
		if !errors.Is(err, tt.err) {
			t.Errorf("%q: error %v, want %v", tt.line, err, tt.err)
		}
		if got := errorCode(err); got != tt.code {
			t.Errorf("%q: code %d, want %d", tt.line, got, tt.code)
		}
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		id   interface{}
		want string
	}{
		{nil, ""},
		{"req-1", "req-1"},
		{float64(42), "42"},
		{float64(1e9), "1000000000"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := requestID(tt.id); got != tt.want {
			t.Errorf("requestID(%#v) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
