package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"firestige.xyz/netcore/internal/core"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second // Default timeout
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends a command and waits for response.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	// Create connection with timeout
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%s: %w", c.socketPath, core.ErrDaemonNotRunning)
		}
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	// Set deadline
	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	// Marshal params
	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	// Create JSON-RPC request
	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano()) // Use string ID
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}

	// Send request
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	// Read response
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	// Parse JSON-RPC response
	var jsonrpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &jsonrpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Verify response ID matches (convert both to string for comparison)
	respIDStr := fmt.Sprintf("%v", jsonrpcResp.ID)
	if respIDStr != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respIDStr)
	}

	// Convert to internal Response format
	resp := &Response{
		ID:     fmt.Sprintf("%v", jsonrpcResp.ID),
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}

	return resp, nil
}

// Result calls method and returns the result, turning an error response
// into a Go error.
func (c *UDSClient) Result(ctx context.Context, method string, params interface{}) (interface{}, error) {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Status is a convenience method for daemon_status.
func (c *UDSClient) Status(ctx context.Context) (interface{}, error) {
	return c.Result(ctx, "daemon_status", nil)
}

// Shutdown asks the daemon to stop.
func (c *UDSClient) Shutdown(ctx context.Context) (interface{}, error) {
	return c.Result(ctx, "daemon_shutdown", nil)
}

// CreateIface adds a device to the running stack.
func (c *UDSClient) CreateIface(ctx context.Context, params IfaceCreateParams) (interface{}, error) {
	return c.Result(ctx, "iface_create", params)
}

// DestroyIface removes the named device.
func (c *UDSClient) DestroyIface(ctx context.Context, dev string) (interface{}, error) {
	return c.Result(ctx, "iface_destroy", IfaceNameParams{Device: dev})
}

// Bind binds an address "a.b.c.d[/nn]" to the named device.
func (c *UDSClient) Bind(ctx context.Context, dev, addr string) (interface{}, error) {
	return c.Result(ctx, "iface_bind", IfaceAddressParams{Device: dev, Address: addr})
}

// Unbind removes an address from the named device.
func (c *UDSClient) Unbind(ctx context.Context, dev, addr string) (interface{}, error) {
	return c.Result(ctx, "iface_unbind", IfaceAddressParams{Device: dev, Address: addr})
}

// ARPQuery resolves addr, triggering a request on a miss.
func (c *UDSClient) ARPQuery(ctx context.Context, addr string) (interface{}, error) {
	return c.Result(ctx, "arp_query", AddressParams{Address: addr})
}

// RouteAdd adds a gateway route.
func (c *UDSClient) RouteAdd(ctx context.Context, network, mask, gateway string) (interface{}, error) {
	return c.Result(ctx, "route_add", RouteParams{Network: network, Mask: mask, Gateway: gateway})
}

// RouteDelete removes the route for network/mask.
func (c *UDSClient) RouteDelete(ctx context.Context, network, mask string) (interface{}, error) {
	return c.Result(ctx, "route_delete", RouteParams{Network: network, Mask: mask})
}

// SetRouting switches forwarding on or off.
func (c *UDSClient) SetRouting(ctx context.Context, enabled bool) (interface{}, error) {
	return c.Result(ctx, "routing_set", RoutingParams{Enabled: enabled})
}

// Ping checks that the daemon answers on the control socket.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.Status(ctx)
	return err
}
