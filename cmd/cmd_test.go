package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcore/internal/command"
	"firestige.xyz/netcore/internal/core"
)

// MockClient implements Client
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Result(ctx context.Context, method string, params interface{}) (interface{}, error) {
	args := m.Called(ctx, method, params)
	return args.Get(0), args.Error(1)
}

// useClient injects c for the duration of the test.
func useClient(t *testing.T, c Client) {
	t.Helper()
	orig := newClient
	newClient = func() Client { return c }
	t.Cleanup(func() { newClient = orig })
}

// execute runs the real command tree with args.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRunCall_PrintsJSON(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Result", mock.Anything, "daemon_status", nil).
		Return(map[string]interface{}{"routing": true}, nil)

	var buf bytes.Buffer
	err := runCall(context.Background(), mockClient, &buf, "daemon_status", nil)

	assert.NoError(t, err)
	assert.JSONEq(t, `{"routing": true}`, buf.String())
	mockClient.AssertExpectations(t)
}

func TestRunCall_Error(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Result", mock.Anything, "arp_list", nil).
		Return(nil, &command.ErrorInfo{Code: command.ErrCodeInternalError, Message: "boom"})

	var buf bytes.Buffer
	err := runCall(context.Background(), mockClient, &buf, "arp_list", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "arp_list")
	assert.Contains(t, err.Error(), "boom")
	assert.Empty(t, buf.String())
}

func TestCommandsMapArguments(t *testing.T) {
	tests := []struct {
		args   []string
		method string
		params interface{}
	}{
		{[]string{"status"}, "daemon_status", nil},
		{[]string{"pool"}, "pool_stats", nil},
		{[]string{"sockets"}, "socket_list", nil},
		{[]string{"iface", "list"}, "iface_list", nil},
		{[]string{"iface", "create", "lo1", "loopback", "--irq", "5", "--addr", "10.1.0.1/24", "--addr", "10.2.0.1"}, "iface_create",
			command.IfaceCreateParams{Name: "lo1", Driver: "loopback", IRQ: 5, Addresses: []string{"10.1.0.1/24", "10.2.0.1"}}},
		{[]string{"iface", "destroy", "lo1"}, "iface_destroy", command.IfaceNameParams{Device: "lo1"}},
		{[]string{"iface", "bind", "eth0", "10.0.0.1/24"}, "iface_bind", command.IfaceAddressParams{Device: "eth0", Address: "10.0.0.1/24"}},
		{[]string{"iface", "unbind", "eth0", "10.0.0.1"}, "iface_unbind", command.IfaceAddressParams{Device: "eth0", Address: "10.0.0.1"}},
		{[]string{"arp", "list"}, "arp_list", nil},
		{[]string{"arp", "flush"}, "arp_flush", nil},
		{[]string{"arp", "query", "10.0.0.2"}, "arp_query", command.AddressParams{Address: "10.0.0.2"}},
		{[]string{"route", "list"}, "route_list", nil},
		{[]string{"route", "add", "192.168.0.0", "255.255.0.0", "10.0.0.254"}, "route_add", command.RouteParams{Network: "192.168.0.0", Mask: "255.255.0.0", Gateway: "10.0.0.254"}},
		{[]string{"route", "delete", "192.168.0.0", "255.255.0.0"}, "route_delete", command.RouteParams{Network: "192.168.0.0", Mask: "255.255.0.0"}},
		{[]string{"route", "flush"}, "route_flush", nil},
		{[]string{"routing", "on"}, "routing_set", command.RoutingParams{Enabled: true}},
		{[]string{"routing", "off"}, "routing_set", command.RoutingParams{Enabled: false}},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			mockClient := new(MockClient)
			mockClient.On("Result", mock.Anything, tt.method, tt.params).
				Return(map[string]interface{}{"ok": true}, nil)
			useClient(t, mockClient)

			out, err := execute(t, tt.args...)

			require.NoError(t, err)
			assert.Contains(t, out, `"ok": true`)
			mockClient.AssertExpectations(t)
		})
	}
}

func TestCommandsRejectBadArguments(t *testing.T) {
	mockClient := new(MockClient)
	useClient(t, mockClient)

	_, err := execute(t, "routing", "maybe")
	assert.Error(t, err)

	_, err = execute(t, "route", "add", "192.168.0.0", "255.255.0.0")
	assert.Error(t, err)

	_, err = execute(t, "iface", "bind", "eth0")
	assert.Error(t, err)

	_, err = execute(t, "iface", "create", "tap0")
	assert.Error(t, err)

	_, err = execute(t, "iface", "destroy")
	assert.Error(t, err)

	mockClient.AssertNotCalled(t, "Result", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunReload(t *testing.T) {
	tests := []struct {
		name      string
		mockError error
	}{
		{"reloaded", nil},
		{"rejected", &command.ErrorInfo{Code: command.ErrCodeInternalError, Message: "invalid log level"}},
		{"daemon not running", core.ErrDaemonNotRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := new(MockClient)
			mockClient.On("Result", mock.Anything, "config_reload", nil).
				Return(map[string]interface{}{"status": "reloaded"}, tt.mockError)

			var buf bytes.Buffer
			err := runReload(context.Background(), mockClient, &buf)

			if tt.mockError != nil {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "failed to reload")
				assert.Empty(t, buf.String())
			} else {
				require.NoError(t, err)
				assert.Contains(t, buf.String(), "✓ Configuration reloaded successfully")
			}
			mockClient.AssertExpectations(t)
		})
	}
}

func TestRunStop_ViaSocket(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Result", mock.Anything, "daemon_shutdown", nil).
		Return(map[string]interface{}{"status": "shutting_down"}, nil)

	var buf bytes.Buffer
	require.NoError(t, runStop(context.Background(), mockClient, "", &buf))
	assert.Contains(t, buf.String(), "shutting down")
}

func TestRunStop_FallsBackToPIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "netcore.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(4242)+"\n"), 0644))

	var signalled int
	var sent os.Signal
	orig := signalProcess
	signalProcess = func(pid int, sig os.Signal) error {
		signalled, sent = pid, sig
		return nil
	}
	t.Cleanup(func() { signalProcess = orig })

	mockClient := new(MockClient)
	mockClient.On("Result", mock.Anything, "daemon_shutdown", nil).
		Return(nil, core.ErrDaemonNotRunning)

	var buf bytes.Buffer
	require.NoError(t, runStop(context.Background(), mockClient, pidPath, &buf))
	assert.Equal(t, 4242, signalled)
	assert.Equal(t, syscall.SIGTERM, sent)
	assert.Contains(t, buf.String(), "pid 4242")

	// nothing to fall back on
	err := runStop(context.Background(), mockClient, filepath.Join(t.TempDir(), "none.pid"), &buf)
	assert.ErrorIs(t, err, core.ErrDaemonNotRunning)
}

func TestRunStop_OtherErrors(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Result", mock.Anything, "daemon_shutdown", nil).
		Return(nil, errors.New("permission denied"))

	var buf bytes.Buffer
	err := runStop(context.Background(), mockClient, "", &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stop daemon")
}

func TestConfigInitAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netcore.yml")

	var buf bytes.Buffer
	require.NoError(t, runConfigInit(path, false, &buf))
	assert.Contains(t, buf.String(), path)

	// existing file is kept without --force
	assert.Error(t, runConfigInit(path, false, &buf))
	assert.NoError(t, runConfigInit(path, true, &buf))

	buf.Reset()
	require.NoError(t, runConfigValidate(path, &buf))
	assert.Contains(t, buf.String(), "VALID: 1 device(s), 1 address(es), 0 route(s), 1 service port(s)")

	require.NoError(t, os.WriteFile(path, []byte("netcore:\n  log:\n    level: loud\n"), 0644))
	err := runConfigValidate(path, &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID")
}

func TestConfigInitToStdout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runConfigInit("", false, &buf))
	assert.Contains(t, buf.String(), "netcore:")
	assert.Contains(t, buf.String(), "driver: loopback")
}

func TestRootRegistersCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"daemon", "status", "pool", "iface", "arp", "route", "routing", "sockets", "stop", "reload", "config"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
