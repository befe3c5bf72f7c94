// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"firestige.xyz/netcore/internal/config"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/route"
	"firestige.xyz/netcore/internal/stack"
)

// Version is reported by daemon_status.
var Version = "0.1.0"

// CommandHandler handles control plane commands.
type CommandHandler struct {
	stack          *stack.Stack
	configReloader ConfigReloader
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	startTime      int64  // Unix timestamp of daemon start for uptime calc
	openDriver     DriverOpener
}

// DriverOpener creates the link driver for a device created by iface_create.
type DriverOpener func(config.DeviceConfig) (device.Driver, error)

func openDeviceDriver(dc config.DeviceConfig) (device.Driver, error) {
	return device.Open(dc.Driver, dc.Name)
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(s *stack.Stack, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		stack:          s,
		configReloader: reloader,
		startTime:      time.Now().Unix(),
		openDriver:     openDeviceDriver,
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// SetDriverOpener replaces the function iface_create opens drivers with.
func (h *CommandHandler) SetDriverOpener(fn DriverOpener) {
	h.openDriver = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "iface_bind", "route_add"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
	ErrCodeNotFound       = -32004 // Device, address or route does not exist
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Debug("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case "daemon_status":
		return h.handleDaemonStatus(ctx, cmd)
	case "daemon_shutdown":
		return h.handleDaemonShutdown(ctx, cmd)
	case "config_reload":
		return h.handleConfigReload(ctx, cmd)
	case "pool_stats":
		return ok(cmd, h.stack.Pool().Stats())
	case "iface_list":
		return h.handleIfaceList(ctx, cmd)
	case "iface_create":
		return h.handleIfaceCreate(ctx, cmd)
	case "iface_destroy":
		return h.handleIfaceDestroy(ctx, cmd)
	case "iface_bind":
		return h.handleIfaceBind(ctx, cmd)
	case "iface_unbind":
		return h.handleIfaceUnbind(ctx, cmd)
	case "arp_list":
		return h.handleARPList(ctx, cmd)
	case "arp_flush":
		return ok(cmd, map[string]interface{}{"removed": h.stack.ARP().Flush()})
	case "arp_query":
		return h.handleARPQuery(ctx, cmd)
	case "route_list":
		return h.handleRouteList(ctx, cmd)
	case "route_add":
		return h.handleRouteAdd(ctx, cmd)
	case "route_delete":
		return h.handleRouteDelete(ctx, cmd)
	case "route_flush":
		return ok(cmd, map[string]interface{}{"removed": h.stack.Routes().Flush()})
	case "routing_set":
		return h.handleRoutingSet(ctx, cmd)
	case "socket_list":
		return ok(cmd, map[string]interface{}{"sockets": h.stack.Sockets().Sockets()})
	default:
		return fail(cmd, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func ok(cmd Command, result interface{}) Response {
	return Response{ID: cmd.ID, Result: result}
}

func fail(cmd Command, code int, msg string) Response {
	return Response{ID: cmd.ID, Error: &ErrorInfo{Code: code, Message: msg}}
}

// errorCode maps the sentinel wrapped by err onto a response code.
func errorCode(err error) int {
	switch {
	case errors.Is(err, core.ErrRequestMalformed):
		return ErrCodeParseError
	case errors.Is(err, core.ErrRequestInvalid):
		return ErrCodeInvalidRequest
	case errors.Is(err, core.ErrDeviceNotFound),
		errors.Is(err, core.ErrAddressNotBound),
		errors.Is(err, core.ErrRouteNotFound):
		return ErrCodeNotFound
	case errors.Is(err, core.ErrAddressExists),
		errors.Is(err, core.ErrDuplicateDevice),
		errors.Is(err, core.ErrConfigInvalid),
		errors.Is(err, core.ErrRouteConflict),
		errors.Is(err, core.ErrGatewayUnreached):
		return ErrCodeInvalidParams
	}
	return ErrCodeInternalError
}

// failErr reports err under the code of the sentinel it wraps.
func failErr(cmd Command, op string, err error) Response {
	return fail(cmd, errorCode(err), fmt.Sprintf("%s failed: %v", op, err))
}

func decodeParams(cmd Command, v interface{}) *Response {
	if len(cmd.Params) == 0 {
		r := fail(cmd, ErrCodeInvalidParams, "missing params")
		return &r
	}
	if err := json.Unmarshal(cmd.Params, v); err != nil {
		r := fail(cmd, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		return &r
	}
	return nil
}

// handleDaemonStatus returns daemon status information.
func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	uptimeSeconds := time.Now().Unix() - h.startTime

	return ok(cmd, map[string]interface{}{
		"version":      Version,
		"uptime_sec":   uptimeSeconds,
		"routing":      h.stack.Routing(),
		"device_count": len(h.stack.Devices().All()),
		"arp_records":  h.stack.ARP().Len(),
		"routes":       len(h.stack.Routes().Entries()),
		"pool":         h.stack.Pool().Stats(),
	})
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return fail(cmd, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return ok(cmd, map[string]interface{}{"status": "shutting_down"})
}

// handleConfigReload handles config_reload command.
func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return fail(cmd, ErrCodeInternalError, "config reloader not available")
	}
	if err := h.configReloader.Reload(); err != nil {
		return fail(cmd, ErrCodeInternalError, fmt.Sprintf("reload config failed: %v", err))
	}
	return ok(cmd, map[string]interface{}{"status": "reloaded"})
}

// ─── Interfaces ────────────────────────────────────────────────────────────

// InterfaceInfo describes one device for iface_list.
type InterfaceInfo struct {
	ID        core.DeviceID        `json:"id"`
	Name      string               `json:"name"`
	HWAddr    string               `json:"hwaddr"`
	Resources device.Resources     `json:"resources"`
	Addresses []device.Address     `json:"addresses"`
	Stats     device.StatsSnapshot `json:"stats"`
}

func (h *CommandHandler) handleIfaceList(_ context.Context, cmd Command) Response {
	devs := h.stack.Devices().All()
	ifaces := make([]InterfaceInfo, 0, len(devs))
	for _, d := range devs {
		ifaces = append(ifaces, InterfaceInfo{
			ID:        d.ID,
			Name:      d.Name,
			HWAddr:    d.HWAddr.String(),
			Resources: d.Resources,
			Addresses: d.Addresses(),
			Stats:     d.Stats.Snapshot(),
		})
	}
	return ok(cmd, map[string]interface{}{"interfaces": ifaces})
}

// IfaceCreateParams describes a device the same way the devices section
// of the configuration file does.
type IfaceCreateParams struct {
	Name      string   `json:"name"`
	Driver    string   `json:"driver"`
	MAC       string   `json:"mac,omitempty"`
	Port      uint16   `json:"port,omitempty"`
	IRQ       uint8    `json:"irq,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
}

// IfaceNameParams names a device.
type IfaceNameParams struct {
	Device string `json:"device"`
}

func (h *CommandHandler) handleIfaceCreate(_ context.Context, cmd Command) Response {
	var params IfaceCreateParams
	if r := decodeParams(cmd, &params); r != nil {
		return *r
	}
	dc := config.DeviceConfig(params)
	if err := dc.Validate(); err != nil {
		return failErr(cmd, "create", err)
	}
	hw, err := dc.HardwareAddr()
	if err != nil {
		return fail(cmd, ErrCodeInvalidParams, err.Error())
	}
	drv, err := h.openDriver(dc)
	if err != nil {
		return failErr(cmd, "create", err)
	}
	dev, err := h.stack.AddDevice(dc.Name, hw, dc.Resources(), drv)
	if err != nil {
		_ = drv.Close()
		return failErr(cmd, "create", err)
	}
	for _, a := range dc.Addresses {
		addr, mask, _ := config.ParseAddress(a)
		if err := h.stack.BindAddress(dev.ID, addr, mask); err != nil {
			if rerr := h.stack.RemoveDevice(dev.ID); rerr != nil {
				slog.Warn("remove half created device failed", "device", dc.Name, "error", rerr)
			}
			return failErr(cmd, "create", err)
		}
	}
	slog.Info("device created", "device", dev.Name, "driver", dc.Driver, "addresses", len(dc.Addresses))
	return ok(cmd, map[string]interface{}{
		"device": dev.Name,
		"id":     dev.ID,
		"hwaddr": dev.HWAddr.String(),
		"status": "created",
	})
}

func (h *CommandHandler) handleIfaceDestroy(_ context.Context, cmd Command) Response {
	var params IfaceNameParams
	if r := decodeParams(cmd, &params); r != nil {
		return *r
	}
	dev, err := h.lookupDevice(params.Device)
	if err != nil {
		return failErr(cmd, "destroy", err)
	}
	if err := h.stack.RemoveDevice(dev.ID); err != nil {
		return failErr(cmd, "destroy", err)
	}
	return ok(cmd, map[string]interface{}{"device": dev.Name, "status": "destroyed"})
}

// IfaceAddressParams names a device and an address "a.b.c.d[/nn]".
type IfaceAddressParams struct {
	Device  string `json:"device"`
	Address string `json:"address"`
}

func (h *CommandHandler) lookupDevice(name string) (*device.Device, error) {
	dev, found := h.stack.Devices().Find(name)
	if !found {
		return nil, fmt.Errorf("%s: %w", name, core.ErrDeviceNotFound)
	}
	return dev, nil
}

func (h *CommandHandler) handleIfaceBind(_ context.Context, cmd Command) Response {
	var params IfaceAddressParams
	if r := decodeParams(cmd, &params); r != nil {
		return *r
	}
	addr, mask, err := config.ParseAddress(params.Address)
	if err != nil {
		return fail(cmd, ErrCodeInvalidParams, err.Error())
	}
	dev, err := h.lookupDevice(params.Device)
	if err != nil {
		return failErr(cmd, "bind", err)
	}
	if err := h.stack.BindAddress(dev.ID, addr, mask); err != nil {
		return failErr(cmd, "bind", err)
	}
	bound, _ := dev.Lookup(addr)
	slog.Info("address bound", "device", dev.Name, "addr", bound.Addr, "netmask", bound.Netmask)
	return ok(cmd, map[string]interface{}{
		"device":  dev.Name,
		"addr":    bound.Addr,
		"netmask": bound.Netmask,
	})
}

func (h *CommandHandler) handleIfaceUnbind(_ context.Context, cmd Command) Response {
	var params IfaceAddressParams
	if r := decodeParams(cmd, &params); r != nil {
		return *r
	}
	addr, _, err := config.ParseAddress(params.Address)
	if err != nil {
		return fail(cmd, ErrCodeInvalidParams, err.Error())
	}
	dev, err := h.lookupDevice(params.Device)
	if err != nil {
		return failErr(cmd, "unbind", err)
	}
	if err := h.stack.UnbindAddress(dev.ID, addr); err != nil {
		return failErr(cmd, "unbind", err)
	}
	slog.Info("address unbound", "device", dev.Name, "addr", addr)
	return ok(cmd, map[string]interface{}{"device": dev.Name, "addr": addr, "status": "unbound"})
}

// ─── ARP ───────────────────────────────────────────────────────────────────

// ARPEntry is one cache record as reported by arp_list.
type ARPEntry struct {
	Addr      netip.Addr `json:"addr"`
	HWAddr    string     `json:"hwaddr"`
	Device    string     `json:"device"`
	Permanent bool       `json:"permanent"`
	Updated   time.Time  `json:"updated"`
}

func (h *CommandHandler) deviceName(id core.DeviceID) string {
	if d, found := h.stack.Devices().Get(id); found {
		return d.Name
	}
	return fmt.Sprintf("#%d", id)
}

func (h *CommandHandler) handleARPList(_ context.Context, cmd Command) Response {
	records := h.stack.ARP().Records()
	entries := make([]ARPEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, ARPEntry{
			Addr:      r.Addr,
			HWAddr:    r.HWAddr.String(),
			Device:    h.deviceName(r.Device),
			Permanent: r.Permanent(),
			Updated:   r.Timestamp,
		})
	}
	return ok(cmd, map[string]interface{}{"records": entries, "size": h.stack.ARP().Size()})
}

// AddressParams carries a single IPv4 address.
type AddressParams struct {
	Address string `json:"address"`
}

// handleARPQuery resolves an address, sending a request on a miss.
func (h *CommandHandler) handleARPQuery(_ context.Context, cmd Command) Response {
	var params AddressParams
	if r := decodeParams(cmd, &params); r != nil {
		return *r
	}
	addr, err := netip.ParseAddr(params.Address)
	if err != nil || !addr.Is4() {
		return fail(cmd, ErrCodeInvalidParams, fmt.Sprintf("invalid IPv4 address %q", params.Address))
	}
	rec, err := h.stack.Resolve(addr)
	switch {
	case errors.Is(err, core.ErrARPMiss):
		return ok(cmd, map[string]interface{}{"addr": addr, "status": "requested"})
	case err != nil:
		return failErr(cmd, "arp query", err)
	}
	return ok(cmd, map[string]interface{}{
		"addr":   addr,
		"status": "resolved",
		"hwaddr": rec.HWAddr.String(),
		"device": h.deviceName(rec.Device),
	})
}

// ─── Routes ────────────────────────────────────────────────────────────────

// RouteInfo is one routing table entry as reported by route_list.
type RouteInfo struct {
	Network   netip.Addr  `json:"network"`
	Mask      netip.Addr  `json:"mask"`
	Gateway   *netip.Addr `json:"gateway,omitempty"` // nil for interface routes
	Device    string      `json:"device"`
	Permanent bool        `json:"permanent"`
}

func (h *CommandHandler) handleRouteList(_ context.Context, cmd Command) Response {
	table := h.stack.Routes().Entries()
	routes := make([]RouteInfo, 0, len(table))
	for _, e := range table {
		ri := RouteInfo{
			Network:   e.Network,
			Mask:      e.Mask,
			Device:    h.deviceName(e.Device),
			Permanent: e.Flags&route.FlagPermanent != 0,
		}
		if e.Flags&route.FlagGateway != 0 {
			gw := e.Gateway
			ri.Gateway = &gw
		}
		routes = append(routes, ri)
	}
	return ok(cmd, map[string]interface{}{"routes": routes})
}

// RouteParams describes a route; Gateway is ignored by route_delete.
type RouteParams struct {
	Network string `json:"network"`
	Mask    string `json:"mask"`
	Gateway string `json:"gateway,omitempty"`
}

func (h *CommandHandler) handleRouteAdd(_ context.Context, cmd Command) Response {
	var params RouteParams
	if r := decodeParams(cmd, &params); r != nil {
		return *r
	}
	network, mask, gateway, err := config.RouteConfig(params).Parse()
	if err != nil {
		return fail(cmd, ErrCodeInvalidParams, err.Error())
	}
	if err := h.stack.AddGatewayRoute(network, mask, gateway); err != nil {
		return failErr(cmd, "route add", err)
	}
	return ok(cmd, map[string]interface{}{"network": network, "mask": mask, "gateway": gateway, "status": "added"})
}

func (h *CommandHandler) handleRouteDelete(_ context.Context, cmd Command) Response {
	var params RouteParams
	if r := decodeParams(cmd, &params); r != nil {
		return *r
	}
	network, err := netip.ParseAddr(params.Network)
	if err != nil || !network.Is4() {
		return fail(cmd, ErrCodeInvalidParams, fmt.Sprintf("invalid network %q", params.Network))
	}
	mask, err := netip.ParseAddr(params.Mask)
	if err != nil || !mask.Is4() {
		return fail(cmd, ErrCodeInvalidParams, fmt.Sprintf("invalid mask %q", params.Mask))
	}
	if err := h.stack.DeleteRoute(network, mask); err != nil {
		return failErr(cmd, "route delete", err)
	}
	return ok(cmd, map[string]interface{}{"network": network, "mask": mask, "status": "deleted"})
}

// RoutingParams toggles forwarding.
type RoutingParams struct {
	Enabled bool `json:"enabled"`
}

func (h *CommandHandler) handleRoutingSet(_ context.Context, cmd Command) Response {
	var params RoutingParams
	if r := decodeParams(cmd, &params); r != nil {
		return *r
	}
	h.stack.SetRouting(params.Enabled)
	slog.Info("routing switched", "enabled", params.Enabled)
	return ok(cmd, map[string]interface{}{"routing": params.Enabled})
}
