package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"firestige.xyz/netcore/internal/config"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/sniffer"
	"firestige.xyz/netcore/internal/socket"
	"firestige.xyz/netcore/internal/stack"
)

// openDriver returns the link driver a device entry asks for.
var openDriver = func(dc config.DeviceConfig) (device.Driver, error) {
	return device.Open(dc.Driver, dc.Name)
}

// buildStack creates the stack and applies the devices, routes and
// services sections in that order.
func (d *Daemon) buildStack() error {
	cfg := d.config

	if cfg.Capture.PcapFile != "" {
		w, err := sniffer.Create(cfg.Capture.PcapFile)
		if err != nil {
			return err
		}
		d.capture = w
		if cfg.Capture.Filter != "" {
			f, err := sniffer.CompileFilter(cfg.Capture.Filter)
			if err != nil {
				return err
			}
			w.SetFilter(f)
		}
		slog.Info("capturing frames", "file", cfg.Capture.PcapFile, "filter", cfg.Capture.Filter)
	}

	s, err := stack.New(stack.Options{
		Buffers:      cfg.Stack.Buffers,
		ARPCacheSize: cfg.Stack.ARPCacheSize,
		RouteEntries: cfg.Stack.RouteEntries,
		Sockets:      cfg.Stack.Sockets,
		Routing:      cfg.Stack.Routing,
		Capture:      d.capture,
	})
	if err != nil {
		return err
	}
	d.stack = s

	for _, dc := range cfg.Devices {
		if err := d.addDevice(dc); err != nil {
			return err
		}
	}

	for i, rc := range cfg.Routes {
		network, mask, gateway, err := rc.Parse()
		if err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
		if err := s.AddGatewayRoute(network, mask, gateway); err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
	}

	return d.startServices(cfg.Services)
}

func (d *Daemon) addDevice(dc config.DeviceConfig) error {
	hw, err := dc.HardwareAddr()
	if err != nil {
		return err
	}
	drv, err := openDriver(dc)
	if err != nil {
		return err
	}
	dev, err := d.stack.AddDevice(dc.Name, hw, dc.Resources(), drv)
	if err != nil {
		drv.Close()
		return err
	}

	for _, a := range dc.Addresses {
		addr, mask, err := config.ParseAddress(a)
		if err != nil {
			return fmt.Errorf("device %s: %w", dc.Name, err)
		}
		if err := d.stack.BindAddress(dev.ID, addr, mask); err != nil {
			return fmt.Errorf("device %s: %w", dc.Name, err)
		}
	}
	return nil
}

// startServices opens the sockets listed in the services section. UDP echo
// sockets send every datagram back to its sender; TCP sockets only sit in
// LISTEN so the handshake responder answers.
func (d *Daemon) startServices(sc config.ServicesConfig) error {
	reg := d.stack.Sockets()

	for _, port := range sc.UDPEcho {
		sock, err := reg.Alloc(socket.TypeUDP4)
		if err != nil {
			return fmt.Errorf("udp echo %d: %w", port, err)
		}
		if err := reg.Bind(sock, port); err != nil {
			reg.Free(sock)
			return fmt.Errorf("udp echo %d: %w", port, err)
		}
		reg.SetCallback(sock, d.echo)
		slog.Info("udp echo service listening", "port", port)
	}

	for _, port := range sc.TCPListen {
		sock, err := reg.Alloc(socket.TypeTCP4)
		if err != nil {
			return fmt.Errorf("tcp listen %d: %w", port, err)
		}
		if err := reg.Bind(sock, port); err != nil {
			reg.Free(sock)
			return fmt.Errorf("tcp listen %d: %w", port, err)
		}
		slog.Info("tcp service listening", "port", port)
	}
	return nil
}

// echo answers a datagram with the same payload. The first datagram from a
// peer whose link address is not cached only triggers an ARP request.
func (d *Daemon) echo(sock *socket.Socket, dev *device.Device, src netip.Addr, srcPort uint16, payload []byte) {
	err := d.stack.SendUDP(sock, src, srcPort, payload)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrARPMiss):
		slog.Debug("echo deferred until peer resolves", "device", dev.Name, "peer", src)
	default:
		slog.Warn("echo failed", "device", dev.Name, "peer", src, "port", srcPort, "error", err)
	}
}

// teardownStack removes every device, closing its driver, and closes the
// capture file.
func (d *Daemon) teardownStack() {
	if d.stack != nil {
		for _, dev := range d.stack.Devices().All() {
			if err := d.stack.RemoveDevice(dev.ID); err != nil {
				slog.Warn("failed to remove device", "device", dev.Name, "error", err)
			}
		}
	}
	if d.capture != nil {
		if err := d.capture.Close(); err != nil {
			slog.Warn("failed to close capture file", "error", err)
		}
		d.capture = nil
	}
}
