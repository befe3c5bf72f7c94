// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/inet"
	"firestige.xyz/netcore/internal/pktbuf"
	"firestige.xyz/netcore/internal/sniffer"
)

// GlobalConfig represents the top-level static configuration.
// Maps to the `netcore:` root key in YAML.
type GlobalConfig struct {
	Stack    StackConfig    `mapstructure:"stack" yaml:"stack"`
	Devices  []DeviceConfig `mapstructure:"devices" yaml:"devices"`
	Routes   []RouteConfig  `mapstructure:"routes" yaml:"routes"`
	Services ServicesConfig `mapstructure:"services" yaml:"services"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Control  ControlConfig  `mapstructure:"control" yaml:"control"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// ─── Stack ───

// StackConfig sizes the fixed tables of the stack.
type StackConfig struct {
	Buffers      int  `mapstructure:"buffers" yaml:"buffers"`
	ARPCacheSize int  `mapstructure:"arp_cache_size" yaml:"arp_cache_size"`
	RouteEntries int  `mapstructure:"route_entries" yaml:"route_entries"`
	Sockets      int  `mapstructure:"sockets" yaml:"sockets"`
	Routing      bool `mapstructure:"routing" yaml:"routing"` // forward datagrams not addressed to us
}

// ─── Devices & Routes ───

// Device drivers.
const (
	DriverLoopback = device.KindLoopback
	DriverTAP      = device.KindTAP
)

// DeviceConfig describes one network device.
type DeviceConfig struct {
	Name      string   `mapstructure:"name" yaml:"name"`
	Driver    string   `mapstructure:"driver" yaml:"driver"` // loopback | tap
	MAC       string   `mapstructure:"mac" yaml:"mac"`
	Port      uint16   `mapstructure:"port" yaml:"port,omitempty"`
	IRQ       uint8    `mapstructure:"irq" yaml:"irq,omitempty"`
	Addresses []string `mapstructure:"addresses" yaml:"addresses"` // "a.b.c.d/nn"; no prefix = classful
}

// Validate checks one device entry, defaulting the driver to tap. It is
// shared by the configuration file and the iface_create command.
func (d *DeviceConfig) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("device name is required: %w", core.ErrConfigInvalid)
	}
	if d.Driver == "" {
		d.Driver = DriverTAP
	}
	if d.Driver != DriverLoopback && d.Driver != DriverTAP {
		return fmt.Errorf("device %s: unsupported driver %q (must be loopback/tap): %w", d.Name, d.Driver, core.ErrConfigInvalid)
	}
	if _, err := d.HardwareAddr(); err != nil {
		return fmt.Errorf("%v: %w", err, core.ErrConfigInvalid)
	}
	for _, a := range d.Addresses {
		if _, _, err := ParseAddress(a); err != nil {
			return fmt.Errorf("device %s: %v: %w", d.Name, err, core.ErrConfigInvalid)
		}
	}
	return nil
}

// Resources returns the hardware resources recorded for the device.
func (d DeviceConfig) Resources() device.Resources {
	return device.Resources{Port: d.Port, IRQ: d.IRQ}
}

// HardwareAddr parses the MAC. Loopback devices default to all zeros.
func (d DeviceConfig) HardwareAddr() (net.HardwareAddr, error) {
	if d.MAC == "" && d.Driver == DriverLoopback {
		return make(net.HardwareAddr, 6), nil
	}
	hw, err := net.ParseMAC(d.MAC)
	if err != nil || len(hw) != 6 {
		return nil, fmt.Errorf("device %s: invalid mac %q", d.Name, d.MAC)
	}
	return hw, nil
}

// RouteConfig describes a static route through a gateway.
type RouteConfig struct {
	Network string `mapstructure:"network" yaml:"network"`
	Mask    string `mapstructure:"mask" yaml:"mask"`
	Gateway string `mapstructure:"gateway" yaml:"gateway"`
}

// Parse returns the route's addresses.
func (r RouteConfig) Parse() (network, mask, gateway netip.Addr, err error) {
	if network, err = parseIPv4(r.Network); err != nil {
		return
	}
	if mask, err = parseIPv4(r.Mask); err != nil {
		return
	}
	gateway, err = parseIPv4(r.Gateway)
	return
}

// ─── Services ───

// ServicesConfig lists the sockets the daemon opens at startup.
type ServicesConfig struct {
	UDPEcho   []uint16 `mapstructure:"udp_echo" yaml:"udp_echo"`     // echo datagrams back to the sender
	TCPListen []uint16 `mapstructure:"tcp_listen" yaml:"tcp_listen"` // answer handshakes
}

// ─── Capture ───

// CaptureConfig controls frame capture.
type CaptureConfig struct {
	PcapFile string `mapstructure:"pcap_file" yaml:"pcap_file"` // empty = disabled
	Filter   string `mapstructure:"filter" yaml:"filter"`       // empty = every frame
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket" yaml:"socket"`
	PIDFile string `mapstructure:"pid_file" yaml:"pid_file"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen          string `mapstructure:"listen" yaml:"listen"`
	Path            string `mapstructure:"path" yaml:"path"`
	CollectInterval string `mapstructure:"collect_interval" yaml:"collect_interval"` // e.g. "5s"
}

// Interval returns the parsed collect interval.
func (m MetricsConfig) Interval() time.Duration {
	d, err := time.ParseDuration(m.CollectInterval)
	if err != nil {
		return defaultCollectInterval
	}
	return d
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

const (
	DefaultSocket  = "/var/run/netcore.sock"
	DefaultPIDFile = "/var/run/netcore.pid"

	defaultCollectInterval = 5 * time.Second
)

// configRoot is the top-level wrapper matching the YAML structure `netcore: ...`.
type configRoot struct {
	Netcore GlobalConfig `mapstructure:"netcore" yaml:"netcore"`
}

// Load loads configuration from file.
// The YAML file uses `netcore:` as root key; env vars map through the key
// replacer (e.g. key "netcore.stack.routing" → env "NETCORE_STACK_ROUTING").
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Netcore

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "netcore." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Stack defaults
	v.SetDefault("netcore.stack.buffers", 256)
	v.SetDefault("netcore.stack.arp_cache_size", 128)
	v.SetDefault("netcore.stack.route_entries", 1024)
	v.SetDefault("netcore.stack.sockets", 1024)
	v.SetDefault("netcore.stack.routing", false)

	// Control defaults
	v.SetDefault("netcore.control.pid_file", DefaultPIDFile)
	v.SetDefault("netcore.control.socket", DefaultSocket)

	// Log defaults
	v.SetDefault("netcore.log.level", "info")
	v.SetDefault("netcore.log.format", "json")
	v.SetDefault("netcore.log.outputs.file.enabled", false)
	v.SetDefault("netcore.log.outputs.file.path", "/var/log/netcore/netcore.log")
	v.SetDefault("netcore.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("netcore.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("netcore.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("netcore.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("netcore.metrics.enabled", true)
	v.SetDefault("netcore.metrics.listen", ":9091")
	v.SetDefault("netcore.metrics.path", "/metrics")
	v.SetDefault("netcore.metrics.collect_interval", "5s")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error): %w", cfg.Log.Level, core.ErrConfigInvalid)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text): %w", cfg.Log.Format, core.ErrConfigInvalid)
	}

	// ── Stack sizes ──
	if cfg.Stack.Buffers < pktbuf.MinBuffers {
		return fmt.Errorf("stack.buffers must be at least %d: %w", pktbuf.MinBuffers, core.ErrConfigInvalid)
	}
	if cfg.Stack.ARPCacheSize <= 0 || cfg.Stack.RouteEntries <= 0 || cfg.Stack.Sockets <= 0 {
		return fmt.Errorf("stack table sizes must be positive: %w", core.ErrConfigInvalid)
	}

	// ── Devices ──
	seen := make(map[string]bool, len(cfg.Devices))
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.Name == "" {
			return fmt.Errorf("devices[%d]: name is required: %w", i, core.ErrConfigInvalid)
		}
		if seen[d.Name] {
			return fmt.Errorf("device %s defined twice: %w", d.Name, core.ErrConfigInvalid)
		}
		seen[d.Name] = true

		if err := d.Validate(); err != nil {
			return err
		}
	}

	// ── Routes ──
	for i, r := range cfg.Routes {
		if _, _, _, err := r.Parse(); err != nil {
			return fmt.Errorf("routes[%d]: %v: %w", i, err, core.ErrConfigInvalid)
		}
	}

	// ── Capture ──
	if cfg.Capture.Filter != "" {
		if _, err := sniffer.CompileFilter(cfg.Capture.Filter); err != nil {
			return fmt.Errorf("%v: %w", err, core.ErrConfigInvalid)
		}
	}

	// ── Metrics ──
	if cfg.Metrics.CollectInterval != "" {
		d, err := time.ParseDuration(cfg.Metrics.CollectInterval)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid metrics.collect_interval %q: %w", cfg.Metrics.CollectInterval, core.ErrConfigInvalid)
		}
	}

	return nil
}

// ParseAddress parses "a.b.c.d/nn" into address and netmask. A bare
// address yields an invalid mask, leaving the choice to the stack.
func ParseAddress(s string) (addr, mask netip.Addr, err error) {
	if !strings.Contains(s, "/") {
		addr, err = parseIPv4(s)
		return addr, netip.Addr{}, err
	}
	p, err := netip.ParsePrefix(s)
	if err != nil || !p.Addr().Is4() {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("invalid address %q", s)
	}
	return p.Addr(), inet.MaskFromPrefixLen(p.Bits()), nil
}

func parseIPv4(s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil || !a.Is4() {
		return netip.Addr{}, fmt.Errorf("invalid IPv4 address %q", s)
	}
	return a, nil
}
