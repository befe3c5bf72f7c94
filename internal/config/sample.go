package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Default returns the configuration Load produces for a file holding only
// a loopback device.
func Default() GlobalConfig {
	return GlobalConfig{
		Stack: StackConfig{
			Buffers:      256,
			ARPCacheSize: 128,
			RouteEntries: 1024,
			Sockets:      1024,
		},
		Devices: []DeviceConfig{
			{Name: "lo", Driver: DriverLoopback, MAC: "00:00:00:00:00:00", Addresses: []string{"127.0.0.1/8"}},
		},
		Routes:   []RouteConfig{},
		Services: ServicesConfig{UDPEcho: []uint16{7}, TCPListen: []uint16{}},
		Control:  ControlConfig{Socket: DefaultSocket, PIDFile: DefaultPIDFile},
		Metrics: MetricsConfig{
			Enabled:         true,
			Listen:          ":9091",
			Path:            "/metrics",
			CollectInterval: "5s",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Outputs: LogOutputsConfig{File: FileOutputConfig{
				Path:     "/var/log/netcore/netcore.log",
				Rotation: RotationConfig{MaxSizeMB: 100, MaxAgeDays: 30, MaxBackups: 5, Compress: true},
			}},
		},
	}
}

// WriteSample renders cfg as a YAML config file under the `netcore:` root
// key.
func WriteSample(w io.Writer, cfg GlobalConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(configRoot{Netcore: cfg}); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
