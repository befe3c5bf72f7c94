package log

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"firestige.xyz/netcore/internal/config"
)

func TestParseLevelValid(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if err != nil {
				t.Errorf("parseLevel(%q) returned error: %v", tt.input, err)
			}
			if level != tt.expected {
				t.Errorf("parseLevel(%q) = %v, expected %v", tt.input, level, tt.expected)
			}
		})
	}
}

func TestParseLevelInvalid(t *testing.T) {
	tests := []string{"invalid", "trace", "fatal", ""}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := parseLevel(input)
			if err == nil {
				t.Errorf("parseLevel(%q) should return error, got nil", input)
			}
		})
	}
}

func TestInitStdoutOnly(t *testing.T) {
	cfg := config.LogConfig{
		Level:  "info",
		Format: "json",
	}

	err := Init(cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	logger := slog.Default()
	if logger == nil {
		t.Fatal("Expected logger to be set, got nil")
	}
}

func TestInitWithFileOutput(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	cfg := config.LogConfig{
		Level:  "debug",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled: true,
				Path:    logPath,
				Rotation: config.RotationConfig{
					MaxSizeMB:  10,
					MaxBackups: 3,
					MaxAgeDays: 7,
					Compress:   true,
				},
			},
		},
	}

	err := Init(cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// Write a log message
	slog.Info("test message", "key", "value")

	// Verify log file exists
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Errorf("Log file was not created at %s", logPath)
	}
}

func TestInitWithInvalidLevel(t *testing.T) {
	cfg := config.LogConfig{
		Level:  "invalid",
		Format: "json",
	}

	err := Init(cfg)
	if err == nil {
		t.Error("Expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("Expected error about invalid log level, got: %v", err)
	}
}

func TestInitWithInvalidFormat(t *testing.T) {
	cfg := config.LogConfig{
		Level:  "info",
		Format: "xml",
	}

	err := Init(cfg)
	if err == nil {
		t.Error("Expected error for invalid log format, got nil")
	}
	if !strings.Contains(err.Error(), "unsupported log format") {
		t.Errorf("Expected error about unsupported format, got: %v", err)
	}
}

func TestInitWithMissingFilePath(t *testing.T) {
	cfg := config.LogConfig{
		Level:  "info",
		Format: "json",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled: true,
				// Missing Path
			},
		},
	}

	err := Init(cfg)
	if err == nil {
		t.Error("Expected error for missing file path, got nil")
	}
	if !strings.Contains(err.Error(), "path") {
		t.Errorf("Expected error about missing path, got: %v", err)
	}
}

func TestCreateFileWriter(t *testing.T) {
	tmpDir := t.TempDir()
	fc := config.FileOutputConfig{
		Enabled: true,
		Path:    filepath.Join(tmpDir, "test.log"),
		Rotation: config.RotationConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}

	writer, err := createFileWriter(fc)
	if err != nil {
		t.Fatalf("createFileWriter failed: %v", err)
	}
	if writer == nil {
		t.Fatal("Expected writer, got nil")
	}

	// Write something to verify it works
	n, err := writer.Write([]byte("test"))
	if err != nil {
		t.Errorf("Write failed: %v", err)
	}
	if n != 4 {
		t.Errorf("Expected 4 bytes written, got %d", n)
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	if err := initWith(config.LogConfig{Level: "warn", Format: "json"}, &buf); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	slog.Info("info message")
	slog.Warn("warn message")
	if strings.Contains(buf.String(), "info message") {
		t.Error("Info message should be filtered out")
	}
	if !strings.Contains(buf.String(), "warn message") {
		t.Error("Warn message should be present")
	}

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	if Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, expected debug", Level())
	}
	slog.Debug("debug message")
	if !strings.Contains(buf.String(), "debug message") {
		t.Error("Debug message should be present after SetLevel")
	}

	if err := SetLevel("verbose"); err == nil {
		t.Error("Expected error for unknown level, got nil")
	}
	if Level() != slog.LevelDebug {
		t.Error("A rejected level must leave the current one in place")
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := initWith(config.LogConfig{Level: "info", Format: "json"}, &buf); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	slog.Info("device added", "device", "eth0", "id", 1)

	output := buf.String()
	if !strings.Contains(output, `"msg":"device added"`) {
		t.Error("JSON output should contain message field")
	}
	if !strings.Contains(output, `"service":"netcore"`) {
		t.Error("JSON output should carry the service attribute")
	}
	if !strings.Contains(output, `"device":"eth0"`) {
		t.Error("JSON output should contain device field")
	}
	if !strings.Contains(output, `"id":1`) {
		t.Error("JSON output should contain id field")
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := initWith(config.LogConfig{Level: "info", Format: "TEXT"}, &buf); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	slog.Info("route added", "network", "10.0.0.0")

	output := buf.String()
	if !strings.Contains(output, "route added") {
		t.Error("Text output should contain message")
	}
	if !strings.Contains(output, "network=10.0.0.0") {
		t.Error("Text output should contain network=10.0.0.0")
	}
}

func TestFileOutputReceivesRecords(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "netcore.log")
	cfg := config.LogConfig{
		Level:  "info",
		Format: "json",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{Enabled: true, Path: logPath},
		},
	}
	if err := initWith(cfg, io.Discard); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	slog.Info("written to file")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file should contain the record, got %q", data)
	}
}
