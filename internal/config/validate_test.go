// internal/config/validate_test.go
package config

import (
	"testing"
	"time"
)

// helper to build a valid stream config quickly
func stream() StreamConfig {
	return StreamConfig{
		Host:                "caster.example.net",
		Port:                2101,
		Mount:               "MOUNT1",
		User:                "user",
		Pass:                "pass",
		MaxTries:            5,
		RetryDelay:          30 * time.Second,
		HealthTimeout:       60 * time.Second,
		PassiveSample:       5 * time.Second,
		RequiredValidFrames: 3,
		BufferSize:          1024,
		ConnectTimeout:      5 * time.Second,
		Rev1Fallback:        true,
	}
}

// ---- tests ----

func TestValidateStream_OK(t *testing.T) {
	cfg := stream()
	if err := ValidateStream(&cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateStream_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*StreamConfig)
	}{
		{"empty host", func(c *StreamConfig) { c.Host = "" }},
		{"empty mount", func(c *StreamConfig) { c.Mount = "" }},
		{"zero port", func(c *StreamConfig) { c.Port = 0 }},
		{"port out of range", func(c *StreamConfig) { c.Port = 70000 }},
		{"zero buffer", func(c *StreamConfig) { c.BufferSize = 0 }},
		{"zero connect timeout", func(c *StreamConfig) { c.ConnectTimeout = 0 }},
		{"zero max tries", func(c *StreamConfig) { c.MaxTries = 0 }},
		{"zero health timeout", func(c *StreamConfig) { c.HealthTimeout = 0 }},
		{"zero required frames", func(c *StreamConfig) { c.RequiredValidFrames = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := stream()
			tt.mutate(&cfg)
			if err := ValidateStream(&cfg); err == nil {
				t.Fatalf("expected error, got nil")
			}
		})
	}
}

func TestValidate_SinkSection(t *testing.T) {
	base := Config{
		Stream: stream(),
		Server: ServerConfig{Port: "8072"},
	}

	cfg := base
	cfg.Sink = SinkConfig{Type: "discard"}
	if err := Validate(&cfg); err != nil {
		t.Fatalf("discard sink rejected: %v", err)
	}

	cfg = base
	cfg.Sink = SinkConfig{Type: "serial", Device: "/dev/ttyUSB0", BaudRate: 115200}
	if err := Validate(&cfg); err != nil {
		t.Fatalf("serial sink rejected: %v", err)
	}

	cfg = base
	cfg.Sink = SinkConfig{Type: "serial", BaudRate: 115200}
	if err := Validate(&cfg); err == nil {
		t.Fatal("serial sink without device accepted")
	}

	cfg = base
	cfg.Sink = SinkConfig{Type: "pigeon"}
	if err := Validate(&cfg); err == nil {
		t.Fatal("unknown sink type accepted")
	}
}
