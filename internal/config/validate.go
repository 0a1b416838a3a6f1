// internal/config/validate.go
package config

import (
	"fmt"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if err := ValidateStream(&cfg.Stream); err != nil {
		return err
	}

	switch cfg.Sink.Type {
	case "serial":
		if cfg.Sink.Device == "" {
			return fmt.Errorf("sink: type is serial but device is empty")
		}
		if cfg.Sink.BaudRate <= 0 {
			return fmt.Errorf("sink: baud_rate must be positive")
		}
	case "discard":
	default:
		return fmt.Errorf("sink: unknown type %q", cfg.Sink.Type)
	}

	if cfg.Server.Port == "" {
		return fmt.Errorf("server: port is empty")
	}

	return nil
}

// ValidateStream checks the stream section on its own. The supervisor calls
// this again on every config it is handed, so a bad runtime update is
// rejected at the same gate as a bad file.
func ValidateStream(cfg *StreamConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("stream: host is empty")
	}
	if cfg.Mount == "" {
		return fmt.Errorf("stream: mount is empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("stream: port %d out of range", cfg.Port)
	}
	if cfg.BufferSize <= 0 {
		return fmt.Errorf("stream: buffer_size must be positive")
	}
	if cfg.ConnectTimeout <= 0 {
		return fmt.Errorf("stream: connect_timeout must be positive")
	}
	if cfg.MaxTries <= 0 {
		return fmt.Errorf("stream: max_tries must be positive")
	}
	if cfg.HealthTimeout <= 0 {
		return fmt.Errorf("stream: health_timeout must be positive")
	}
	if cfg.RequiredValidFrames <= 0 {
		return fmt.Errorf("stream: required_valid_frames must be positive")
	}
	return nil
}
