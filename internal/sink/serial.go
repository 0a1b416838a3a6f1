// internal/sink/serial.go
package sink

import (
	"fmt"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/entr0-pi/gnss-ntrip-client/internal/config"
)

// SerialSink forwards correction bytes to the GNSS receiver over a UART.
type SerialSink struct {
	port   serial.Port
	logger *zap.Logger
	mutex  sync.Mutex
	isOpen bool
}

// NewSerial opens the configured serial device for writing.
func NewSerial(cfg config.SinkConfig, logger *zap.Logger) (*SerialSink, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}

	logger.Info("Opening GNSS serial port",
		zap.String("device", cfg.Device),
		zap.Int("baud_rate", cfg.BaudRate),
	)

	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	return &SerialSink{
		port:   port,
		logger: logger.With(zap.String("sink", "serial"), zap.String("device", cfg.Device)),
		isOpen: true,
	}, nil
}

// Write implements io.Writer toward the receiver.
func (s *SerialSink) Write(p []byte) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return 0, fmt.Errorf("serial sink closed")
	}

	n, err := s.port.Write(p)
	if err != nil {
		s.logger.Error("Serial write failed", zap.Error(err))
		return n, fmt.Errorf("serial write failed: %w", err)
	}
	return n, nil
}

// Close shuts the port down.
func (s *SerialSink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return nil
	}
	s.isOpen = false
	if err := s.port.Close(); err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}
