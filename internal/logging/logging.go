// internal/logging/logging.go
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// Level is the severity of a log line emitted by the stream core.
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelDebug
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	}
	return "unknown"
}

// Func is the logger port of the stream core: a single callback receiving a
// level, a stable short tag and a fully formatted message. A nil Func
// suppresses all output. The core never invokes the callback while holding
// the stats guard.
type Func func(level Level, tag, message string)

// Errorf formats and emits an error-level line. Safe on a nil Func.
func (f Func) Errorf(tag, format string, args ...interface{}) {
	f.emit(LevelError, tag, format, args...)
}

// Warnf formats and emits a warning-level line. Safe on a nil Func.
func (f Func) Warnf(tag, format string, args ...interface{}) {
	f.emit(LevelWarning, tag, format, args...)
}

// Infof formats and emits an info-level line. Safe on a nil Func.
func (f Func) Infof(tag, format string, args ...interface{}) {
	f.emit(LevelInfo, tag, format, args...)
}

// Debugf formats and emits a debug-level line. Safe on a nil Func.
func (f Func) Debugf(tag, format string, args ...interface{}) {
	f.emit(LevelDebug, tag, format, args...)
}

func (f Func) emit(level Level, tag, format string, args ...interface{}) {
	if f == nil {
		return
	}
	f(level, tag, fmt.Sprintf(format, args...))
}

// Zap adapts a zap logger to the Func port. The tag is attached as a
// structured field.
func Zap(logger *zap.Logger) Func {
	return func(level Level, tag, message string) {
		l := logger.With(zap.String("tag", tag))
		switch level {
		case LevelError:
			l.Error(message)
		case LevelWarning:
			l.Warn(message)
		case LevelInfo:
			l.Info(message)
		case LevelDebug:
			l.Debug(message)
		}
	}
}
