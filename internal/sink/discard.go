// internal/sink/discard.go
package sink

import "io"

// Discard returns a sink that drops everything. Used when running without a
// GNSS receiver attached, e.g. for monitoring a caster.
func Discard() io.Writer {
	return io.Discard
}
