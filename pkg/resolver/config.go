package resolver

import (
	"errors"
	"log/slog"

	"github.com/govatlas/core/pkg/trace"
)

// TraceMode names a trace collector mode (§6). NewResolver validates the
// configured value but does not build a collector from it: the mode in
// effect is that of the trace.Emitter the caller passes in.
type TraceMode string

const (
	TraceModeImmediate TraceMode = "immediate"
	TraceModeDeferred  TraceMode = "deferred"
	TraceModeBuffered  TraceMode = "buffered"
)

// Config is the configuration record from §6, with defaults matching the
// documented values.
//
// Grounded on the accumulated-field-error config-validation style observed
// in the wider example pack (ashita-ai-akashi/internal/config/config.go's
// collectInt/collectBool/Validate pattern), adapted to this module's own
// config shape. No environment-variable loader is added here: the core is
// an embeddable library, not a standalone service; cmd/atlasctl
// demonstrates that boundary with flag parsing instead.
type Config struct {
	DefaultResolutionTTLSeconds  int
	ClockSkewToleranceSeconds    int
	TraceMode                    TraceMode
	BufferCapacity               int // buffered mode only
	BufferFlushIntervalMS        int
	SessionIdleTimeoutSeconds    int

	// Logger is an optional structured logger, defaulting to slog.Default()
	// when nil. The resolver writes no log records through it; outcomes are
	// reported through returned errors and TRACE events.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with every documented default (§6).
func DefaultConfig() Config {
	return Config{
		DefaultResolutionTTLSeconds: 300,
		ClockSkewToleranceSeconds:   300,
		TraceMode:                   TraceModeImmediate,
		BufferCapacity:              1024,
		BufferFlushIntervalMS:       100,
		SessionIdleTimeoutSeconds:   1800,
	}
}

// Validate accumulates every invalid field into one error rather than
// failing on the first.
func (c Config) Validate() error {
	var errs []error
	if c.DefaultResolutionTTLSeconds <= 0 {
		errs = append(errs, errors.New("resolver: DefaultResolutionTTLSeconds must be positive"))
	}
	if c.ClockSkewToleranceSeconds < 0 {
		errs = append(errs, errors.New("resolver: ClockSkewToleranceSeconds must not be negative"))
	}
	switch c.TraceMode {
	case TraceModeImmediate, TraceModeDeferred, TraceModeBuffered:
	default:
		errs = append(errs, errors.New("resolver: TraceMode must be immediate, deferred, or buffered"))
	}
	if c.TraceMode == TraceModeBuffered && c.BufferCapacity <= 0 {
		errs = append(errs, errors.New("resolver: BufferCapacity must be positive in buffered mode"))
	}
	if c.TraceMode == TraceModeBuffered && c.BufferFlushIntervalMS <= 0 {
		errs = append(errs, errors.New("resolver: BufferFlushIntervalMS must be positive in buffered mode"))
	}
	if c.SessionIdleTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("resolver: SessionIdleTimeoutSeconds must be positive"))
	}
	return errors.Join(errs...)
}

// collectorMode maps the configured TraceMode to the underlying
// trace.Collector mode. Buffered mode wraps an immediate-mode collector.
func (c Config) collectorMode() trace.Mode {
	if c.TraceMode == TraceModeDeferred {
		return trace.ModeDeferred
	}
	return trace.ModeImmediate
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
