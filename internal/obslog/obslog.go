// Package obslog is the core's ambient structured-logging surface (§2.2):
// a small Logger interface, shaped after wazero's experimental/logging
// FunctionListener event vocabulary but leveled and structured, with a
// default implementation backed by go.uber.org/zap's SugaredLogger.
//
// Grounded on open-policy-agent-opa's logging/plugins/ozap, which wraps a
// *zap.Logger behind the project's own Logger interface rather than
// importing zap types into call sites directly; obslog follows the same
// seam so the engine/linker/component packages never import zap
// themselves.
package obslog

import "go.uber.org/zap"

// Logger is the structured logging surface used at instantiation, trap,
// fuel-exhaustion, and integrity-failure boundaries — never on the
// per-opcode dispatch path (§2.2).
type Logger interface {
	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
	With(kv ...interface{}) Logger
}

// zapLogger adapts a *zap.SugaredLogger to Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZap wraps an existing *zap.Logger as a Logger, matching ozap.Wrap's
// "wrap this zap Logger" signature generalized to a SugaredLogger so call
// sites can pass loosely-typed key/value pairs instead of zap.Field values.
func NewZap(l *zap.Logger) Logger {
	return &zapLogger{s: l.Sugar()}
}

// NewProduction builds a default zap production logger (JSON encoding,
// info level) wrapped as a Logger. Returns a no-op Logger if zap's own
// construction fails (it only fails on a misconfigured global registry,
// never in this core's own code paths).
func NewProduction() Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return Nop()
	}
	return NewZap(l)
}

func (z *zapLogger) Debugw(msg string, kv ...interface{}) { z.s.Debugw(msg, kv...) }
func (z *zapLogger) Infow(msg string, kv ...interface{})  { z.s.Infow(msg, kv...) }
func (z *zapLogger) Warnw(msg string, kv ...interface{})  { z.s.Warnw(msg, kv...) }
func (z *zapLogger) Errorw(msg string, kv ...interface{}) { z.s.Errorw(msg, kv...) }
func (z *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{s: z.s.With(kv...)}
}

// nopLogger discards everything; used when no Logger is configured so
// call sites never need a nil check.
type nopLogger struct{}

// Nop returns a Logger that discards every call.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debugw(string, ...interface{}) {}
func (nopLogger) Infow(string, ...interface{})  {}
func (nopLogger) Warnw(string, ...interface{})  {}
func (nopLogger) Errorw(string, ...interface{}) {}
func (nopLogger) With(...interface{}) Logger    { return nopLogger{} }
