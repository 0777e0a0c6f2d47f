// Package axlog is the logging facade used across axnet. Adapters live in
// the slog_adapter and zap_adapter subpackages.
package axlog

// Logger is a leveled key/value logger.
type Logger interface {
	Info(msg string, keyValues ...any)
	Error(msg string, keyValues ...any)
	Debug(msg string, keyValues ...any)
	Warn(msg string, keyValues ...any)
	// With returns a logger that adds keyValues to every record.
	With(keyValues ...any) Logger
}

type nop struct{}

func (nop) Info(string, ...any)  {}
func (nop) Error(string, ...any) {}
func (nop) Debug(string, ...any) {}
func (nop) Warn(string, ...any)  {}
func (n nop) With(...any) Logger { return n }

// Nop returns a logger that discards everything.
func Nop() Logger {
	return nop{}
}

// OrNop returns l, or Nop when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}
