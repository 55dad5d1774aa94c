package subsync

// Field is a key/value pair attached to a log entry, such as a subscription id or the
// cache tags of an invalidation.
type Field struct {
	Key   string
	Value any
}

// Logger receives the structured events of reconciliation, caching and invalidation.
// Reconcilers log each snapshot at Info, ignored organization changes and cache bypasses at
// Warn, and failed transactions and invalidations at Error. Debug carries per-tag detail.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// NoopLogger discards every event. It is the default when no Logger is configured.
type NoopLogger struct{}

func (*NoopLogger) Debug(string, ...Field) {}
func (*NoopLogger) Info(string, ...Field)  {}
func (*NoopLogger) Warn(string, ...Field)  {}
func (*NoopLogger) Error(string, ...Field) {}
