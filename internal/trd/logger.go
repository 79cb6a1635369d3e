package trd

// Logger provides structured logging for the core components.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger is a Logger that discards all output. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// attrLogger prepends fixed attributes to every record.
type attrLogger struct {
	l     Logger
	attrs []any
}

// With returns a Logger that adds args to every record.
func With(l Logger, args ...any) Logger {
	if l == nil {
		return NewNopLogger()
	}
	if al, ok := l.(*attrLogger); ok {
		return &attrLogger{l: al.l, attrs: append(append([]any{}, al.attrs...), args...)}
	}
	return &attrLogger{l: l, attrs: args}
}

// WithComponent returns a Logger that adds component=<name> to every record.
func WithComponent(l Logger, name string) Logger {
	return With(l, "component", name)
}

func (a *attrLogger) args(args []any) []any {
	return append(append([]any{}, a.attrs...), args...)
}

func (a *attrLogger) Debug(msg string, args ...any) { a.l.Debug(msg, a.args(args)...) }
func (a *attrLogger) Info(msg string, args ...any)  { a.l.Info(msg, a.args(args)...) }
func (a *attrLogger) Warn(msg string, args ...any)  { a.l.Warn(msg, a.args(args)...) }
func (a *attrLogger) Error(msg string, args ...any) { a.l.Error(msg, a.args(args)...) }
