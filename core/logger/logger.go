package logger

// Logger is the logging surface used by the dispatch core.
type Logger interface {
	Debugf(format string, args ...any)
	// Debugw logs a message with structured fields.
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	// Warnw logs a warning with structured fields, used for isolated failures
	// that must stay visible (handler errors, notification errors).
	Warnw(msg string, fields map[string]any)
	Errorf(format string, args ...any)
}
