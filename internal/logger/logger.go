package logger

import (
	"io"
	"log"
	"os"
)

// Logger wraps standard log with a debug flag. Only Fatalf and Errorf write
// when debug is off.
type Logger struct {
	debug bool
	*log.Logger
}

// New creates a logger writing to stderr when debug is set.
func New(debug bool) *Logger {
	var writer io.Writer = io.Discard
	if debug {
		writer = os.Stderr
	}
	return NewWithWriter(debug, writer)
}

// NewWithWriter creates a logger writing to w. Errors are written even when
// debug is off, so w should not be io.Discard unless they are unwanted.
func NewWithWriter(debug bool, w io.Writer) *Logger {
	return &Logger{
		debug:  debug,
		Logger: log.New(w, "", log.LstdFlags),
	}
}

// Debug reports whether debug output is enabled.
func (l *Logger) Debug() bool {
	return l != nil && l.debug
}

// Printf logs if debug is enabled
func (l *Logger) Printf(format string, v ...interface{}) {
	if l.Debug() {
		l.Logger.Printf(format, v...)
	}
}

// Println logs if debug is enabled
func (l *Logger) Println(v ...interface{}) {
	if l.Debug() {
		l.Logger.Println(v...)
	}
}

// Errorf always logs
func (l *Logger) Errorf(format string, v ...interface{}) {
	if l == nil {
		return
	}
	l.Logger.Printf("error: "+format, v...)
}

// Fatalf always logs (fatal errors)
func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.Logger.Fatalf(format, v...)
}
