package logging

import (
	"log"
	"os"
)

// Logger is a simple logger that writes to the console. Messages carry an
// optional trailing list of key/value pairs.
type Logger struct {
	*log.Logger
}

// NewLogger creates a new Logger.
func NewLogger() *Logger {
	return &Logger{
		Logger: log.New(os.Stdout, "", log.LstdFlags),
	}
}

func (l *Logger) emit(level, msg string, args []interface{}) {
	if len(args) == 0 {
		l.Printf("%s: %s", level, msg)
		return
	}
	l.Printf("%s: %s %v", level, msg, args)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.emit("INFO", msg, args)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.emit("WARN", msg, args)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.emit("ERROR", msg, args)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.emit("DEBUG", msg, args)
}
