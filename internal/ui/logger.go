package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Logger provides color-coded leveled logging on stderr.
type Logger struct {
	Verbose bool
	Quiet   bool
	NoColor bool
}

// NewLogger creates a new logger
func NewLogger(verbose, quiet, noColor bool) *Logger {
	if noColor {
		color.NoColor = true
	}
	return &Logger{
		Verbose: verbose,
		Quiet:   quiet,
		NoColor: noColor,
	}
}

var (
	infoColor    = color.New(color.FgBlue)
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	debugColor   = color.New(color.FgCyan)
)

func (l *Logger) print(c *color.Color, prefix, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, c.Sprint(prefix+msg))
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.Quiet {
		return
	}
	l.print(infoColor, "[INFO] ", format, args...)
}

// Success logs a success message
func (l *Logger) Success(format string, args ...interface{}) {
	if l.Quiet {
		return
	}
	l.print(successColor, "[SUCCESS] ", format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.print(warningColor, "[WARNING] ", format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.print(errorColor, "[ERROR] ", format, args...)
}

// Debug logs a debug message (only if verbose is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.Verbose {
		return
	}
	l.print(debugColor, "[DEBUG] ", format, args...)
}
