// Package alog is a minimal leveled logger in the style of rclone's
// fs.Debugf/fs.Infof/fs.Errorf free functions: the first argument is the
// subject the message is about (typically a fmt.Stringer such as a URN),
// the rest is a format string and its arguments.
package alog

import (
	"fmt"
	"log"
	"os"
)

// Level controls which messages are emitted.
type Level int

// Levels, lowest to highest severity.
const (
	Debug Level = iota
	Info
	Error
)

var (
	current = Info
	out     = log.New(os.Stderr, "", log.LstdFlags)
)

// SetLevel changes the minimum level that will be logged. Embedders call
// this instead of reaching for a CLI flag, since the core has no command
// line surface (spec §1, §6).
func SetLevel(l Level) {
	current = l
}

func logf(l Level, prefix string, subject any, format string, args ...any) {
	if l < current {
		return
	}
	msg := fmt.Sprintf(format, args...)
	out.Printf("%s: %v: %s", prefix, subject, msg)
}

// Debugf logs a debug-level message about subject.
func Debugf(subject any, format string, args ...any) {
	logf(Debug, "DEBUG", subject, format, args...)
}

// Infof logs an info-level message about subject.
func Infof(subject any, format string, args ...any) {
	logf(Info, "INFO", subject, format, args...)
}

// Errorf logs an error-level message about subject.
func Errorf(subject any, format string, args ...any) {
	logf(Error, "ERROR", subject, format, args...)
}
