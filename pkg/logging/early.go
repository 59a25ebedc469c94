package logging

import (
	"fmt"
	"io"
	"os"
)

// EarlyLog writes plain-text lines before the structured logger exists
// (flag parsing, config loading).
type EarlyLog struct {
	component string
	out       io.Writer
	err       io.Writer
	exit      func(int)
}

func NewEarlyLog(component string) *EarlyLog {
	return &EarlyLog{component: component, out: os.Stdout, err: os.Stderr, exit: os.Exit}
}

func (l *EarlyLog) line(w io.Writer, level, msg string, args ...interface{}) {
	fmt.Fprintf(w, "%s [%s] %s\n", level, l.component, fmt.Sprintf(msg, args...))
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.line(l.err, "ERROR", msg, args...)
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	l.line(l.err, "FATAL", msg, args...)
	l.exit(1)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.line(l.err, "WARN", msg, args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.line(l.out, "INFO", msg, args...)
}
