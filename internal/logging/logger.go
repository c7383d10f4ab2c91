// Package logging provides the leveled logger shared by the agent and the reference backend.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/labstack/gommon/log"
)

// Logger is the logging surface used across the module.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

var _ Logger = (*log.Logger)(nil)

const header = `${time_rfc3339} ${level} ${prefix}`

// New returns a gommon logger writing to stdout with the given component prefix and level name.
func New(prefix, level string) *log.Logger {
	return NewWithOutput(prefix, level, os.Stdout)
}

// NewWithOutput is New with an explicit writer.
func NewWithOutput(prefix, level string, w io.Writer) *log.Logger {
	l := log.New(prefix)
	l.SetHeader(header)
	l.SetOutput(w)
	l.SetLevel(ParseLevel(level))
	return l
}

// ParseLevel maps a config level name to a gommon level. Unknown names fall back to INFO.
func ParseLevel(level string) log.Lvl {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}

type nop struct{}

func (nop) Debugf(string, ...interface{}) {}
func (nop) Infof(string, ...interface{})  {}
func (nop) Warnf(string, ...interface{})  {}
func (nop) Errorf(string, ...interface{}) {}

// Nop discards everything.
func Nop() Logger { return nop{} }
