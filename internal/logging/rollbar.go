package logging

import (
	"fmt"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
)

// RollbarConfig configures error reporting.
type RollbarConfig struct {
	Token       string
	Environment string
	Host        string
	CodeVersion string
}

// RollbarLogger forwards warnings and errors to Rollbar and everything to the wrapped logger.
type RollbarLogger struct {
	next Logger
}

var _ Logger = (*RollbarLogger)(nil)

// NewRollbar wraps next. Reporting is disabled when no token is configured.
func NewRollbar(next Logger, conf RollbarConfig) *RollbarLogger {
	rollbar.SetToken(conf.Token)
	rollbar.SetEnvironment(conf.Environment)
	rollbar.SetServerHost(conf.Host)
	rollbar.SetCodeVersion(conf.CodeVersion)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.Token != "")
	return &RollbarLogger{next: next}
}

// report passes the first error argument through so rollbar keeps its stack trace.
func report(level string, format string, args []interface{}) {
	msg := fmt.Sprintf(format, args...)
	for _, arg := range args {
		if err, ok := arg.(error); ok {
			rollbar.Log(level, err, map[string]interface{}{"message": msg})
			return
		}
	}
	rollbar.Log(level, msg)
}

func (l *RollbarLogger) Debugf(format string, args ...interface{}) {
	l.next.Debugf(format, args...)
}

func (l *RollbarLogger) Infof(format string, args ...interface{}) {
	l.next.Infof(format, args...)
}

func (l *RollbarLogger) Warnf(format string, args ...interface{}) {
	report(rollbar.WARN, format, args)
	l.next.Warnf(format, args...)
}

func (l *RollbarLogger) Errorf(format string, args ...interface{}) {
	report(rollbar.ERR, format, args)
	l.next.Errorf(format, args...)
}

// Close flushes pending reports.
func (l *RollbarLogger) Close() {
	rollbar.Close()
}
