package logging

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// CronLogger adapts an slog.Logger to cron.Logger so scheduler activity and
// recovered job panics end up in the structured log.
type CronLogger struct {
	logger *slog.Logger
}

var _ cron.Logger = (*CronLogger)(nil)

// NewCronLogger wraps logger. If logger is nil, slog.Default() is used.
func NewCronLogger(logger *slog.Logger) *CronLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &CronLogger{logger: logger.With(slog.String("component", "scheduler"))}
}

// Info logs cron's routine messages (start, wake, run) at debug level.
// Arguments are alternating key-value pairs.
func (c *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug(msg, keysAndValues...)
}

// Error logs a scheduler error, including panics recovered from jobs.
func (c *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error(msg, append(keysAndValues, KeyError, err)...)
}

// Logger returns the underlying slog.Logger.
func (c *CronLogger) Logger() *slog.Logger {
	return c.logger
}
