package instrumentation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/teemow/calmcp/internal/logging"
)

// ToolInvocation is the audit record of one MCP tool call. UserEmail is PII;
// it is only written out by an AuditLogger configured with IncludePII.
type ToolInvocation struct {
	Tool      string
	UserEmail string

	Account   string
	Backend   string
	Operation string
	CallID    string
	// Outcome is the dispatch status, e.g. committed or conflict.
	Outcome  string
	Replayed bool

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// NewToolInvocation starts the clock for a call to tool.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{Tool: tool, StartTime: time.Now()}
}

func (ti *ToolInvocation) WithUser(email string) *ToolInvocation {
	ti.UserEmail = email
	return ti
}

func (ti *ToolInvocation) WithAccount(account string) *ToolInvocation {
	ti.Account = account
	return ti
}

func (ti *ToolInvocation) WithOperation(backend, operation string) *ToolInvocation {
	ti.Backend = backend
	ti.Operation = operation
	return ti
}

func (ti *ToolInvocation) WithCallID(id string) *ToolInvocation {
	ti.CallID = id
	return ti
}

// WithOutcome records the dispatch status and whether the result came from
// the idempotency cache.
func (ti *ToolInvocation) WithOutcome(outcome string, replayed bool) *ToolInvocation {
	ti.Outcome = outcome
	ti.Replayed = replayed
	return ti
}

// WithSpanContext copies the trace and span ids of the active span.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	ti.TraceID, ti.SpanID = SpanIDs(ctx)
	return ti
}

// Complete stops the clock.
func (ti *ToolInvocation) Complete(success bool, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

func (ti *ToolInvocation) CompleteWithError(err error) *ToolInvocation { return ti.Complete(false, err) }

func (ti *ToolInvocation) CompleteSuccess() *ToolInvocation { return ti.Complete(true, nil) }

func (ti *ToolInvocation) UserDomain() string {
	return ExtractUserDomain(ti.UserEmail)
}

// Status is the metric label for the call.
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs are safe for general logs: the user is reduced to a domain and a
// hash, the default account and the call id are left out.
func (ti *ToolInvocation) LogAttrs() []slog.Attr {
	return ti.attrs(false)
}

// LogAuditAttrs include the full user e-mail, the call id and the span id.
func (ti *ToolInvocation) LogAuditAttrs() []slog.Attr {
	return ti.attrs(true)
}

func (ti *ToolInvocation) attrs(pii bool) []slog.Attr {
	out := []slog.Attr{slog.String(logging.KeyTool, ti.Tool)}
	if pii {
		out = append(out, slog.String("user", ti.UserEmail))
	} else {
		out = append(out, slog.String("user_domain", ti.UserDomain()))
		if ti.UserEmail != "" {
			out = append(out, logging.UserHash(ti.UserEmail))
		}
	}
	out = append(out,
		slog.Duration(logging.KeyDuration, ti.Duration),
		slog.Bool("success", ti.Success),
	)

	if ti.Account != "" && (pii || ti.Account != "default") {
		out = append(out, slog.String(logging.KeyAccount, ti.Account))
	}
	if ti.Backend != "" {
		out = append(out, slog.String(logging.KeyBackend, ti.Backend))
	}
	if ti.Operation != "" {
		out = append(out, slog.String(logging.KeyOperation, ti.Operation))
	}
	if ti.Outcome != "" {
		out = append(out, slog.String("outcome", ti.Outcome))
	}
	if ti.Replayed {
		out = append(out, slog.Bool("replayed", true))
	}
	if pii && ti.CallID != "" {
		out = append(out, slog.String(logging.KeyCallID, ti.CallID))
	}
	if ti.TraceID != "" {
		out = append(out, slog.String("trace_id", ti.TraceID))
	}
	if pii && ti.SpanID != "" {
		out = append(out, slog.String("span_id", ti.SpanID))
	}
	if ti.Error != "" {
		out = append(out, slog.String(logging.KeyError, ti.Error))
	}
	return out
}

// AuditLogger writes one record per tool call. Successful calls are logged
// at the configured level, failed calls at warn or above.
type AuditLogger struct {
	logger     *slog.Logger
	level      slog.Level
	includePII bool
	enabled    bool
}

// NewAuditLogger returns an audit logger for config. A nil logger means
// slog.Default().
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger.With(slog.String("component", "audit")),
		level:      parseAuditLevel(config.LogLevel),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

func parseAuditLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// LogToolInvocation writes ti as tool_executed or tool_failed.
func (al *AuditLogger) LogToolInvocation(ctx context.Context, ti *ToolInvocation) {
	if al == nil || !al.enabled {
		return
	}

	msg, level := "tool_executed", al.level
	if !ti.Success {
		msg = "tool_failed"
		level = max(level, slog.LevelWarn)
	}
	attrs := ti.LogAttrs()
	if al.includePII {
		attrs = ti.LogAuditAttrs()
	}
	al.logger.LogAttrs(ctx, level, msg, attrs...)
}
