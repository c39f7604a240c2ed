package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Attribute keys shared by the dispatcher, the tool layer and the audit log.
const (
	KeyOperation = "operation"
	KeyBackend   = "backend"
	KeyAccount   = "account"
	KeyCallID    = "call_id"
	KeyState     = "state"
	KeyUserHash  = "user_hash"
	KeyDuration  = "duration"
	KeyStatus    = "status"
	KeyError     = "error"
	KeyTool      = "tool"
	KeyEventID   = "event_id"
)

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// New returns a logger writing to w. Attributes whose key names a secret
// (see IsSecretKey) are replaced by SanitizeToken before they are written.
func New(w io.Writer, format Format, debug bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       slog.LevelInfo,
		ReplaceAttr: redactSecrets,
	}
	if debug {
		opts.Level = slog.LevelDebug
	}
	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// IsSecretKey reports whether an attribute key holds a credential.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range []string{"token", "secret", "password", "authorization"} {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString && IsSecretKey(a.Key) {
		return slog.String(a.Key, SanitizeToken(a.Value.String()))
	}
	return a
}

// WithCall scopes logger to a single tool call.
func WithCall(logger *slog.Logger, operation, callID string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation), slog.String(KeyCallID, callID))
}

func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

func Backend(backend string) slog.Attr { return slog.String(KeyBackend, backend) }

// State is a dispatch state such as validated or committed.
func State(state string) slog.Attr { return slog.String(KeyState, state) }

func EventID(id string) slog.Attr { return slog.String(KeyEventID, id) }

func Status(status string) slog.Attr { return slog.String(KeyStatus, status) }

// Err returns the error attribute, or an empty group that slog drops when err
// is nil, so Err(maybeNil) can be passed unconditionally.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail returns a stable short hash of email so log lines of one
// user can be correlated without recording the address.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email))
	return "user:" + hex.EncodeToString(sum[:8])
}

func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}

// SanitizeToken keeps only the length of a token.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}
