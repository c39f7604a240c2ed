package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		format    Format
		debug     bool
		wantDebug bool
		isJSON    bool
	}{
		{name: "json info", format: FormatJSON, isJSON: true},
		{name: "json debug", format: FormatJSON, debug: true, wantDebug: true, isJSON: true},
		{name: "text info", format: FormatText},
		{name: "unknown format is text", format: "yaml", debug: true, wantDebug: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&buf, tt.format, tt.debug)

			logger.Debug("probe")
			if got := buf.Len() > 0; got != tt.wantDebug {
				t.Errorf("debug line written = %v, want %v", got, tt.wantDebug)
			}

			buf.Reset()
			logger.Info("probe", Operation("create_event"))
			line := strings.TrimSpace(buf.String())
			if got := json.Valid([]byte(line)); got != tt.isJSON {
				t.Errorf("line %q is JSON = %v, want %v", line, got, tt.isJSON)
			}
			if !strings.Contains(line, "create_event") {
				t.Errorf("line %q is missing the operation", line)
			}
		})
	}
}

func TestNew_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, FormatJSON, false)

	logger.Info("token loaded",
		slog.String("access_token", "ya29.a0AfH6SMBx"),
		slog.String("client_secret", "s3cr3t"),
		Backend("google"),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if entry["access_token"] != "[token:15 chars]" {
		t.Errorf("access_token = %v, want masked", entry["access_token"])
	}
	if entry["client_secret"] != "[token:6 chars]" {
		t.Errorf("client_secret = %v, want masked", entry["client_secret"])
	}
	if entry[KeyBackend] != "google" {
		t.Errorf("backend = %v, want google", entry[KeyBackend])
	}
}

func TestIsSecretKey(t *testing.T) {
	tests := map[string]bool{
		"token":         true,
		"refresh_token": true,
		"Authorization": true,
		"db_password":   true,
		"account":       false,
		"event_id":      false,
	}
	for key, want := range tests {
		if got := IsSecretKey(key); got != want {
			t.Errorf("IsSecretKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestWithCall(t *testing.T) {
	var buf bytes.Buffer
	logger := WithCall(slog.New(slog.NewJSONHandler(&buf, nil)), "delete_event", "call-7")
	logger.Info("done", State("committed"), EventID("evt-1"), Status("ok"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	want := map[string]string{
		KeyOperation: "delete_event",
		KeyCallID:    "call-7",
		KeyState:     "committed",
		KeyEventID:   "evt-1",
		KeyStatus:    "ok",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}
}

func TestErr(t *testing.T) {
	attr := Err(errors.New("test error"))
	if attr.Key != KeyError || attr.Value.String() != "test error" {
		t.Errorf("Err() = %v, want %s=test error", attr, KeyError)
	}

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("ok", Err(nil))
	if strings.Contains(buf.String(), KeyError) {
		t.Errorf("Err(nil) should be dropped, got %q", buf.String())
	}
}

func TestAnonymizeEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		empty bool
	}{
		{name: "empty", email: "", empty: true},
		{name: "plain", email: "jane@example.com"},
		{name: "plus address", email: "jane+cal@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnonymizeEmail(tt.email)
			if tt.empty {
				if got != "" {
					t.Errorf("AnonymizeEmail(%q) = %q, want empty", tt.email, got)
				}
				return
			}
			if !strings.HasPrefix(got, "user:") || len(got) != len("user:")+16 {
				t.Errorf("AnonymizeEmail(%q) = %q, want user: and 16 hex chars", tt.email, got)
			}
			if strings.Contains(got, "example.com") {
				t.Errorf("AnonymizeEmail(%q) leaks the address: %q", tt.email, got)
			}
			if again := AnonymizeEmail(tt.email); again != got {
				t.Errorf("AnonymizeEmail is not stable: %q vs %q", got, again)
			}
		})
	}

	if AnonymizeEmail("a@example.com") == AnonymizeEmail("b@example.com") {
		t.Error("different addresses should hash differently")
	}
}

func TestUserHash(t *testing.T) {
	attr := UserHash("jane@example.com")
	if attr.Key != KeyUserHash || attr.Value.String() != AnonymizeEmail("jane@example.com") {
		t.Errorf("UserHash() = %v", attr)
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken(""); got != "<empty>" {
		t.Errorf("SanitizeToken(\"\") = %q", got)
	}
	got := SanitizeToken("eyJhbGciOiJSUzI1NiJ9")
	if got != "[token:20 chars]" {
		t.Errorf("SanitizeToken() = %q, want [token:20 chars]", got)
	}
}
