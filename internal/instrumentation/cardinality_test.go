package instrumentation

import "testing"

func TestExtractUserDomain(t *testing.T) {
	for email, want := range map[string]string{
		"jane@example.com":          "example.com",
		"ops@calendars.example.org": "calendars.example.org",
		"no-at-sign":                "unknown",
		"":                          "unknown",
		"@":                         "unknown",
		"trailing@":                 "unknown",
		"@example.net":              "example.net",
		"two@at@signs.example.com":  "unknown",
	} {
		if got := ExtractUserDomain(email); got != want {
			t.Errorf("ExtractUserDomain(%q) = %q, want %q", email, got, want)
		}
	}
}

func TestAccountLabel(t *testing.T) {
	for account, want := range map[string]string{
		"":                 "default",
		"default":          "default",
		"work":             "work",
		"jane@example.com": "example.com",
		"broken@":          "unknown",
	} {
		if got := AccountLabel(account); got != want {
			t.Errorf("AccountLabel(%q) = %q, want %q", account, got, want)
		}
	}
}
