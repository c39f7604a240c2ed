package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// appName names the per-user cache directory that holds token files.
const appName = "calmcp"

var accountNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateAccountName ensures an account name is safe to use in a file name.
func validateAccountName(account string) error {
	if account == "" {
		return fmt.Errorf("account name cannot be empty")
	}
	if !accountNamePattern.MatchString(account) {
		return fmt.Errorf("invalid account name %q: only letters, digits, '-' and '_' are allowed", account)
	}
	return nil
}

// getTokenFilePath returns the token file for an account.
func getTokenFilePath(account string) string {
	return filepath.Join(userCacheDir(), appName, fmt.Sprintf("google-%s.token", account))
}

// HasTokenForAccount checks if a token file exists for the specified account.
func HasTokenForAccount(account string) bool {
	if err := validateAccountName(account); err != nil {
		return false
	}
	_, err := os.Stat(getTokenFilePath(account))
	return err == nil
}

// ReadTokenFile loads a token written by the external OAuth layer. Both the
// JSON form of oauth2.Token and the legacy "access refresh" pair are accepted.
func ReadTokenFile(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	return ParseToken(data)
}

// ParseToken decodes a token from JSON or from the legacy two-field format.
func ParseToken(data []byte) (*oauth2.Token, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("empty token")
	}

	if strings.HasPrefix(trimmed, "{") {
		var tok oauth2.Token
		if err := json.Unmarshal([]byte(trimmed), &tok); err != nil {
			return nil, fmt.Errorf("invalid token JSON: %w", err)
		}
		if tok.AccessToken == "" && tok.RefreshToken == "" {
			return nil, fmt.Errorf("token JSON has neither access nor refresh token")
		}
		if tok.TokenType == "" {
			tok.TokenType = "Bearer"
		}
		return &tok, nil
	}

	f := strings.Fields(trimmed)
	if len(f) != 2 {
		return nil, fmt.Errorf("invalid token format")
	}
	return &oauth2.Token{
		AccessToken:  f[0],
		TokenType:    "Bearer",
		RefreshToken: f[1],
		Expiry:       time.Unix(1, 0),
	}, nil
}

// OAuthConfig returns the OAuth2 client configuration used to refresh tokens,
// or nil when no client credentials are configured. Acquiring tokens is left
// to the external OAuth layer.
func OAuthConfig() *oauth2.Config {
	clientID := os.Getenv("GOOGLE_CLIENT_ID")
	clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       DefaultOAuthScopes,
	}
}

// GetAuthenticationErrorMessage returns the message shown to the agent when an
// account has no usable token.
func GetAuthenticationErrorMessage(account string) string {
	return fmt.Sprintf(`Google OAuth token not found for account %q.

Authenticate through your MCP client's OAuth flow, or place a token at
  %s
or provide it in the GOOGLE_TOKEN_JSON environment variable.`, account, getTokenFilePath(account))
}

// HTTPClientForAccount returns an HTTP client authorized for account.
// The client is configured to use HTTP/1.1 to avoid HTTP/2 protocol errors.
func HTTPClientForAccount(ctx context.Context, provider TokenProvider, account string) (*http.Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("token provider cannot be nil")
	}

	token, err := provider.GetTokenForAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to get Google OAuth token for account %s: %w", account, err)
	}

	var ts oauth2.TokenSource
	if conf := OAuthConfig(); conf != nil {
		ts = conf.TokenSource(ctx, token)
	} else {
		ts = oauth2.StaticTokenSource(token)
	}

	// Force HTTP/1.1 by disabling HTTP/2
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(token, ts),
			Base: &http.Transport{
				Proxy:             http.ProxyFromEnvironment,
				ForceAttemptHTTP2: false,
			},
		},
	}, nil
}

func userCacheDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Caches")
	case "windows":
		for _, ev := range []string{"TEMP", "TMP"} {
			if v := os.Getenv(ev); v != "" {
				return v
			}
		}
		return homeDir()
	}
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return xdg
	}
	return filepath.Join(homeDir(), ".cache")
}

func homeDir() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("HOMEDRIVE") + os.Getenv("HOMEPATH")
	}
	return os.Getenv("HOME")
}
