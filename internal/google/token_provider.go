package google

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-oauth/storage"
)

// TokenProvider is an interface for providing OAuth tokens for Google APIs
// This abstraction allows different token sources (file-based, OAuth store, etc.)
type TokenProvider interface {
	// GetTokenForAccount retrieves an OAuth token for the specified account
	GetTokenForAccount(ctx context.Context, account string) (*oauth2.Token, error)

	// HasTokenForAccount checks if a token exists for the specified account
	HasTokenForAccount(account string) bool
}

// FileTokenProvider provides tokens from disk files (for STDIO transport)
type FileTokenProvider struct{}

// NewFileTokenProvider creates a new file-based token provider
func NewFileTokenProvider() *FileTokenProvider {
	return &FileTokenProvider{}
}

// GetTokenForAccount retrieves a token from disk for the specified account
func (p *FileTokenProvider) GetTokenForAccount(_ context.Context, account string) (*oauth2.Token, error) {
	if err := validateAccountName(account); err != nil {
		return nil, err
	}
	token, err := ReadTokenFile(getTokenFilePath(account))
	if err != nil {
		return nil, fmt.Errorf("failed to get token from file: %w", err)
	}
	return token, nil
}

// HasTokenForAccount checks if a token file exists for the specified account
func (p *FileTokenProvider) HasTokenForAccount(account string) bool {
	return HasTokenForAccount(account)
}

// StoreTokenProvider serves tokens out of an mcp-oauth TokenStore. It backs
// the HTTP transport, where an upstream OAuth layer saves tokens per user.
type StoreTokenProvider struct {
	store storage.TokenStore
}

// NewStoreTokenProvider creates a token provider from an mcp-oauth TokenStore.
func NewStoreTokenProvider(store storage.TokenStore) *StoreTokenProvider {
	return &StoreTokenProvider{store: store}
}

// GetTokenForAccount retrieves the token saved for account.
func (p *StoreTokenProvider) GetTokenForAccount(ctx context.Context, account string) (*oauth2.Token, error) {
	token, err := p.store.GetToken(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("no Google OAuth token found for account %s: %w", account, err)
	}
	return token, nil
}

// HasTokenForAccount checks if a token exists in the store for account.
func (p *StoreTokenProvider) HasTokenForAccount(account string) bool {
	_, err := p.store.GetToken(context.Background(), account)
	return err == nil
}

// SaveToken stores a token for account.
func (p *StoreTokenProvider) SaveToken(ctx context.Context, account string, token *oauth2.Token) error {
	return p.store.SaveToken(ctx, account, token)
}

// ChainTokenProvider asks each provider in order and returns the first token.
type ChainTokenProvider []TokenProvider

// GetTokenForAccount returns the first token any provider has for account.
func (c ChainTokenProvider) GetTokenForAccount(ctx context.Context, account string) (*oauth2.Token, error) {
	var lastErr error
	for _, p := range c {
		if p == nil || !p.HasTokenForAccount(account) {
			continue
		}
		token, err := p.GetTokenForAccount(ctx, account)
		if err == nil {
			return token, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%s", GetAuthenticationErrorMessage(account))
}

// HasTokenForAccount reports whether any provider has a token for account.
func (c ChainTokenProvider) HasTokenForAccount(account string) bool {
	for _, p := range c {
		if p != nil && p.HasTokenForAccount(account) {
			return true
		}
	}
	return false
}

// SeedFromEnv saves the token in GOOGLE_TOKEN_JSON, if any, under account.
// It returns false when the variable is unset.
func (p *StoreTokenProvider) SeedFromEnv(ctx context.Context, account string) (bool, error) {
	raw := os.Getenv("GOOGLE_TOKEN_JSON")
	if raw == "" {
		return false, nil
	}
	token, err := ParseToken([]byte(raw))
	if err != nil {
		return false, fmt.Errorf("failed to parse GOOGLE_TOKEN_JSON: %w", err)
	}
	if err := p.SaveToken(ctx, account, token); err != nil {
		return false, fmt.Errorf("failed to store token for account %s: %w", account, err)
	}
	return true, nil
}
