// Package google provides OAuth2 token access for the Google Calendar backend.
//
// Tokens are acquired by an external OAuth layer; this package only reads them.
// Three sources are supported behind the TokenProvider interface:
//   - FileTokenProvider: token files in the user cache directory (STDIO transport)
//   - StoreTokenProvider: an mcp-oauth TokenStore, optionally seeded from
//     GOOGLE_TOKEN_JSON (HTTP transport)
//   - ChainTokenProvider: tries several providers in order
package google
