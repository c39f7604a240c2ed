package google

// DefaultOAuthScopes are the Google OAuth scopes the calendar backend needs.
// Tokens handed in by the external OAuth layer must carry them.
var DefaultOAuthScopes = []string{
	// OpenID Connect scopes (required for user info)
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",

	// Google Calendar scope (events and free/busy)
	"https://www.googleapis.com/auth/calendar",
}
