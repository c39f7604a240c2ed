package instrumentation

import "strings"

// ExtractUserDomain extracts the domain part from an email address.
// This reduces cardinality by using the domain instead of the full email.
//
// Example:
//
//	ExtractUserDomain("jane@example.com")  // "example.com"
//	ExtractUserDomain("invalid")           // "unknown"
//	ExtractUserDomain("")                  // "unknown"
func ExtractUserDomain(email string) string {
	if email == "" {
		return "unknown"
	}

	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return parts[1]
	}

	return "unknown"
}

// AccountLabel returns a low-cardinality label for an account name: e-mail
// accounts are reduced to their domain, named accounts are kept.
func AccountLabel(account string) string {
	if account == "" {
		return "default"
	}
	if strings.Contains(account, "@") {
		return ExtractUserDomain(account)
	}
	return account
}

// Calendar gateway operation names used as metric and span labels.
const (
	OperationFetchWindow = "fetch_window"
	OperationGet         = "get"
	OperationCreate      = "create"
	OperationUpdate      = "update"
	OperationDelete      = "delete"
	OperationFreeBusy    = "freebusy"
)
