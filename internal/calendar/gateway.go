package calendar

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by a Gateway when the target event does not exist.
var ErrNotFound = errors.New("not found")

// Gateway is the narrow contract the dispatcher uses to read and write events
// on a remote calendar backend. Implementations must return ErrNotFound
// (possibly wrapped) for missing targets and *BackendError for anything else.
type Gateway interface {
	// FetchWindow returns all events intersecting r. Recurring templates may be
	// returned unexpanded.
	FetchWindow(ctx context.Context, r TimeRange) ([]Event, error)

	// Get returns a single event by identifier.
	Get(ctx context.Context, id string) (Event, error)

	// Create commits a new event and returns it with its assigned identifier.
	Create(ctx context.Context, e Event) (Event, error)

	// Update applies a partial change to an existing event.
	Update(ctx context.Context, id string, p EventPatch) (Event, error)

	// Delete removes an event.
	Delete(ctx context.Context, id string) error
}

// FreeBusyChecker is implemented by gateways that can report busy windows of
// other calendars (attendees).
type FreeBusyChecker interface {
	FreeBusy(ctx context.Context, r TimeRange, attendees []string) (map[string][]TimeRange, error)
}

// BackendError wraps any transport, authorization or remote validation
// failure of a gateway operation.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError wraps err unless it is nil or already a not-found error.
func NewBackendError(backend, op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Backend: backend, Op: op, Err: err}
}

// Credential is the opaque per-call handle identifying whose calendar a
// gateway operation acts on. It is established by the external OAuth layer.
type Credential struct {
	Account string
}

type credentialKey struct{}

// WithCredential returns a context carrying cred.
func WithCredential(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, cred)
}

// CredentialFromContext returns the credential attached to ctx, defaulting to
// the "default" account.
func CredentialFromContext(ctx context.Context) Credential {
	if cred, ok := ctx.Value(credentialKey{}).(Credential); ok && cred.Account != "" {
		return cred
	}
	return Credential{Account: "default"}
}
