package port

import "errors"

// Sentinel errors used across ports.
var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrTokenInvalid         = errors.New("token invalid")
	ErrUserNotFound         = errors.New("user not found")
	ErrRepoNotFound         = errors.New("repository not found")
	ErrInstallationNotFound = errors.New("installation not found")
	ErrNoInstallation       = errors.New("repository has no installation")
	ErrInvalidFullName      = errors.New("invalid repository full name")
	ErrIngestionConflict    = errors.New("ingestion already in progress")
	ErrTreeNotFound         = errors.New("tree not found")
	ErrCapabilityDisabled   = errors.New("capability disabled")

	ErrMissingSignature    = errors.New("missing signature header")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrSecretNotConfigured = errors.New("webhook secret not configured")
)

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so job runners stop retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
