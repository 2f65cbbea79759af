package googleauth

import "fmt"

// AuthRequiredError means no usable credential exists and an interactive
// authorization is needed.
type AuthRequiredError struct {
	Cause error
}

func (e *AuthRequiredError) Error() string {
	return "google authorization required (run 'photosync auth add')"
}

func (e *AuthRequiredError) Unwrap() error {
	return e.Cause
}

// RefreshFailedError means the refresh token exchange was rejected, usually
// because the token was revoked or expired. Callers fall back to a full
// interactive re-authorization.
type RefreshFailedError struct {
	Cause error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Cause)
}

func (e *RefreshFailedError) Unwrap() error {
	return e.Cause
}
