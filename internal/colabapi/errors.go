package colabapi

import "fmt"

// APIError is the structured error type carrying the originating request,
// the HTTP response status, and the response body text when readable.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("colabapi: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// TooManyAssignmentsError is returned when Colab reports HTTP 412 for too
// many concurrent assignments.
type TooManyAssignmentsError struct {
	*APIError
}

// InsufficientQuotaError is returned for QUOTA_DENIED_REQUESTED_VARIANTS or
// QUOTA_EXCEEDED_USAGE_TIME outcomes.
type InsufficientQuotaError struct {
	*APIError
	Reason string
}

func (e *InsufficientQuotaError) Error() string {
	return fmt.Sprintf("colabapi: insufficient quota (%s): %s", e.Reason, e.APIError.Error())
}

// DenylistedError is returned for a DENYLISTED assignment outcome. It is a
// fatal policy error, never retried.
type DenylistedError struct {
	*APIError
}

func (e *DenylistedError) Error() string {
	return fmt.Sprintf("colabapi: account denylisted: %s", e.APIError.Error())
}
