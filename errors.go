package nest

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the Nest client.
var (
	// Credential / session errors
	ErrMissingCredentials = errors.New("nest: credentials were not provided")
	ErrNoSession          = errors.New("nest: no active session (call Login first)")

	// Device lookup errors
	ErrNoDeviceFound        = errors.New("nest: no devices found on account")
	ErrDeviceNotFound       = errors.New("nest: device not found in status")
	ErrInconsistentSnapshot = errors.New("nest: status snapshot references a device it does not contain")
	ErrNoScheduleFound      = errors.New("nest: no schedule found for device")

	// Command validation errors
	ErrInvalidTemperatureArg = errors.New("nest: invalid temperature arguments for requested mode")
	ErrEmptyStructureID      = errors.New("nest: structure ID cannot be empty")
)

// AuthError indicates the login flow itself failed: the vendor rejected the
// credentials or the OAuth bridge broke. It is terminal; the client never
// retries it beyond the single internal re-login attempt.
type AuthError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nest: authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("nest: authentication failed: %s", e.Reason)
}

// Unwrap returns the underlying cause, if any.
func (e *AuthError) Unwrap() error { return e.Err }

// RequestError is a transport or HTTP failure that survived the single
// re-authentication retry. StatusCode is zero for pure transport failures.
type RequestError struct {
	StatusCode int
	URL        string
	Err        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nest: request to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("nest: request to %s failed with status %d", e.URL, e.StatusCode)
}

// Unwrap returns the underlying transport error, if any.
func (e *RequestError) Unwrap() error { return e.Err }

// APIError is an HTTP 400 rejection carrying the vendor's error payload.
type APIError struct {
	StatusCode  int
	Code        string // vendor "error" field
	Description string // vendor "error_description" field
	Body        string // raw body when it was not valid JSON
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("nest: API error %d: %s - %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("nest: API error %d: %s", e.StatusCode, e.Body)
}

// ResponseKind classifies a malformed response body.
type ResponseKind int

const (
	// ResponseNotJSON means the body could not be decoded as JSON.
	ResponseNotJSON ResponseKind = iota
	// ResponseEmpty means the body was empty where a payload was required.
	ResponseEmpty
	// ResponseMaintenance means the vendor reported an account maintenance
	// window; callers may treat this as transient.
	ResponseMaintenance
)

// ResponseError is a response-classification failure on a GET or login call.
type ResponseError struct {
	Kind ResponseKind
	URL  string
	Body string
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	switch e.Kind {
	case ResponseMaintenance:
		return fmt.Sprintf("nest: account is under maintenance; API temporarily unavailable (%s)", e.URL)
	case ResponseEmpty:
		return fmt.Sprintf("nest: received empty response from %s", e.URL)
	default:
		return fmt.Sprintf("nest: response from %s is not valid JSON: %s", e.URL, truncatePreview([]byte(e.Body)))
	}
}

// IsAuthenticationFailed returns true if the error is a terminal login failure.
func IsAuthenticationFailed(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsRequestFailed returns true if the error is a transport or HTTP failure
// that survived the retry path.
func IsRequestFailed(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr)
}

// IsAPIRejected returns true if the vendor rejected the call with HTTP 400.
func IsAPIRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// IsUnderMaintenance returns true if the vendor reported a maintenance window.
func IsUnderMaintenance(err error) bool {
	var respErr *ResponseError
	return errors.As(err, &respErr) && respErr.Kind == ResponseMaintenance
}

// IsEmptyResponse returns true if a required payload was empty.
func IsEmptyResponse(err error) bool {
	var respErr *ResponseError
	return errors.As(err, &respErr) && respErr.Kind == ResponseEmpty
}

// IsMalformedResponse returns true for any response-classification failure.
func IsMalformedResponse(err error) bool {
	var respErr *ResponseError
	return errors.As(err, &respErr)
}

// IsNoDeviceFound returns true if the account has no usable devices.
func IsNoDeviceFound(err error) bool {
	return errors.Is(err, ErrNoDeviceFound)
}

// truncatePreview returns a truncated string for error messages.
func truncatePreview(data []byte) string {
	s := string(data)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
