package departures

import (
	"errors"
	"fmt"
	"net/http"
)

// The engine's error taxonomy. Each kind carries a fixed user-facing
// message; callers map errors to display copy with UserMessage and match
// kinds with errors.As.

// ConnectivityError means no network was reachable at all.
type ConnectivityError struct {
	Cause error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("network unreachable: %v", e.Cause)
}

func (e *ConnectivityError) Unwrap() error { return e.Cause }

// TimeoutError means the request exceeded its time bound.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out: %v", e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// MalformedResponseError means the payload could not be decoded into a
// usable page; fields with safe defaults never trigger this.
type MalformedResponseError struct {
	Cause error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: %v", e.Cause)
}

func (e *MalformedResponseError) Unwrap() error { return e.Cause }

// ServerError carries the HTTP status and any server-supplied message.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server error (%d)", e.StatusCode)
}

// OfflineUnavailableError means the offline dataset read itself failed.
// Distinct from an empty result: the arbiter must never conflate the two.
type OfflineUnavailableError struct {
	Cause error
}

func (e *OfflineUnavailableError) Error() string {
	return fmt.Sprintf("offline schedule unavailable: %v", e.Cause)
}

func (e *OfflineUnavailableError) Unwrap() error { return e.Cause }

// UserMessage maps an engine error to its fixed display copy.
func UserMessage(err error) string {
	var (
		connectivity *ConnectivityError
		timeout      *TimeoutError
		malformed    *MalformedResponseError
		server       *ServerError
		offline      *OfflineUnavailableError
	)

	switch {
	case errors.As(err, &connectivity):
		return "No internet connection"
	case errors.As(err, &timeout):
		return "Request timed out. Please try again."
	case errors.As(err, &malformed):
		return "Invalid response from server."
	case errors.As(err, &server):
		switch {
		case server.StatusCode == http.StatusNotFound:
			return "This stop is not in our database"
		case server.StatusCode >= http.StatusInternalServerError:
			return "Server error. Please try again later."
		case server.Message != "":
			return server.Message
		default:
			return "Server error. Please try again later."
		}
	case errors.As(err, &offline):
		return "Departure data unavailable"
	default:
		return "Failed to load departures"
	}
}
