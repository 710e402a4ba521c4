package geotab

import (
	"errors"
	"fmt"
)

// ErrAuthentication means the credentials were rejected.
var ErrAuthentication = errors.New("geotab: authentication failed")

const invalidUserException = "InvalidUserException"

// APIError is an error object returned by the server.
type APIError struct {
	Method  string
	Name    string
	Message string
}

func (e *APIError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("geotab %s: %s", e.Method, e.Message)
	}
	return fmt.Sprintf("geotab %s: %s: %s", e.Method, e.Name, e.Message)
}

// ConnectivityError wraps transport failures and non-200 responses. These
// are worth retrying on the next cycle.
type ConnectivityError struct {
	Method string
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("geotab %s: connectivity: %v", e.Method, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a connectivity failure.
func IsRetryable(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// rpcError mirrors the JSON-RPC error object.
type rpcError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Data    struct {
		Type string `json:"type"`
	} `json:"data"`
	Errors []struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (e *rpcError) name() string {
	if e.Data.Type != "" {
		return e.Data.Type
	}
	if len(e.Errors) > 0 {
		return e.Errors[0].Name
	}
	return ""
}
