package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// gRPC status codes the gateway reports for authentication failures.
const (
	codePermissionDenied = 7
	codeUnauthenticated  = 16
)

// ErrorResponse is the error document produced by the gateway.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// APIError reports a non-2xx gateway response.
type APIError struct {
	Status   int
	Path     string
	Response ErrorResponse
	Body     []byte
}

func (e *APIError) Error() string {
	msg := e.Response.Message
	if msg == "" {
		msg = e.Response.Error
	}
	if msg != "" {
		return fmt.Sprintf("etcdgw: %s: %s (status %d, code %d)", e.Path, msg, e.Status, e.Response.Code)
	}
	return fmt.Sprintf("etcdgw: %s: status %d", e.Path, e.Status)
}

// ParseError reports a response that could not be decoded.
type ParseError struct {
	Path  string
	Field string
	Body  []byte
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("etcdgw: %s: decode %s: %v", e.Path, e.Field, e.Err)
	}
	return fmt.Sprintf("etcdgw: %s: decode response: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is a gateway rejection caused by a missing,
// expired or insufficient token.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Response.Code {
	case codeUnauthenticated, codePermissionDenied:
		return true
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}

func decodeError(path string, status int, data []byte) error {
	apiErr := &APIError{Status: status, Path: path, Body: data}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &apiErr.Response)
	}
	return apiErr
}
