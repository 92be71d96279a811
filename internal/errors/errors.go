// Package errors defines domain-level errors used throughout the application.
// These errors represent host failures and are mapped to appropriate HTTP status codes at the API boundary.
//
// NOTE: Important for developers
// When adding a new error here, you MUST consider how it should be handled when returned from API endpoints.
//
// Unmapped errors will default to HTTP 500 Internal Server Error.
//
// Don't forget to:
// 1. Add your error to mapError (internal/api/errors.go)
// 2. Add a test case to TestMapError (internal/api/errors_test.go)
package errors

import (
	"errors"
)

var (
	// ErrBadRequest indicates that the client provided invalid input or made a malformed request.
	// Recommended to map to HTTP 400 Bad Request.
	ErrBadRequest = errors.New("bad request")

	// ErrServerNotFound indicates that no server definition exists for the requested identifier.
	// Recommended to map to HTTP 404 Not Found.
	ErrServerNotFound = errors.New("server not found")

	// ErrServerNotRunning indicates that an operation needed a live handler but the server's connection
	// was not in the running state.
	// Recommended to map to HTTP 503 Service Unavailable.
	ErrServerNotRunning = errors.New("server not running")

	// ErrConnectionClosed indicates that the transport to a server was lost while a request was in flight.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrCommandNotFound indicates that the executable for a process transport could not be located.
	// Recommended to map to HTTP 424 Failed Dependency.
	ErrCommandNotFound = errors.New("command not found")

	// ErrUntrusted indicates that a server belongs to a collection the user has not trusted.
	// Recommended to map to HTTP 403 Forbidden.
	ErrUntrusted = errors.New("server not trusted")

	// ErrToolNotFound indicates that no registered tool has the requested identifier.
	// Recommended to map to HTTP 404 Not Found.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolListFailed indicates that listing tools from a server failed.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrToolListFailed = errors.New("tool list failed")

	// ErrToolCallFailed indicates that calling a tool on a server failed at the transport level.
	// Failures reported by the tool itself are returned as results with the error flag set instead.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrToolCallFailed = errors.New("tool call failed")

	// ErrToolAlreadyRegistered indicates that a tool identifier is already claimed in the global registry.
	// Recommended to map to HTTP 409 Conflict.
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	// ErrPromptNotFound indicates that the requested prompt does not exist.
	// Recommended to map to HTTP 404 Not Found.
	ErrPromptNotFound = errors.New("prompt not found")

	// ErrPromptAlreadyRegistered indicates that a prompt identifier is already claimed in the global registry.
	// Recommended to map to HTTP 409 Conflict.
	ErrPromptAlreadyRegistered = errors.New("prompt already registered")

	// ErrPromptGenerationFailed indicates that getting a prompt from a server failed.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrPromptGenerationFailed = errors.New("prompt generation from template failed")

	// ErrResourceNotFound indicates that a resource URI could not be resolved, either because it is malformed,
	// names an unknown server, or the server returned nothing for it.
	// Recommended to map to HTTP 404 Not Found.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrResourceReadFailed indicates that reading a resource from a server failed.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrResourceReadFailed = errors.New("resource read failed")

	// ErrNotImplemented indicates that the server does not advertise the capability needed for the request.
	// Recommended to map to HTTP 501 Not Implemented.
	ErrNotImplemented = errors.New("capability not implemented by server")
)
