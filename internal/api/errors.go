package api

import (
	stdErrors "errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/resourcefs"
)

// mapError converts a domain error into the status error returned to API callers.
// The boolean is false when err carries no known domain error.
func mapError(logger hclog.Logger, err error) (huma.StatusError, bool) {
	switch {
	case stdErrors.Is(err, errors.ErrBadRequest):
		return huma.Error400BadRequest(err.Error()), true
	case stdErrors.Is(err, resourcefs.ErrIsDirectory):
		return huma.Error400BadRequest(err.Error()), true
	case stdErrors.Is(err, errors.ErrUntrusted):
		return huma.Error403Forbidden(err.Error()), true
	case stdErrors.Is(err, errors.ErrServerNotFound),
		stdErrors.Is(err, errors.ErrToolNotFound),
		stdErrors.Is(err, errors.ErrPromptNotFound),
		stdErrors.Is(err, errors.ErrResourceNotFound):
		return huma.Error404NotFound(err.Error()), true
	case stdErrors.Is(err, errors.ErrToolAlreadyRegistered),
		stdErrors.Is(err, errors.ErrPromptAlreadyRegistered):
		return huma.Error409Conflict(err.Error()), true
	case stdErrors.Is(err, errors.ErrCommandNotFound):
		return huma.NewError(424, err.Error()), true
	case stdErrors.Is(err, errors.ErrNotImplemented):
		return huma.Error501NotImplemented(err.Error()), true
	case stdErrors.Is(err, errors.ErrToolCallFailed):
		logger.Error("Tool call failed", "error", err)
		return huma.Error502BadGateway("MCP server error calling tool", err), true
	case stdErrors.Is(err, errors.ErrToolListFailed):
		logger.Error("Tool list failed", "error", err)
		return huma.Error502BadGateway("MCP server error listing tools", err), true
	case stdErrors.Is(err, errors.ErrPromptGenerationFailed):
		logger.Error("Prompt generation failed", "error", err)
		return huma.Error502BadGateway("MCP server error generating prompt", err), true
	case stdErrors.Is(err, errors.ErrResourceReadFailed):
		logger.Error("Resource read failed", "error", err)
		return huma.Error502BadGateway("MCP server error reading resource", err), true
	case stdErrors.Is(err, errors.ErrConnectionClosed):
		logger.Warn("Connection closed during request", "error", err)
		return huma.Error502BadGateway("MCP server connection closed", err), true
	case stdErrors.Is(err, errors.ErrServerNotRunning):
		return huma.Error503ServiceUnavailable(err.Error()), true
	default:
		return nil, false
	}
}

// ErrorHandler wraps error handling for the application when converting to API friendly errors.
// Errors carrying a domain error are mapped to their status, anything else keeps the status Huma chose,
// so request validation failures stay client errors.
func ErrorHandler(logger hclog.Logger) func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
	return func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if len(errs) == 0 {
			return huma.NewError(status, msg)
		}

		if mapped, ok := mapError(logger, stdErrors.Join(errs...)); ok {
			return mapped
		}

		if status >= 500 {
			logger.Error("Unexpected error handling request", "error", stdErrors.Join(errs...))
		}
		return huma.NewError(status, msg, errs...)
	}
}
