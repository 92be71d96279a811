package api

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/resourcefs"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{name: "bad request", err: errors.ErrBadRequest, expectedStatus: 400},
		{name: "directory read", err: resourcefs.ErrIsDirectory, expectedStatus: 400},
		{name: "untrusted", err: errors.ErrUntrusted, expectedStatus: 403},
		{name: "server not found", err: errors.ErrServerNotFound, expectedStatus: 404},
		{name: "tool not found", err: errors.ErrToolNotFound, expectedStatus: 404},
		{name: "prompt not found", err: errors.ErrPromptNotFound, expectedStatus: 404},
		{name: "resource not found", err: errors.ErrResourceNotFound, expectedStatus: 404},
		{name: "tool already registered", err: errors.ErrToolAlreadyRegistered, expectedStatus: 409},
		{name: "prompt already registered", err: errors.ErrPromptAlreadyRegistered, expectedStatus: 409},
		{name: "command not found", err: errors.ErrCommandNotFound, expectedStatus: 424},
		{name: "not implemented", err: errors.ErrNotImplemented, expectedStatus: 501},
		{name: "tool call failed", err: errors.ErrToolCallFailed, expectedStatus: 502},
		{name: "tool list failed", err: errors.ErrToolListFailed, expectedStatus: 502},
		{name: "prompt generation failed", err: errors.ErrPromptGenerationFailed, expectedStatus: 502},
		{name: "resource read failed", err: errors.ErrResourceReadFailed, expectedStatus: 502},
		{name: "connection closed", err: errors.ErrConnectionClosed, expectedStatus: 502},
		{name: "server not running", err: errors.ErrServerNotRunning, expectedStatus: 503},
		{
			name:           "wrapped error keeps its mapping",
			err:            fmt.Errorf("calling 'mcp_x_y': %w", errors.ErrToolNotFound),
			expectedStatus: 404,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			statusErr, ok := mapError(hclog.NewNullLogger(), tc.err)
			require.True(t, ok)
			require.Equal(t, tc.expectedStatus, statusErr.GetStatus())
		})
	}
}

func TestMapError_Unknown(t *testing.T) {
	t.Parallel()

	_, ok := mapError(hclog.NewNullLogger(), stdErrors.New("boom"))
	require.False(t, ok)
}

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	handler := ErrorHandler(hclog.NewNullLogger())

	t.Run("no errors keeps status and message", func(t *testing.T) {
		t.Parallel()

		err := handler(nil, 422, "validation failed")
		require.Equal(t, 422, err.GetStatus())
		require.Contains(t, err.Error(), "validation failed")
	})

	t.Run("domain error is mapped", func(t *testing.T) {
		t.Parallel()

		err := handler(nil, 500, "unexpected error occurred", fmt.Errorf("%w: 'a'", errors.ErrServerNotFound))
		require.Equal(t, 404, err.GetStatus())
	})

	t.Run("multiple errors are joined before mapping", func(t *testing.T) {
		t.Parallel()

		err := handler(nil, 500, "unexpected error occurred", stdErrors.New("first"), errors.ErrUntrusted)
		require.Equal(t, 403, err.GetStatus())
	})

	t.Run("validation details keep the chosen status", func(t *testing.T) {
		t.Parallel()

		detail := &huma.ErrorDetail{Message: "expected string", Location: "query.uri"}
		err := handler(nil, 422, "validation failed", detail)
		require.Equal(t, 422, err.GetStatus())
	})
}
