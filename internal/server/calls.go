package server

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/resourcefs"
	"github.com/mozilla-ai/mcphost/internal/telemetry"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// CallTool calls the server-native tool name, starting the server if needed.
// A call that fails while the connection reports a retryable error is retried once on a fresh connection.
// Progress notifications are delivered to onProgress, which may be nil, until the call returns.
// A cancelled call returns no result and no error.
func (s *Server) CallTool(
	ctx context.Context,
	name string,
	args map[string]any,
	onProgress func(transport.Progress),
) (*transport.ToolResult, error) {
	ctx, span := s.telemetry.StartSpan(ctx, "tool.call", s.id, attribute.String("mcp.tool.name", name))
	began := time.Now()

	res, err := s.callTool(ctx, name, args, onProgress)

	outcome := telemetry.OutcomeSuccess
	switch {
	case err != nil:
		outcome = telemetry.OutcomeError
	case res == nil:
		outcome = telemetry.OutcomeCancelled
	case res.IsError:
		span.SetAttributes(attribute.Bool("mcp.tool.is_error", true))
	}
	s.telemetry.RecordToolCall(s.id, name, time.Since(began), outcome)
	telemetry.EndSpan(span, err)

	return res, err
}

func (s *Server) callTool(
	ctx context.Context,
	name string,
	args map[string]any,
	onProgress func(transport.Progress),
) (*transport.ToolResult, error) {
	for attempt := 0; ; attempt++ {
		h, err := s.Handler(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: '%s': %w", apperrors.ErrToolCallFailed, name, err)
		}

		res, err := callWithProgress(ctx, h, name, args, onProgress)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, nil
		}

		st := s.connState.Get()
		if attempt == 0 && st.Status == transport.StatusError && st.ShouldRetry {
			s.logger.Info("Retrying tool call on a new connection", "tool", name, "error", err)
			continue
		}
		if !st.IsRunning() {
			return nil, fmt.Errorf("%w: '%s': %w: %w", apperrors.ErrToolCallFailed, name, apperrors.ErrConnectionClosed, err)
		}
		return nil, fmt.Errorf("%w: '%s': %w", apperrors.ErrToolCallFailed, name, err)
	}
}

func callWithProgress(
	ctx context.Context,
	h transport.Handler,
	name string,
	args map[string]any,
	onProgress func(transport.Progress),
) (*transport.ToolResult, error) {
	token := ""
	if onProgress != nil {
		token = uuid.NewString()
		dispose := h.OnProgress(token, onProgress)
		defer dispose()
	}

	return h.CallTool(ctx, name, args, token)
}

// GetPrompt renders the server-native prompt name, starting the server if needed.
// A cancelled request returns no result and no error.
func (s *Server) GetPrompt(ctx context.Context, name string, args map[string]string) (*transport.PromptResult, error) {
	h, err := s.Handler(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	if !h.Capabilities().Has(transport.CapabilityPrompts) {
		return nil, fmt.Errorf("%w: '%s' does not provide prompts", apperrors.ErrNotImplemented, s.id)
	}

	res, err := h.GetPrompt(ctx, name, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: '%s': %w", apperrors.ErrPromptGenerationFailed, name, err)
	}
	return res, nil
}

// Complete asks the server to complete an argument value. Servers without the completions capability are not asked.
func (s *Server) Complete(
	ctx context.Context,
	ref transport.CompletionRef,
	argument string,
	value string,
) (*transport.Completion, error) {
	h, err := s.Handler(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	if !h.Capabilities().Has(transport.CapabilityCompletions) {
		return nil, fmt.Errorf("%w: '%s' does not provide completions", apperrors.ErrNotImplemented, s.id)
	}

	res, err := h.Complete(ctx, ref, argument, value)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("completion failed on '%s': %w", s.id, err)
	}
	return res, nil
}

// Resources iterates over the running server's resources one page at a time.
// Each range over the sequence starts from the first page. It yields a single error if the server is not running
// and stops without an error when ctx ends.
func (s *Server) Resources(ctx context.Context) iter.Seq2[[]Resource, error] {
	return pages(ctx, s, func(h transport.Handler) func(context.Context, string) (transport.Page[transport.Resource], error) {
		return h.ListResources
	}, func(r transport.Resource) (Resource, bool) {
		uri, err := resourcefs.Encode(s.id, r.URI)
		if err != nil {
			s.logger.Debug("Skipping resource with an unusable uri", "uri", r.URI, "error", err)
			return Resource{}, false
		}
		return Resource{URI: uri, ServerID: s.id, Definition: r}, true
	})
}

// ResourceTemplates iterates over the running server's resource templates like Resources.
func (s *Server) ResourceTemplates(ctx context.Context) iter.Seq2[[]ResourceTemplate, error] {
	return pages(ctx, s, func(h transport.Handler) func(context.Context, string) (transport.Page[transport.ResourceTemplate], error) {
		return h.ListResourceTemplates
	}, func(t transport.ResourceTemplate) (ResourceTemplate, bool) {
		return ResourceTemplate{ServerID: s.id, Definition: t}, true
	})
}

func pages[T any, U any](
	ctx context.Context,
	s *Server,
	lister func(h transport.Handler) func(context.Context, string) (transport.Page[T], error),
	project func(T) (U, bool),
) iter.Seq2[[]U, error] {
	return func(yield func([]U, error) bool) {
		st := s.connState.Get()
		if !st.IsRunning() {
			yield(nil, s.notRunning(st))
			return
		}
		h := st.Handler
		if !h.Capabilities().Has(transport.CapabilityResources) {
			return
		}
		list := lister(h)

		cursor := ""
		for {
			if ctx.Err() != nil {
				return
			}

			page, err := list(ctx, cursor)
			if err != nil {
				if ctx.Err() == nil {
					yield(nil, fmt.Errorf("%w: listing '%s': %w", apperrors.ErrResourceReadFailed, s.id, err))
				}
				return
			}

			items := make([]U, 0, len(page.Items))
			for _, item := range page.Items {
				if u, ok := project(item); ok {
					items = append(items, u)
				}
			}
			if !yield(items, nil) {
				return
			}

			if page.NextCursor == "" || page.NextCursor == cursor {
				return
			}
			cursor = page.NextCursor
		}
	}
}
