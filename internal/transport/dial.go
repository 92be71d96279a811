package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	apperrors "github.com/mozilla-ai/mcphost/internal/errors"
)

// Kind selects how a server is reached.
type Kind string

const (
	KindStdio Kind = "stdio"
	KindSSE   Kind = "sse"
	KindHTTP  Kind = "http"
)

// LaunchSpec is everything needed to reach one server.
type LaunchSpec struct {
	Kind Kind

	// Process transport.
	Command string
	Args    []string
	// Env holds KEY=VALUE pairs layered over the host environment.
	Env []string
	Cwd string

	// Network transports.
	URL     string
	Headers map[string]string

	// Roots are answered to roots/list. The roots capability is only advertised when there are any.
	Roots []Root
}

// Root is a location the server may operate on.
type Root struct {
	// URI is a file:// URI.
	URI  string
	Name string
}

// Validate reports whether the spec has what its kind needs.
func (s LaunchSpec) Validate() error {
	switch s.Kind {
	case KindStdio:
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("command is required for %s transport", s.Kind)
		}
	case KindSSE, KindHTTP:
		u, err := url.Parse(s.URL)
		if err != nil {
			return fmt.Errorf("invalid url '%s': %w", s.URL, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("url '%s' must use http or https", s.URL)
		}
	default:
		return fmt.Errorf("unknown transport kind '%s'", s.Kind)
	}
	return nil
}

// Dial creates and starts an mcp-go client for spec.
func Dial(ctx context.Context, spec LaunchSpec) (client.MCPClient, io.Reader, error) {
	switch spec.Kind {
	case KindStdio:
		return dialStdio(ctx, spec)
	case KindSSE:
		sse, err := mcptransport.NewSSE(spec.URL, mcptransport.WithHeaders(spec.Headers))
		if err != nil {
			return nil, nil, fmt.Errorf("error creating SSE client for '%s': %w", spec.URL, err)
		}
		c := client.NewClient(sse, clientOptions(spec)...)
		if err := c.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("error connecting to '%s': %w", spec.URL, err)
		}
		return c, nil, nil
	case KindHTTP:
		streamable, err := mcptransport.NewStreamableHTTP(spec.URL, mcptransport.WithHTTPHeaders(spec.Headers))
		if err != nil {
			return nil, nil, fmt.Errorf("error creating HTTP client for '%s': %w", spec.URL, err)
		}
		c := client.NewClient(streamable, clientOptions(spec)...)
		if err := c.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("error connecting to '%s': %w", spec.URL, err)
		}
		return c, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport kind '%s'", spec.Kind)
	}
}

func dialStdio(ctx context.Context, spec LaunchSpec) (client.MCPClient, io.Reader, error) {
	if err := lookCommand(spec.Command, spec.Cwd); err != nil {
		return nil, nil, err
	}

	stdio := mcptransport.NewStdioWithOptions(
		spec.Command,
		spec.Env,
		spec.Args,
		mcptransport.WithCommandFunc(func(_ context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
			// The process outlives the start request, so it is not bound to its context.
			cmd := exec.Command(command, args...)
			cmd.Env = append(os.Environ(), env...)
			cmd.Dir = spec.Cwd
			return cmd, nil
		}),
	)

	c := client.NewClient(stdio, clientOptions(spec)...)
	if err := c.Start(ctx); err != nil {
		return nil, nil, classifyStartError(spec.Command, err)
	}

	stderr, ok := client.GetStderr(c)
	if !ok {
		stderr = nil
	}

	return c, stderr, nil
}

func clientOptions(spec LaunchSpec) []client.ClientOption {
	if len(spec.Roots) == 0 {
		return nil
	}
	return []client.ClientOption{client.WithRootsHandler(rootsHandler(spec.Roots))}
}

// rootsHandler answers roots/list requests from the server.
type rootsHandler []Root

func (r rootsHandler) ListRoots(context.Context, mcp.ListRootsRequest) (*mcp.ListRootsResult, error) {
	roots := make([]mcp.Root, 0, len(r))
	for _, root := range r {
		roots = append(roots, mcp.Root{URI: root.URI, Name: root.Name})
	}
	return &mcp.ListRootsResult{Roots: roots}, nil
}

// lookCommand fails early with ErrCommandNotFound when a bare command is not on PATH.
// Commands containing a path separator are resolved by the process start itself.
func lookCommand(command string, cwd string) error {
	if strings.ContainsRune(command, os.PathSeparator) && cwd != "" {
		return nil
	}
	if _, err := exec.LookPath(command); err != nil {
		return classifyStartError(command, err)
	}
	return nil
}

func classifyStartError(command string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: '%s': %w", apperrors.ErrCommandNotFound, command, err)
	}
	return fmt.Errorf("error starting '%s': %w", command, err)
}
