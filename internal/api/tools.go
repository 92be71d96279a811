package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mozilla-ai/mcphost/internal/contracts"
	"github.com/mozilla-ai/mcphost/internal/registry"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

const (
	// queryParamDetail is the name of the query parameter for detail level selection.
	queryParamDetail = "detail"

	// toolDetailFull returns all fields including schemas and annotations.
	toolDetailFull toolDetailLevel = "full"

	// toolDetailMinimal returns only the global identifier and title.
	toolDetailMinimal toolDetailLevel = "minimal"

	// toolDetailSummary returns the identifier, title, description and source.
	toolDetailSummary toolDetailLevel = "summary"
)

// toolDetailLevel defines the amount of information to return about tools.
type toolDetailLevel string

// ToolView is a union constraint for all tool view types.
// This ensures type safety when using generic ToolsResponse.
type ToolView interface {
	ToolMinimal | ToolSummary | Tool
}

// ToolsResponseBody represents the body of a tools response.
type ToolsResponseBody[T ToolView] struct {
	Tools []T `json:"tools"`
}

// ToolsResponse represents a generic wrapped API response for tool collections.
// The type parameter T must be one of the ToolView types (ToolMinimal, ToolSummary, or Tool).
type ToolsResponse[T ToolView] struct {
	Body ToolsResponseBody[T]
}

// ToolMinimal represents minimal tool information with the global identifier and title only.
type ToolMinimal struct {
	// ID is the prefixed identifier the tool is registered under.
	ID string `doc:"Global identifier of the tool" example:"mcp_github_search_issues" json:"id"`

	// Title is a human-readable and easily understood title for the tool.
	Title string `doc:"Human-readable title" json:"title,omitempty"`
}

// ToolSummary represents summary tool information including description and the server it came from.
type ToolSummary struct {
	ToolMinimal

	// Description is a human-readable description of the tool.
	// It can be thought of like a "hint" to the model.
	Description string `doc:"Description of what the tool does" json:"description"`

	// Source names the collection and server that published the tool.
	Source Source `doc:"Server that published the tool" json:"source"`
}

// Tool represents complete tool information including all schemas and annotations.
// This embeds ToolSummary (which embeds ToolMinimal) providing a full tool definition.
type Tool struct {
	ToolSummary

	// Name is the name the publishing server knows the tool by.
	Name string `doc:"Name of the tool on its server" json:"name"`

	// ReferenceName is the sanitized name without the server prefix.
	ReferenceName string `doc:"Sanitized name of the tool" json:"referenceName"`

	// InputSchema is JSONSchema defining the expected parameters for the tool.
	InputSchema *JSONSchema `doc:"Input parameters schema" json:"inputSchema,omitempty"`

	// OutputSchema is an optional JSONSchema defining the structure of the tool's
	// output returned in the structured content field of a tool call result.
	OutputSchema *JSONSchema `doc:"Output structure schema" json:"outputSchema,omitempty"`

	// Annotations provide optional additional tool information.
	Annotations *ToolAnnotations `doc:"Additional hints about the tool" json:"annotations,omitempty"`
}

// Source identifies where a registered tool or prompt came from.
type Source struct {
	CollectionID string `json:"collectionId"`
	ServerID     string `json:"serverId"`
	Label        string `json:"label"`
}

// JSONSchema defines the structure for a JSON schema object.
type JSONSchema struct {
	// Type defines the type for this schema, e.g. "object".
	Type string `json:"type"`

	// Properties represents a property name and associated object definition.
	Properties map[string]any `json:"properties,omitempty"`

	// Required lists the (keys of) Properties that are required.
	Required []string `json:"required,omitempty"`
}

// ToolAnnotations provides additional properties describing a Tool to clients.
// NOTE: all properties in ToolAnnotations are **hints**.
// Clients should never make tool use decisions based on ToolAnnotations received from untrusted servers.
type ToolAnnotations struct {
	Title           *string `json:"title,omitempty"`
	ReadOnlyHint    *bool   `json:"readOnlyHint,omitempty"`
	DestructiveHint *bool   `json:"destructiveHint,omitempty"`
	IdempotentHint  *bool   `json:"idempotentHint,omitempty"`
	OpenWorldHint   *bool   `json:"openWorldHint,omitempty"`
}

// ToolCallRequest represents the incoming API request to call a registered tool.
type ToolCallRequest struct {
	ID   string         `doc:"Global identifier of the tool" example:"mcp_github_search_issues" path:"id"`
	Body map[string]any `doc:"Arguments for the tool call"`
}

// ToolCallResult is the outcome of a tool call.
type ToolCallResult struct {
	// Content holds the content blocks the tool returned, as sent by the server.
	Content []any `json:"content"`

	// StructuredContent is set when the tool declares an output schema.
	StructuredContent any `json:"structuredContent,omitempty"`

	// IsError is set when the tool itself reported a failure.
	IsError bool `json:"isError,omitempty"`

	// Progress lists the progress notifications received while the call ran.
	Progress []transport.Progress `json:"progress,omitempty"`
}

// ToolCallResponse represents the wrapped API response for calling a tool.
type ToolCallResponse struct {
	Body ToolCallResult
}

// domainTool wraps registry.Tool for conversion to Tool via ToAPIType.
type domainTool registry.Tool

// domainToolMinimal wraps Tool for projection to ToolMinimal via ToAPIType.
type domainToolMinimal Tool

// domainToolSummary wraps Tool for projection to ToolSummary via ToAPIType.
type domainToolSummary Tool

// Normalize handles case-insensitivity and trimming, providing a safe default.
func (t toolDetailLevel) Normalize() toolDetailLevel {
	normalized := toolDetailLevel(strings.ToLower(strings.TrimSpace(string(t))))
	switch normalized {
	case toolDetailMinimal, toolDetailSummary, toolDetailFull:
		return normalized
	default:
		return toolDetailFull // Safe default.
	}
}

// ToAPIType converts a wrapped domain type to Tool.
func (d domainTool) ToAPIType() (Tool, error) {
	def := d.Definition

	inputSchema, err := schemaOf(def.InputSchema)
	if err != nil {
		return Tool{}, fmt.Errorf("input schema of tool '%s': %w", d.ID, err)
	}
	outputSchema, err := schemaOf(def.OutputSchema)
	if err != nil {
		return Tool{}, fmt.Errorf("output schema of tool '%s': %w", d.ID, err)
	}

	title := def.Title
	var annotations *ToolAnnotations
	if a := def.Annotations; a != nil {
		annotations = &ToolAnnotations{
			ReadOnlyHint:    a.ReadOnlyHint,
			DestructiveHint: a.DestructiveHint,
			IdempotentHint:  a.IdempotentHint,
			OpenWorldHint:   a.OpenWorldHint,
		}
		if a.Title != "" {
			annotations.Title = &a.Title
			if title == "" {
				title = a.Title
			}
		}
		// Nil the annotations if they're essentially zero value so they can be omitted in the result.
		if annotations.IsZero() {
			annotations = nil
		}
	}

	return Tool{
		ToolSummary: ToolSummary{
			ToolMinimal: ToolMinimal{
				ID:    d.ID,
				Title: title,
			},
			Description: def.Description,
			Source:      sourceOf(d.Source),
		},
		Name:          def.Name,
		ReferenceName: d.ReferenceName,
		InputSchema:   inputSchema,
		OutputSchema:  outputSchema,
		Annotations:   annotations,
	}, nil
}

// ToAPIType projects Tool to ToolMinimal.
func (t domainToolMinimal) ToAPIType() (ToolMinimal, error) {
	return t.ToolMinimal, nil
}

// ToAPIType projects Tool to ToolSummary.
func (t domainToolSummary) ToAPIType() (ToolSummary, error) {
	minimal, err := domainToolMinimal(t).ToAPIType()
	if err != nil {
		return ToolSummary{}, err
	}

	return ToolSummary{
		ToolMinimal: minimal,
		Description: t.Description,
		Source:      t.Source,
	}, nil
}

// IsZero reports whether the ToolAnnotations struct has no meaningful values set.
// This is useful to avoid emitting empty "annotations" objects in JSON output.
func (a *ToolAnnotations) IsZero() bool {
	if a == nil {
		return true
	}

	if a.Title != nil && *a.Title != "" {
		return false
	}

	if a.ReadOnlyHint != nil || a.DestructiveHint != nil || a.IdempotentHint != nil || a.OpenWorldHint != nil {
		return false
	}

	return true
}

// RegisterToolRoutes sets up the tool API endpoints.
func RegisterToolRoutes(routerAPI huma.API, accessor contracts.ToolAccessor, apiPathPrefix string) {
	toolsAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Tools"}

	huma.Register(
		toolsAPI,
		huma.Operation{
			OperationID: "listTools",
			Method:      http.MethodGet,
			Summary:     "List registered tools",
			Description: "Returns tools with configurable detail level via ?detail= query parameter (minimal, summary, full)",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*ToolsResponse[Tool], error) {
			return handleTools(accessor)
		},
	)

	huma.Register(
		toolsAPI,
		huma.Operation{
			OperationID: "callTool",
			Method:      http.MethodPost,
			Path:        "/{id}/call",
			Summary:     "Call a registered tool",
			Description: "Starts the owning server when needed and retries once if its connection drops mid-call",
			Tags:        tags,
		},
		func(ctx context.Context, input *ToolCallRequest) (*ToolCallResponse, error) {
			return handleToolCall(ctx, accessor, input.ID, input.Body)
		},
	)
}

// handleTools returns every registered tool.
func handleTools(accessor contracts.ToolAccessor) (*ToolsResponse[Tool], error) {
	registered := accessor.Tools()

	tools := make([]Tool, 0, len(registered))
	for _, t := range registered {
		apiTool, err := domainTool(t).ToAPIType()
		if err != nil {
			return nil, err
		}
		tools = append(tools, apiTool)
	}

	resp := &ToolsResponse[Tool]{}
	resp.Body.Tools = tools
	return resp, nil
}

// handleToolCall calls the tool registered under id, collecting its progress notifications.
func handleToolCall(
	ctx context.Context,
	accessor contracts.ToolAccessor,
	id string,
	args map[string]any,
) (*ToolCallResponse, error) {
	var (
		mu       sync.Mutex
		progress []transport.Progress
	)
	onProgress := func(p transport.Progress) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, p)
	}

	result, err := accessor.CallTool(ctx, id, args, onProgress)
	if err != nil {
		return nil, err
	}
	if result == nil {
		// Cancelled calls resolve without a result.
		return nil, huma.NewError(499, "tool call cancelled")
	}

	content, err := decodeAll(result.Content)
	if err != nil {
		return nil, fmt.Errorf("decoding result of tool '%s': %w", id, err)
	}

	resp := &ToolCallResponse{}
	resp.Body.Content = content
	resp.Body.IsError = result.IsError
	if len(result.StructuredContent) > 0 {
		if err := json.Unmarshal(result.StructuredContent, &resp.Body.StructuredContent); err != nil {
			return nil, fmt.Errorf("decoding structured result of tool '%s': %w", id, err)
		}
	}

	mu.Lock()
	resp.Body.Progress = progress
	mu.Unlock()

	return resp, nil
}

// Transformers returns the response transformers the API registers with huma. They run in order on every
// response and pass through values they do not handle.
func Transformers() []huma.Transformer {
	return []huma.Transformer{
		toolFieldSelectTransformer,
	}
}

// toolFieldSelectTransformer transforms tool responses based on the detail query parameter.
// It filters the response to return only the requested level of detail: minimal, summary, or full.
func toolFieldSelectTransformer(ctx huma.Context, _ string, v any) (any, error) {
	detailParam := ctx.Query(queryParamDetail)
	if detailParam == "" {
		detailParam = string(toolDetailFull)
	}

	detail := toolDetailLevel(detailParam).Normalize()
	if detail == toolDetailFull {
		return v, nil
	}

	// Huma passes the Body field to transformers, not the full response.
	body, ok := v.(ToolsResponseBody[Tool])
	if !ok {
		return v, nil // Not our type, pass through.
	}

	switch detail {
	case toolDetailMinimal:
		minimal := make([]ToolMinimal, len(body.Tools))
		for i, tool := range body.Tools {
			m, err := domainToolMinimal(tool).ToAPIType()
			if err != nil {
				return nil, err
			}
			minimal[i] = m
		}
		return ToolsResponseBody[ToolMinimal]{Tools: minimal}, nil

	case toolDetailSummary:
		summary := make([]ToolSummary, len(body.Tools))
		for i, tool := range body.Tools {
			sum, err := domainToolSummary(tool).ToAPIType()
			if err != nil {
				return nil, err
			}
			summary[i] = sum
		}
		return ToolsResponseBody[ToolSummary]{Tools: summary}, nil

	default:
		// Shouldn't reach here due to Normalize(), but pass through as safety.
		return v, nil
	}
}

func sourceOf(s registry.Source) Source {
	return Source{CollectionID: s.CollectionID, ServerID: s.DefinitionID, Label: s.Label}
}

func schemaOf(raw json.RawMessage) (*JSONSchema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var s JSONSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if s.Type == "" {
		return nil, nil
	}
	return &s, nil
}

// decodeAll turns raw protocol values into plain values for the response body.
func decodeAll(raw []json.RawMessage) ([]any, error) {
	out := make([]any, 0, len(raw))
	for _, r := range raw {
		var v any
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
