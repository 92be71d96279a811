package transport

import (
	"encoding/json"
	"fmt"
)

// Tool is a tool as reported by a server.
type Tool struct {
	Name         string           `json:"name"`
	Title        string           `json:"title,omitempty"`
	Description  string           `json:"description,omitempty"`
	InputSchema  json.RawMessage  `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage  `json:"outputSchema,omitempty"`
	Annotations  *ToolAnnotations `json:"annotations,omitempty"`
}

// ToolAnnotations are the optional behavioural hints a server attaches to a tool.
type ToolAnnotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    *bool  `json:"readOnlyHint,omitempty"`
	DestructiveHint *bool  `json:"destructiveHint,omitempty"`
	IdempotentHint  *bool  `json:"idempotentHint,omitempty"`
	OpenWorldHint   *bool  `json:"openWorldHint,omitempty"`
}

// Prompt is a prompt template as reported by a server.
type Prompt struct {
	Name        string           `json:"name"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes one argument accepted by a prompt.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Resource is a concrete resource as reported by a server, addressed by its server-native URI.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

// ResourceTemplate is a parameterised resource as reported by a server.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// ResourceContents is one entry of a read-resource result.
// Exactly one of Text or Blob is set; Blob is base64 encoded.
type ResourceContents struct {
	URI      string  `json:"uri"`
	MIMEType string  `json:"mimeType,omitempty"`
	Text     *string `json:"text,omitempty"`
	Blob     string  `json:"blob,omitempty"`
}

// ToolResult is the envelope returned by a tool call.
// Failures reported by the tool itself set IsError rather than producing a Go error.
type ToolResult struct {
	Content           []json.RawMessage `json:"content"`
	StructuredContent json.RawMessage   `json:"structuredContent,omitempty"`
	IsError           bool              `json:"isError,omitempty"`
}

// PromptResult is a rendered prompt.
type PromptResult struct {
	Description string            `json:"description,omitempty"`
	Messages    []json.RawMessage `json:"messages"`
}

// Progress is a progress notification tied to a request's progress token.
type Progress struct {
	Progress float64 `json:"progress"`
	Total    float64 `json:"total,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// CompletionRef identifies what an argument completion request refers to.
type CompletionRef struct {
	// Type is either "ref/prompt" or "ref/resource".
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// Completion is the result of an argument completion request.
type Completion struct {
	Values  []string `json:"values"`
	Total   int      `json:"total,omitempty"`
	HasMore bool     `json:"hasMore,omitempty"`
}

// Implementation identifies a server or client by name and version.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Page is one page of a paginated list. An empty NextCursor means the list is exhausted.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// convert re-decodes src into T through its JSON form.
// Protocol library types and the types in this package share the same wire shape.
func convert[T any](src any) (T, error) {
	var out T
	data, err := json.Marshal(src)
	if err != nil {
		return out, fmt.Errorf("error encoding %T: %w", src, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("error decoding %T into %T: %w", src, out, err)
	}
	return out, nil
}
