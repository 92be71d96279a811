package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mozilla-ai/mcphost/internal/contracts"
	"github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/registry"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// DomainPrompt wraps registry.Prompt for API conversion.
type DomainPrompt registry.Prompt

// DomainPromptArgument wraps transport.PromptArgument for API conversion.
type DomainPromptArgument transport.PromptArgument

// Prompts represents a collection of Prompt types.
type Prompts struct {
	Prompts []Prompt `json:"prompts"`
}

// Prompt represents a prompt or prompt template registered by a server.
type Prompt struct {
	// ID is the prefixed identifier the prompt is registered under.
	ID string `json:"id"`

	// Name of the prompt on its server.
	Name string `json:"name"`

	// ReferenceName is the sanitized name without the server prefix.
	ReferenceName string `json:"referenceName"`

	Title string `json:"title,omitempty"`

	// Description of what this prompt provides.
	Description string `json:"description,omitempty"`

	// Arguments for templating the prompt.
	Arguments []PromptArgument `json:"arguments,omitempty"`

	Source Source `json:"source"`
}

// PromptArgument describes an argument that a prompt template can accept.
type PromptArgument struct {
	// Name of the argument.
	Name string `json:"name"`

	// Description of the argument.
	Description string `json:"description,omitempty"`

	// Whether this argument must be provided.
	Required bool `json:"required,omitempty"`
}

// PromptGenerateRequest represents the incoming API request for generating a prompt.
type PromptGenerateRequest struct {
	ID   string                  `doc:"Global identifier of the prompt" path:"id"`
	Body PromptGenerateArguments `doc:"Prompt arguments"`
}

// PromptGenerateArguments contains arguments for generating a prompt from a template.
type PromptGenerateArguments struct {
	Arguments map[string]string `doc:"Arguments for templating the prompt" json:"arguments,omitempty"`
}

// PromptsListResponse represents the wrapped API response for listing Prompts.
type PromptsListResponse struct {
	Body Prompts
}

// GeneratePromptResponse represents the API response for generating a prompt from a template.
type GeneratePromptResponse struct {
	Body struct {
		// Description for the prompt.
		Description string `json:"description,omitempty"`

		// Messages that make up the prompt, as sent by the server.
		Messages []any `json:"messages"`
	}
}

// ToAPIType converts a domain prompt to an API prompt.
func (d DomainPrompt) ToAPIType() (Prompt, error) {
	args := make([]PromptArgument, 0, len(d.Definition.Arguments))
	for _, a := range d.Definition.Arguments {
		arg, err := DomainPromptArgument(a).ToAPIType()
		if err != nil {
			return Prompt{}, err
		}
		args = append(args, arg)
	}

	return Prompt{
		ID:            d.ID,
		Name:          d.Definition.Name,
		ReferenceName: d.ReferenceName,
		Title:         d.Definition.Title,
		Description:   d.Definition.Description,
		Arguments:     args,
		Source:        sourceOf(d.Source),
	}, nil
}

// ToAPIType converts a domain prompt argument to an API prompt argument.
func (d DomainPromptArgument) ToAPIType() (PromptArgument, error) {
	return PromptArgument(d), nil
}

// RegisterPromptRoutes sets up the prompt API endpoints.
func RegisterPromptRoutes(routerAPI huma.API, accessor contracts.PromptAccessor, apiPathPrefix string) {
	promptsAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Prompts"}

	huma.Register(
		promptsAPI,
		huma.Operation{
			OperationID: "listPrompts",
			Method:      http.MethodGet,
			Summary:     "List registered prompts",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*PromptsListResponse, error) {
			return handlePrompts(accessor)
		},
	)

	huma.Register(
		promptsAPI,
		huma.Operation{
			OperationID: "generatePrompt",
			Method:      http.MethodPost,
			Path:        "/{id}/get",
			Summary:     "Generate a prompt from a template",
			Tags:        tags,
		},
		func(ctx context.Context, input *PromptGenerateRequest) (*GeneratePromptResponse, error) {
			return handlePromptGenerate(ctx, accessor, input.ID, input.Body.Arguments)
		},
	)
}

// handlePrompts returns every registered prompt.
func handlePrompts(accessor contracts.PromptAccessor) (*PromptsListResponse, error) {
	registered := accessor.Prompts()

	prompts := make([]Prompt, 0, len(registered))
	for _, p := range registered {
		apiPrompt, err := DomainPrompt(p).ToAPIType()
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, apiPrompt)
	}

	resp := &PromptsListResponse{}
	resp.Body.Prompts = prompts
	return resp, nil
}

// handlePromptGenerate renders the prompt registered under id.
func handlePromptGenerate(
	ctx context.Context,
	accessor contracts.PromptAccessor,
	id string,
	args map[string]string,
) (*GeneratePromptResponse, error) {
	result, err := accessor.GetPrompt(ctx, id, args)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: '%s': no result", errors.ErrPromptGenerationFailed, id)
	}

	messages, err := decodeAll(result.Messages)
	if err != nil {
		return nil, fmt.Errorf("decoding messages of prompt '%s': %w", id, err)
	}

	resp := &GeneratePromptResponse{}
	resp.Body.Description = result.Description
	resp.Body.Messages = messages
	return resp, nil
}
