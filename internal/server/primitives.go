package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mozilla-ai/mcphost/internal/prefix"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// Tool is a tool published by a server under an identifier that is unique across servers.
type Tool struct {
	ID            string         `json:"id"`
	ReferenceName string         `json:"referenceName"`
	ServerID      string         `json:"serverId"`
	Definition    transport.Tool `json:"definition"`
}

// Prompt is a prompt published by a server under an identifier that is unique across servers.
type Prompt struct {
	ID            string           `json:"id"`
	ReferenceName string           `json:"referenceName"`
	ServerID      string           `json:"serverId"`
	Definition    transport.Prompt `json:"definition"`
}

// Resource is a server resource addressed by an encoded URI that also identifies the server.
type Resource struct {
	URI        string             `json:"uri"`
	ServerID   string             `json:"serverId"`
	Definition transport.Resource `json:"definition"`
}

// ResourceTemplate is a server resource template. Its URI template is the server's own.
type ResourceTemplate struct {
	ServerID   string                     `json:"serverId"`
	Definition transport.ResourceTemplate `json:"definition"`
}

func publishTools(pfx string, serverID string, label string, tools []transport.Tool) []Tool {
	seen := make(map[string]struct{}, len(tools))
	out := make([]Tool, 0, len(tools))

	for _, t := range tools {
		id := prefix.ID(pfx, t.Name)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		def := t
		if strings.TrimSpace(def.Description) == "" {
			def.Description = fmt.Sprintf("Tool '%s' from server '%s'", t.Name, label)
		}

		out = append(out, Tool{
			ID:            id,
			ReferenceName: prefix.SanitizeName(t.Name),
			ServerID:      serverID,
			Definition:    def,
		})
	}

	slices.SortFunc(out, func(a, b Tool) int { return strings.Compare(a.ReferenceName, b.ReferenceName) })
	return out
}

func publishPrompts(pfx string, serverID string, prompts []transport.Prompt) []Prompt {
	seen := make(map[string]struct{}, len(prompts))
	out := make([]Prompt, 0, len(prompts))

	for _, p := range prompts {
		id := prefix.ID(pfx, p.Name)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		out = append(out, Prompt{
			ID:            id,
			ReferenceName: prefix.SanitizeName(p.Name),
			ServerID:      serverID,
			Definition:    p,
		})
	}

	slices.SortFunc(out, func(a, b Prompt) int { return strings.Compare(a.ReferenceName, b.ReferenceName) })
	return out
}

// validateTools drops tools whose input schema is not a valid JSON schema.
// The returned error joins one error per dropped tool.
func validateTools(tools []transport.Tool) ([]transport.Tool, error) {
	valid := make([]transport.Tool, 0, len(tools))
	var errs []error

	for _, t := range tools {
		if err := validateSchema(t.InputSchema); err != nil {
			errs = append(errs, fmt.Errorf("tool '%s' has an invalid input schema: %w", t.Name, err))
			continue
		}
		valid = append(valid, t)
	}

	return valid, errors.Join(errs...)
}

func validateSchema(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}

	loader := gojsonschema.NewSchemaLoader()
	loader.Validate = true
	_, err := loader.Compile(gojsonschema.NewBytesLoader(raw))
	return err
}
