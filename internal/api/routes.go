package api

import (
	"fmt"
	"net/url"
	"reflect"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mozilla-ai/mcphost/internal/contracts"
)

// APIVersion is the version used in the OpenAPI spec and URL paths.
const APIVersion = "v1"

// RegisterRoutes registers all API routes on the provided Huma router.
// This is the single source of truth for the API route structure.
// Returns the API path prefix (e.g., "/api/v1") under which the routes are created.
func RegisterRoutes(
	router huma.API,
	servers contracts.ServerController,
	tools contracts.ToolAccessor,
	prompts contracts.PromptAccessor,
	resources contracts.ResourceReader,
) (string, error) {
	if isNil(router) {
		return "", fmt.Errorf("router cannot be nil")
	}
	if isNil(servers) {
		return "", fmt.Errorf("server controller cannot be nil")
	}
	if isNil(tools) {
		return "", fmt.Errorf("tool accessor cannot be nil")
	}
	if isNil(prompts) {
		return "", fmt.Errorf("prompt accessor cannot be nil")
	}
	if isNil(resources) {
		return "", fmt.Errorf("resource reader cannot be nil")
	}

	// Extract API version from the router's OpenAPI spec.
	apiVersionID := router.OpenAPI().Info.Version

	// Safe way to ensure /api/{version}.
	apiPathPrefix, err := url.JoinPath("/api", apiVersionID)
	if err != nil {
		return "", fmt.Errorf("failed to construct API path prefix: %w", err)
	}

	// Group all routes under the /api/{version} prefix.
	versionedGroup := huma.NewGroup(router, apiPathPrefix)
	RegisterServerRoutes(versionedGroup, servers, "/servers")
	RegisterToolRoutes(versionedGroup, tools, "/tools")
	RegisterPromptRoutes(versionedGroup, prompts, "/prompts")
	RegisterResourceRoutes(versionedGroup, resources, "/resources")

	return apiPathPrefix, nil
}

// isNil reports whether v is nil, including typed nils. Value types are never nil.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface, reflect.UnsafePointer:
		return rv.IsNil()
	default:
		return false
	}
}
