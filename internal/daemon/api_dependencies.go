package daemon

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcphost/internal/contracts"
	"github.com/mozilla-ai/mcphost/internal/telemetry"
)

// APIDependencies contains the required external dependencies for the API server.
// NewAPIDependencies should be used to create instances of APIDependencies.
type APIDependencies struct {
	// Addr specifies the network address to bind (e.g., "0.0.0.0:8090").
	Addr string

	// Logger for API server operations.
	Logger hclog.Logger

	// Servers inspects and drives the managed servers.
	Servers contracts.ServerController

	// Tools gives access to the registered tools.
	Tools contracts.ToolAccessor

	// Prompts gives access to the registered prompts.
	Prompts contracts.PromptAccessor

	// Resources reads server resources through encoded URIs.
	Resources contracts.ResourceReader

	// Telemetry serves the metrics endpoint.
	Telemetry *telemetry.Telemetry
}

// NewAPIDependencies creates and validates APIDependencies.
func NewAPIDependencies(
	logger hclog.Logger,
	addr string,
	servers contracts.ServerController,
	tools contracts.ToolAccessor,
	prompts contracts.PromptAccessor,
	resources contracts.ResourceReader,
	tel *telemetry.Telemetry,
) (APIDependencies, error) {
	deps := APIDependencies{
		Addr:      addr,
		Logger:    logger,
		Servers:   servers,
		Tools:     tools,
		Prompts:   prompts,
		Resources: resources,
		Telemetry: tel,
	}

	if err := deps.Validate(); err != nil {
		return APIDependencies{}, err
	}

	return deps, nil
}

// Validate ensures all required dependencies are provided and valid.
func (d APIDependencies) Validate() error {
	if err := IsValidAddr(d.Addr); err != nil {
		return fmt.Errorf("invalid API address '%s': %w", d.Addr, err)
	}
	if isNil(d.Logger) {
		return fmt.Errorf("logger cannot be nil")
	}
	if isNil(d.Servers) {
		return fmt.Errorf("server controller cannot be nil")
	}
	if isNil(d.Tools) {
		return fmt.Errorf("tool accessor cannot be nil")
	}
	if isNil(d.Prompts) {
		return fmt.Errorf("prompt accessor cannot be nil")
	}
	if isNil(d.Resources) {
		return fmt.Errorf("resource reader cannot be nil")
	}
	if d.Telemetry == nil {
		return fmt.Errorf("telemetry cannot be nil")
	}
	return nil
}
