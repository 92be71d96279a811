//go:build docsgen_api
// +build docsgen_api

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcphost/internal/api"
	"github.com/mozilla-ai/mcphost/internal/domain"
	"github.com/mozilla-ai/mcphost/internal/registry"
	"github.com/mozilla-ai/mcphost/internal/resourcefs"
)

// stubController provides a stub implementation for documentation generation.
type stubController struct{}

func (s *stubController) List() []domain.ServerStatus { return nil }
func (s *stubController) Status(string) (domain.ServerStatus, error) {
	return domain.ServerStatus{}, nil
}
func (s *stubController) Start(context.Context, string) (domain.ServerStatus, error) {
	return domain.ServerStatus{}, nil
}
func (s *stubController) Stop(context.Context, string) (domain.ServerStatus, error) {
	return domain.ServerStatus{}, nil
}

// main generates the OpenAPI specification for the mcphost API.
// It assumes it is run from the repository root.
func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "mcphost.docsgen.api",
		Level:  hclog.Info,
		Output: os.Stderr,
	})

	outputPath := "./docs/api/openapi.yaml"

	// Same router setup as the daemon.
	mux := chi.NewMux()
	mux.Use(middleware.StripSlashes)
	router := humachi.New(mux, huma.DefaultConfig("mcphost docs", api.APIVersion))

	// Only the route definitions matter here, so the accessors are empty.
	reg, err := registry.NewRegistry(logger)
	if err != nil {
		logger.Error("failed to create registry", "error", err)
		os.Exit(1)
	}
	fs, err := resourcefs.NewFS(logger, func(string) (resourcefs.Server, bool) { return nil, false })
	if err != nil {
		logger.Error("failed to create resource filesystem", "error", err)
		os.Exit(1)
	}

	apiPathPrefix, err := api.RegisterRoutes(router, &stubController{}, reg, reg, fs)
	if err != nil {
		logger.Error("failed to register API routes", "error", err)
		os.Exit(1)
	}
	logger.Info("Routes registered", "prefix", apiPathPrefix)

	yamlBytes, err := router.OpenAPI().YAML()
	if err != nil {
		logger.Error("failed to generate OpenAPI YAML", "error", err)
		os.Exit(1)
	}

	docsDir := filepath.Dir(outputPath)
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		logger.Error("failed to create docs directory", "path", docsDir, "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(outputPath, yamlBytes, 0o644); err != nil {
		logger.Error("failed to write OpenAPI spec", "path", outputPath, "error", err)
		os.Exit(1)
	}

	logger.Info("OpenAPI spec generated", "path", outputPath, "size", fmt.Sprintf("%d bytes", len(yamlBytes)))
}
