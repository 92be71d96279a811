package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mozilla-ai/mcphost/internal/contracts"
	"github.com/mozilla-ai/mcphost/internal/domain"
)

// DomainServerStatus is a wrapper that allows receivers to be declared in the API package that deal with domain types.
type DomainServerStatus domain.ServerStatus

// ServerStatus describes one managed server as seen by API callers.
type ServerStatus struct {
	ID           string `doc:"Definition identifier"              example:"github"                 json:"id"`
	Label        string `doc:"Display name"                       example:"GitHub"                 json:"label"`
	CollectionID string `doc:"Collection the server belongs to"   example:"workspace"              json:"collectionId"`
	Status       string `doc:"Connection status"                  enum:"stopped,starting,running,error" json:"status"`
	CacheState   string `doc:"Where the published tools came from" example:"live"                  json:"cacheState"`

	// Message explains an error status.
	Message string `json:"message,omitempty"`

	// Code classifies an error status, e.g. "command_not_found".
	Code string `json:"code,omitempty"`

	// NeedsAttention is set when the server failed, or is trusted but only has stale or no tools to offer.
	NeedsAttention bool `json:"needsAttention"`

	// Waiting lists identifiers the server publishes that another server still holds.
	Waiting []string `json:"waiting,omitempty"`

	Tools   int `json:"tools"`
	Prompts int `json:"prompts"`

	LastChanged *time.Time `json:"lastChanged,omitempty"`
	LastRunning *time.Time `json:"lastRunning,omitempty"`
}

// ServersResponse represents the wrapped API response for a list of servers.
type ServersResponse struct {
	Body struct {
		Servers []ServerStatus `doc:"Managed servers sorted by ID" json:"servers"`
	}
}

// ServerRequest represents an incoming API request addressing a single server.
type ServerRequest struct {
	ID string `doc:"Identifier of the server" example:"github" path:"id"`
}

// ServerResponse represents the wrapped API response for a single server.
type ServerResponse struct {
	Body ServerStatus
}

// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
func (d DomainServerStatus) ToAPIType() (ServerStatus, error) {
	return ServerStatus{
		ID:             d.ID,
		Label:          d.Label,
		CollectionID:   d.CollectionID,
		Status:         d.Status.String(),
		CacheState:     d.CacheState.String(),
		Message:        d.Message,
		Code:           string(d.Code),
		NeedsAttention: d.NeedsAttention,
		Waiting:        d.Waiting,
		Tools:          d.Tools,
		Prompts:        d.Prompts,
		LastChanged:    d.LastChanged,
		LastRunning:    d.LastRunning,
	}, nil
}

// RegisterServerRoutes sets up the server lifecycle API endpoints.
func RegisterServerRoutes(routerAPI huma.API, controller contracts.ServerController, apiPathPrefix string) {
	serversAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Servers"}

	// Add route at the root of the group (no path specified).
	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "listServers",
			Method:      http.MethodGet,
			Summary:     "List all servers",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*ServersResponse, error) {
			return handleServers(controller)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "getServer",
			Method:      http.MethodGet,
			Path:        "/{id}",
			Summary:     "Get the status of a server",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerRequest) (*ServerResponse, error) {
			return handleServer(controller, input.ID)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "startServer",
			Method:      http.MethodPost,
			Path:        "/{id}/start",
			Summary:     "Start a server",
			Description: "Starts the server as a user interaction, asking for trust when its collection is undecided",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerRequest) (*ServerResponse, error) {
			return handleServerStart(ctx, controller, input.ID)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "stopServer",
			Method:      http.MethodPost,
			Path:        "/{id}/stop",
			Summary:     "Stop a server",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerRequest) (*ServerResponse, error) {
			return handleServerStop(ctx, controller, input.ID)
		},
	)
}

// handleServers returns the status of every managed server.
func handleServers(controller contracts.ServerController) (*ServersResponse, error) {
	statuses := controller.List()

	resp := &ServersResponse{}
	resp.Body.Servers = make([]ServerStatus, 0, len(statuses))
	for _, st := range statuses {
		s, err := DomainServerStatus(st).ToAPIType()
		if err != nil {
			return nil, err
		}
		resp.Body.Servers = append(resp.Body.Servers, s)
	}

	return resp, nil
}

// handleServer returns the status of the server identified by id.
func handleServer(controller contracts.ServerController, id string) (*ServerResponse, error) {
	st, err := controller.Status(id)
	if err != nil {
		return nil, err
	}

	return toServerResponse(st)
}

func handleServerStart(ctx context.Context, controller contracts.ServerController, id string) (*ServerResponse, error) {
	st, err := controller.Start(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("starting '%s': %w", id, err)
	}

	return toServerResponse(st)
}

func handleServerStop(ctx context.Context, controller contracts.ServerController, id string) (*ServerResponse, error) {
	st, err := controller.Stop(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("stopping '%s': %w", id, err)
	}

	return toServerResponse(st)
}

func toServerResponse(st domain.ServerStatus) (*ServerResponse, error) {
	s, err := DomainServerStatus(st).ToAPIType()
	if err != nil {
		return nil, err
	}

	return &ServerResponse{Body: s}, nil
}
