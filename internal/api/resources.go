package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"unicode/utf8"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mozilla-ai/mcphost/internal/contracts"
	"github.com/mozilla-ai/mcphost/internal/resourcefs"
)

// ResourceRequest represents an incoming API request addressing one encoded resource URI.
type ResourceRequest struct {
	URI string `doc:"Encoded resource URI" example:"mcp-resource://676974687562/file/-/README.md" query:"uri" required:"true"`
}

// ResourceStat describes an encoded resource URI.
type ResourceStat struct {
	URI      string `json:"uri"`
	Type     string `doc:"Whether the URI is read or listed" enum:"file,directory" json:"type"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mimeType,omitempty"`
}

// ResourceEntry is one child of a directory URI.
type ResourceEntry struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
	Type string `enum:"file,directory" json:"type"`
}

// ResourceContent holds the bytes of a resource.
// Valid UTF-8 is returned as text, anything else as base64 in blob.
type ResourceContent struct {
	URI      string  `json:"uri"`
	MIMEType string  `json:"mimeType,omitempty"`
	Text     *string `json:"text,omitempty"`
	Blob     string  `json:"blob,omitempty"`
}

// ResourceStatResponse represents the wrapped API response for a stat.
type ResourceStatResponse struct {
	Body ResourceStat
}

// ResourceListResponse represents the wrapped API response for a directory listing.
type ResourceListResponse struct {
	Body struct {
		Entries []ResourceEntry `json:"entries"`
	}
}

// ResourceContentResponse represents the wrapped API response for a read.
type ResourceContentResponse struct {
	Body ResourceContent
}

// RegisterResourceRoutes sets up the resource file system API endpoints.
func RegisterResourceRoutes(routerAPI huma.API, reader contracts.ResourceReader, apiPathPrefix string) {
	resourcesAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Resources"}

	huma.Register(
		resourcesAPI,
		huma.Operation{
			OperationID: "statResource",
			Method:      http.MethodGet,
			Path:        "/stat",
			Summary:     "Describe a resource",
			Tags:        tags,
		},
		func(ctx context.Context, input *ResourceRequest) (*ResourceStatResponse, error) {
			return handleResourceStat(ctx, reader, input.URI)
		},
	)

	huma.Register(
		resourcesAPI,
		huma.Operation{
			OperationID: "readResource",
			Method:      http.MethodGet,
			Path:        "/read",
			Summary:     "Read a resource",
			Tags:        tags,
		},
		func(ctx context.Context, input *ResourceRequest) (*ResourceContentResponse, error) {
			return handleResourceRead(ctx, reader, input.URI)
		},
	)

	huma.Register(
		resourcesAPI,
		huma.Operation{
			OperationID: "listResources",
			Method:      http.MethodGet,
			Path:        "/list",
			Summary:     "List the children of a resource directory",
			Tags:        tags,
		},
		func(ctx context.Context, input *ResourceRequest) (*ResourceListResponse, error) {
			return handleResourceList(ctx, reader, input.URI)
		},
	)
}

func handleResourceStat(ctx context.Context, reader contracts.ResourceReader, uri string) (*ResourceStatResponse, error) {
	info, err := reader.Stat(ctx, uri)
	if err != nil {
		return nil, err
	}

	return &ResourceStatResponse{Body: ResourceStat{
		URI:      info.URI,
		Type:     info.Type.String(),
		Size:     info.Size,
		MIMEType: info.MIMEType,
	}}, nil
}

func handleResourceRead(ctx context.Context, reader contracts.ResourceReader, uri string) (*ResourceContentResponse, error) {
	info, err := reader.Stat(ctx, uri)
	if err != nil {
		return nil, err
	}
	if info.Type == resourcefs.FileTypeDirectory {
		return nil, resourcefs.ErrIsDirectory
	}

	data, err := reader.ReadFile(ctx, uri)
	if err != nil {
		return nil, err
	}

	content := ResourceContent{URI: uri, MIMEType: info.MIMEType}
	if utf8.Valid(data) {
		text := string(data)
		content.Text = &text
	} else {
		content.Blob = base64.StdEncoding.EncodeToString(data)
	}

	return &ResourceContentResponse{Body: content}, nil
}

func handleResourceList(ctx context.Context, reader contracts.ResourceReader, uri string) (*ResourceListResponse, error) {
	entries, err := reader.ReadDir(ctx, uri)
	if err != nil {
		return nil, err
	}

	resp := &ResourceListResponse{}
	resp.Body.Entries = make([]ResourceEntry, 0, len(entries))
	for _, e := range entries {
		resp.Body.Entries = append(resp.Body.Entries, ResourceEntry{Name: e.Name, URI: e.URI, Type: e.Type.String()})
	}
	return resp, nil
}
