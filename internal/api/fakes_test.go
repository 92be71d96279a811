package api

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/mozilla-ai/mcphost/internal/domain"
	"github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/registry"
	"github.com/mozilla-ai/mcphost/internal/resourcefs"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

type fakeController struct {
	statuses map[string]domain.ServerStatus
	started  []string
	stopErr  error
}

func (f *fakeController) List() []domain.ServerStatus {
	out := make([]domain.ServerStatus, 0, len(f.statuses))
	for _, id := range slices.Sorted(maps.Keys(f.statuses)) {
		out = append(out, f.statuses[id])
	}
	return out
}

func (f *fakeController) Status(id string) (domain.ServerStatus, error) {
	st, ok := f.statuses[id]
	if !ok {
		return domain.ServerStatus{}, fmt.Errorf("%w: '%s'", errors.ErrServerNotFound, id)
	}
	return st, nil
}

func (f *fakeController) Start(_ context.Context, id string) (domain.ServerStatus, error) {
	st, err := f.Status(id)
	if err != nil {
		return st, err
	}
	f.started = append(f.started, id)
	st.Status = transport.StatusRunning
	f.statuses[id] = st
	return st, nil
}

func (f *fakeController) Stop(_ context.Context, id string) (domain.ServerStatus, error) {
	st, err := f.Status(id)
	if err != nil {
		return st, err
	}
	if f.stopErr != nil {
		return domain.ServerStatus{}, f.stopErr
	}
	st.Status = transport.StatusStopped
	f.statuses[id] = st
	return st, nil
}

type fakeTools struct {
	tools  []registry.Tool
	result *transport.ToolResult
	err    error
	emit   []transport.Progress

	gotID   string
	gotArgs map[string]any
}

func (f *fakeTools) Tools() []registry.Tool { return f.tools }

func (f *fakeTools) CallTool(
	_ context.Context,
	id string,
	args map[string]any,
	onProgress func(transport.Progress),
) (*transport.ToolResult, error) {
	f.gotID = id
	f.gotArgs = args
	for _, p := range f.emit {
		onProgress(p)
	}
	return f.result, f.err
}

type fakePrompts struct {
	prompts []registry.Prompt
	result  *transport.PromptResult
	err     error
	gotArgs map[string]string
}

func (f *fakePrompts) Prompts() []registry.Prompt { return f.prompts }

func (f *fakePrompts) GetPrompt(_ context.Context, _ string, args map[string]string) (*transport.PromptResult, error) {
	f.gotArgs = args
	return f.result, f.err
}

type fakeReader struct {
	infos   map[string]resourcefs.FileInfo
	files   map[string][]byte
	entries map[string][]resourcefs.DirEntry
}

func (f *fakeReader) Stat(_ context.Context, uri string) (resourcefs.FileInfo, error) {
	info, ok := f.infos[uri]
	if !ok {
		return resourcefs.FileInfo{}, fmt.Errorf("%w: '%s'", errors.ErrResourceNotFound, uri)
	}
	return info, nil
}

func (f *fakeReader) ReadFile(_ context.Context, uri string) ([]byte, error) {
	data, ok := f.files[uri]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", errors.ErrResourceNotFound, uri)
	}
	return data, nil
}

func (f *fakeReader) ReadDir(_ context.Context, uri string) ([]resourcefs.DirEntry, error) {
	entries, ok := f.entries[uri]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", errors.ErrResourceNotFound, uri)
	}
	return entries, nil
}
