package resourcefs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcphost/internal/connection"
	apperrors "github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/reactive"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// ErrIsDirectory is returned when file contents are requested for a URI that only prefixes other resources.
var ErrIsDirectory = errors.New("resource is a directory")

// Server is what the filesystem needs from the server owning a resource.
type Server interface {
	// Handler returns the live handler, starting the server if needed.
	Handler(ctx context.Context) (transport.Handler, error)

	// ConnectionState follows whichever connection the server currently holds.
	ConnectionState() reactive.Observable[*connection.State]
}

// ResolveFunc finds the server for a definition ID.
type ResolveFunc func(serverID string) (Server, bool)

// FileType distinguishes files from synthesized directories.
type FileType int

const (
	FileTypeFile FileType = iota + 1
	FileTypeDirectory
)

func (t FileType) String() string {
	switch t {
	case FileTypeFile:
		return "file"
	case FileTypeDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// FileInfo describes one encoded URI.
type FileInfo struct {
	URI      string   `json:"uri"`
	Type     FileType `json:"type"`
	Size     int64    `json:"size"`
	MIMEType string   `json:"mimeType,omitempty"`
}

// DirEntry is one immediate child of a directory.
type DirEntry struct {
	Name string   `json:"name"`
	URI  string   `json:"uri"`
	Type FileType `json:"type"`
}

// FS is a read-only filesystem over the resources of every known server.
// NewFS should be used to create instances of FS.
type FS struct {
	logger  hclog.Logger
	resolve ResolveFunc
	poll    time.Duration
}

// NewFS returns a filesystem that finds servers through resolve.
func NewFS(logger hclog.Logger, resolve ResolveFunc, opts ...Option) (*FS, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if resolve == nil {
		return nil, fmt.Errorf("resolver cannot be nil")
	}

	options, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	return &FS{
		logger:  logger.Named("resourcefs"),
		resolve: resolve,
		poll:    options.PollInterval,
	}, nil
}

type target struct {
	serverID string
	remote   string
	server   Server
}

func (f *FS) target(uri string) (target, error) {
	id, remote, err := Decode(uri)
	if err != nil {
		return target{}, err
	}

	srv, ok := f.resolve(id)
	if !ok {
		return target{}, fmt.Errorf("%w: %w: '%s'", apperrors.ErrResourceNotFound, apperrors.ErrServerNotFound, id)
	}

	return target{serverID: id, remote: remote, server: srv}, nil
}

// Stat reports whether uri is a file or a directory.
// A read result containing the exact URI makes it a file; any other result, or resources listed below it,
// make it a directory.
func (f *FS) Stat(ctx context.Context, uri string) (FileInfo, error) {
	t, err := f.target(uri)
	if err != nil {
		return FileInfo{}, err
	}

	h, err := t.server.Handler(ctx)
	if err != nil {
		return FileInfo{}, err
	}

	contents, readErr := h.ReadResource(ctx, t.remote)
	if readErr == nil {
		if c, ok := exact(contents, t.remote); ok {
			data, err := decodeContents(c)
			if err != nil {
				return FileInfo{}, err
			}
			return FileInfo{URI: uri, Type: FileTypeFile, Size: int64(len(data)), MIMEType: c.MIMEType}, nil
		}
		if len(contents) > 0 {
			return FileInfo{URI: uri, Type: FileTypeDirectory}, nil
		}
	}

	entries, err := f.children(ctx, h, t)
	if err == nil && len(entries) > 0 {
		return FileInfo{URI: uri, Type: FileTypeDirectory}, nil
	}

	if readErr != nil {
		return FileInfo{}, fmt.Errorf("%w: '%s': %w", apperrors.ErrResourceNotFound, t.remote, readErr)
	}
	return FileInfo{}, fmt.Errorf("%w: '%s'", apperrors.ErrResourceNotFound, t.remote)
}

// ReadFile returns the contents of the resource at uri, decoding binary contents.
func (f *FS) ReadFile(ctx context.Context, uri string) ([]byte, error) {
	t, err := f.target(uri)
	if err != nil {
		return nil, err
	}

	h, err := t.server.Handler(ctx)
	if err != nil {
		return nil, err
	}

	contents, err := h.ReadResource(ctx, t.remote)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %w", apperrors.ErrResourceReadFailed, t.remote, err)
	}

	c, ok := exact(contents, t.remote)
	if !ok {
		if len(contents) > 0 {
			return nil, fmt.Errorf("%w: '%s'", ErrIsDirectory, t.remote)
		}
		return nil, fmt.Errorf("%w: '%s'", apperrors.ErrResourceNotFound, t.remote)
	}

	return decodeContents(c)
}

// ReadDir lists the immediate children of uri, synthesizing a directory entry per child path segment.
func (f *FS) ReadDir(ctx context.Context, uri string) ([]DirEntry, error) {
	t, err := f.target(uri)
	if err != nil {
		return nil, err
	}

	h, err := t.server.Handler(ctx)
	if err != nil {
		return nil, err
	}

	return f.children(ctx, h, t)
}

func (f *FS) children(ctx context.Context, h transport.Handler, t target) ([]DirEntry, error) {
	resources, err := transport.ListAll(ctx, h.ListResources)
	if err != nil {
		return nil, fmt.Errorf("%w: listing resources: %w", apperrors.ErrResourceReadFailed, err)
	}

	prefix := t.remote
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	types := map[string]FileType{}
	for _, r := range resources {
		rest, ok := strings.CutPrefix(r.URI, prefix)
		if !ok || rest == "" {
			continue
		}
		name, deeper, _ := strings.Cut(rest, "/")
		if name == "" {
			continue
		}
		if deeper != "" || strings.HasSuffix(rest, "/") {
			types[name] = FileTypeDirectory
		} else if _, seen := types[name]; !seen {
			types[name] = FileTypeFile
		}
	}

	entries := make([]DirEntry, 0, len(types))
	for name, typ := range types {
		encoded, err := Encode(t.serverID, prefix+name)
		if err != nil {
			f.logger.Debug("Skipping resource that cannot be encoded", "uri", prefix+name, "error", err)
			continue
		}
		entries = append(entries, DirEntry{Name: name, URI: encoded, Type: typ})
	}
	slices.SortFunc(entries, func(a, b DirEntry) int { return strings.Compare(a.Name, b.Name) })

	return entries, nil
}

// Watch calls fn whenever the resource at uri changes until the returned function is called or ctx ends.
// Servers that support subscriptions push updates; others are polled. The watch follows server restarts.
func (f *FS) Watch(ctx context.Context, uri string, fn func(uri string)) (func(), error) {
	t, err := f.target(uri)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &watch{
		fs:     f,
		ctx:    ctx,
		uri:    uri,
		remote: t.remote,
		notify: fn,
	}

	state := t.server.ConnectionState()
	disposeState := state.Subscribe(func(st *connection.State) {
		w.bind(handlerOf(st))
	})
	w.bind(handlerOf(state.Get()))

	var once sync.Once
	dispose := func() {
		once.Do(func() {
			disposeState()
			w.bind(nil)
			cancel()
		})
	}

	go func() {
		<-ctx.Done()
		dispose()
	}()

	return dispose, nil
}

func handlerOf(st *connection.State) transport.Handler {
	if st.IsRunning() {
		return st.Handler
	}
	return nil
}

// watch tracks one watched URI across handler changes.
type watch struct {
	fs     *FS
	ctx    context.Context
	uri    string
	remote string
	notify func(string)

	mu      sync.Mutex
	handler transport.Handler
	release func()
}

// bind moves the watch to h, releasing whatever the previous handler held. A nil h only releases.
func (w *watch) bind(h transport.Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if h == w.handler {
		return
	}
	if w.release != nil {
		w.release()
		w.release = nil
	}
	w.handler = h
	if h == nil || w.ctx.Err() != nil {
		return
	}

	if h.Capabilities().Has(transport.CapabilityResourcesSubscribe) {
		w.release = w.subscribe(h)
	} else {
		w.release = w.pollWith(h)
	}
}

func (w *watch) subscribe(h transport.Handler) func() {
	disposeListener := h.OnDidUpdateResource(func(u string) {
		if u == w.remote {
			w.notify(w.uri)
		}
	})

	// The request runs off the caller's goroutine, which may be delivering a state transition.
	subscribed := make(chan struct{})
	go func() {
		defer close(subscribed)
		if err := h.Subscribe(w.ctx, w.remote); err != nil {
			w.fs.logger.Warn("Resource subscription failed", "uri", w.remote, "error", err)
		}
	}()

	return func() {
		disposeListener()
		go func() {
			<-subscribed
			ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), 5*time.Second)
			defer cancel()
			if err := h.Unsubscribe(ctx, w.remote); err != nil {
				w.fs.logger.Debug("Resource unsubscribe failed", "uri", w.remote, "error", err)
			}
		}()
	}
}

func (w *watch) pollWith(h transport.Handler) func() {
	ctx, cancel := context.WithCancel(w.ctx)

	go func() {
		ticker := time.NewTicker(w.fs.poll)
		defer ticker.Stop()

		last, _ := w.digest(ctx, h)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			sum, err := w.digest(ctx, h)
			if err != nil {
				if ctx.Err() == nil {
					w.fs.logger.Debug("Polling resource failed", "uri", w.remote, "error", err)
				}
				continue
			}
			if !bytes.Equal(sum, last) {
				last = sum
				w.notify(w.uri)
			}
		}
	}()

	return cancel
}

func (w *watch) digest(ctx context.Context, h transport.Handler) ([]byte, error) {
	contents, err := h.ReadResource(ctx, w.remote)
	if err != nil {
		return nil, err
	}

	hash := sha256.New()
	for _, c := range contents {
		hash.Write([]byte(c.URI))
		hash.Write([]byte{0})
		if c.Text != nil {
			hash.Write([]byte(*c.Text))
		}
		hash.Write([]byte(c.Blob))
		hash.Write([]byte{0})
	}
	return hash.Sum(nil), nil
}

func exact(contents []transport.ResourceContents, uri string) (transport.ResourceContents, bool) {
	for _, c := range contents {
		if c.URI == uri {
			return c, true
		}
	}
	return transport.ResourceContents{}, false
}

func decodeContents(c transport.ResourceContents) ([]byte, error) {
	if c.Text != nil {
		return []byte(*c.Text), nil
	}

	data, err := base64.StdEncoding.DecodeString(c.Blob)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s' has invalid binary contents: %w", apperrors.ErrResourceReadFailed, c.URI, err)
	}
	return data, nil
}
