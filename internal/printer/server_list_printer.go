// Package printer renders command results as human readable text.
package printer

import (
	"fmt"
	"io"
	"strings"

	"github.com/mozilla-ai/mcphost/internal/cmd/output"
)

var _ output.Printer[ServerListing] = (*ServerListPrinter)(nil)

// ServerListing is what is known about a configured server without connecting to it.
type ServerListing struct {
	CollectionID string   `json:"collectionId" yaml:"collection_id"`
	ID           string   `json:"id"           yaml:"id"`
	Label        string   `json:"label"        yaml:"label"`
	Type         string   `json:"type"         yaml:"type"`
	AutoStart    bool     `json:"autoStart"    yaml:"auto_start"`
	Trusted      bool     `json:"trusted"      yaml:"trusted"`
	CacheState   string   `json:"cacheState"   yaml:"cache_state"`
	Tools        []string `json:"tools"        yaml:"tools"`
	Prompts      []string `json:"prompts"      yaml:"prompts"`
}

type ServerListPrinter struct {
	headerFunc output.WriteFunc[ServerListing]
	footerFunc output.WriteFunc[ServerListing]
}

func (p *ServerListPrinter) Header(w io.Writer, count int) {
	if p.headerFunc != nil {
		p.headerFunc(w, count)
	}
}

func (p *ServerListPrinter) SetHeader(fn output.WriteFunc[ServerListing]) {
	p.headerFunc = fn
}

func (p *ServerListPrinter) Item(w io.Writer, s ServerListing) error {
	var flags []string
	if s.AutoStart {
		flags = append(flags, "auto-start")
	}
	if !s.Trusted {
		flags = append(flags, "untrusted")
	}

	_, _ = fmt.Fprintf(w, "%s/%s", s.CollectionID, s.ID)
	if s.Label != "" && s.Label != s.ID {
		_, _ = fmt.Fprintf(w, " (%s)", s.Label)
	}
	_, _ = fmt.Fprintf(w, " [%s] cache: %s", s.Type, s.CacheState)
	if len(flags) > 0 {
		_, _ = fmt.Fprintf(w, " %s", strings.Join(flags, ", "))
	}
	_, _ = fmt.Fprintln(w)

	if len(s.Tools) > 0 {
		_, _ = fmt.Fprintf(w, "  tools: %s\n", strings.Join(s.Tools, ", "))
	}
	if len(s.Prompts) > 0 {
		_, _ = fmt.Fprintf(w, "  prompts: %s\n", strings.Join(s.Prompts, ", "))
	}

	return nil
}

func (p *ServerListPrinter) Footer(w io.Writer, count int) {
	if p.footerFunc != nil {
		p.footerFunc(w, count)
	}
}

func (p *ServerListPrinter) SetFooter(fn output.WriteFunc[ServerListing]) {
	p.footerFunc = fn
}
