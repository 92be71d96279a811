package printer

import (
	"fmt"
	"io"

	"github.com/mozilla-ai/mcphost/internal/cmd/output"
)

var _ output.Printer[TrustListing] = (*TrustPrinter)(nil)

// TrustListing is an explicit trust decision recorded for a collection.
type TrustListing struct {
	CollectionID string `json:"collectionId" yaml:"collection_id"`
	Decision     string `json:"decision"     yaml:"decision"`
}

type TrustPrinter struct {
	headerFunc output.WriteFunc[TrustListing]
	footerFunc output.WriteFunc[TrustListing]
}

func (p *TrustPrinter) Header(w io.Writer, count int) {
	if p.headerFunc != nil {
		p.headerFunc(w, count)
	}
}

func (p *TrustPrinter) SetHeader(fn output.WriteFunc[TrustListing]) {
	p.headerFunc = fn
}

func (p *TrustPrinter) Item(w io.Writer, t TrustListing) error {
	_, err := fmt.Fprintf(w, "%s: %s\n", t.CollectionID, t.Decision)
	return err
}

func (p *TrustPrinter) Footer(w io.Writer, count int) {
	if p.footerFunc != nil {
		p.footerFunc(w, count)
	}
}

func (p *TrustPrinter) SetFooter(fn output.WriteFunc[TrustListing]) {
	p.footerFunc = fn
}
