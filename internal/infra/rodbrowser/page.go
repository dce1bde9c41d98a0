package rodbrowser

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"svg2pdf/internal/domain"
)

// closeTimeout bounds Close when the browser stops answering.
const closeTimeout = 5 * time.Second

// Page is one rod tab.
type Page struct {
	session *Session
	page    *rod.Page

	closeOnce sync.Once
}

var _ domain.Page = (*Page)(nil)

func (p *Page) EmulateScreen(ctx context.Context) error {
	err := proto.EmulationSetEmulatedMedia{Media: "screen"}.Call(p.page.Context(ctx))
	return p.session.wrap("emulate media", err)
}

func (p *Page) SetContent(ctx context.Context, html string) error {
	pg := p.page.Context(ctx)
	if err := pg.SetDocumentContent(html); err != nil {
		return p.session.wrap("set content", err)
	}
	if _, err := pg.Element("body"); err != nil {
		return p.session.wrap("set content", err)
	}
	return nil
}

func (p *Page) Measure(ctx context.Context) (domain.MeasuredSize, error) {
	res, err := p.page.Context(ctx).Eval(domain.MeasureProbeFunc)
	if err != nil {
		return domain.MeasuredSize{}, p.session.wrap("measure", err)
	}
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return domain.MeasuredSize{}, p.session.wrap("measure", err)
	}
	var probe domain.Probe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return domain.MeasuredSize{}, p.session.wrap("measure", err)
	}
	return probe.Size()
}

func (p *Page) PrintPDF(ctx context.Context, params domain.PrintParams) ([]byte, error) {
	zero := 0.0
	width, height := params.PaperWidth, params.PaperHeight
	r, err := p.page.Context(ctx).PDF(&proto.PagePrintToPDF{
		PaperWidth:        &width,
		PaperHeight:       &height,
		MarginTop:         &zero,
		MarginBottom:      &zero,
		MarginLeft:        &zero,
		MarginRight:       &zero,
		PageRanges:        params.PageRanges,
		PreferCSSPageSize: false,
		PrintBackground:   params.PrintBackground,
	})
	if err != nil {
		return nil, p.session.wrap("print", err)
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, p.session.wrap("print", err)
	}
	if len(buf) == 0 {
		return nil, domain.ErrEmptyPDF
	}
	return buf, nil
}

func (p *Page) OuterHTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", p.session.wrap("outer html", err)
	}
	return html, nil
}

// Close closes the tab with its own short deadline so it still runs after
// the request context expired.
func (p *Page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		err = p.page.Context(ctx).Close()
		p.session.pagesClosed.Add(1)
	})
	return err
}
