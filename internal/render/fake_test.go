package render

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"

	"svg2pdf/internal/domain"
)

var svgSize = regexp.MustCompile(`<svg[^>]*\swidth="([0-9.]+)"[^>]*\sheight="([0-9.]+)"`)

// fakeBrowser hands out fakePages that "measure" the first svg tag's
// width/height attributes and print a real single-page PDF of the requested
// size.
type fakeBrowser struct {
	mu      sync.Mutex
	err     error
	done    chan struct{}
	newPage func(ctx context.Context) error
	hook    func(p *fakePage)

	opened atomic.Int64
	closed atomic.Int64
	pages  []*fakePage
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{done: make(chan struct{})}
}

func (b *fakeBrowser) NewPage(ctx context.Context) (domain.Page, error) {
	if err := b.Err(); err != nil {
		return nil, err
	}
	if b.newPage != nil {
		if err := b.newPage(ctx); err != nil {
			return nil, err
		}
	}
	p := &fakePage{browser: b}
	if b.hook != nil {
		b.hook(p)
	}
	b.opened.Add(1)
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

func (b *fakeBrowser) kill(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
		close(b.done)
	}
}

func (b *fakeBrowser) Done() <-chan struct{} { return b.done }

func (b *fakeBrowser) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *fakeBrowser) Version() string { return "FakeChrome/1.0" }

func (b *fakeBrowser) Stats() domain.SessionStats {
	opened, closed := b.opened.Load(), b.closed.Load()
	return domain.SessionStats{
		Driver:          "fake",
		Version:         b.Version(),
		Alive:           b.Err() == nil,
		SessionsStarted: 1,
		PagesOpened:     opened,
		PagesClosed:     closed,
		OpenPages:       opened - closed,
	}
}

func (b *fakeBrowser) Close() error {
	b.kill(domain.ErrSessionClosed)
	return nil
}

type fakePage struct {
	browser *fakeBrowser
	html    string
	printed *domain.PrintParams
	emulate bool

	// Optional per-step overrides.
	setContent func(ctx context.Context) error
	print      func(ctx context.Context) error

	closeCount atomic.Int64
}

func (p *fakePage) EmulateScreen(ctx context.Context) error {
	p.emulate = true
	return ctx.Err()
}

func (p *fakePage) SetContent(ctx context.Context, html string) error {
	if p.setContent != nil {
		if err := p.setContent(ctx); err != nil {
			return err
		}
	}
	p.html = html
	return ctx.Err()
}

func (p *fakePage) Measure(ctx context.Context) (domain.MeasuredSize, error) {
	if err := ctx.Err(); err != nil {
		return domain.MeasuredSize{}, err
	}
	m := svgSize.FindStringSubmatch(p.html)
	if m == nil {
		return domain.MeasuredSize{}, domain.ErrNoGraphic
	}
	w, _ := strconv.ParseFloat(m[1], 64)
	h, _ := strconv.ParseFloat(m[2], 64)
	return domain.MeasuredSize{Width: w, Height: h}, nil
}

func (p *fakePage) PrintPDF(ctx context.Context, params domain.PrintParams) ([]byte, error) {
	if p.print != nil {
		if err := p.print(ctx); err != nil {
			return nil, err
		}
	}
	p.printed = &params
	return testPDF(params.PaperWidth*72, params.PaperHeight*72), nil
}

func (p *fakePage) OuterHTML(ctx context.Context) (string, error) {
	return p.html, ctx.Err()
}

func (p *fakePage) Close() error {
	if p.closeCount.Add(1) == 1 {
		p.browser.closed.Add(1)
	}
	return nil
}

// testPDF builds a minimal single-page PDF with the given media box in points.
func testPDF(width, height float64) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %.4f %.4f] /Resources << >> >>", width, height),
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}
