package chrome

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"svg2pdf/internal/domain"
)

// Page is one Chrome tab created by Session.NewPage.
type Page struct {
	session *Session
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
}

var _ domain.Page = (*Page)(nil)

// run executes actions on the tab. ctx bounds the call: its deadline is
// applied and its cancellation aborts the command.
func (p *Page) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	execCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		execCtx, cancelDeadline = context.WithDeadline(execCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(execCtx, actions...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
	}
	return p.session.wrap(op, err)
}

func (p *Page) EmulateScreen(ctx context.Context) error {
	return p.run(ctx, "emulate media", emulation.SetEmulatedMedia().WithMedia("screen"))
}

func (p *Page) SetContent(ctx context.Context, html string) error {
	return p.run(ctx, "set content",
		chromedp.ActionFunc(func(ctx context.Context) error {
			frame, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frame.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (p *Page) Measure(ctx context.Context) (domain.MeasuredSize, error) {
	var probe domain.Probe
	if err := p.run(ctx, "measure", chromedp.Evaluate(domain.MeasureProbe, &probe)); err != nil {
		return domain.MeasuredSize{}, err
	}
	return probe.Size()
}

func (p *Page) PrintPDF(ctx context.Context, params domain.PrintParams) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, "print", chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, _, err = page.PrintToPDF().
			WithPaperWidth(params.PaperWidth).
			WithPaperHeight(params.PaperHeight).
			WithMarginTop(0).
			WithMarginBottom(0).
			WithMarginLeft(0).
			WithMarginRight(0).
			WithPageRanges(params.PageRanges).
			WithPreferCSSPageSize(false).
			WithPrintBackground(params.PrintBackground).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, domain.ErrEmptyPDF
	}
	return buf, nil
}

func (p *Page) OuterHTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, "outer html", chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Close closes the tab. It is idempotent and never blocks on the request
// context, so it also runs after a timeout.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.session.pagesClosed.Add(1)
	})
	return nil
}
