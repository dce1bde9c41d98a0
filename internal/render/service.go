// Package render runs the per-request pipeline: open a page on the shared
// browser, inject the markup, measure the first SVG and print a PDF sized
// to it.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"svg2pdf/internal/config"
	"svg2pdf/internal/domain"
	"svg2pdf/internal/infra/cache"
	"svg2pdf/internal/infra/logging"
	"svg2pdf/internal/infra/pdfinfo"
)

// Options tunes a Service.
type Options struct {
	Timeout         time.Duration
	AcquireTimeout  time.Duration
	MaxConcurrent   int
	MinGraphicPx    float64
	Verify          bool
	PrintBackground bool
}

// OptionsFrom maps the render config section onto Options.
func OptionsFrom(cfg config.RenderConfig) Options {
	return Options{
		Timeout:         cfg.Timeout(),
		AcquireTimeout:  cfg.AcquireTimeout,
		MaxConcurrent:   ResolveConcurrency(cfg.MaxConcurrent),
		MinGraphicPx:    cfg.MinGraphicPx,
		Verify:          cfg.VerifyOutput,
		PrintBackground: cfg.PrintBackground,
	}
}

// Cache is the subset of the PDF cache the service needs.
type Cache interface {
	Get(ctx context.Context, key string) []byte
	Set(ctx context.Context, key string, data []byte)
}

// Stats are the service counters exposed next to the session stats.
type Stats struct {
	Capacity    int   `json:"capacity"`
	InFlight    int64 `json:"in_flight"`
	Succeeded   int64 `json:"succeeded"`
	Failed      int64 `json:"failed"`
	Rejected    int64 `json:"rejected"`
	CacheHits   int64 `json:"cache_hits"`
	TimeoutSecs int   `json:"timeout_secs"`
}

// Service renders markup on a shared browser. It is safe for concurrent use.
type Service struct {
	browser domain.Browser
	opts    Options
	gate    *semaphore.Weighted
	cache   Cache

	inFlight  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	cacheHits atomic.Int64
}

// New builds a Service. cache may be nil.
func New(browser domain.Browser, opts Options, c Cache) *Service {
	opts.MaxConcurrent = ResolveConcurrency(opts.MaxConcurrent)
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Service{
		browser: browser,
		opts:    opts,
		gate:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		cache:   c,
	}
}

func (s *Service) Stats() Stats {
	return Stats{
		Capacity:    s.opts.MaxConcurrent,
		InFlight:    s.inFlight.Load(),
		Succeeded:   s.succeeded.Load(),
		Failed:      s.failed.Load(),
		Rejected:    s.rejected.Load(),
		CacheHits:   s.cacheHits.Load(),
		TimeoutSecs: int(s.opts.Timeout / time.Second),
	}
}

// Render runs the pipeline for markup. Every error is a *domain.RenderError.
func (s *Service) Render(ctx context.Context, markup string, mode domain.OutputMode) (*domain.Result, error) {
	mode, err := domain.ParseOutputMode(string(mode), domain.OutputPDF)
	if err != nil {
		return nil, err
	}

	var key string
	if s.cache != nil && mode == domain.OutputPDF {
		key = cache.Key(markup, s.opts.PrintBackground)
		if res := s.fromCache(ctx, key); res != nil {
			return res, nil
		}
	}

	if err := s.acquire(ctx); err != nil {
		s.rejected.Add(1)
		return nil, err
	}
	defer s.gate.Release(1)

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	start := time.Now()
	res, err := s.run(ctx, markup, mode)
	if err != nil {
		s.failed.Add(1)
		logging.Warn("Render failed", "mode", string(mode), "kind", string(domain.KindOf(err)), "error", err)
		return nil, err
	}
	s.succeeded.Add(1)
	logging.Debug("Render complete",
		"mode", string(mode),
		"width_px", res.Size.Width,
		"height_px", res.Size.Height,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if key != "" {
		s.cache.Set(ctx, key, res.PDF)
	}
	return res, nil
}

func (s *Service) acquire(ctx context.Context) error {
	acquireCtx, cancel := context.WithTimeout(ctx, s.opts.AcquireTimeout)
	defer cancel()
	if err := s.gate.Acquire(acquireCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s.classify(ctx, "acquire", ctxErr, domain.KindCanceled)
		}
		return domain.NewError(domain.KindBusy, "acquire", domain.ErrBusy)
	}
	return nil
}

func (s *Service) run(parent context.Context, markup string, mode domain.OutputMode) (*domain.Result, error) {
	ctx, cancel := context.WithTimeout(parent, s.opts.Timeout)
	defer cancel()

	page, err := s.browser.NewPage(ctx)
	if err != nil {
		return nil, s.classify(ctx, "new page", err, domain.KindConnection)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			logging.Debug("Page close failed", "error", cerr)
		}
	}()

	if err := page.EmulateScreen(ctx); err != nil {
		return nil, s.classify(ctx, "emulate media", err, domain.KindInternal)
	}
	if err := page.SetContent(ctx, Document(markup)); err != nil {
		return nil, s.classify(ctx, "set content", err, domain.KindInternal)
	}

	size, err := page.Measure(ctx)
	if err != nil {
		return nil, s.classify(ctx, "measure", err, domain.KindMeasurement)
	}
	if size.Width < s.opts.MinGraphicPx || size.Height < s.opts.MinGraphicPx {
		return nil, domain.NewError(domain.KindMeasurement, "measure",
			fmt.Errorf("%w: %gx%g px", domain.ErrDegenerateGraphic, size.Width, size.Height))
	}

	res := &domain.Result{Mode: mode, Size: size, Page: size.PageSize()}

	if mode.WantsPDF() {
		pdf, err := page.PrintPDF(ctx, domain.PrintParamsFor(res.Page, s.opts.PrintBackground))
		if err != nil {
			return nil, s.classify(ctx, "print", err, domain.KindPrint)
		}
		res.PDF = pdf
		res.Pages = 1
		if s.opts.Verify {
			info, err := pdfinfo.Inspect(pdf)
			if err != nil {
				return nil, domain.NewError(domain.KindPrint, "verify", err)
			}
			res.Pages = info.Pages
			if !within(info.WidthInches(), res.Page.Width) || !within(info.HeightInches(), res.Page.Height) {
				logging.Warn("Printed page size differs from measurement",
					"want_w_in", res.Page.Width, "want_h_in", res.Page.Height,
					"got_w_in", info.WidthInches(), "got_h_in", info.HeightInches())
			}
		}
	}

	if mode.WantsHTML() {
		html, err := page.OuterHTML(ctx)
		if err != nil {
			return nil, s.classify(ctx, "outer html", err, domain.KindInternal)
		}
		res.HTML = html
	}
	return res, nil
}

// fromCache rebuilds a Result from a cached PDF. Corrupt entries are misses.
func (s *Service) fromCache(ctx context.Context, key string) *domain.Result {
	pdf := s.cache.Get(ctx, key)
	if pdf == nil {
		return nil
	}
	info, err := pdfinfo.Inspect(pdf)
	if err != nil {
		logging.Warn("Ignoring unreadable cached PDF", "key", key, "error", err)
		return nil
	}
	s.cacheHits.Add(1)
	page := domain.PageSize{Width: info.WidthInches(), Height: info.HeightInches()}
	return &domain.Result{
		Mode:   domain.OutputPDF,
		PDF:    pdf,
		Size:   domain.MeasuredSize{Width: page.Width * domain.PixelsPerInch, Height: page.Height * domain.PixelsPerInch},
		Page:   page,
		Pages:  info.Pages,
		Cached: true,
	}
}

// classify turns a step failure into a RenderError. Deadline and
// cancellation of ctx win over the browser state, which wins over fallback.
func (s *Service) classify(ctx context.Context, op string, err error, fallback domain.ErrorKind) error {
	var re *domain.RenderError
	if errors.As(err, &re) {
		return err
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.NewError(domain.KindTimeout, op, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return domain.NewError(domain.KindCanceled, op, err)
	case s.browser.Err() != nil:
		if errors.Is(err, s.browser.Err()) {
			return domain.NewError(domain.KindConnection, op, err)
		}
		return domain.NewError(domain.KindConnection, op, fmt.Errorf("%w: %v", s.browser.Err(), err))
	}
	if kind := domain.KindOf(err); kind != domain.KindInternal {
		return domain.NewError(kind, op, err)
	}
	return domain.NewError(fallback, op, err)
}

func within(got, want float64) bool {
	d := got - want
	return d > -0.01 && d < 0.01
}
