package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svg2pdf/internal/config"
	"svg2pdf/internal/domain"
	"svg2pdf/internal/infra/cache"
	"svg2pdf/internal/infra/pdfinfo"
)

func testOptions() Options {
	return Options{
		Timeout:         2 * time.Second,
		AcquireTimeout:  time.Second,
		MaxConcurrent:   4,
		MinGraphicPx:    1,
		Verify:          true,
		PrintBackground: true,
	}
}

func TestRender_SizesPageFromGraphic(t *testing.T) {
	b := newFakeBrowser()
	svc := New(b, testOptions(), nil)

	res, err := svc.Render(context.Background(), `<svg width="300" height="150"></svg>`, domain.OutputPDF)
	require.NoError(t, err)

	assert.Equal(t, domain.MeasuredSize{Width: 300, Height: 150}, res.Size)
	assert.InDelta(t, 3.125, res.Page.Width, 0.0001)
	assert.InDelta(t, 1.5625, res.Page.Height, 0.0001)
	assert.Equal(t, 1, res.Pages)
	assert.Empty(t, res.HTML)

	info, err := pdfinfo.Inspect(res.PDF)
	require.NoError(t, err)
	assert.InDelta(t, 3.125, info.WidthInches(), 0.01)
	assert.InDelta(t, 1.5625, info.HeightInches(), 0.01)

	p := b.pages[0]
	assert.True(t, p.emulate)
	require.NotNil(t, p.printed)
	assert.Equal(t, "1", p.printed.PageRanges)
	assert.True(t, p.printed.PrintBackground)
	assert.Equal(t, int64(1), p.closeCount.Load())
}

func TestRender_WrapsMarkupInShell(t *testing.T) {
	b := newFakeBrowser()
	svc := New(b, testOptions(), nil)

	markup := `<svg width="10" height="10"><text>&amp;</text></svg>`
	_, err := svc.Render(context.Background(), markup, domain.OutputPDF)
	require.NoError(t, err)

	html := b.pages[0].html
	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, `<meta charset="utf-8">`)
	assert.Contains(t, html, `<body style="margin: 0;">`)
	assert.Contains(t, html, "<div>"+markup+"</div>")
}

func TestRender_FirstGraphicWins(t *testing.T) {
	b := newFakeBrowser()
	svc := New(b, testOptions(), nil)

	res, err := svc.Render(context.Background(),
		`<p>x</p><svg width="96" height="192"><svg width="10" height="10"></svg></svg><svg width="500" height="500"></svg>`,
		domain.OutputPDF)
	require.NoError(t, err)
	assert.Equal(t, domain.PageSize{Width: 1, Height: 2}, res.Page)
}

func TestRender_NoGraphicIsMeasurementError(t *testing.T) {
	for _, markup := range []string{"", "<p>hello</p>"} {
		b := newFakeBrowser()
		svc := New(b, testOptions(), nil)

		res, err := svc.Render(context.Background(), markup, domain.OutputPDF)
		require.Error(t, err)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, domain.ErrNoGraphic)
		assert.Equal(t, domain.KindMeasurement, domain.KindOf(err))
		assert.Contains(t, err.Error(), "no graphic element found")
		assert.Nil(t, b.pages[0].printed, "nothing must be printed")
		assert.Equal(t, int64(0), b.Stats().OpenPages)
	}
}

func TestRender_DegenerateGraphicRejected(t *testing.T) {
	b := newFakeBrowser()
	svc := New(b, testOptions(), nil)

	_, err := svc.Render(context.Background(), `<svg width="0" height="150"></svg>`, domain.OutputPDF)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDegenerateGraphic)
	assert.Equal(t, domain.KindMeasurement, domain.KindOf(err))
	assert.Equal(t, int64(0), b.Stats().OpenPages)
}

func TestRender_HTMLModeSkipsPrint(t *testing.T) {
	b := newFakeBrowser()
	svc := New(b, testOptions(), nil)

	res, err := svc.Render(context.Background(), `<svg width="20" height="30"></svg>`, domain.OutputHTML)
	require.NoError(t, err)
	assert.Nil(t, res.PDF)
	assert.Contains(t, res.HTML, `<svg width="20" height="30"></svg>`)
	assert.Nil(t, b.pages[0].printed)

	res, err = svc.Render(context.Background(), `<svg width="20" height="30"></svg>`, domain.OutputBoth)
	require.NoError(t, err)
	assert.NotEmpty(t, res.PDF)
	assert.NotEmpty(t, res.HTML)
}

func TestRender_DefaultsAndRejectsMode(t *testing.T) {
	svc := New(newFakeBrowser(), testOptions(), nil)

	res, err := svc.Render(context.Background(), `<svg width="20" height="30"></svg>`, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OutputPDF, res.Mode)

	_, err = svc.Render(context.Background(), `<svg width="20" height="30"></svg>`, "png")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestRender_PrintFailureClosesPage(t *testing.T) {
	b := newFakeBrowser()
	b.hook = func(p *fakePage) {
		p.print = func(context.Context) error { return errors.New("Printing failed") }
	}
	svc := New(b, testOptions(), nil)

	_, err := svc.Render(context.Background(), `<svg width="20" height="30"></svg>`, domain.OutputPDF)
	require.Error(t, err)
	assert.Equal(t, domain.KindPrint, domain.KindOf(err))
	assert.Contains(t, err.Error(), "Printing failed")
	assert.Equal(t, int64(0), b.Stats().OpenPages)
	assert.Equal(t, int64(1), svc.Stats().Failed)
}

func TestRender_TimeoutClosesPage(t *testing.T) {
	b := newFakeBrowser()
	b.hook = func(p *fakePage) {
		p.print = func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}
	}
	opts := testOptions()
	opts.Timeout = 50 * time.Millisecond
	svc := New(b, opts, nil)

	start := time.Now()
	_, err := svc.Render(context.Background(), `<svg width="20" height="30"></svg>`, domain.OutputPDF)
	require.Error(t, err)
	assert.Equal(t, domain.KindTimeout, domain.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int64(0), b.Stats().OpenPages)
}

func TestRender_CallerCancellation(t *testing.T) {
	b := newFakeBrowser()
	ctx, cancel := context.WithCancel(context.Background())
	b.hook = func(p *fakePage) {
		p.setContent = func(context.Context) error {
			cancel()
			return context.Canceled
		}
	}
	svc := New(b, testOptions(), nil)

	_, err := svc.Render(ctx, `<svg width="20" height="30"></svg>`, domain.OutputPDF)
	assert.Equal(t, domain.KindCanceled, domain.KindOf(err))
	assert.Equal(t, int64(0), b.Stats().OpenPages)
}

func TestRender_ConnectionLost(t *testing.T) {
	b := newFakeBrowser()
	b.hook = func(p *fakePage) {
		p.print = func(context.Context) error {
			b.kill(domain.ErrConnectionLost)
			return errors.New("websocket: close 1006 (abnormal closure)")
		}
	}
	svc := New(b, testOptions(), nil)

	_, err := svc.Render(context.Background(), `<svg width="20" height="30"></svg>`, domain.OutputPDF)
	assert.Equal(t, domain.KindConnection, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrConnectionLost)

	_, err = svc.Render(context.Background(), `<svg width="20" height="30"></svg>`, domain.OutputPDF)
	assert.Equal(t, domain.KindConnection, domain.KindOf(err))
	assert.Equal(t, int64(0), b.Stats().OpenPages)
}

func TestRender_BusyWhenGateIsFull(t *testing.T) {
	b := newFakeBrowser()
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	b.hook = func(p *fakePage) {
		p.print = func(ctx context.Context) error {
			once.Do(func() { close(entered) })
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	opts := testOptions()
	opts.MaxConcurrent = 1
	opts.AcquireTimeout = 20 * time.Millisecond
	svc := New(b, opts, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Render(context.Background(), `<svg width="20" height="30"></svg>`, domain.OutputPDF)
		done <- err
	}()
	<-entered

	_, err := svc.Render(context.Background(), `<svg width="20" height="30"></svg>`, domain.OutputPDF)
	assert.Equal(t, domain.KindBusy, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrBusy)
	assert.Equal(t, int64(1), svc.Stats().InFlight)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), svc.Stats().Rejected)
	assert.Equal(t, int64(0), svc.Stats().InFlight)
}

func TestRender_ConcurrentRequestsStayIsolated(t *testing.T) {
	b := newFakeBrowser()
	opts := testOptions()
	opts.MaxConcurrent = 8
	svc := New(b, opts, nil)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, h := float64(10*i), float64(5*i)
			res, err := svc.Render(context.Background(), fmt.Sprintf(`<svg width="%g" height="%g"></svg>`, w, h), domain.OutputPDF)
			if err != nil {
				errs <- err
				return
			}
			if res.Size.Width != w || res.Size.Height != h {
				errs <- fmt.Errorf("request %d got %+v", i, res.Size)
				return
			}
			info, err := pdfinfo.Inspect(res.PDF)
			if err != nil {
				errs <- err
				return
			}
			if !within(info.WidthInches(), w/96) || !within(info.HeightInches(), h/96) {
				errs <- fmt.Errorf("request %d printed %+v", i, info)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	st := b.Stats()
	assert.Equal(t, int64(1), st.SessionsStarted)
	assert.Equal(t, int64(n), st.PagesOpened)
	assert.Equal(t, int64(0), st.OpenPages)
	assert.Equal(t, int64(n), svc.Stats().Succeeded)
}

func TestRender_CachesPDFMode(t *testing.T) {
	mrs, err := miniredis.Run()
	require.NoError(t, err)
	defer mrs.Close()
	c := cache.New(cache.NewClient(mrs.Addr(), 0), time.Minute)

	b := newFakeBrowser()
	svc := New(b, testOptions(), c)
	markup := `<svg width="300" height="150"></svg>`

	first, err := svc.Render(context.Background(), markup, domain.OutputPDF)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Render(context.Background(), markup, domain.OutputPDF)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.PDF, second.PDF)
	assert.InDelta(t, 3.125, second.Page.Width, 0.01)
	assert.Equal(t, int64(1), b.Stats().PagesOpened)
	assert.Equal(t, int64(1), svc.Stats().CacheHits)

	_, err = svc.Render(context.Background(), markup, domain.OutputHTML)
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.Stats().PagesOpened)
}

func TestRender_DefaultConfigVerifiesPDF(t *testing.T) {
	svc := New(newFakeBrowser(), OptionsFrom(config.Default().Render), nil)

	for _, mode := range []domain.OutputMode{domain.OutputPDF, domain.OutputBoth} {
		res, err := svc.Render(context.Background(), `<svg width="300" height="150"></svg>`, mode)
		require.NoError(t, err, mode)
		assert.Equal(t, 1, res.Pages)
		assert.NotEmpty(t, res.PDF)
	}
	assert.Equal(t, int64(0), svc.Stats().Failed)
}

func TestOptionsFrom(t *testing.T) {
	cfg := config.Default().Render
	opts := OptionsFrom(cfg)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, ResolveConcurrency(0), opts.MaxConcurrent)
	assert.True(t, opts.Verify)
}

func TestResolveConcurrency(t *testing.T) {
	assert.Equal(t, 3, ResolveConcurrency(3))
	n := ResolveConcurrency(0)
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 16)
	assert.Equal(t, n, ResolveConcurrency(-1))
}

func TestDocument(t *testing.T) {
	doc := Document("<svg/>")
	assert.Contains(t, doc, `<meta name="viewport" content="width=device-width, initial-scale=1.0">`)
	assert.Contains(t, doc, "@page { margin: 0; }")
	assert.True(t, strings.HasSuffix(doc, "</html>"))
}
