package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"svg2pdf/internal/config"
	"svg2pdf/internal/domain"
	"svg2pdf/internal/infra/logging"
)

// DriverName identifies this implementation in stats and config.
const DriverName = "chromedp"

var launches atomic.Int64

// Session owns the single Chrome process of the service. It is shared by all
// requests and only hands out new tabs.
type Session struct {
	cfg        config.BrowserConfig
	profileDir string

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	version string

	done    chan struct{}
	errOnce sync.Once
	err     error

	closeOnce sync.Once

	pagesOpened atomic.Int64
	pagesClosed atomic.Int64
	events      atomic.Int64
}

var _ domain.Browser = (*Session)(nil)

// Launch starts Chrome, starts the event pump and confirms the connection
// with a version round-trip. Any failure is a startup error.
func Launch(ctx context.Context, cfg config.BrowserConfig) (*Session, error) {
	profileDir, err := createProfileDir(cfg)
	if err != nil {
		return nil, domain.NewError(domain.KindStartup, "profile dir", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg, profileDir)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(logging.Errorf),
		chromedp.WithLogf(logging.Printf),
	)

	s := &Session{
		cfg:           cfg,
		profileDir:    profileDir,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		done:          make(chan struct{}),
	}

	startCtx := ctx
	if cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, cfg.StartupTimeout)
		defer cancel()
	}

	// The first Run allocates the process and must use browserCtx itself:
	// chromedp ties the browser lifetime to that context.
	if err := awaitRun(startCtx, browserCtx, browserCancel); err != nil {
		s.teardown()
		return nil, domain.NewError(domain.KindStartup, "launch", err)
	}

	s.startPump()

	if err := s.queryVersion(startCtx); err != nil {
		s.Close()
		return nil, domain.NewError(domain.KindStartup, "version handshake", err)
	}

	launches.Add(1)
	logging.Info("Browser session started", "driver", DriverName, "version", s.version, "profile_dir", profileDir)
	return s, nil
}

// awaitRun performs an argument-less chromedp.Run on runCtx, giving up (and
// cancelling runCtx) when ctx ends first.
func awaitRun(ctx, runCtx context.Context, cancel context.CancelFunc) error {
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(runCtx) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		cancel()
		<-errc
		return ctx.Err()
	}
}

func (s *Session) queryVersion(ctx context.Context) error {
	verCtx, cancel := context.WithCancel(s.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(verCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		c := chromedp.FromContext(ctx)
		_, product, _, _, _, err := browser.GetVersion().Do(cdp.WithExecutor(ctx, c.Browser))
		if err != nil {
			return err
		}
		s.version = product
		return nil
	}))
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func allocatorOptions(cfg config.BrowserConfig, profileDir string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.DisableGPU {
		// Software rendering; avoids Vulkan/ANGLE issues in minimal containers.
		opts = append(opts,
			chromedp.DisableGPU,
			chromedp.Flag("disable-gpu-compositing", true),
			chromedp.Flag("use-gl", "swiftshader"),
		)
	}
	if cfg.NoSandbox {
		opts = append(opts,
			chromedp.NoSandbox,
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	return append(opts, flagsFromArgs(cfg.ExtraFlags)...)
}

// flagsFromArgs turns "--name=value" / "--name" strings into allocator flags.
func flagsFromArgs(args []string) []chromedp.ExecAllocatorOption {
	options := make([]chromedp.ExecAllocatorOption, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimPrefix(strings.TrimSpace(arg), "--")
		if arg == "" {
			continue
		}
		if name, value, ok := strings.Cut(arg, "="); ok {
			options = append(options, chromedp.Flag(name, value))
			continue
		}
		options = append(options, chromedp.Flag(arg, true))
	}
	return options
}

// createProfileDir makes a fresh user data dir under cfg.UserDataDir (or the
// system temp dir).
func createProfileDir(cfg config.BrowserConfig) (string, error) {
	base := cfg.UserDataDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("cannot create profile base dir: %w", err)
	}
	dir, err := os.MkdirTemp(base, "svg2pdf-chrome-*")
	if err != nil {
		return "", fmt.Errorf("cannot create profile dir: %w", err)
	}
	return dir, nil
}

// NewPage opens a new tab. The tab is created on the session's browser
// context; ctx only bounds how long we wait for it.
func (s *Session) NewPage(ctx context.Context) (domain.Page, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(s.browserCtx)
	if err := awaitRun(ctx, tabCtx, cancel); err != nil {
		cancel()
		return nil, s.wrap("new page", err)
	}

	s.pagesOpened.Add(1)
	return &Page{session: s, ctx: tabCtx, cancel: cancel}, nil
}

// wrap annotates err with op and, when the session is gone and the error
// looks like an interrupted command, with the session's failure cause.
func (s *Session) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if cause := s.Err(); cause != nil && IsSessionInterrupted(err) {
		return fmt.Errorf("%s: %w (%v)", op, cause, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Done is closed when the pump stops.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns ErrConnectionLost or ErrSessionClosed once Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Version is the browser product string from the startup handshake.
func (s *Session) Version() string { return s.version }

// Stats reports counters for /v0/chrome/stats.
func (s *Session) Stats() domain.SessionStats {
	opened, closed := s.pagesOpened.Load(), s.pagesClosed.Load()
	return domain.SessionStats{
		Driver:          DriverName,
		Version:         s.version,
		Alive:           s.Err() == nil,
		SessionsStarted: launches.Load(),
		PagesOpened:     opened,
		PagesClosed:     closed,
		OpenPages:       opened - closed,
		EventsPumped:    s.events.Load(),
	}
}

// Close shuts the browser down and removes the profile dir. Safe to call twice.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.fail(domain.ErrSessionClosed)
		s.teardown()
		logging.Info("Browser session closed", "driver", DriverName)
	})
	return nil
}

func (s *Session) teardown() {
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	if s.profileDir != "" {
		_ = os.RemoveAll(s.profileDir)
	}
}

// fail records the first terminal error, wakes Done waiters and cancels the
// browser context so in-flight commands return instead of hanging.
func (s *Session) fail(err error) {
	s.errOnce.Do(func() {
		s.err = err
		close(s.done)
		if s.browserCancel != nil {
			s.browserCancel()
		}
	})
}

// IsSessionInterrupted reports errors caused by a cancelled context or a
// dropped browser connection rather than by the page content.
func IsSessionInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"target closed", "websocket", "connection reset", "broken pipe", "invalid context", "session closed", "eof"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
