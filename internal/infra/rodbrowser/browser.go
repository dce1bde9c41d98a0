// Package rodbrowser is the go-rod implementation of domain.Browser, selected
// with browser.driver: rod.
package rodbrowser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"svg2pdf/internal/config"
	"svg2pdf/internal/domain"
	"svg2pdf/internal/infra/logging"
)

// DriverName identifies this implementation in stats and config.
const DriverName = "rod"

var launches atomic.Int64

// Session owns one rod-controlled browser process.
type Session struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	profileDir string
	version    string

	done    chan struct{}
	errOnce sync.Once
	err     error

	closeOnce sync.Once

	pagesOpened atomic.Int64
	pagesClosed atomic.Int64
	events      atomic.Int64
}

var _ domain.Browser = (*Session)(nil)

// Launch starts the browser via rod's launcher, connects, starts the event
// pump and confirms the connection with a version round-trip.
func Launch(ctx context.Context, cfg config.BrowserConfig) (*Session, error) {
	startCtx := ctx
	if cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, cfg.StartupTimeout)
		defer cancel()
	}

	l, profileDir, err := newLauncher(cfg)
	if err != nil {
		return nil, domain.NewError(domain.KindStartup, "profile dir", err)
	}
	s := &Session{launcher: l, profileDir: profileDir, done: make(chan struct{})}

	type launched struct {
		url string
		err error
	}
	res := make(chan launched, 1)
	go func() {
		u, err := l.Launch()
		res <- launched{u, err}
	}()

	var controlURL string
	select {
	case r := <-res:
		if r.err != nil {
			s.teardown()
			return nil, domain.NewError(domain.KindStartup, "launch", r.err)
		}
		controlURL = r.url
	case <-startCtx.Done():
		// The launch may still complete after we gave up on it.
		go func() {
			<-res
			s.teardown()
		}()
		return nil, domain.NewError(domain.KindStartup, "launch", startCtx.Err())
	}

	s.browser = rod.New().ControlURL(controlURL)
	if err := s.browser.Connect(); err != nil {
		s.teardown()
		return nil, domain.NewError(domain.KindStartup, "connect", err)
	}

	s.startPump()

	version, err := proto.BrowserGetVersion{}.Call(s.browser.Context(startCtx))
	if err != nil {
		s.Close()
		return nil, domain.NewError(domain.KindStartup, "version handshake", err)
	}
	s.version = version.Product

	launches.Add(1)
	logging.Info("Browser session started", "driver", DriverName, "version", s.version)
	return s, nil
}

func newLauncher(cfg config.BrowserConfig) (*launcher.Launcher, string, error) {
	l := launcher.New().Headless(true).Leakless(false).
		Set("disable-dev-shm-usage")
	if cfg.ChromePath != "" {
		l = l.Bin(cfg.ChromePath)
	}
	if cfg.NoSandbox {
		l = l.NoSandbox(true).Set("disable-setuid-sandbox")
	}
	if cfg.DisableGPU {
		l = l.Set("disable-gpu").Set("disable-gpu-compositing")
	}
	for _, arg := range cfg.ExtraFlags {
		arg = strings.TrimPrefix(strings.TrimSpace(arg), "--")
		if arg == "" {
			continue
		}
		name, value, ok := strings.Cut(arg, "=")
		if ok {
			l = l.Set(flags.Flag(name), value)
			continue
		}
		l = l.Set(flags.Flag(name))
	}

	var profileDir string
	if cfg.UserDataDir != "" {
		if err := os.MkdirAll(cfg.UserDataDir, 0o755); err != nil {
			return nil, "", fmt.Errorf("cannot create profile base dir: %w", err)
		}
		dir, err := os.MkdirTemp(cfg.UserDataDir, "svg2pdf-rod-*")
		if err != nil {
			return nil, "", fmt.Errorf("cannot create profile dir: %w", err)
		}
		profileDir = dir
		l = l.UserDataDir(dir)
	}
	return l, profileDir, nil
}

// startPump drains the browser event stream. When the stream ends the
// connection is gone and the session fails.
func (s *Session) startPump() {
	events := s.browser.Event()
	go func() {
		for msg := range events {
			s.events.Add(1)
			crashed := proto.TargetTargetCrashed{}
			if msg.Load(&crashed) {
				logging.Error("Browser target crashed", "target_id", string(crashed.TargetID), "status", crashed.Status)
			}
		}
		logging.Warn("Browser event stream ended", "driver", DriverName)
		s.fail(domain.ErrConnectionLost)
	}()
}

// NewPage opens a blank tab.
func (s *Session) NewPage(ctx context.Context) (domain.Page, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}
	p, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, s.wrap("new page", err)
	}
	s.pagesOpened.Add(1)
	return &Page{session: s, page: p}, nil
}

func (s *Session) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if cause := s.Err(); cause != nil {
		return fmt.Errorf("%s: %w (%v)", op, cause, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Session) Version() string { return s.version }

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

// Close shuts the browser down. Safe to call twice.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.fail(domain.ErrSessionClosed)
		if s.browser != nil {
			err = s.browser.Close()
		}
		s.teardown()
		logging.Info("Browser session closed", "driver", DriverName)
	})
	return err
}

func (s *Session) teardown() {
	if s.launcher != nil {
		if s.launcher.PID() != 0 {
			s.launcher.Kill()
		}
		if dir := s.launcher.Get(flags.UserDataDir); dir != "" && s.profileDir == "" {
			_ = os.RemoveAll(dir)
		}
	}
	if s.profileDir != "" {
		_ = os.RemoveAll(s.profileDir)
	}
}

func (s *Session) fail(err error) {
	s.errOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}
