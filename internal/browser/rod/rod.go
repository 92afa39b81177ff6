// Package rod implements renew.Browser with go-rod.
package rod

import (
	"context"
	"errors"
	"fmt"
	"time"

	gorod "github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

const defaultTimeout = 60 * time.Second

// Launcher starts a local Chrome through the rod launcher.
type Launcher struct {
	logger *zap.Logger
}

// NewLauncher creates a Launcher.
func NewLauncher(logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{logger: logger}
}

// Launch starts Chrome, connects and opens the shared page.
func (l *Launcher) Launch(ctx context.Context, opts renew.LaunchOptions) (renew.Session, error) {
	lnch := launcher.New().
		Context(ctx).
		Headless(opts.Headless).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled")
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		lnch = lnch.Set("window-size", fmt.Sprintf("%d,%d", opts.ViewportWidth, opts.ViewportHeight))
	}
	controlURL, err := lnch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	l.logger.Debug("chrome launched", zap.String("control_url", controlURL))

	browser := gorod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		lnch.Kill()
		return nil, fmt.Errorf("connect chrome: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		lnch.Kill()
		return nil, fmt.Errorf("open page: %w", err)
	}
	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			l.logger.Warn("set user agent failed", zap.Error(err))
		}
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		})
		if err != nil {
			l.logger.Warn("set viewport failed", zap.Error(err))
		}
	}

	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Session{
		browser:        browser,
		page:           page,
		launcher:       lnch,
		defaultTimeout: timeout,
	}, nil
}

// Session wraps a single rod page.
type Session struct {
	browser        *gorod.Browser
	page           *gorod.Page
	launcher       *launcher.Launcher
	defaultTimeout time.Duration
}

func (s *Session) scoped(ctx context.Context, timeout time.Duration) (*gorod.Page, func()) {
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	p := s.page.Context(ctx).Timeout(timeout)
	return p, func() { p.CancelTimeout() }
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", renew.ErrTimeout, err)
	}
	return err
}

func (s *Session) element(ctx context.Context, selector string, timeout time.Duration) (*gorod.Element, func(), error) {
	p, done := s.scoped(ctx, timeout)
	res, err := p.Search(selector)
	if err != nil {
		done()
		return nil, func() {}, wrap(err)
	}
	return res.First, func() {
		res.Release()
		done()
	}, nil
}

// SetCookies writes cookies into the browser cookie store.
func (s *Session) SetCookies(ctx context.Context, cookies ...renew.Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			URL:      c.URL,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			Expires:  proto.TimeSinceEpoch(c.Expires.Unix()),
		})
	}
	p, done := s.scoped(ctx, 0)
	defer done()
	if err := p.SetCookies(params); err != nil {
		return fmt.Errorf("set cookies: %w", wrap(err))
	}
	return nil
}

// Navigate loads url and waits for network idle.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p, done := s.scoped(ctx, timeout)
	defer done()
	wait := p.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
	if err := p.Navigate(url); err != nil {
		return wrap(err)
	}
	wait()
	return wrap(p.GetContext().Err())
}

// Reload reloads the current page and waits for network idle.
func (s *Session) Reload(ctx context.Context, timeout time.Duration) error {
	p, done := s.scoped(ctx, timeout)
	defer done()
	wait := p.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
	if err := p.Reload(); err != nil {
		return wrap(err)
	}
	wait()
	return wrap(p.GetContext().Err())
}

// WaitVisible waits for selector to become visible.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	el, release, err := s.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	defer release()
	return wrap(el.WaitVisible())
}

// Enabled reports whether the element is neither disabled nor aria-disabled.
func (s *Session) Enabled(ctx context.Context, selector string) (bool, error) {
	el, release, err := s.element(ctx, selector, 0)
	if err != nil {
		return false, err
	}
	defer release()
	disabled, err := el.Disabled()
	if err != nil {
		return false, fmt.Errorf("read disabled state: %w", wrap(err))
	}
	aria, err := el.Attribute("aria-disabled")
	if err != nil {
		return false, fmt.Errorf("read aria-disabled: %w", wrap(err))
	}
	return !disabled && (aria == nil || *aria != "true"), nil
}

// Fill replaces the value of an input by typing into it.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	el, release, err := s.element(ctx, selector, 0)
	if err != nil {
		return err
	}
	defer release()
	if err := el.SelectAllText(); err != nil {
		return wrap(err)
	}
	return wrap(el.Input(value))
}

// Click clicks the first match of selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	el, release, err := s.element(ctx, selector, 0)
	if err != nil {
		return err
	}
	defer release()
	return wrap(el.Click(proto.InputMouseButtonLeft, 1))
}

// Submit clicks selector and waits for the navigation it triggers to go idle.
func (s *Session) Submit(ctx context.Context, selector string, timeout time.Duration) error {
	p, done := s.scoped(ctx, timeout)
	defer done()
	wait := p.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
	if err := s.Click(p.GetContext(), selector); err != nil {
		return err
	}
	wait()
	return wrap(p.GetContext().Err())
}

// Text returns the visible text of selector.
func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	el, release, err := s.element(ctx, selector, 0)
	if err != nil {
		return "", err
	}
	defer release()
	text, err := el.Text()
	return text, wrap(err)
}

// URL returns the current location.
func (s *Session) URL(ctx context.Context) (string, error) {
	p, done := s.scoped(ctx, 0)
	defer done()
	info, err := p.Info()
	if err != nil {
		return "", wrap(err)
	}
	return info.URL, nil
}

// Title returns the current document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	p, done := s.scoped(ctx, 0)
	defer done()
	info, err := p.Info()
	if err != nil {
		return "", wrap(err)
	}
	return info.Title, nil
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	p, done := s.scoped(ctx, 0)
	defer done()
	png, err := p.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	return png, wrap(err)
}

// Close shuts the browser down and removes the launcher's profile directory.
func (s *Session) Close() error {
	err := s.browser.Close()
	s.launcher.Kill()
	s.launcher.Cleanup()
	if err != nil {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}
