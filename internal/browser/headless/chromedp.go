// Package headless implements renew.Browser with chromedp and Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

const defaultTimeout = 60 * time.Second

// Launcher starts Chrome through a chromedp exec allocator.
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

// Launch starts the browser and opens the single tab used for the whole run.
func (l *Launcher) Launch(_ context.Context, opts renew.LaunchOptions) (renew.Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(l.logger.Sugar().Debugf))

	// The first Run starts the browser process.
	if err := chromedp.Run(tabCtx, network.Enable(), page.SetLifecycleEventsEnabled(true)); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Session{
		tab:            tabCtx,
		tabCancel:      tabCancel,
		allocCancel:    allocCancel,
		defaultTimeout: timeout,
	}, nil
}

// Session is a chromedp tab shared across server visits.
type Session struct {
	tab            context.Context
	tabCancel      context.CancelFunc
	allocCancel    context.CancelFunc
	defaultTimeout time.Duration
}

// run executes actions on the tab bounded by timeout and by the caller's ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	opCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %w", renew.ErrTimeout, timeout, err)
		}
		return err
	}
	return nil
}

// SetCookies writes cookies into the browser cookie store.
func (s *Session) SetCookies(ctx context.Context, cookies ...renew.Cookie) error {
	return s.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			expires := cdp.TimeSinceEpoch(c.Expires)
			err := network.SetCookie(c.Name, c.Value).
				WithURL(c.URL).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly).
				WithExpires(&expires).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

// Navigate loads url and waits for network idle.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return s.run(ctx, timeout, untilNetworkIdle(chromedp.Navigate(url)))
}

// Reload reloads the current page and waits for network idle.
func (s *Session) Reload(ctx context.Context, timeout time.Duration) error {
	return s.run(ctx, timeout, untilNetworkIdle(chromedp.Reload()))
}

// WaitVisible waits for selector to become visible.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.BySearch))
}

// Enabled reports whether the element is neither disabled nor aria-disabled.
func (s *Session) Enabled(ctx context.Context, selector string) (bool, error) {
	var (
		disabled, ariaDisabled       string
		hasDisabled, hasAriaDisabled bool
	)
	err := s.run(ctx, 0,
		chromedp.AttributeValue(selector, "disabled", &disabled, &hasDisabled, chromedp.BySearch),
		chromedp.AttributeValue(selector, "aria-disabled", &ariaDisabled, &hasAriaDisabled, chromedp.BySearch),
	)
	if err != nil {
		return false, fmt.Errorf("read disabled state: %w", err)
	}
	return !hasDisabled && !(hasAriaDisabled && ariaDisabled == "true"), nil
}

// Fill replaces the value of an input by typing into it.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	return s.run(ctx, 0,
		chromedp.WaitVisible(selector, chromedp.BySearch),
		chromedp.Clear(selector, chromedp.BySearch),
		chromedp.SendKeys(selector, value, chromedp.BySearch),
	)
}

// Click clicks the first visible match of selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	return s.run(ctx, 0, chromedp.Click(selector, chromedp.BySearch, chromedp.NodeVisible))
}

// Submit clicks selector and waits for the navigation it triggers to go idle.
func (s *Session) Submit(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, untilNetworkIdle(chromedp.Click(selector, chromedp.BySearch, chromedp.NodeVisible)))
}

// Text returns the visible text of selector.
func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := s.run(ctx, 0, chromedp.Text(selector, &text, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		return "", err
	}
	return text, nil
}

// URL returns the current location.
func (s *Session) URL(ctx context.Context) (string, error) {
	var location string
	if err := s.run(ctx, 0, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

// Title returns the current document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, 0, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, 0, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close shuts the browser down.
func (s *Session) Close() error {
	err := chromedp.Cancel(s.tab)
	s.tabCancel()
	s.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

// untilNetworkIdle runs trigger and blocks until the page that trigger starts
// loading reports the networkIdle lifecycle event.
func untilNetworkIdle(trigger chromedp.Action) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		idle := make(chan struct{})
		var (
			once    sync.Once
			mu      sync.Mutex
			started bool
		)
		listenCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		chromedp.ListenTarget(listenCtx, func(ev any) {
			e, ok := ev.(*page.EventLifecycleEvent)
			if !ok {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch e.Name {
			case "init":
				started = true
			case "networkIdle":
				if started {
					once.Do(func() { close(idle) })
				}
			}
		})
		if err := trigger.Do(ctx); err != nil {
			return err
		}
		select {
		case <-idle:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("wait for network idle: %w", ctx.Err())
		}
	})
}

// forwardCancel runs cancel when parent is done. The returned stop detaches it;
// once stop returns, cancel is never called.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	stop := context.AfterFunc(parent, cancel)
	return func() { stop() }
}
