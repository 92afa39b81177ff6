package renew

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AuthConfig controls how the shared session is authenticated.
type AuthConfig struct {
	BaseURL  string
	LoginURL string

	RememberCookie     string
	RememberCookieName string
	SessionCookie      string
	SessionCookieName  string
	// CookieDomain widens the cookies to a domain; empty keeps them host-only.
	CookieDomain string

	Email    string
	Password string

	LoggedInSelector string
	EmailSelector    string
	PasswordSelector string
	SubmitSelector   string

	NavigationTimeout  time.Duration
	CookieCheckTimeout time.Duration
	SubmitTimeout      time.Duration
	LoginCheckTimeout  time.Duration

	// LoginPathMarkers identify URLs that still belong to the login flow.
	LoginPathMarkers []string
}

// HasCredentials reports whether both email and password are set.
func (c AuthConfig) HasCredentials() bool {
	return c.Email != "" && c.Password != ""
}

// HasAuth reports whether any authentication material is configured.
func (c AuthConfig) HasAuth() bool {
	return c.RememberCookie != "" || c.HasCredentials()
}

// Origin returns the scheme and host of BaseURL, or an error when BaseURL is
// not an absolute http(s) URL.
func (c AuthConfig) Origin() (string, error) {
	u, err := url.ParseRequestURI(strings.TrimSpace(c.BaseURL))
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", c.BaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid base url %q: want an absolute http(s) url", c.BaseURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Authenticator establishes the logged-in state of a Session.
type Authenticator struct {
	cfg    AuthConfig
	clock  Clock
	logger *zap.Logger
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(cfg AuthConfig, clock Clock, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{cfg: cfg, clock: clock, logger: logger}
}

// Config returns the authenticator configuration.
func (a *Authenticator) Config() AuthConfig {
	return a.cfg
}

// Authenticate tries the cookie path, then the credential path. Failures are
// logged and reported as false; they never abort the run.
func (a *Authenticator) Authenticate(ctx context.Context, sess Session) bool {
	if a.cfg.RememberCookie != "" {
		if a.cookieLogin(ctx, sess) {
			a.logger.Info("cookie login confirmed")
			return true
		}
		a.logger.Warn("cookie login failed; cookie may have expired")
	}
	if a.cfg.HasCredentials() {
		if a.credentialLogin(ctx, sess) {
			a.logger.Info("credential login confirmed")
			return true
		}
		a.logger.Warn("credential login failed")
	}
	a.logger.Error("all login methods failed")
	return false
}

func (a *Authenticator) cookieLogin(ctx context.Context, sess Session) bool {
	a.logger.Info("attempting cookie login")
	origin, err := a.cfg.Origin()
	if err != nil {
		a.logger.Error("cookie login skipped", zap.Error(err))
		return false
	}
	domain := a.cfg.CookieDomain
	expires := a.clock.Now().AddDate(1, 0, 0)
	cookies := []Cookie{{
		Name:     a.cfg.RememberCookieName,
		Value:    a.cfg.RememberCookie,
		URL:      origin,
		Domain:   domain,
		Path:     "/",
		Secure:   true,
		HTTPOnly: true,
		Expires:  expires,
	}}
	if a.cfg.SessionCookie != "" && a.cfg.SessionCookieName != "" {
		cookies = append(cookies, Cookie{
			Name:     a.cfg.SessionCookieName,
			Value:    a.cfg.SessionCookie,
			URL:      origin,
			Domain:   domain,
			Path:     "/",
			Secure:   true,
			HTTPOnly: true,
			Expires:  expires,
		})
	}
	if err := sess.SetCookies(ctx, cookies...); err != nil {
		a.logger.Error("set cookies failed", zap.Error(err))
		return false
	}
	a.logger.Debug("cookies injected", zap.Int("count", len(cookies)), zap.String("url", origin), zap.String("domain", domain))

	if err := sess.Navigate(ctx, a.cfg.BaseURL, a.cfg.NavigationTimeout); err != nil {
		a.logger.Warn("open base url failed", zap.String("url", a.cfg.BaseURL), zap.Error(err))
		return false
	}
	if err := sess.WaitVisible(ctx, a.cfg.LoggedInSelector, a.cfg.CookieCheckTimeout); err != nil {
		a.logger.Warn("logged-in indicator not found after cookie login",
			zap.Duration("timeout", a.cfg.CookieCheckTimeout), zap.Error(err))
		return false
	}
	return true
}

func (a *Authenticator) credentialLogin(ctx context.Context, sess Session) bool {
	a.logger.Info("attempting credential login", zap.String("url", a.cfg.LoginURL))
	if err := sess.Navigate(ctx, a.cfg.LoginURL, a.cfg.NavigationTimeout); err != nil {
		a.logger.Error("open login page failed", zap.Error(err))
		return false
	}
	if err := sess.Fill(ctx, a.cfg.EmailSelector, a.cfg.Email); err != nil {
		a.logger.Error("fill email failed", zap.Error(err))
		return false
	}
	if err := sess.Fill(ctx, a.cfg.PasswordSelector, a.cfg.Password); err != nil {
		a.logger.Error("fill password failed", zap.Error(err))
		return false
	}
	if err := sess.Submit(ctx, a.cfg.SubmitSelector, a.cfg.SubmitTimeout); err != nil {
		a.logger.Error("submit login form failed", zap.Error(err))
		return false
	}
	if err := sess.WaitVisible(ctx, a.cfg.LoggedInSelector, a.cfg.LoginCheckTimeout); err == nil {
		return true
	}
	current, err := sess.URL(ctx)
	if err != nil {
		a.logger.Error("read url after login failed", zap.Error(err))
		return false
	}
	if isLoginURL(current, a.cfg.LoginPathMarkers) {
		a.logger.Warn("still on login page after submit", zap.String("url", current))
		return false
	}
	a.logger.Debug("no logged-in indicator but left the login page", zap.String("url", current))
	return true
}

func isLoginURL(raw string, markers []string) bool {
	lowered := strings.ToLower(raw)
	for _, m := range markers {
		if m != "" && strings.Contains(lowered, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
