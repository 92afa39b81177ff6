package config

import (
	"regexp"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

// AuthConfig derives the authenticator settings.
func (c Config) AuthConfig() renew.AuthConfig {
	return renew.AuthConfig{
		BaseURL:            c.Weirdhost.BaseURL,
		LoginURL:           c.Weirdhost.LoginURL(),
		RememberCookie:     c.Weirdhost.RememberCookie,
		RememberCookieName: c.Weirdhost.RememberCookieName,
		SessionCookie:      c.Weirdhost.SessionCookie,
		SessionCookieName:  c.Weirdhost.SessionCookieName,
		CookieDomain:       c.Weirdhost.CookieDomain,
		Email:              c.Weirdhost.Email,
		Password:           c.Weirdhost.Password,
		LoggedInSelector:   c.Login.LoggedInSelector,
		EmailSelector:      c.Login.EmailSelector,
		PasswordSelector:   c.Login.PasswordSelector,
		SubmitSelector:     c.Login.SubmitSelector,
		NavigationTimeout:  c.Login.NavigationTimeout,
		CookieCheckTimeout: c.Login.CookieCheckTimeout,
		SubmitTimeout:      c.Login.SubmitTimeout,
		LoginCheckTimeout:  c.Login.LoginCheckTimeout,
		LoginPathMarkers:   c.Login.LoginPathMarkers,
	}
}

// ExecutorConfig derives the per-server visit settings.
func (c Config) ExecutorConfig() renew.ExecutorConfig {
	return renew.ExecutorConfig{
		NavigationTimeout:    c.Renew.NavigationTimeout,
		ButtonTimeout:        c.Renew.ButtonTimeout,
		NotificationTimeout:  c.Renew.NotificationTimeout,
		ButtonTexts:          c.Renew.ButtonTexts,
		NotificationSelector: c.Renew.NotificationSelector,
		MaxRetries:           c.Renew.MaxRetries,
		LoginPathMarkers:     c.Login.LoginPathMarkers,
		ChallengeTitle:       c.Renew.ChallengeTitle,
		ChallengeWait:        c.Renew.ChallengeWait,
		ExpirySelector:       c.Renew.ExpirySelector,
		ExpiryPattern:        c.expiryPattern(),
		ConfirmSelector:      c.Renew.ConfirmSelector,
		ConfirmTimeout:       c.Renew.ConfirmTimeout,
	}
}

// expiryPattern compiles the configured pattern. Validate rejects bad
// patterns, so a failure here falls back to the built-in one.
func (c Config) expiryPattern() *regexp.Regexp {
	if c.Renew.ExpiryPattern == "" {
		return nil
	}
	re, err := regexp.Compile(c.Renew.ExpiryPattern)
	if err != nil {
		return nil
	}
	return re
}

// RunnerConfig derives the orchestration settings.
func (c Config) RunnerConfig() renew.RunnerConfig {
	return renew.RunnerConfig{
		ServerURLs: c.Weirdhost.ServerURLs,
		Launch: renew.LaunchOptions{
			Headless:       c.Browser.Headless,
			UserAgent:      c.Browser.UserAgent,
			ViewportWidth:  c.Browser.ViewportWidth,
			ViewportHeight: c.Browser.ViewportHeight,
			DefaultTimeout: c.Browser.DefaultTimeout,
		},
		Pacing: c.Renew.Pacing,
	}
}

// Classifier builds the notification classifier. Configured pattern lists
// replace the built-in ones individually.
func (c Config) Classifier() *renew.Classifier {
	errs := c.Renew.ErrorPatterns
	if len(errs) == 0 {
		errs = renew.DefaultErrorPatterns
	}
	succ := c.Renew.SuccessPatterns
	if len(succ) == 0 {
		succ = renew.DefaultSuccessPatterns
	}
	return renew.NewClassifier(errs, succ)
}
