package renew

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ExecutorConfig controls one server visit.
type ExecutorConfig struct {
	NavigationTimeout   time.Duration
	ButtonTimeout       time.Duration
	NotificationTimeout time.Duration

	// ButtonTexts are the visible labels of the renewal control, in priority order.
	ButtonTexts          []string
	NotificationSelector string

	// MaxRetries bounds the reload passes made when a click yields no notification.
	MaxRetries int

	LoginPathMarkers []string

	// ChallengeTitle is the page title of the anti-bot interstitial.
	ChallengeTitle string
	ChallengeWait  time.Duration

	// ExpirySelector holds the lease expiry text; empty disables expiry tracking.
	ExpirySelector string
	// ExpiryPattern extracts the timestamp; nil means DefaultExpiryPattern.
	ExpiryPattern *regexp.Regexp

	// ConfirmSelector is a confirmation button some notifications carry; empty skips it.
	ConfirmSelector string
	ConfirmTimeout  time.Duration
}

// ExpiryLayout is the time layout of the lease expiry shown on the server page.
const ExpiryLayout = "2006-01-02 15:04:05"

// DefaultExpiryPattern matches the lease expiry shown on the server page.
var DefaultExpiryPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}\s\d{2}:\d{2}:\d{2}`)

// Executor renews a single server on an authenticated session.
type Executor struct {
	cfg        ExecutorConfig
	selectors  []string
	classifier *Classifier
	artifacts  ArtifactStore
	sleep      SleepFunc
	logger     *zap.Logger
}

// NewExecutor constructs an Executor. artifacts may be nil to disable screenshots.
func NewExecutor(cfg ExecutorConfig, classifier *Classifier, artifacts ArtifactStore, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if classifier == nil {
		classifier = NewDefaultClassifier()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.ExpiryPattern == nil {
		cfg.ExpiryPattern = DefaultExpiryPattern
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Second
	}
	return &Executor{
		cfg:        cfg,
		selectors:  ButtonSelectors(cfg.ButtonTexts),
		classifier: classifier,
		artifacts:  artifacts,
		sleep:      Sleep,
		logger:     logger,
	}
}

// ButtonSelectors turns button labels into XPath selectors matching a button
// whose normalized text contains the label.
func ButtonSelectors(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		quote := `"`
		if strings.Contains(t, `"`) {
			quote = `'`
		}
		out = append(out, fmt.Sprintf("//button[contains(normalize-space(.), %s%s%s)]", quote, t, quote))
	}
	return out
}

// Renew visits serverURL and returns exactly one outcome.
func (e *Executor) Renew(ctx context.Context, sess Session, serverURL string) Outcome {
	id := ServerIDFromURL(serverURL)
	logger := e.logger.With(zap.String("server_id", id))
	logger.Info("processing server", zap.String("url", serverURL))

	if out, ok := e.load(ctx, sess, id, logger, func(ctx context.Context) error {
		return sess.Navigate(ctx, serverURL, e.cfg.NavigationTimeout)
	}); !ok {
		return out
	}
	before := e.readExpiry(ctx, sess, logger)
	if before != "" {
		logger.Info("current lease expiry", zap.String("expiry", before))
	}

	var after string
	out, ambiguous := e.attempt(ctx, sess, id, logger)
	for retry := 0; ambiguous && retry < e.cfg.MaxRetries; retry++ {
		logger.Warn("no notification after click; reloading to re-check", zap.Int("retry", retry+1))
		if reloaded, ok := e.load(ctx, sess, id, logger, func(ctx context.Context) error {
			return sess.Reload(ctx, e.cfg.NavigationTimeout)
		}); !ok {
			return withExpiry(reloaded, before, after)
		}
		after = e.readExpiry(ctx, sess, logger)
		if ExpiryIncreased(before, after) {
			logger.Info("lease expiry moved forward", zap.String("before", before), zap.String("after", after))
			return withExpiry(Outcome{Status: StatusSuccess, ServerID: id}, before, after)
		}
		out, ambiguous = e.attempt(ctx, sess, id, logger)
	}
	if ambiguous {
		logger.Warn("result still ambiguous after reload")
		out = Outcome{Status: StatusUnknownResult, ServerID: id, Error: "no notification after click"}
	}
	return withExpiry(out, before, after)
}

func withExpiry(out Outcome, before, after string) Outcome {
	out.ExpiryBefore = before
	out.ExpiryAfter = after
	return out
}

// ExpiryIncreased reports whether after is a later expiry than before. Unreadable
// values never count as an increase.
func ExpiryIncreased(before, after string) bool {
	b, err := parseExpiry(before)
	if err != nil {
		return false
	}
	a, err := parseExpiry(after)
	if err != nil {
		return false
	}
	return a.After(b)
}

func parseExpiry(s string) (time.Time, error) {
	return time.Parse(ExpiryLayout, strings.Join(strings.Fields(s), " "))
}

// readExpiry returns the expiry timestamp on the current page, or "" when it
// is disabled or cannot be read.
func (e *Executor) readExpiry(ctx context.Context, sess Session, logger *zap.Logger) string {
	if e.cfg.ExpirySelector == "" {
		return ""
	}
	text, err := sess.Text(ctx, e.cfg.ExpirySelector)
	if err != nil {
		logger.Debug("read lease expiry failed", zap.Error(err))
		return ""
	}
	match := e.cfg.ExpiryPattern.FindString(text)
	if match == "" {
		logger.Debug("lease expiry not found on page")
		return ""
	}
	return strings.Join(strings.Fields(match), " ")
}

// confirm presses the confirmation button of a dialog when one is showing.
func (e *Executor) confirm(ctx context.Context, sess Session, logger *zap.Logger) {
	if e.cfg.ConfirmSelector == "" {
		return
	}
	if err := sess.WaitVisible(ctx, e.cfg.ConfirmSelector, e.cfg.ConfirmTimeout); err != nil {
		return
	}
	if err := sess.Click(ctx, e.cfg.ConfirmSelector); err != nil {
		logger.Debug("confirm click failed", zap.Error(err))
		return
	}
	logger.Debug("confirmation dialog accepted")
}

// load runs a navigation step and returns ok=false with the terminal outcome
// when the page could not be used.
func (e *Executor) load(
	ctx context.Context,
	sess Session,
	id string,
	logger *zap.Logger,
	navigate func(context.Context) error,
) (Outcome, bool) {
	if err := navigate(ctx); err != nil {
		if IsTimeout(err) {
			logger.Error("page load timed out", zap.Duration("timeout", e.cfg.NavigationTimeout), zap.Error(err))
			return Outcome{Status: StatusTimeout, ServerID: id, Error: err.Error()}, false
		}
		logger.Error("page load failed", zap.Error(err))
		return Outcome{Status: StatusError, ServerID: id, Error: err.Error()}, false
	}
	e.waitOutChallenge(ctx, sess, logger)
	if len(e.cfg.LoginPathMarkers) > 0 {
		if current, err := sess.URL(ctx); err == nil && isLoginURL(current, e.cfg.LoginPathMarkers) {
			logger.Error("session dropped: server page redirected to login", zap.String("url", current))
			return Outcome{Status: StatusLoginFailed, ServerID: id, Error: "redirected to login page"}, false
		}
	}
	return Outcome{}, true
}

func (e *Executor) waitOutChallenge(ctx context.Context, sess Session, logger *zap.Logger) {
	if e.cfg.ChallengeTitle == "" {
		return
	}
	title, err := sess.Title(ctx)
	if err != nil || !strings.Contains(title, e.cfg.ChallengeTitle) {
		return
	}
	logger.Warn("anti-bot interstitial detected; waiting", zap.Duration("wait", e.cfg.ChallengeWait))
	if err := e.sleep(ctx, e.cfg.ChallengeWait); err != nil {
		logger.Debug("interstitial wait interrupted", zap.Error(err))
	}
}

// attempt searches, clicks and classifies on the currently loaded page.
// ambiguous is true when the click produced no notification.
func (e *Executor) attempt(ctx context.Context, sess Session, id string, logger *zap.Logger) (Outcome, bool) {
	selector, found := e.findButton(ctx, sess, logger)
	if !found {
		logger.Warn("renewal button not found")
		e.capture(ctx, sess, "no_button", id, logger)
		return Outcome{Status: StatusNoButtonFound, ServerID: id}, false
	}

	enabled, err := sess.Enabled(ctx, selector)
	if err != nil {
		logger.Error("read button state failed", zap.Error(err))
		e.capture(ctx, sess, "click_error", id, logger)
		return Outcome{Status: StatusClickError, ServerID: id, Error: err.Error()}, false
	}
	if !enabled {
		logger.Info("renewal button is disabled")
		return Outcome{Status: StatusButtonDisabled, ServerID: id}, false
	}

	logger.Info("clicking renewal button", zap.String("selector", selector))
	if err := sess.Click(ctx, selector); err != nil {
		logger.Error("click failed", zap.Error(err))
		e.capture(ctx, sess, "click_error", id, logger)
		return Outcome{Status: StatusClickError, ServerID: id, Error: err.Error()}, false
	}

	if err := sess.WaitVisible(ctx, e.cfg.NotificationSelector, e.cfg.NotificationTimeout); err != nil {
		if IsTimeout(err) {
			e.confirm(ctx, sess, logger)
			return Outcome{}, true
		}
		logger.Error("wait for notification failed", zap.Error(err))
		e.capture(ctx, sess, "click_error", id, logger)
		return Outcome{Status: StatusClickError, ServerID: id, Error: err.Error()}, false
	}
	text, err := sess.Text(ctx, e.cfg.NotificationSelector)
	if err != nil {
		logger.Error("read notification failed", zap.Error(err))
		e.capture(ctx, sess, "click_error", id, logger)
		return Outcome{Status: StatusClickError, ServerID: id, Error: err.Error()}, false
	}
	e.confirm(ctx, sess, logger)
	status := e.classifier.Classify(text)
	logger.Info("notification classified", zap.String("text", strings.TrimSpace(text)), zap.String("status", string(status)))
	out := Outcome{Status: status, ServerID: id}
	if status == StatusUnknownResult {
		out.Error = strings.TrimSpace(text)
	}
	return out, false
}

func (e *Executor) findButton(ctx context.Context, sess Session, logger *zap.Logger) (string, bool) {
	for _, sel := range e.selectors {
		err := sess.WaitVisible(ctx, sel, e.cfg.ButtonTimeout)
		if err == nil {
			return sel, true
		}
		logger.Debug("button selector not visible", zap.String("selector", sel), zap.Error(err))
		if ctx.Err() != nil {
			return "", false
		}
	}
	return "", false
}

func (e *Executor) capture(ctx context.Context, sess Session, reason, id string, logger *zap.Logger) {
	if e.artifacts == nil {
		return
	}
	png, err := sess.Screenshot(ctx)
	if err != nil {
		logger.Debug("screenshot failed", zap.Error(err))
		return
	}
	uri, err := e.artifacts.PutObject(ctx, fmt.Sprintf("%s_%s.png", reason, id), "image/png", bytes.NewReader(png))
	if err != nil {
		logger.Warn("save screenshot failed", zap.Error(err))
		return
	}
	logger.Info("debug screenshot saved", zap.String("uri", uri))
}
