// Package config loads and validates renewer configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/weirdhost-renewer/internal/storage/postgres"
	"github.com/JakeFAU/weirdhost-renewer/internal/storage/sqlite"
)

// EnvPrefix namespaces every knob without a legacy variable name.
const EnvPrefix = "RENEWER"

// legacyEnv maps config keys to the environment names the job has always used.
var legacyEnv = map[string]string{
	"weirdhost.base_url":        "WEIRDHOST_URL",
	"weirdhost.server_urls":     "WEIRDHOST_SERVER_URLS",
	"weirdhost.remember_cookie": "REMEMBER_WEB_COOKIE",
	"weirdhost.session_cookie":  "PTERODACTYL_SESSION",
	"weirdhost.email":           "WEIRDHOST_EMAIL",
	"weirdhost.password":        "WEIRDHOST_PASSWORD",
	"browser.headless":          "HEADLESS",
}

// Config captures all knobs loaded via Viper. It is not mutated after Load.
type Config struct {
	Weirdhost WeirdhostConfig `mapstructure:"weirdhost"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Login     LoginConfig     `mapstructure:"login"`
	Renew     RenewConfig     `mapstructure:"renew"`
	Report    ReportConfig    `mapstructure:"report"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	History   HistoryConfig   `mapstructure:"history"`
}

// WeirdhostConfig identifies the panel, the servers and the auth material.
type WeirdhostConfig struct {
	BaseURL            string   `mapstructure:"base_url"`
	LoginPath          string   `mapstructure:"login_path"`
	ServerURLs         []string `mapstructure:"server_urls"`
	RememberCookie     string   `mapstructure:"remember_cookie"`
	RememberCookieName string   `mapstructure:"remember_cookie_name"`
	SessionCookie      string   `mapstructure:"session_cookie"`
	SessionCookieName  string   `mapstructure:"session_cookie_name"`
	CookieDomain       string   `mapstructure:"cookie_domain"`
	Email              string   `mapstructure:"email"`
	Password           string   `mapstructure:"password"`
}

// LoginURL joins the base URL and login path.
func (w WeirdhostConfig) LoginURL() string {
	return strings.TrimRight(w.BaseURL, "/") + "/" + strings.TrimLeft(w.LoginPath, "/")
}

// BrowserConfig selects and shapes the automation engine.
type BrowserConfig struct {
	// Engine is "chromedp" or "rod".
	Engine         string        `mapstructure:"engine"`
	Headless       bool          `mapstructure:"-"`
	UserAgent      string        `mapstructure:"user_agent"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LoginConfig holds the login page selectors and waits.
type LoginConfig struct {
	LoggedInSelector   string        `mapstructure:"logged_in_selector"`
	EmailSelector      string        `mapstructure:"email_selector"`
	PasswordSelector   string        `mapstructure:"password_selector"`
	SubmitSelector     string        `mapstructure:"submit_selector"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	CookieCheckTimeout time.Duration `mapstructure:"cookie_check_timeout"`
	SubmitTimeout      time.Duration `mapstructure:"submit_timeout"`
	LoginCheckTimeout  time.Duration `mapstructure:"login_check_timeout"`
	LoginPathMarkers   []string      `mapstructure:"login_path_markers"`
}

// RenewConfig controls the per-server visit.
type RenewConfig struct {
	NavigationTimeout    time.Duration `mapstructure:"navigation_timeout"`
	ButtonTimeout        time.Duration `mapstructure:"button_timeout"`
	NotificationTimeout  time.Duration `mapstructure:"notification_timeout"`
	ButtonTexts          []string      `mapstructure:"button_texts"`
	NotificationSelector string        `mapstructure:"notification_selector"`
	MaxRetries           int           `mapstructure:"max_retries"`
	Pacing               time.Duration `mapstructure:"pacing"`
	ChallengeTitle       string        `mapstructure:"challenge_title"`
	ChallengeWait        time.Duration `mapstructure:"challenge_wait"`
	ErrorPatterns        []string      `mapstructure:"error_patterns"`
	SuccessPatterns      []string      `mapstructure:"success_patterns"`

	// ExpirySelector and ExpiryPattern locate the lease expiry on the server page.
	ExpirySelector  string        `mapstructure:"expiry_selector"`
	ExpiryPattern   string        `mapstructure:"expiry_pattern"`
	ConfirmSelector string        `mapstructure:"confirm_selector"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
}

// ReportConfig places the report and debug screenshots.
type ReportConfig struct {
	// Dir is the local root for the report and screenshots.
	Dir           string `mapstructure:"dir"`
	Path          string `mapstructure:"path"`
	ScreenshotDir string `mapstructure:"screenshot_dir"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	GCSPrefix     string `mapstructure:"gcs_prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig controls Pushgateway delivery.
type MetricsConfig struct {
	PushURL string `mapstructure:"push_url"`
	Job     string `mapstructure:"job"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// HistoryConfig selects the run history backend.
type HistoryConfig struct {
	// Backend is "", "sqlite" or "postgres".
	Backend  string          `mapstructure:"backend"`
	SQLite   sqlite.Config   `mapstructure:"sqlite"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Browser.Headless = parseHeadless(v.Get("browser.headless"))
	cfg.Weirdhost.ServerURLs = splitList(cfg.Weirdhost.ServerURLs)
	cfg.Renew.ButtonTexts = splitList(cfg.Renew.ButtonTexts)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("weirdhost.base_url", "https://hub.weirdhost.xyz")
	v.SetDefault("weirdhost.login_path", "/auth/login")
	v.SetDefault("weirdhost.server_urls", "")
	v.SetDefault("weirdhost.remember_cookie", "")
	v.SetDefault("weirdhost.remember_cookie_name", "remember_web_59ba36addc2b2f9401580f014c7f58ea4e30989d")
	v.SetDefault("weirdhost.session_cookie", "")
	v.SetDefault("weirdhost.session_cookie_name", "pterodactyl_session")
	v.SetDefault("weirdhost.cookie_domain", "")
	v.SetDefault("weirdhost.email", "")
	v.SetDefault("weirdhost.password", "")

	v.SetDefault("browser.engine", "chromedp")
	v.SetDefault("browser.headless", "true")
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.default_timeout", "60s")

	v.SetDefault("login.logged_in_selector", `a[href*="auth/logout"]`)
	v.SetDefault("login.email_selector", `input[name="username"], input[name="email"]`)
	v.SetDefault("login.password_selector", `input[name="password"]`)
	v.SetDefault("login.submit_selector", `button[type="submit"]`)
	v.SetDefault("login.navigation_timeout", "60s")
	v.SetDefault("login.cookie_check_timeout", "10s")
	v.SetDefault("login.submit_timeout", "60s")
	v.SetDefault("login.login_check_timeout", "5s")
	v.SetDefault("login.login_path_markers", []string{"/auth/login"})

	v.SetDefault("renew.navigation_timeout", "60s")
	v.SetDefault("renew.button_timeout", "5s")
	v.SetDefault("renew.notification_timeout", "10s")
	v.SetDefault("renew.button_texts", []string{"시간 추가", "시간추가", "Add Time", "Renew", "Extend"})
	v.SetDefault("renew.notification_selector", `.swal2-popup, .toast, [role="alert"]`)
	v.SetDefault("renew.max_retries", 1)
	v.SetDefault("renew.pacing", "3s")
	v.SetDefault("renew.challenge_title", "Just a moment")
	v.SetDefault("renew.challenge_wait", "5s")
	v.SetDefault("renew.error_patterns", []string{})
	v.SetDefault("renew.success_patterns", []string{})
	v.SetDefault("renew.expiry_selector", "body")
	v.SetDefault("renew.expiry_pattern", "")
	v.SetDefault("renew.confirm_selector", `//button[contains(@class, "swal2-confirm") or contains(normalize-space(.), "확인")]`)
	v.SetDefault("renew.confirm_timeout", "2s")

	v.SetDefault("report.dir", ".")
	v.SetDefault("report.path", "README.md")
	v.SetDefault("report.screenshot_dir", "screenshots")
	v.SetDefault("report.gcs_bucket", "")
	v.SetDefault("report.gcs_prefix", "")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.push_url", "")
	v.SetDefault("metrics.job", "weirdhost_renewer")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("history.backend", "")
	v.SetDefault("history.sqlite.path", "state/history.db")
	v.SetDefault("history.postgres.dsn", "")
	v.SetDefault("history.postgres.runs_table", "renewal_runs")
	v.SetDefault("history.postgres.outcomes_table", "renewal_outcomes")
	v.SetDefault("history.postgres.max_conns", 2)
	v.SetDefault("history.postgres.max_conn_lifetime", "5m")
	v.SetDefault("history.postgres.auto_migrate", true)
}

// parseHeadless treats only a case-insensitive "true" as true; an unset value means true.
func parseHeadless(raw any) bool {
	switch x := raw.(type) {
	case bool:
		return x
	case string:
		return strings.EqualFold(strings.TrimSpace(x), "true")
	case nil:
		return true
	default:
		return strings.EqualFold(fmt.Sprint(x), "true")
	}
}

// splitList flattens comma-separated entries, trims them and drops empties.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate enforces reasonable limits. Missing servers or auth material are not
// errors here; the run reports them as outcomes.
func (c Config) Validate() error {
	switch c.Browser.Engine {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("browser.engine must be chromedp or rod, got %q", c.Browser.Engine)
	}
	if c.Browser.DefaultTimeout <= 0 {
		return fmt.Errorf("browser.default_timeout must be > 0")
	}
	for name, d := range map[string]time.Duration{
		"renew.navigation_timeout":   c.Renew.NavigationTimeout,
		"renew.button_timeout":       c.Renew.ButtonTimeout,
		"renew.notification_timeout": c.Renew.NotificationTimeout,
		"login.navigation_timeout":   c.Login.NavigationTimeout,
		"login.submit_timeout":       c.Login.SubmitTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.Renew.Pacing < 0 {
		return fmt.Errorf("renew.pacing must be >= 0")
	}
	if c.Renew.MaxRetries < 0 {
		return fmt.Errorf("renew.max_retries must be >= 0")
	}
	if c.Renew.ExpiryPattern != "" {
		if _, err := regexp.Compile(c.Renew.ExpiryPattern); err != nil {
			return fmt.Errorf("renew.expiry_pattern is invalid: %w", err)
		}
	}
	if c.Renew.ConfirmTimeout < 0 {
		return fmt.Errorf("renew.confirm_timeout must be >= 0")
	}
	if len(c.Renew.ButtonTexts) == 0 {
		return fmt.Errorf("renew.button_texts must not be empty")
	}
	if strings.TrimSpace(c.Report.Path) == "" {
		return fmt.Errorf("report.path must be set")
	}
	switch c.History.Backend {
	case "", "sqlite":
	case "postgres":
		if c.History.Postgres.DSN == "" {
			return fmt.Errorf("history.postgres.dsn must be set when history.backend is postgres")
		}
	default:
		return fmt.Errorf("history.backend must be empty, sqlite or postgres, got %q", c.History.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}
