package renew

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrTimeout is wrapped by Session implementations when a bounded wait expires.
var ErrTimeout = errors.New("browser operation timed out")

// IsTimeout reports whether err came from an expired bounded wait.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Session is the single browser tab shared by every server visit of a run.
// Selectors are passed through to the engine's search, which accepts CSS
// selectors and XPath expressions.
type Session interface {
	SetCookies(ctx context.Context, cookies ...Cookie) error
	// Navigate loads url and waits for network idle.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Reload reloads the current page and waits for network idle.
	Reload(ctx context.Context, timeout time.Duration) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Enabled(ctx context.Context, selector string) (bool, error)
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// Submit clicks selector and waits for the navigation it triggers.
	Submit(ctx context.Context, selector string, timeout time.Duration) error
	Text(ctx context.Context, selector string) (string, error)
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// LaunchOptions configures the browser process.
type LaunchOptions struct {
	Headless       bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	DefaultTimeout time.Duration
}

// Browser starts a browser and opens the shared session.
type Browser interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// Cookie is injected into the browser cookie store before the first navigation.
// An empty Domain makes a host-only cookie for the host of URL.
type Cookie struct {
	Name     string
	Value    string
	URL      string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	Expires  time.Time
}

// ArtifactStore persists debug artifacts such as screenshots.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
