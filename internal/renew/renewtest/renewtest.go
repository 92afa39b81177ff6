// Package renewtest provides an in-memory renew.Browser for tests that need a
// whole run without Chrome.
package renewtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

// Page describes what a server page does when the renewal button is clicked.
type Page struct {
	// Notification is the text shown after the click; empty means none appears.
	Notification string
	// Disabled renders the button as disabled.
	Disabled bool
	// NoButton hides the button entirely.
	NoButton bool
}

// Browser hands out a single Session.
type Browser struct {
	mu        sync.Mutex
	session   *Session
	LaunchErr error
	Launches  int
}

// NewBrowser returns a Browser whose session is logged in and serves pages
// keyed by server ID. Unknown servers get a successful renewal.
func NewBrowser(pages map[string]Page) *Browser {
	return &Browser{session: &Session{pages: pages, LoggedIn: true}}
}

// Session returns the session handed out by Launch.
func (b *Browser) Session() *Session {
	return b.session
}

// Launch implements renew.Browser.
func (b *Browser) Launch(context.Context, renew.LaunchOptions) (renew.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Launches++
	if b.LaunchErr != nil {
		return nil, b.LaunchErr
	}
	return b.session, nil
}

// Session is a scripted renew.Session. Every wait resolves immediately.
type Session struct {
	mu       sync.Mutex
	pages    map[string]Page
	url      string
	clicked  bool
	Cookies  []renew.Cookie
	Visited  []string
	Closed   bool
	LoggedIn bool
}

func (s *Session) page() (Page, bool) {
	id := renew.ServerIDFromURL(s.url)
	if !strings.Contains(s.url, "/server/") {
		return Page{}, false
	}
	p, ok := s.pages[id]
	if !ok {
		p = Page{Notification: "성공적으로 추가되었습니다"}
	}
	return p, true
}

// SetCookies implements renew.Session.
func (s *Session) SetCookies(_ context.Context, cookies ...renew.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cookies = append(s.Cookies, cookies...)
	return nil
}

// Navigate implements renew.Session.
func (s *Session) Navigate(_ context.Context, url string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	s.clicked = false
	s.Visited = append(s.Visited, url)
	return nil
}

// Reload implements renew.Session.
func (s *Session) Reload(context.Context, time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicked = false
	return nil
}

// WaitVisible implements renew.Session. Notification-like selectors are visible
// only after a click on a page that produces one.
func (s *Session) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, onServer := s.page()
	switch {
	case strings.Contains(selector, "swal2-confirm"):
		return renew.ErrTimeout
	case strings.HasPrefix(selector, "//button"):
		if !onServer || page.NoButton {
			return renew.ErrTimeout
		}
	case strings.Contains(selector, "logout"):
		if !s.LoggedIn {
			return renew.ErrTimeout
		}
	case onServer:
		if !s.clicked || page.Notification == "" {
			return renew.ErrTimeout
		}
	}
	return nil
}

// Enabled implements renew.Session.
func (s *Session) Enabled(context.Context, string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, _ := s.page()
	return !page.Disabled, nil
}

// Fill implements renew.Session.
func (s *Session) Fill(context.Context, string, string) error { return nil }

// Click implements renew.Session.
func (s *Session) Click(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicked = true
	return nil
}

// Submit implements renew.Session.
func (s *Session) Submit(context.Context, string, time.Duration) error { return nil }

// Text implements renew.Session.
func (s *Session) Text(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, _ := s.page()
	return page.Notification, nil
}

// URL implements renew.Session.
func (s *Session) URL(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, nil
}

// Title implements renew.Session.
func (s *Session) Title(context.Context) (string, error) { return "Weirdhost", nil }

// Screenshot implements renew.Session.
func (s *Session) Screenshot(context.Context) ([]byte, error) {
	return []byte("\x89PNG"), nil
}

// Close implements renew.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}
