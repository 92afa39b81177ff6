package renew

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const (
	testBaseURL     = "https://hub.example.test"
	testLoginURL    = testBaseURL + "/auth/login"
	testLoggedInSel = "a[href*='auth/logout']"
	testNotifySel   = ".swal2-popup"
	testEmailSel    = "input[name='username']"
	testPasswordSel = "input[name='password']"
	testSubmitSel   = "button[type='submit']"
	testExpirySel   = "body"
	testConfirmSel  = "button.swal2-confirm"
)

// fakePage scripts what a server page shows.
type fakePage struct {
	buttonText string
	disabled   bool
	// notifications holds the notification shown after each click; "" means none.
	notifications []string
	clickErr      error
	panicOnClick  bool
	// expiry holds the page text per load: index 0 for the first navigation,
	// then one entry per reload. The last entry repeats.
	expiry []string
	// confirmDialog shows a confirm button once the renewal button was clicked.
	confirmDialog bool
}

type fakeSession struct {
	mu sync.Mutex

	pages       map[string]*fakePage
	navErr      map[string]error
	reloadErr   error
	titles      map[string]string
	redirects   map[string]string
	validCookie string
	validEmail  string
	validPass   string
	// loginLandsOn is the URL after a rejected submit.
	loginLandsOn string
	// onNavigate runs before every navigation; a non-nil error aborts it.
	onNavigate func(url string) error

	current      string
	loggedIn     bool
	notification string
	clickCount   map[string]int
	cookies      []Cookie
	filled       map[string]string
	navigations  []string
	reloads      int
	pageLoads    int
	clicks       int
	confirms     int
	screenshots  int
	closed       bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		pages:      map[string]*fakePage{},
		navErr:     map[string]error{},
		titles:     map[string]string{},
		redirects:  map[string]string{},
		clickCount: map[string]int{},
		filled:     map[string]string{},
	}
}

func timeoutErr(what string) error {
	return fmt.Errorf("%w: %s", ErrTimeout, what)
}

func (s *fakeSession) SetCookies(_ context.Context, cookies ...Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = append(s.cookies, cookies...)
	return nil
}

func (s *fakeSession) Navigate(_ context.Context, url string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations = append(s.navigations, url)
	if s.onNavigate != nil {
		if err := s.onNavigate(url); err != nil {
			return err
		}
	}
	if err := s.navErr[url]; err != nil {
		return err
	}
	s.current = url
	s.pageLoads = 0
	if target, ok := s.redirects[url]; ok {
		s.current = target
	}
	s.notification = ""
	if url == testBaseURL && s.validCookie != "" {
		for _, c := range s.cookies {
			if c.Value == s.validCookie {
				s.loggedIn = true
			}
		}
	}
	return nil
}

func (s *fakeSession) Reload(_ context.Context, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloads++
	s.pageLoads++
	s.notification = ""
	return s.reloadErr
}

func (s *fakeSession) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case selector == testLoggedInSel:
		if s.loggedIn {
			return nil
		}
		return timeoutErr("logged-in indicator")
	case selector == testNotifySel:
		if s.notification != "" {
			return nil
		}
		return timeoutErr("notification")
	case selector == testConfirmSel:
		page := s.pages[s.current]
		if page != nil && page.confirmDialog && s.clickCount[s.current] > 0 {
			return nil
		}
		return timeoutErr("confirm")
	case strings.HasPrefix(selector, "//button"):
		page := s.pages[s.current]
		if page != nil && page.buttonText != "" && strings.Contains(selector, `"`+page.buttonText+`"`) {
			return nil
		}
		return timeoutErr("button")
	}
	return errors.New("unexpected selector " + selector)
}

func (s *fakeSession) Enabled(_ context.Context, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.pages[s.current].disabled, nil
}

func (s *fakeSession) Fill(_ context.Context, selector, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filled[selector] = value
	return nil
}

func (s *fakeSession) Click(_ context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if selector == testConfirmSel {
		s.confirms++
		return nil
	}
	page := s.pages[s.current]
	if page.panicOnClick {
		panic("devtools connection lost")
	}
	if page.clickErr != nil {
		return page.clickErr
	}
	s.clicks++
	n := s.clickCount[s.current]
	s.clickCount[s.current] = n + 1
	if n < len(page.notifications) {
		s.notification = page.notifications[n]
	}
	return nil
}

func (s *fakeSession) Submit(_ context.Context, _ string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filled[testEmailSel] == s.validEmail && s.filled[testPasswordSel] == s.validPass && s.validEmail != "" {
		s.loggedIn = true
		s.current = testBaseURL
		return nil
	}
	s.current = s.loginLandsOn
	if s.current == "" {
		s.current = testLoginURL
	}
	return nil
}

func (s *fakeSession) Text(_ context.Context, selector string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if selector == testExpirySel {
		page := s.pages[s.current]
		if page == nil || len(page.expiry) == 0 {
			return "", nil
		}
		return page.expiry[min(s.pageLoads, len(page.expiry)-1)], nil
	}
	return s.notification, nil
}

func (s *fakeSession) URL(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *fakeSession) Title(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.titles[s.current], nil
}

func (s *fakeSession) Screenshot(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenshots++
	return []byte("png"), nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeBrowser struct {
	session   *fakeSession
	err       error
	launched  int
	lastOpts  LaunchOptions
}

func (b *fakeBrowser) Launch(_ context.Context, opts LaunchOptions) (Session, error) {
	b.launched++
	b.lastOpts = opts
	if b.err != nil {
		return nil, b.err
	}
	return b.session, nil
}

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time {
	return c.now
}

type fakeIDs struct {
	id string
}

func (f fakeIDs) NewID() (string, error) {
	return f.id, nil
}

type fakeArtifacts struct {
	mu    sync.Mutex
	paths []string
}

func (a *fakeArtifacts) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return "", err
	}
	a.paths = append(a.paths, path)
	return "mem://" + path, nil
}

type recordingSleep struct {
	mu    sync.Mutex
	calls []time.Duration
	err   error
}

func (r *recordingSleep) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, d)
	return r.err
}

func testAuthConfig() AuthConfig {
	return AuthConfig{
		BaseURL:            testBaseURL,
		LoginURL:           testLoginURL,
		RememberCookieName: "remember_web_test",
		SessionCookieName:  "pterodactyl_session",
		LoggedInSelector:   testLoggedInSel,
		EmailSelector:      testEmailSel,
		PasswordSelector:   testPasswordSel,
		SubmitSelector:     testSubmitSel,
		NavigationTimeout:  time.Minute,
		CookieCheckTimeout: 10 * time.Second,
		SubmitTimeout:      time.Minute,
		LoginCheckTimeout:  5 * time.Second,
		LoginPathMarkers:   []string{"/auth/login"},
	}
}

func testExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		NavigationTimeout:    time.Minute,
		ButtonTimeout:        5 * time.Second,
		NotificationTimeout:  10 * time.Second,
		ButtonTexts:          []string{"시간 추가", "시간추가"},
		NotificationSelector: testNotifySel,
		MaxRetries:           1,
		LoginPathMarkers:     []string{"/auth/login"},
		ChallengeTitle:       "Just a moment",
		ChallengeWait:        5 * time.Second,
	}
}
