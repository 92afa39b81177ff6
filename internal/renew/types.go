package renew

import (
	"net/url"
	"strings"
	"time"
)

// Status is the terminal classification of one server visit or of the whole run.
type Status string

// Status values.
const (
	StatusSuccess        Status = "success"
	StatusAlreadyRenewed Status = "already_renewed"
	StatusNoButtonFound  Status = "no_button_found"
	StatusButtonDisabled Status = "button_disabled"
	StatusLoginFailed    Status = "login_failed"
	StatusError          Status = "error"
	StatusClickError     Status = "click_error"
	StatusUnknownResult  Status = "unknown_result"
	StatusNoAuth         Status = "no_auth"
	StatusNoServers      Status = "no_servers"
	StatusTimeout        Status = "timeout"
	StatusRuntimeError   Status = "runtime_error"
)

// Statuses lists every status in declaration order.
func Statuses() []Status {
	return []Status{
		StatusSuccess,
		StatusAlreadyRenewed,
		StatusNoButtonFound,
		StatusButtonDisabled,
		StatusLoginFailed,
		StatusError,
		StatusClickError,
		StatusUnknownResult,
		StatusNoAuth,
		StatusNoServers,
		StatusTimeout,
		StatusRuntimeError,
	}
}

// Renewed reports whether the lease is known to be extended for today.
func (s Status) Renewed() bool {
	return s == StatusSuccess || s == StatusAlreadyRenewed
}

// Outcome is the result of one server visit. Global outcomes carry no ServerID.
type Outcome struct {
	Status   Status `json:"status"`
	ServerID string `json:"server_id,omitempty"`
	Error    string `json:"error,omitempty"`

	// ExpiryBefore and ExpiryAfter are the lease expiry shown on the page
	// before the click and after a reload, when they could be read.
	ExpiryBefore string `json:"expiry_before,omitempty"`
	ExpiryAfter  string `json:"expiry_after,omitempty"`
}

// Global reports whether the outcome describes the whole run rather than one server.
func (o Outcome) Global() bool {
	return o.ServerID == ""
}

// Run is the collected result of one invocation.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Succeeded reports whether every outcome is success or already_renewed.
func (r Run) Succeeded() bool {
	return AllRenewed(r.Outcomes)
}

// AllRenewed reports whether outcomes is non-empty and every entry renewed.
func AllRenewed(outcomes []Outcome) bool {
	if len(outcomes) == 0 {
		return false
	}
	for _, o := range outcomes {
		if !o.Status.Renewed() {
			return false
		}
	}
	return true
}

// ExitCode maps outcomes to the process exit code.
func ExitCode(outcomes []Outcome) int {
	if AllRenewed(outcomes) {
		return 0
	}
	return 1
}

// ServerIDFromURL returns the trailing path segment of a server page URL.
func ServerIDFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		if p := strings.Trim(u.Path, "/"); p != "" {
			return p[strings.LastIndex(p, "/")+1:]
		}
		return u.Host
	}
	trimmed := strings.Trim(raw, "/")
	return trimmed[strings.LastIndex(trimmed, "/")+1:]
}

// LoginFailed marks every server as login_failed without visiting it.
func LoginFailed(serverURLs []string, reason string) []Outcome {
	out := make([]Outcome, 0, len(serverURLs))
	for _, u := range serverURLs {
		out = append(out, Outcome{Status: StatusLoginFailed, ServerID: ServerIDFromURL(u), Error: reason})
	}
	return out
}
