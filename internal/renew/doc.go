// Package renew drives one renewal run: preflight checks, a single browser
// session that is authenticated once, and a sequential per-server visit that
// clicks the "add time" control and classifies the resulting notification.
//
// Browser engines are hidden behind Session so the orchestration can be
// exercised without Chrome.
package renew
