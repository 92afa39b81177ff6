// Package cmd implements the weirdhost-renewer command line.
//
// Architecture overview:
//   - Configuration: .env files are loaded first (existing variables win), then config.Load layers defaults,
//     an optional config file and the environment. The historic variable names (WEIRDHOST_URL,
//     WEIRDHOST_SERVER_URLS, REMEMBER_WEB_COOKIE, ...) are bound next to RENEWER_* overrides.
//   - Run: app.New wires the browser engine (chromedp or rod), the authenticator, the executor and the
//     runner. One run launches one browser, logs in once and visits every server in order with a pause
//     between servers.
//   - Sinks: every finished run is handed to the report writer (local file plus optional GCS mirror),
//     the console summary, Prometheus (optionally pushed to a Pushgateway), the run history
//     (SQLite or Postgres) and a Pub/Sub notification. Sink failures are logged and never change the exit code.
//
// Exit codes: 0 when every server was renewed or already renewed, 1 otherwise, including configuration
// and startup errors.
//
// Quick checklist:
//   - Configure WEIRDHOST_SERVER_URLS and either REMEMBER_WEB_COOKIE or WEIRDHOST_EMAIL/WEIRDHOST_PASSWORD.
//   - Run locally: go run . --dry-run, then go run . report to view the last report.
package cmd
