package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/weirdhost-renewer/internal/browser/headless"
	"github.com/JakeFAU/weirdhost-renewer/internal/browser/rod"
	"github.com/JakeFAU/weirdhost-renewer/internal/config"
	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
	"github.com/JakeFAU/weirdhost-renewer/internal/renew/renewtest"
	"github.com/JakeFAU/weirdhost-renewer/internal/storage/memory"
	"github.com/JakeFAU/weirdhost-renewer/internal/storage/sqlite"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type staticIDs struct{}

func (staticIDs) NewID() (string, error) { return "run-1", nil }

func loadConfig(t *testing.T, yaml string) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func testOptions(browser renew.Browser) Options {
	return Options{
		Stdout:  &bytes.Buffer{},
		Browser: browser,
		Clock:   fixedClock{t: time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC)},
		IDs:     staticIDs{},
		Version: "test",
	}
}

func TestExecuteDryRunWithoutServers(t *testing.T) {
	cfg := loadConfig(t, `
weirdhost:
  server_urls: []
  remember_cookie: ""
  email: ""
  password: ""
`)
	browser := renewtest.NewBrowser(nil)
	opts := testOptions(browser)
	opts.DryRun = true

	a, err := New(context.Background(), cfg, zap.NewNop(), opts)
	require.NoError(t, err)
	defer a.Close(context.Background())

	run, code := a.Execute(context.Background())
	assert.Equal(t, 1, code)
	require.Len(t, run.Outcomes, 1)
	assert.Equal(t, renew.StatusNoServers, run.Outcomes[0].Status)
	assert.Zero(t, browser.Launches)

	store, ok := a.ReportStore().(*memory.BlobStore)
	require.True(t, ok)
	body, ok := store.Object(a.ReportPath())
	require.True(t, ok)
	assert.Contains(t, string(body), "未提供服务器列表")
	assert.Contains(t, string(body), "2025-03-01 12:00:00")
}

func TestExecuteWritesReportAndHistory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "history.db")
	cfg := loadConfig(t, `
weirdhost:
  server_urls:
    - https://hub.weirdhost.xyz/server/abc123
    - https://hub.weirdhost.xyz/server/def456
  remember_cookie: cookie-value
renew:
  pacing: 0s
report:
  dir: `+dir+`
history:
  backend: sqlite
  sqlite:
    path: `+dbPath+`
`)
	browser := renewtest.NewBrowser(map[string]renewtest.Page{
		"def456": {Notification: "Already renewed today"},
	})

	a, err := New(context.Background(), cfg, zap.NewNop(), testOptions(browser))
	require.NoError(t, err)

	run, code := a.Execute(context.Background())
	a.Close(context.Background())

	assert.Equal(t, 0, code)
	require.Len(t, run.Outcomes, 2)
	assert.Equal(t, renew.StatusSuccess, run.Outcomes[0].Status)
	assert.Equal(t, renew.StatusAlreadyRenewed, run.Outcomes[1].Status)
	assert.True(t, browser.Session().Closed)

	body, err := os.ReadFile(filepath.Join(dir, "README.md"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "服务器 `abc123`: ✅ 续期成功")
	assert.Contains(t, string(body), "服务器 `def456`")

	store, err := sqlite.Open(context.Background(), sqlite.Config{Path: dbPath})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	runs, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Len(t, runs[0].Outcomes, 2)
}

func TestNewRejectsBadPostgresDSN(t *testing.T) {
	cfg := loadConfig(t, `
report:
  dir: `+t.TempDir()+`
history:
  backend: postgres
  postgres:
    dsn: "://not-a-dsn"
`)
	_, err := New(context.Background(), cfg, zap.NewNop(), testOptions(renewtest.NewBrowser(nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres history")
}

func TestExecutePublishesWithTraceContext(t *testing.T) {
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	t.Setenv("PUBSUB_EMULATOR_HOST", srv.Addr)

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	admin, err := pubsub.NewClient(context.Background(), "proj", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })
	_, err = admin.CreateTopic(context.Background(), "renewals")
	require.NoError(t, err)

	cfg := loadConfig(t, `
weirdhost:
  server_urls:
    - https://hub.weirdhost.xyz/server/abc123
  remember_cookie: cookie-value
report:
  dir: `+t.TempDir()+`
pubsub:
  project_id: proj
  topic: renewals
`)
	a, err := New(context.Background(), cfg, zap.NewNop(), testOptions(renewtest.NewBrowser(nil)))
	require.NoError(t, err)

	_, code := a.Execute(context.Background())
	a.Close(context.Background())
	require.Equal(t, 0, code)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.NotEmpty(t, msgs[0].Attributes["traceparent"])
	assert.Equal(t, "run-1", msgs[0].Attributes["run_id"])
}

func TestNewBrowserSelectsEngine(t *testing.T) {
	assert.IsType(t, &rod.Launcher{}, newBrowser("rod", zap.NewNop()))
	assert.IsType(t, &headless.Launcher{}, newBrowser("chromedp", zap.NewNop()))
}
