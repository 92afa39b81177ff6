package report

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
	"github.com/JakeFAU/weirdhost-renewer/internal/storage/memory"
)

type brokenStore struct{}

func (brokenStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("disk full")
}

func TestWriterWritesPrimaryAndMirrors(t *testing.T) {
	t.Parallel()

	primary := memory.NewBlobStore()
	mirror := memory.NewBlobStore()
	w := NewWriter("", primary, nil, mirror)
	require.Equal(t, DefaultPath, w.Path())

	outcomes := []renew.Outcome{{Status: renew.StatusSuccess, ServerID: "abc123"}}
	require.NoError(t, w.Write(context.Background(), outcomes, generatedAt))

	got, ok := primary.Object(DefaultPath)
	require.True(t, ok)
	assert.Contains(t, string(got), "服务器 `abc123`: ✅ 续期成功")

	mirrored, ok := mirror.Object(DefaultPath)
	require.True(t, ok)
	assert.Equal(t, got, mirrored)
}

func TestWriterOverwritesPreviousReport(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	_, err := store.PutObject(context.Background(), "status.md", "", strings.NewReader("stale content"))
	require.NoError(t, err)

	w := NewWriter("status.md", store, zap.NewNop())
	require.NoError(t, w.Write(context.Background(), []renew.Outcome{{Status: renew.StatusNoAuth}}, generatedAt))

	got, _ := store.Object("status.md")
	assert.NotContains(t, string(got), "stale")
	assert.Contains(t, string(got), "全局状态: ❌ 配置错误：未提供认证信息")
}

func TestWriterPrimaryFailureIsLoggedAndReturned(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	mirror := memory.NewBlobStore()
	w := NewWriter("", brokenStore{}, zap.New(core), mirror)

	err := w.Write(context.Background(), nil, generatedAt)
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, logs.FilterMessage("write report failed").Len())
	assert.Empty(t, mirror.Paths(), "mirrors are skipped when the primary write fails")
}

func TestWriterMirrorFailureKeepsPrimary(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	primary := memory.NewBlobStore()
	w := NewWriter("", primary, zap.New(core), brokenStore{})

	err := w.Write(context.Background(), nil, generatedAt)
	require.ErrorContains(t, err, "mirror report")
	_, ok := primary.Object(DefaultPath)
	assert.True(t, ok)
	assert.Equal(t, 1, logs.FilterMessage("mirror report failed").Len())
}
