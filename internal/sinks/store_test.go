package sinks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) SaveRun(ctx context.Context, run renew.Run) error {
	return m.Called(ctx, run).Error(0)
}

func (m *mockRecorder) Close() error {
	return m.Called().Error(0)
}

func TestStoreSinkSavesRun(t *testing.T) {
	t.Parallel()

	repo := &mockRecorder{}
	run := sampleRun()
	repo.On("SaveRun", mock.Anything, run).Return(nil).Once()
	repo.On("Close").Return(nil).Once()

	sink := NewStoreSink(repo)
	require.NoError(t, sink.Consume(context.Background(), run))
	require.NoError(t, sink.Close(context.Background()))
	repo.AssertExpectations(t)
}

func TestStoreSinkWrapsErrors(t *testing.T) {
	t.Parallel()

	repo := &mockRecorder{}
	repo.On("SaveRun", mock.Anything, mock.Anything).Return(errors.New("db down"))

	err := NewStoreSink(repo).Consume(context.Background(), sampleRun())
	require.ErrorContains(t, err, "save run: db down")
}

func TestStoreSinkWithoutRepository(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(nil)
	require.NoError(t, sink.Consume(context.Background(), sampleRun()))
	require.NoError(t, sink.Close(context.Background()))
}
