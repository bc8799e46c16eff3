// download_test exercises the download queue end to end with every
// pipeline collaborator mocked: URLs are queued, claimed by the worker
// pool, driven through planning/execution/dispatch, and surfaced over the
// service's query methods.
package download_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/snagbot/snag/internal/dispatch"
	"github.com/snagbot/snag/internal/download"
	"github.com/snagbot/snag/internal/event"
	"github.com/snagbot/snag/internal/formats"
	"github.com/snagbot/snag/internal/mediadata"
	"github.com/snagbot/snag/internal/probe"
	"github.com/snagbot/snag/internal/reconcile"
	"github.com/snagbot/snag/internal/strategy"
	"github.com/snagbot/snag/internal/workspace"
	"github.com/snagbot/snag/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type mockProber struct{ mock.Mock }

func (m *mockProber) Analyze(ctx context.Context, url string) probe.Result {
	return m.Called(ctx, url).Get(0).(probe.Result)
}

type mockEnumerator struct{ mock.Mock }

func (m *mockEnumerator) Enumerate(ctx context.Context, url string) []formats.Option {
	if options := m.Called(ctx, url).Get(0); options != nil {
		return options.([]formats.Option)
	}

	return nil
}

type mockExecutor struct{ mock.Mock }

func (m *mockExecutor) Execute(ctx context.Context, url string, ws *workspace.Workspace, step strategy.Step) (*reconcile.Bundle, error) {
	args := m.Called(ctx, url, ws, step)
	if bundle := args.Get(0); bundle != nil {
		return bundle.(*reconcile.Bundle), args.Error(1)
	}

	return nil, args.Error(1)
}

type mockDispatcher struct{ mock.Mock }

func (m *mockDispatcher) Dispatch(ctx context.Context, bundle *reconcile.Bundle, record mediadata.Record) (dispatch.Report, error) {
	args := m.Called(ctx, bundle, record)
	return args.Get(0).(dispatch.Report), args.Error(1)
}

type Service interface {
	Run(context.Context) error
	GetAllDownloads() []*download.DownloadItem
	GetDownload(uuid.UUID) *download.DownloadItem
	NewDownload(url string) (uuid.UUID, error)
	RemoveDownload(uuid.UUID) error
	ResolveFormat(itemID uuid.UUID, formatID string) error
	ResolveTrouble(itemID uuid.UUID, method download.ResolutionType) error
}

func startService(t *testing.T, prober *mockProber, enumerator *mockEnumerator, executor *mockExecutor, dispatcher *mockDispatcher) Service {
	srv := download.New(
		download.Config{ScratchRoot: t.TempDir(), Parallelism: 1},
		event.New(),
		prober,
		enumerator,
		executor,
		dispatcher,
		strategy.Credentials{},
		true,
	)

	wg := sync.WaitGroup{}
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer wg.Done()
		assert.Nil(t, srv.Run(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return srv
}

func waitForState(t *testing.T, srv Service, id uuid.UUID, state download.DownloadItemState) {
	assert.Eventually(t, func() bool {
		item := srv.GetDownload(id)
		return item != nil && item.State == state
	}, 10*time.Second, 25*time.Millisecond, "item never reached state %s", state)
}

func mediaBundle() *reconcile.Bundle {
	return &reconcile.Bundle{
		Files:    []reconcile.File{{Path: "/tmp/fake/photo.jpg", Kind: reconcile.KindImage}},
		Metadata: map[string]any{"title": "a post"},
		Source:   "gallery-dl",
	}
}

func Test_NewDownload_RejectsUnsupportedURL(t *testing.T) {
	srv := startService(t, &mockProber{}, &mockEnumerator{}, &mockExecutor{}, &mockDispatcher{})

	_, err := srv.NewDownload("not a url at all")
	assert.NotNil(t, err)
	assert.Empty(t, srv.GetAllDownloads())
}

func Test_Download_CompletesWhenFirstToolSucceeds(t *testing.T) {
	executor := &mockExecutor{}
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(mediaBundle(), nil).Once()

	dispatcher := &mockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(dispatch.Report{Delivered: 1}, nil).Once()

	srv := startService(t, &mockProber{}, &mockEnumerator{}, executor, dispatcher)

	id, err := srv.NewDownload("https://www.pinterest.com/pin/123/")
	assert.Nil(t, err)

	waitForState(t, srv, id, download.COMPLETE)
	executor.AssertExpectations(t)
	dispatcher.AssertExpectations(t)
}

// The second tool of the fallback chain must run when the first produces
// nothing.
func Test_Download_AdvancesThroughFallbackChain(t *testing.T) {
	executor := &mockExecutor{}
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Once()
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(mediaBundle(), nil).Once()

	dispatcher := &mockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(dispatch.Report{Delivered: 1}, nil)

	srv := startService(t, &mockProber{}, &mockEnumerator{}, executor, dispatcher)

	id, err := srv.NewDownload("https://www.pinterest.com/pin/123/")
	assert.Nil(t, err)

	waitForState(t, srv, id, download.COMPLETE)
	executor.AssertNumberOfCalls(t, "Execute", 2)
}

func Test_Download_TroubledWhenAllToolsFail(t *testing.T) {
	executor := &mockExecutor{}
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	srv := startService(t, &mockProber{}, &mockEnumerator{}, executor, &mockDispatcher{})

	id, err := srv.NewDownload("https://www.pinterest.com/pin/123/")
	assert.Nil(t, err)

	waitForState(t, srv, id, download.TROUBLED)

	item := srv.GetDownload(id)
	assert.NotNil(t, item.Trouble)
	assert.Equal(t, download.ALL_TOOLS_FAILED, item.Trouble.Type())
}

func Test_Download_DeliveryFailureRaisesTrouble(t *testing.T) {
	executor := &mockExecutor{}
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(mediaBundle(), nil)

	dispatcher := &mockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(dispatch.Report{}, errors.New("transport offline"))

	srv := startService(t, &mockProber{}, &mockEnumerator{}, executor, dispatcher)

	id, err := srv.NewDownload("https://www.pinterest.com/pin/123/")
	assert.Nil(t, err)

	waitForState(t, srv, id, download.TROUBLED)
	assert.Equal(t, download.DELIVERY_FAILURE, srv.GetDownload(id).Trouble.Type())
}

// An enumerable platform pauses for a quality selection, exposes the
// ladder on the item, and resumes once the client resolves a format.
func Test_Download_QualitySelectionFlow(t *testing.T) {
	ladder := []formats.Option{{ID: "137", Label: "1080p"}, {ID: "140", Label: "Audio Only"}}

	enumerator := &mockEnumerator{}
	enumerator.On("Enumerate", mock.Anything, mock.Anything).Return(ladder).Once()

	executor := &mockExecutor{}
	// Format plans carry a terminal fallback step; only the first should
	// run when it succeeds.
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.MatchedBy(func(step strategy.Step) bool {
		return step.OutputSuffix == ""
	})).Return(mediaBundle(), nil).Once()

	dispatcher := &mockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(dispatch.Report{Delivered: 1}, nil)

	srv := startService(t, &mockProber{}, enumerator, executor, dispatcher)

	id, err := srv.NewDownload("https://www.youtube.com/watch?v=abc")
	assert.Nil(t, err)

	waitForState(t, srv, id, download.AWAITING_FORMAT)
	assert.Equal(t, ladder, srv.GetDownload(id).FormatOptions)

	assert.Nil(t, srv.ResolveFormat(id, "137"))
	waitForState(t, srv, id, download.COMPLETE)
	executor.AssertExpectations(t)
}

func Test_ResolveFormat_RejectsItemsNotAwaitingSelection(t *testing.T) {
	executor := &mockExecutor{}
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(mediaBundle(), nil)

	dispatcher := &mockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(dispatch.Report{Delivered: 1}, nil)

	srv := startService(t, &mockProber{}, &mockEnumerator{}, executor, dispatcher)

	id, err := srv.NewDownload("https://www.pinterest.com/pin/123/")
	assert.Nil(t, err)
	waitForState(t, srv, id, download.COMPLETE)

	assert.NotNil(t, srv.ResolveFormat(id, "137"))
	assert.ErrorIs(t, srv.ResolveFormat(uuid.New(), "137"), download.ErrDownloadNotFound)
}

// A retry resolution clears the trouble, requeues the item and lets the
// next pipeline attempt finish the job.
func Test_ResolveTrouble_RetryRequeuesItem(t *testing.T) {
	executor := &mockExecutor{}
	// Both fallback steps fail on the first attempt; the retry succeeds.
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Twice()
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(mediaBundle(), nil).Once()

	dispatcher := &mockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(dispatch.Report{Delivered: 1}, nil)

	srv := startService(t, &mockProber{}, &mockEnumerator{}, executor, dispatcher)

	id, err := srv.NewDownload("https://www.pinterest.com/pin/123/")
	assert.Nil(t, err)
	waitForState(t, srv, id, download.TROUBLED)

	trouble := srv.GetDownload(id).Trouble
	assert.Contains(t, trouble.AllowedResolutionTypes(), download.RETRY)

	assert.Nil(t, srv.ResolveTrouble(id, download.RETRY))
	waitForState(t, srv, id, download.COMPLETE)
	assert.Nil(t, srv.GetDownload(id).Trouble)
}

// An abort resolution removes the troubled item from the queue.
func Test_ResolveTrouble_AbortRemovesItem(t *testing.T) {
	executor := &mockExecutor{}
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	srv := startService(t, &mockProber{}, &mockEnumerator{}, executor, &mockDispatcher{})

	id, err := srv.NewDownload("https://www.pinterest.com/pin/123/")
	assert.Nil(t, err)
	waitForState(t, srv, id, download.TROUBLED)

	assert.Nil(t, srv.ResolveTrouble(id, download.ABORT))
	assert.Nil(t, srv.GetDownload(id))
}

// A credentials trouble only permits an abort; retrying it is rejected as
// incompatible.
func Test_ResolveTrouble_RejectsIncompatibleResolution(t *testing.T) {
	prober := &mockProber{}
	prober.On("Analyze", mock.Anything, mock.Anything).Return(probe.Result{Kind: probe.KindAuthRequired})

	srv := startService(t, prober, &mockEnumerator{}, &mockExecutor{}, &mockDispatcher{})

	id, err := srv.NewDownload("https://www.instagram.com/p/abc/")
	assert.Nil(t, err)
	waitForState(t, srv, id, download.TROUBLED)

	item := srv.GetDownload(id)
	assert.Equal(t, download.CREDENTIALS_REQUIRED, item.Trouble.Type())
	assert.Equal(t, []download.ResolutionType{download.ABORT}, item.Trouble.AllowedResolutionTypes())

	assert.ErrorIs(t, srv.ResolveTrouble(id, download.RETRY), download.ErrResolutionIncompatible)
	assert.Equal(t, download.TROUBLED, srv.GetDownload(id).State)
}

func Test_ResolveTrouble_RejectsUntroubledItems(t *testing.T) {
	executor := &mockExecutor{}
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(mediaBundle(), nil)

	dispatcher := &mockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(dispatch.Report{Delivered: 1}, nil)

	srv := startService(t, &mockProber{}, &mockEnumerator{}, executor, dispatcher)

	id, err := srv.NewDownload("https://www.pinterest.com/pin/123/")
	assert.Nil(t, err)
	waitForState(t, srv, id, download.COMPLETE)

	assert.ErrorIs(t, srv.ResolveTrouble(id, download.RETRY), download.ErrNoTrouble)
	assert.ErrorIs(t, srv.ResolveTrouble(uuid.New(), download.RETRY), download.ErrDownloadNotFound)
}

func Test_RemoveDownload(t *testing.T) {
	executor := &mockExecutor{}
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(mediaBundle(), nil)

	dispatcher := &mockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(dispatch.Report{Delivered: 1}, nil)

	srv := startService(t, &mockProber{}, &mockEnumerator{}, executor, dispatcher)

	id, err := srv.NewDownload("https://www.pinterest.com/pin/123/")
	assert.Nil(t, err)
	waitForState(t, srv, id, download.COMPLETE)

	assert.Nil(t, srv.RemoveDownload(id))
	assert.Nil(t, srv.GetDownload(id))

	// Removing an unknown ID is a no-op.
	assert.Nil(t, srv.RemoveDownload(uuid.New()))
}
