package download

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/snagbot/snag/internal/dispatch"
	"github.com/snagbot/snag/internal/event"
	"github.com/snagbot/snag/internal/formats"
	"github.com/snagbot/snag/internal/mediadata"
	"github.com/snagbot/snag/internal/platform"
	"github.com/snagbot/snag/internal/probe"
	"github.com/snagbot/snag/internal/reconcile"
	"github.com/snagbot/snag/internal/strategy"
	"github.com/snagbot/snag/internal/workspace"
	"github.com/snagbot/snag/pkg/logger"
	"github.com/snagbot/snag/pkg/worker"
)

var log = logger.Get("DownloadServ")

// selectionTTL is how long a quality selection session stays open before
// the item is failed with SELECTION_EXPIRED.
const selectionTTL = 5 * time.Minute

type (
	prober interface {
		Analyze(ctx context.Context, url string) probe.Result
	}

	enumerator interface {
		Enumerate(ctx context.Context, url string) []formats.Option
	}

	stepExecutor interface {
		Execute(ctx context.Context, url string, ws *workspace.Workspace, step strategy.Step) (*reconcile.Bundle, error)
	}

	bundleDispatcher interface {
		Dispatch(ctx context.Context, bundle *reconcile.Bundle, record mediadata.Record) (dispatch.Report, error)
	}

	// pipeline bundles the collaborators an item needs while executing.
	pipeline struct {
		eventBus       event.EventCoordinator
		prober         prober
		enumerator     enumerator
		executor       stepExecutor
		dispatcher     bundleDispatcher
		creds          strategy.Credentials
		scratchRoot    string
		remuxAvailable bool
	}

	Config struct {
		ScratchRoot string
		Parallelism int
	}

	// downloadService owns the download queue. URLs are accepted over the
	// API, queued as items, and drained by the worker pool; quality
	// selection sessions for enumerable platforms pause items until the
	// user resolves them or the session times out.
	downloadService struct {
		*sync.Mutex

		pipeline              *pipeline
		config                Config
		items                 []*DownloadItem
		selectionExpiryTimers map[uuid.UUID]*time.Timer
		workerPool            worker.WorkerPool

		runCtx context.Context
	}
)

// New assembles a download service around its pipeline collaborators. The
// worker pool is built here but not started until Run.
func New(config Config, eventBus event.EventCoordinator, prober prober, enumerator enumerator, executor stepExecutor, dispatcher bundleDispatcher, creds strategy.Credentials, remuxAvailable bool) *downloadService {
	if config.Parallelism < 1 {
		config.Parallelism = 1
	}

	service := &downloadService{
		Mutex: &sync.Mutex{},
		pipeline: &pipeline{
			eventBus:       eventBus,
			prober:         prober,
			enumerator:     enumerator,
			executor:       executor,
			dispatcher:     dispatcher,
			creds:          creds,
			scratchRoot:    config.ScratchRoot,
			remuxAvailable: remuxAvailable,
		},
		config:                config,
		items:                 make([]*DownloadItem, 0),
		selectionExpiryTimers: make(map[uuid.UUID]*time.Timer),
		workerPool:            *worker.NewWorkerPool(),
	}

	for i := 0; i < config.Parallelism; i++ {
		label := fmt.Sprintf("download-worker-%d", i)
		service.workerPool.PushWorker(worker.NewWorker(label, service.PerformItemDownload))
	}

	return service
}

// Run starts the worker pool and blocks until the context is cancelled.
// A coarse ticker periodically re-wakes the pool so that an item queued in
// the instant between a worker finishing its claim sweep and going to
// sleep is never stranded.
func (service *downloadService) Run(ctx context.Context) error {
	service.runCtx = ctx
	defer service.clearAllSelectionExpiryTimers()

	if err := service.workerPool.Start(); err != nil {
		return fmt.Errorf("download service failed to start worker pool: %w", err)
	}

	forceWakeup := time.NewTicker(time.Second * 2)
	defer forceWakeup.Stop()

	for {
		select {
		case <-forceWakeup.C:
			service.workerPool.WakeupWorkers()
		case <-ctx.Done():
			service.workerPool.Close()
			return nil
		}
	}
}

// PerformItemDownload is the worker function for the download service,
// called by the services WorkerPool. It claims the first PENDING item it
// finds and drives it through the pipeline. Failures carrying a Trouble
// are set on the item; a pause for quality selection schedules the
// session expiry timer.
func (service *downloadService) PerformItemDownload(w worker.Worker) (bool, error) {
	item := service.claimPendingItem()
	if item == nil {
		return false, nil
	}

	err := item.execute(service.runCtx, service.pipeline)
	if err == errAwaitingSelection {
		service.scheduleSelectionExpiryTimer(item.ID)
		return true, nil
	}
	if err != nil {
		if trbl, ok := err.(Trouble); ok {
			log.Emit(logger.ERROR, "Item %s raised trouble %s: %v\n", item, trbl.Type(), trbl)
			item.Trouble = &trbl
			item.State = TROUBLED
			service.pipeline.eventBus.Dispatch(event.DOWNLOAD_UPDATE, item.ID)
		} else {
			return false, err
		}
	}

	return true, nil
}

// NewDownload validates and enqueues a URL for download. Returns the ID
// of the queued item.
func (service *downloadService) NewDownload(rawURL string) (uuid.UUID, error) {
	if !platform.IsSupportedURL(rawURL) {
		return uuid.Nil, fmt.Errorf("URL '%s' does not belong to a supported platform", rawURL)
	}

	normalized := platform.NormalizeURL(rawURL)
	item := &DownloadItem{
		ID:       uuid.New(),
		URL:      normalized,
		Platform: platform.Classify(normalized),
		State:    PENDING,
	}

	service.Lock()
	service.items = append(service.items, item)
	service.Unlock()

	log.Emit(logger.NEW, "Queued new download %s\n", item)
	service.pipeline.eventBus.Dispatch(event.DOWNLOAD_UPDATE, item.ID)
	service.workerPool.WakeupWorkers()

	return item.ID, nil
}

// ResolveFormat resumes an item paused for quality selection with the
// format the user chose. The selection session must still be open.
func (service *downloadService) ResolveFormat(itemID uuid.UUID, formatID string) error {
	service.Lock()
	defer service.Unlock()

	item := service.findItem(itemID)
	if item == nil {
		return ErrDownloadNotFound
	}
	if item.State != AWAITING_FORMAT {
		return fmt.Errorf("item %s is not awaiting a quality selection", itemID)
	}

	service.clearSelectionExpiryTimer(itemID)
	item.formatID = formatID
	item.State = PENDING
	service.workerPool.WakeupWorkers()

	return nil
}

// ResolveTrouble applies the given resolution method to a troubled item.
// A retry clears the trouble and requeues the item; an abort removes it
// from the queue entirely.
func (service *downloadService) ResolveTrouble(itemID uuid.UUID, method ResolutionType) error {
	service.Lock()
	defer service.Unlock()

	item := service.findItem(itemID)
	if item == nil {
		return ErrDownloadNotFound
	}
	if item.State != TROUBLED || item.Trouble == nil {
		return ErrNoTrouble
	}

	resolution, err := item.Trouble.GenerateResolution(method)
	if err != nil {
		return err
	}

	switch resolution.(type) {
	case *RetryResolution:
		log.Emit(logger.INFO, "Retrying troubled download %s\n", item)
		item.Trouble = nil
		item.State = PENDING
		service.pipeline.eventBus.Dispatch(event.DOWNLOAD_UPDATE, item.ID)
		service.workerPool.WakeupWorkers()
	case *AbortResolution:
		log.Emit(logger.REMOVE, "Aborting troubled download %s\n", item)
		for k, v := range service.items {
			if v.ID == itemID {
				service.items = append(service.items[:k], service.items[k+1:]...)
				break
			}
		}
		service.pipeline.eventBus.Dispatch(event.DOWNLOAD_UPDATE, itemID)
	}

	return nil
}

// RemoveDownload removes the item with the given ID from the queue. Items
// actively being worked cannot be removed; troubled, paused and queued
// items can. Removing an unknown ID is a no-op.
func (service *downloadService) RemoveDownload(itemID uuid.UUID) error {
	service.Lock()
	defer service.Unlock()

	for k, v := range service.items {
		if v.ID == itemID {
			if v.State != PENDING && v.State != AWAITING_FORMAT && v.State != TROUBLED && v.State != COMPLETE {
				return fmt.Errorf("cannot remove item %v as a worker is currently processing it", itemID)
			}

			service.clearSelectionExpiryTimer(itemID)
			service.items = append(service.items[:k], service.items[k+1:]...)
			return nil
		}
	}

	return nil
}

// GetDownload returns the item with the given ID, or nil.
func (service *downloadService) GetDownload(itemID uuid.UUID) *DownloadItem {
	service.Lock()
	defer service.Unlock()

	return service.findItem(itemID)
}

// GetAllDownloads returns all items known to the service.
func (service *downloadService) GetAllDownloads() []*DownloadItem {
	service.Lock()
	defer service.Unlock()

	return service.items
}

// expireSelection fails an item whose quality selection session lapsed
// without a user choice. A no-op if the item resolved or went away in the
// meantime.
func (service *downloadService) expireSelection(itemID uuid.UUID) {
	service.Lock()
	defer service.Unlock()

	item := service.findItem(itemID)
	if item == nil || item.State != AWAITING_FORMAT {
		return
	}

	log.Emit(logger.WARNING, "Quality selection for item %s expired without a choice\n", item)
	trbl := newTrouble(ErrSelectionExpired)
	item.Trouble = &trbl
	item.State = TROUBLED
	service.pipeline.eventBus.Dispatch(event.DOWNLOAD_UPDATE, item.ID)
}

func (service *downloadService) scheduleSelectionExpiryTimer(itemID uuid.UUID) {
	service.Lock()
	defer service.Unlock()

	service.clearSelectionExpiryTimer(itemID)
	service.selectionExpiryTimers[itemID] = time.AfterFunc(selectionTTL, func() {
		service.expireSelection(itemID)
	})
}

// clearSelectionExpiryTimer cancels and deletes the expiry timer for the
// item specified. Callers must hold the mutex.
func (service *downloadService) clearSelectionExpiryTimer(itemID uuid.UUID) {
	if timer, ok := service.selectionExpiryTimers[itemID]; ok {
		timer.Stop()
		delete(service.selectionExpiryTimers, itemID)
	}
}

func (service *downloadService) clearAllSelectionExpiryTimers() {
	service.Lock()
	defer service.Unlock()

	for key, timer := range service.selectionExpiryTimers {
		timer.Stop()
		delete(service.selectionExpiryTimers, key)
	}
}

// claimPendingItem finds a PENDING item and marks it PROBING to prevent
// another worker claiming it once the lock is released.
func (service *downloadService) claimPendingItem() *DownloadItem {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.State == PENDING {
			item.State = PROBING
			return item
		}
	}

	return nil
}

func (service *downloadService) findItem(itemID uuid.UUID) *DownloadItem {
	for _, item := range service.items {
		if item.ID == itemID {
			return item
		}
	}

	return nil
}
