package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/snagbot/snag/internal/api"
	"github.com/snagbot/snag/internal/dispatch"
	"github.com/snagbot/snag/internal/download"
	"github.com/snagbot/snag/internal/event"
	"github.com/snagbot/snag/internal/executor"
	"github.com/snagbot/snag/internal/formats"
	"github.com/snagbot/snag/internal/probe"
	"github.com/snagbot/snag/internal/reconcile"
	"github.com/snagbot/snag/internal/remux"
	"github.com/snagbot/snag/internal/tool"
	"github.com/snagbot/snag/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	RestGateway interface {
		RunnableService
		BroadcastDownloadUpdate(uuid.UUID) error
		BroadcastDownloadComplete(uuid.UUID) error
	}

	DownloadService interface {
		RunnableService
		GetAllDownloads() []*download.DownloadItem
		GetDownload(uuid.UUID) *download.DownloadItem
		NewDownload(url string) (uuid.UUID, error)
		RemoveDownload(uuid.UUID) error
		ResolveFormat(itemID uuid.UUID, formatID string) error
		ResolveTrouble(itemID uuid.UUID, method download.ResolutionType) error
	}
)

// Snag represents the top-level object for the server, and is responsible
// for initialising the tool runner, pipeline services, event handling,
// et cetera...
type snagImpl struct {
	eventBus        event.EventCoordinator
	activityService *activityService
	config          SnagConfig

	restGateway     RestGateway
	downloadService DownloadService
}

func New(config SnagConfig) *snagImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Snag services using config: %#v\n", config)
	snag := &snagImpl{
		eventBus: event.New(),
		config:   config,
	}

	runner := tool.NewRunner()
	remuxer := remux.New(runner, config.Tools.FfmpegBin, config.Tools.FfprobeBin)
	creds := config.StrategyCredentials()

	transport, err := dispatch.NewDirTransport(config.OutputDir)
	if err != nil {
		panic(fmt.Sprintf("failed to construct delivery transport due to error: %s", err.Error()))
	}

	snag.downloadService = download.New(
		download.Config{ScratchRoot: config.ScratchRoot, Parallelism: config.Concurrent.Download},
		snag.eventBus,
		probe.New(runner, config.Tools.YtDlpBin),
		formats.New(runner, config.Tools.YtDlpBin),
		executor.New(runner, reconcile.New(remuxer), config.Tools.YtDlpBin, config.Tools.GalleryDlBin, creds),
		dispatch.New(transport),
		creds,
		remuxer.Available(),
	)

	gateway := api.NewRestGateway(
		&api.RestConfig{HostAddr: fmt.Sprintf("%s:%s", config.ApiHostAddr, config.ApiHostPort)},
		snag.downloadService,
	)
	snag.restGateway = gateway
	snag.activityService = newActivityService(gateway, snag.eventBus)

	return snag
}

// Run will start all of Snag by bringing up all required services:
// the download pipeline, the activity broadcaster and the REST gateway.
//
// This function will not return until Snag is stopped. To stop Snag, the
// provided context must be cancelled. Errors from which Snag cannot
// recover will also cause Snag to stop.
func (snag *snagImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	wg := &sync.WaitGroup{}
	snag.spawnAsyncService(ctx, wg, snag.downloadService, "download-service", crashHandler)
	snag.spawnAsyncService(ctx, wg, snag.activityService, "activity-service", crashHandler)
	snag.spawnAsyncService(ctx, wg, snag.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Snag services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided function/service as its own
// go-routine, ensuring that the Snag service waitgroup is updated correctly.
func (snag *snagImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
