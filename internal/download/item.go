package download

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/snagbot/snag/internal/event"
	"github.com/snagbot/snag/internal/formats"
	"github.com/snagbot/snag/internal/mediadata"
	"github.com/snagbot/snag/internal/platform"
	"github.com/snagbot/snag/internal/probe"
	"github.com/snagbot/snag/internal/reconcile"
	"github.com/snagbot/snag/internal/strategy"
	"github.com/snagbot/snag/internal/workspace"
	"github.com/snagbot/snag/pkg/logger"
)

type (
	DownloadItemState int

	// DownloadItem is one URL moving through the pipeline. Items are owned
	// by the download service; state mutation outside a claiming worker
	// must hold the service mutex.
	DownloadItem struct {
		ID            uuid.UUID
		URL           string
		Platform      platform.Platform
		State         DownloadItemState
		Trouble       *Trouble
		FormatOptions []formats.Option

		formatID string
	}
)

const (
	PENDING DownloadItemState = iota
	PROBING
	AWAITING_FORMAT
	DOWNLOADING
	RECONCILING
	DISPATCHING
	COMPLETE
	TROUBLED
)

// errAwaitingSelection signals that the item paused for a user quality
// selection rather than finishing or failing. It is never raised as a
// trouble.
var errAwaitingSelection = errors.New("download paused awaiting quality selection")

// execute drives one item through the pipeline:
//   - Probe/enumerate the URL where the platform needs it
//   - Plan the tool fallback chain
//   - Run each step inside a fresh workspace until one yields a bundle
//   - Normalize metadata and deliver the bundle
//
// Failures raised as a Trouble should be set on the item by the caller;
// other errors indicate a worker-level fault.
func (item *DownloadItem) execute(ctx context.Context, deps *pipeline) error {
	log.Emit(logger.NEW, "Beginning download of item %s\n", item)

	item.State = PROBING
	deps.eventBus.Dispatch(event.DOWNLOAD_UPDATE, item.ID)

	// A fresh YouTube item pauses for a quality selection when the
	// enumerator can list formats. Items resumed via ResolveFormat carry a
	// format ID and skip straight to planning.
	if item.Platform == platform.YouTube && item.formatID == "" {
		if options := deps.enumerator.Enumerate(ctx, item.URL); len(options) > 0 {
			log.Emit(logger.INFO, "Enumerated %d quality options for item %s\n", len(options), item)
			item.FormatOptions = options
			item.State = AWAITING_FORMAT
			deps.eventBus.Dispatch(event.DOWNLOAD_UPDATE, item.ID)

			return errAwaitingSelection
		}
	}

	steps, err := item.planSteps(ctx, deps)
	if err != nil {
		return newTrouble(err)
	}

	ws, err := workspace.New(deps.scratchRoot)
	if err != nil {
		return Trouble{error: err, tType: WORKSPACE_FAILURE}
	}
	defer ws.Cleanup()

	item.State = DOWNLOADING
	deps.eventBus.Dispatch(event.DOWNLOAD_UPDATE, item.ID)

	var bundle *reconcile.Bundle
	for _, step := range steps {
		log.Emit(logger.DEBUG, "Running %s for item %s\n", step.Tool, item)
		result, err := deps.executor.Execute(ctx, item.URL, ws, step)
		if err != nil {
			log.Emit(logger.ERROR, "Step %s for item %s failed structurally: %v\n", step.Tool, item, err)
			continue
		}

		if result != nil {
			bundle = result
			break
		}
	}

	if bundle == nil {
		return newTrouble(ErrAllToolsFailed)
	}
	if noUsableMedia(bundle) {
		return newTrouble(ErrNoUsableMedia)
	}

	item.State = RECONCILING
	deps.eventBus.Dispatch(event.DOWNLOAD_UPDATE, item.ID)
	record := mediadata.Normalize(bundle.Metadata)

	item.State = DISPATCHING
	deps.eventBus.Dispatch(event.DOWNLOAD_UPDATE, item.ID)

	report, err := deps.dispatcher.Dispatch(ctx, bundle, record)
	if err != nil {
		return Trouble{error: err, tType: DELIVERY_FAILURE}
	}

	log.Emit(logger.SUCCESS, "Delivered %d file(s) for item %s (source: %s)\n", report.Delivered, item, bundle.Source)
	item.State = COMPLETE
	deps.eventBus.Dispatch(event.DOWNLOAD_COMPLETE, item.ID)

	return nil
}

// planSteps resolves the fallback chain for the item. Explicit format
// selections use the per-format plan; everything else goes through the
// platform policy, with Instagram consulting a content probe first.
func (item *DownloadItem) planSteps(ctx context.Context, deps *pipeline) ([]strategy.Step, error) {
	if item.formatID != "" {
		return strategy.FormatPlan(item.Platform, item.formatID, deps.remuxAvailable), nil
	}

	var probed probe.Result
	if item.Platform == platform.Instagram {
		probed = deps.prober.Analyze(ctx, item.URL)
	}

	return strategy.Plan(item.Platform, probed, deps.creds, deps.remuxAvailable)
}

func (item *DownloadItem) String() string {
	return fmt.Sprintf("DownloadItem{ID=%s platform=%s state=%s}", item.ID, item.Platform, item.State)
}

func (s DownloadItemState) String() string {
	switch s {
	case PENDING:
		return fmt.Sprintf("PENDING[%d]", s)
	case PROBING:
		return fmt.Sprintf("PROBING[%d]", s)
	case AWAITING_FORMAT:
		return fmt.Sprintf("AWAITING_FORMAT[%d]", s)
	case DOWNLOADING:
		return fmt.Sprintf("DOWNLOADING[%d]", s)
	case RECONCILING:
		return fmt.Sprintf("RECONCILING[%d]", s)
	case DISPATCHING:
		return fmt.Sprintf("DISPATCHING[%d]", s)
	case COMPLETE:
		return fmt.Sprintf("COMPLETE[%d]", s)
	case TROUBLED:
		return fmt.Sprintf("TROUBLED[%d]", s)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}
