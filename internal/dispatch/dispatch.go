// Result dispatch. Takes a reconciled bundle and delivers each file over a
// transport, enforcing the delivery size ceiling and attaching the rendered
// caption to every file. Per-file failures are reported back through the
// transport as text notices and never abort the rest of the batch.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/snagbot/snag/internal/mediadata"
	"github.com/snagbot/snag/internal/reconcile"
	"github.com/snagbot/snag/pkg/logger"
)

var log = logger.Get("Dispatch")

// maxDeliverableBytes is the hard ceiling a single file may occupy before
// the transport refuses it.
const maxDeliverableBytes = 50 * 1024 * 1024

type (
	// Transport delivers individual files and text notices to the
	// requester. Implementations decide what "delivery" means: a chat
	// upload, a move into a pickup directory, a test recorder.
	Transport interface {
		SendPhoto(ctx context.Context, path string, caption string) error
		SendVideo(ctx context.Context, path string, caption string) error
		SendAudio(ctx context.Context, path string, caption string) error
		SendDocument(ctx context.Context, path string, caption string) error
		SendText(ctx context.Context, message string) error
	}

	// Dispatcher walks a bundle's files and pushes them through the
	// transport one at a time.
	Dispatcher struct {
		transport Transport
	}

	// Report summarises one dispatch run.
	Report struct {
		Delivered int
		Failed    int
		Oversized int
	}
)

func New(transport Transport) *Dispatcher {
	return &Dispatcher{transport: transport}
}

// Dispatch delivers every file in the bundle, each carrying the rendered
// caption. Vanished, empty and undeliverable files are reported with a
// text notice in their place, as are files above the size ceiling.
// Returns an error only when nothing at all could be delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, bundle *reconcile.Bundle, record mediadata.Record) (Report, error) {
	report := Report{}
	caption := record.Caption()

	for _, file := range bundle.Files {
		base := filepath.Base(file.Path)
		info, err := os.Stat(file.Path)
		if err != nil {
			log.Emit(logger.WARNING, "Skipping vanished file %s: %v\n", file.Path, err)
			report.Failed++
			d.notify(ctx, fmt.Sprintf("❌ File not found: %s", base))
			continue
		}

		if info.Size() == 0 {
			log.Emit(logger.WARNING, "Skipping empty file %s\n", file.Path)
			report.Failed++
			d.notify(ctx, fmt.Sprintf("❌ Empty file: %s", base))
			continue
		}

		if info.Size() > maxDeliverableBytes {
			report.Oversized++
			d.notify(ctx, fmt.Sprintf("⚠️ %s is too large to deliver (%.1f MiB, limit is 50 MiB)", base, float64(info.Size())/(1024*1024)))
			continue
		}

		if err := d.send(ctx, file, caption); err != nil {
			log.Emit(logger.ERROR, "Delivery of %s failed: %v\n", file.Path, err)
			report.Failed++
			d.notify(ctx, fmt.Sprintf("❌ Error sending file: %s", base))
			continue
		}

		report.Delivered++
	}

	if report.Delivered == 0 && len(bundle.Files) > 0 {
		return report, fmt.Errorf("no files from bundle of %d could be delivered", len(bundle.Files))
	}

	return report, nil
}

// notify pushes a per-file notice through the transport; a failed notice
// is only logged since the batch must carry on regardless.
func (d *Dispatcher) notify(ctx context.Context, notice string) {
	if err := d.transport.SendText(ctx, notice); err != nil {
		log.Emit(logger.ERROR, "Failed to send notice %q: %v\n", notice, err)
	}
}

func (d *Dispatcher) send(ctx context.Context, file reconcile.File, caption string) error {
	switch classify(file) {
	case reconcile.KindImage:
		return d.transport.SendPhoto(ctx, file.Path, caption)
	case reconcile.KindVideo:
		return d.transport.SendVideo(ctx, file.Path, caption)
	case reconcile.KindAudio:
		return d.transport.SendAudio(ctx, file.Path, caption)
	default:
		return d.transport.SendDocument(ctx, file.Path, caption)
	}
}

// classify trusts the reconciler's kind but re-checks the extension for
// document-kind files, since gallery tools occasionally emit media with
// extensions the reconciler's tables don't cover.
func classify(file reconcile.File) reconcile.FileKind {
	if file.Kind != reconcile.KindDocument {
		return file.Kind
	}

	switch strings.ToLower(filepath.Ext(file.Path)) {
	case ".jpg", ".jpeg", ".png", ".gif":
		return reconcile.KindImage
	case ".mp4", ".webm", ".mov", ".avi":
		return reconcile.KindVideo
	case ".mp3", ".m4a", ".wav", ".ogg":
		return reconcile.KindAudio
	default:
		return reconcile.KindDocument
	}
}
