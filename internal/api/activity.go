package api

import (
	"github.com/google/uuid"
	"github.com/snagbot/snag/internal/api/downloads"
	"github.com/snagbot/snag/internal/http/websocket"
)

const (
	TITLE_DOWNLOAD_UPDATE   = "DOWNLOAD_UPDATE"
	TITLE_DOWNLOAD_COMPLETE = "DOWNLOAD_COMPLETE"
)

type (
	DownloadUpdate struct {
		DownloadId uuid.UUID              `json:"download_id"`
		Download   *downloads.DownloadDto `json:"download"`
	}

	broadcaster struct {
		socketHub       *websocket.SocketHub
		downloadService downloads.DownloadService
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, downloadService downloads.DownloadService) *broadcaster {
	return &broadcaster{socketHub, downloadService}
}

// BroadcastDownloadUpdate pushes the current state of the download with
// the given ID to all connected clients. A nil item (removed since the
// event fired) broadcasts a tombstone update so clients can drop it.
func (hub *broadcaster) BroadcastDownloadUpdate(id uuid.UUID) error {
	update := DownloadUpdate{DownloadId: id}
	if item := hub.downloadService.GetDownload(id); item != nil {
		update.Download = downloads.NewDto(item)
	}

	hub.broadcast(TITLE_DOWNLOAD_UPDATE, update)
	return nil
}

// BroadcastDownloadComplete announces a finished download to all
// connected clients.
func (hub *broadcaster) BroadcastDownloadComplete(id uuid.UUID) error {
	update := DownloadUpdate{DownloadId: id}
	if item := hub.downloadService.GetDownload(id); item != nil {
		update.Download = downloads.NewDto(item)
	}

	hub.broadcast(TITLE_DOWNLOAD_COMPLETE, update)
	return nil
}

func (hub *broadcaster) broadcast(title string, update any) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"arguments": update},
		Type:  websocket.Update,
	})
}
