package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DirTransport delivers files by copying them into a pickup directory and
// writing captions/notices alongside as text files. It is the default
// transport when no chat integration is configured, and doubles as a local
// archive sink.
type DirTransport struct {
	outputDir string
}

func NewDirTransport(outputDir string) (*DirTransport, error) {
	if err := os.MkdirAll(outputDir, os.ModeDir|os.ModePerm); err != nil {
		return nil, fmt.Errorf("output directory '%s' could not be created: %w", outputDir, err)
	}

	return &DirTransport{outputDir: outputDir}, nil
}

func (t *DirTransport) SendPhoto(ctx context.Context, path string, caption string) error {
	return t.deliver(path, caption)
}

func (t *DirTransport) SendVideo(ctx context.Context, path string, caption string) error {
	return t.deliver(path, caption)
}

func (t *DirTransport) SendAudio(ctx context.Context, path string, caption string) error {
	return t.deliver(path, caption)
}

func (t *DirTransport) SendDocument(ctx context.Context, path string, caption string) error {
	return t.deliver(path, caption)
}

func (t *DirTransport) SendText(ctx context.Context, message string) error {
	name := fmt.Sprintf("notice_%d.txt", time.Now().UnixNano())
	return os.WriteFile(filepath.Join(t.outputDir, name), []byte(message), 0o644)
}

// deliver copies the source file into the pickup directory. The workspace
// holding the source is removed once the pipeline finishes, so a copy (not
// a rename, which fails across filesystems) is required.
func (t *DirTransport) deliver(path string, caption string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	destPath := filepath.Join(t.outputDir, filepath.Base(path))
	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return fmt.Errorf("copy to pickup directory failed: %w", err)
	}

	if caption != "" {
		captionPath := destPath + ".caption.txt"
		if err := os.WriteFile(captionPath, []byte(caption), 0o644); err != nil {
			return fmt.Errorf("caption write failed: %w", err)
		}
	}

	return nil
}
