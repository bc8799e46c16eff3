// Post-download reconciliation. After a tool run completes the workspace
// holds an arbitrary mixture of media files, split elementary streams and
// metadata sidecars; this package classifies them, merges split pairs via
// the remuxer, and produces the single bundle the dispatcher consumes.
package reconcile

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/snagbot/snag/internal/remux"
	"github.com/snagbot/snag/pkg/logger"
)

var log = logger.Get("Reconcile")

type (
	FileKind int

	File struct {
		Path string
		Kind FileKind
	}

	// Bundle is the reconciled result of one tool run: the usable media
	// files in discovery order, the raw metadata sidecar (possibly empty,
	// never nil) and the name of the tool that produced it.
	Bundle struct {
		Files    []File
		Metadata map[string]any
		Source   string
	}

	Reconciler struct {
		remuxer remux.Remuxer
	}

	// pair is a split video/audio couple sharing a filename stem.
	pair struct {
		video string
		audio string
	}
)

const (
	KindVideo FileKind = iota
	KindAudio
	KindImage
	KindDocument
)

var (
	videoExts = map[string]bool{".mp4": true, ".webm": true, ".mov": true, ".avi": true, ".mkv": true}
	audioExts = map[string]bool{".m4a": true, ".mp3": true, ".aac": true, ".opus": true}
	imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true}
)

func New(remuxer remux.Remuxer) *Reconciler {
	return &Reconciler{remuxer: remuxer}
}

// Collect scans the workspace recursively and reconciles its contents.
// Returns nil when no usable media was produced - a metadata sidecar on
// its own does not count as success. Errors are reserved for structural
// failures (an unreadable workspace); tool-output oddities degrade.
func (r *Reconciler) Collect(ctx context.Context, dir string, source string) (*Bundle, error) {
	var (
		complete []File
		sidecars []string
		pairs    = map[string]*pair{}
	)

	// First pass groups split streams by directory+stem so pairing is
	// stable regardless of discovery order.
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}

		ext := strings.ToLower(filepath.Ext(path))
		switch {
		case videoExts[ext]:
			stemKey(pairs, path).video = path
		case audioExts[ext]:
			stemKey(pairs, path).audio = path
		case imageExts[ext]:
			complete = append(complete, File{Path: path, Kind: KindImage})
		case ext == ".json":
			sidecars = append(sidecars, path)
		default:
			complete = append(complete, File{Path: path, Kind: KindDocument})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	files := r.resolvePairs(ctx, pairs)
	files = append(files, complete...)

	if len(files) == 0 {
		return nil, nil
	}

	return &Bundle{
		Files:    files,
		Metadata: readSidecar(sidecars),
		Source:   source,
	}, nil
}

// resolvePairs merges complete split pairs when a merge tool exists and
// passes everything else through untouched. A failed merge keeps both
// originals - data is never silently dropped.
func (r *Reconciler) resolvePairs(ctx context.Context, pairs map[string]*pair) []File {
	stems := make([]string, 0, len(pairs))
	for stem := range pairs {
		stems = append(stems, stem)
	}
	sort.Strings(stems)

	var files []File
	for _, stem := range stems {
		p := pairs[stem]
		if p.video == "" {
			files = append(files, File{Path: p.audio, Kind: KindAudio})
			continue
		}
		if p.audio == "" {
			files = append(files, File{Path: p.video, Kind: KindVideo})
			continue
		}

		if !r.remuxer.Available() {
			log.Emit(logger.WARNING, "No remux tool available, keeping split streams for %s\n", stem)
			files = append(files, File{Path: p.video, Kind: KindVideo}, File{Path: p.audio, Kind: KindAudio})
			continue
		}

		mergedPath := filepath.Join(filepath.Dir(p.video), stemOf(p.video)+"_merged.mp4")
		if err := r.remuxer.Merge(ctx, p.video, p.audio, mergedPath); err != nil {
			log.Emit(logger.WARNING, "Remux of %s failed (%v), keeping split streams\n", stem, err)
			files = append(files, File{Path: p.video, Kind: KindVideo}, File{Path: p.audio, Kind: KindAudio})
			continue
		}

		log.Emit(logger.SUCCESS, "Merged split streams for %s into %s\n", stem, mergedPath)
		files = append(files, File{Path: mergedPath, Kind: KindVideo})
	}

	return files
}

// readSidecar leniently deserializes the first sidecar found, preferring
// .info.json files over other JSON the tools may have left behind (config
// files, archives). Malformed JSON degrades to an empty record rather
// than failing the pipeline.
func readSidecar(sidecars []string) map[string]any {
	metadata := map[string]any{}
	if len(sidecars) == 0 {
		return metadata
	}

	chosen := sidecars[0]
	for _, path := range sidecars {
		if strings.HasSuffix(path, ".info.json") {
			chosen = path
			break
		}
	}

	content, err := os.ReadFile(chosen)
	if err != nil {
		log.Emit(logger.WARNING, "Could not read metadata sidecar %s: %v\n", chosen, err)
		return metadata
	}

	if err := json.Unmarshal(content, &metadata); err != nil {
		log.Emit(logger.WARNING, "Malformed metadata sidecar %s: %v\n", chosen, err)
		return map[string]any{}
	}

	return metadata
}

func stemKey(pairs map[string]*pair, path string) *pair {
	key := filepath.Join(filepath.Dir(path), stemOf(path))
	if _, ok := pairs[key]; !ok {
		pairs[key] = &pair{}
	}

	return pairs[key]
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (k FileKind) String() string {
	switch k {
	case KindVideo:
		return "VIDEO"
	case KindAudio:
		return "AUDIO"
	case KindImage:
		return "IMAGE"
	default:
		return "DOCUMENT"
	}
}
