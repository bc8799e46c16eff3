package reconcile_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/snagbot/snag/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockRemuxer struct{ mock.Mock }

func (m *mockRemuxer) Available() bool {
	return m.Called().Bool(0)
}

func (m *mockRemuxer) Merge(ctx context.Context, videoPath string, audioPath string, outputPath string) error {
	return m.Called(ctx, videoPath, audioPath, outputPath).Error(0)
}

func tempDirWithFiles(t *testing.T, names ...string) string {
	dir := t.TempDir()
	for _, name := range names {
		assert.Nil(t, os.WriteFile(filepath.Join(dir, name), []byte("content"), 0o644))
	}

	return dir
}

func Test_Collect_EmptyWorkspaceYieldsNoBundle(t *testing.T) {
	t.Parallel()

	reconciler := reconcile.New(&mockRemuxer{})
	bundle, err := reconciler.Collect(context.Background(), t.TempDir(), "yt-dlp")

	assert.Nil(t, err)
	assert.Nil(t, bundle)
}

// A metadata sidecar with no media alongside it is not a successful
// download.
func Test_Collect_SidecarAloneYieldsNoBundle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.Nil(t, os.WriteFile(filepath.Join(dir, "post.info.json"), []byte(`{"title": "t"}`), 0o644))

	reconciler := reconcile.New(&mockRemuxer{})
	bundle, err := reconciler.Collect(context.Background(), dir, "yt-dlp")

	assert.Nil(t, err)
	assert.Nil(t, bundle)
}

func Test_Collect_ImagesAndSidecar(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.Nil(t, os.WriteFile(filepath.Join(dir, "photo1.jpg"), []byte("img"), 0o644))
	assert.Nil(t, os.WriteFile(filepath.Join(dir, "photo2.png"), []byte("img"), 0o644))
	assert.Nil(t, os.WriteFile(filepath.Join(dir, "photo1.info.json"), []byte(`{"title": "beach"}`), 0o644))

	reconciler := reconcile.New(&mockRemuxer{})
	bundle, err := reconciler.Collect(context.Background(), dir, "gallery-dl")

	assert.Nil(t, err)
	assert.NotNil(t, bundle)
	assert.Len(t, bundle.Files, 2)
	for _, file := range bundle.Files {
		assert.Equal(t, reconcile.KindImage, file.Kind)
	}
	assert.Equal(t, "beach", bundle.Metadata["title"])
	assert.Equal(t, "gallery-dl", bundle.Source)
}

func Test_Collect_MergesSplitPair(t *testing.T) {
	t.Parallel()

	dir := tempDirWithFiles(t, "clip.mp4", "clip.m4a")
	expectedOutput := filepath.Join(dir, "clip_merged.mp4")

	remuxer := &mockRemuxer{}
	remuxer.On("Available").Return(true)
	remuxer.On("Merge", mock.Anything, filepath.Join(dir, "clip.mp4"), filepath.Join(dir, "clip.m4a"), expectedOutput).Return(nil)

	reconciler := reconcile.New(remuxer)
	bundle, err := reconciler.Collect(context.Background(), dir, "yt-dlp")

	assert.Nil(t, err)
	assert.NotNil(t, bundle)
	assert.Len(t, bundle.Files, 1)
	assert.Equal(t, expectedOutput, bundle.Files[0].Path)
	assert.Equal(t, reconcile.KindVideo, bundle.Files[0].Kind)
	remuxer.AssertExpectations(t)
}

// Streams are paired by filename stem, not discovery order, so unrelated
// pairs in one workspace never cross-merge.
func Test_Collect_PairsByStem(t *testing.T) {
	t.Parallel()

	dir := tempDirWithFiles(t, "first.mp4", "first.m4a", "second.mp4", "second.m4a")

	remuxer := &mockRemuxer{}
	remuxer.On("Available").Return(true)
	remuxer.On("Merge", mock.Anything, filepath.Join(dir, "first.mp4"), filepath.Join(dir, "first.m4a"), mock.Anything).Return(nil)
	remuxer.On("Merge", mock.Anything, filepath.Join(dir, "second.mp4"), filepath.Join(dir, "second.m4a"), mock.Anything).Return(nil)

	reconciler := reconcile.New(remuxer)
	bundle, err := reconciler.Collect(context.Background(), dir, "yt-dlp")

	assert.Nil(t, err)
	assert.Len(t, bundle.Files, 2)
	remuxer.AssertExpectations(t)
}

// A failed merge must keep both original streams rather than dropping
// data.
func Test_Collect_FailedMergeKeepsBothStreams(t *testing.T) {
	t.Parallel()

	dir := tempDirWithFiles(t, "clip.mp4", "clip.m4a")

	remuxer := &mockRemuxer{}
	remuxer.On("Available").Return(true)
	remuxer.On("Merge", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("remux tool exited nonzero"))

	reconciler := reconcile.New(remuxer)
	bundle, err := reconciler.Collect(context.Background(), dir, "yt-dlp")

	assert.Nil(t, err)
	assert.Len(t, bundle.Files, 2)

	kinds := map[reconcile.FileKind]int{}
	for _, file := range bundle.Files {
		kinds[file.Kind]++
	}
	assert.Equal(t, 1, kinds[reconcile.KindVideo])
	assert.Equal(t, 1, kinds[reconcile.KindAudio])
}

func Test_Collect_NoRemuxToolKeepsBothStreams(t *testing.T) {
	t.Parallel()

	dir := tempDirWithFiles(t, "clip.mp4", "clip.m4a")

	remuxer := &mockRemuxer{}
	remuxer.On("Available").Return(false)

	reconciler := reconcile.New(remuxer)
	bundle, err := reconciler.Collect(context.Background(), dir, "yt-dlp")

	assert.Nil(t, err)
	assert.Len(t, bundle.Files, 2)
}

func Test_Collect_UnpairedStreamsPassThrough(t *testing.T) {
	t.Parallel()

	dir := tempDirWithFiles(t, "video.mp4", "song.m4a")

	remuxer := &mockRemuxer{}
	remuxer.On("Available").Return(true)

	reconciler := reconcile.New(remuxer)
	bundle, err := reconciler.Collect(context.Background(), dir, "yt-dlp")

	assert.Nil(t, err)
	assert.Len(t, bundle.Files, 2)
	remuxer.AssertNotCalled(t, "Merge", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func Test_Collect_MalformedSidecarDegradesToEmptyMetadata(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.Nil(t, os.WriteFile(filepath.Join(dir, "photo.jpg"), []byte("img"), 0o644))
	assert.Nil(t, os.WriteFile(filepath.Join(dir, "photo.info.json"), []byte("{broken"), 0o644))

	reconciler := reconcile.New(&mockRemuxer{})
	bundle, err := reconciler.Collect(context.Background(), dir, "gallery-dl")

	assert.Nil(t, err)
	assert.NotNil(t, bundle)
	assert.NotNil(t, bundle.Metadata)
	assert.Empty(t, bundle.Metadata)
}
