package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFrames(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := imaging.New(64, 48, color.NRGBA{R: uint8(i * 40), A: 255})
		require.NoError(t, imaging.Save(img, filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i))))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	return dir
}

func TestDirSourceReplaysInOrderThenEnds(t *testing.T) {
	dir := writeFrames(t, 3)
	src, err := NewDirSource(dir, 0, false)
	require.NoError(t, err)
	defer src.Close()

	for i := 0; i < 3; i++ {
		frame, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(i), frame.FrameNum)
		assert.Equal(t, 64, frame.Width())

		r, _, _, _ := frame.Image.At(0, 0).RGBA()
		assert.Equal(t, uint32(i*40)*0x101, r)
	}

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestDirSourceLoops(t *testing.T) {
	src, err := NewDirSource(writeFrames(t, 2), 0, true)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		frame, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(i), frame.FrameNum)
	}
}

func TestDirSourcePacingHonorsContext(t *testing.T) {
	src, err := NewDirSource(writeFrames(t, 2), 1, false)
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDirSourceRejectsEmptyDirectory(t *testing.T) {
	_, err := NewDirSource(t.TempDir(), 0, false)
	assert.Error(t, err)
}

func TestDirSourceClosed(t *testing.T) {
	src, err := NewDirSource(writeFrames(t, 1), 0, false)
	require.NoError(t, err)
	require.NoError(t, src.Close())
	_, err = src.Next(context.Background())
	assert.Error(t, err)
}

func TestPreprocessorCropsDetectionBand(t *testing.T) {
	p, err := NewPreprocessor(0, image.Rect(140, 0, 500, 479))
	require.NoError(t, err)

	out := p.Apply(image.NewRGBA(image.Rect(0, 0, 640, 480)))
	assert.Equal(t, image.Rect(140, 0, 500, 479), out.Offset)
	assert.Equal(t, image.Pt(360, 479), out.Region.Bounds().Size())
	assert.Equal(t, image.Pt(640, 480), out.Full.Bounds().Size())
}

func TestPreprocessorRotate180(t *testing.T) {
	src := imaging.New(4, 2, color.NRGBA{A: 255})
	src.Set(0, 0, color.NRGBA{R: 255, A: 255})

	p, err := NewPreprocessor(180, image.Rectangle{})
	require.NoError(t, err)
	out := p.Apply(src)

	r, _, _, _ := out.Full.At(3, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, out.Full, out.Region)
}

func TestPreprocessorRotate90SwapsDimensions(t *testing.T) {
	p, err := NewPreprocessor(90, image.Rectangle{})
	require.NoError(t, err)
	out := p.Apply(imaging.New(640, 480, color.NRGBA{}))
	assert.Equal(t, image.Pt(480, 640), out.Full.Bounds().Size())
}

func TestPreprocessorClipsCropToFrame(t *testing.T) {
	p, err := NewPreprocessor(0, image.Rect(600, 400, 800, 600))
	require.NoError(t, err)
	out := p.Apply(image.NewRGBA(image.Rect(0, 0, 640, 480)))
	assert.Equal(t, image.Rect(600, 400, 640, 480), out.Offset)
	assert.Equal(t, image.Pt(40, 80), out.Region.Bounds().Size())
}

func TestNewPreprocessorRejectsOddRotation(t *testing.T) {
	_, err := NewPreprocessor(45, image.Rectangle{})
	assert.Error(t, err)
}
