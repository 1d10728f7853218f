package evidence

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newFSService(t *testing.T, opts Options) (*Service, *FSStore) {
	t.Helper()
	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return NewService(fs, opts), fs
}

func TestPut_ImageIsReencodedAsJPEG(t *testing.T) {
	svc, fs := newFSService(t, Options{})

	ref, err := svc.Put(context.Background(), KindOriginalImage, "image/png", bytes.NewReader(pngBytes(t, 40, 30)))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(ref), "file://original_image/"))
	require.True(t, strings.HasSuffix(string(ref), ".jpg"))

	p, ok := fs.Path(ref)
	require.True(t, ok)
	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()

	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	require.Equal(t, 40, img.Bounds().Dx())
}

func TestPut_LargeImageIsBounded(t *testing.T) {
	svc, fs := newFSService(t, Options{MaxDimension: 16})

	ref, err := svc.Put(context.Background(), KindCompletionImage, "image/png", bytes.NewReader(pngBytes(t, 64, 32)))
	require.NoError(t, err)

	p, _ := fs.Path(ref)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Width)
	require.Equal(t, 8, cfg.Height)
}

func TestPut_AudioPassesThrough(t *testing.T) {
	svc, fs := newFSService(t, Options{})
	payload := []byte("not really opus but opaque to us")

	ref, err := svc.Put(context.Background(), KindAudio, "audio/webm;codecs=opus", bytes.NewReader(payload))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(ref), ".webm"))

	p, _ := fs.Path(ref)
	stored, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, payload, stored)
}

func TestPut_Rejects(t *testing.T) {
	svc, _ := newFSService(t, Options{MaxBytes: 8})
	ctx := context.Background()

	_, err := svc.Put(ctx, Kind("video"), "video/mp4", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrInvalidKind)

	_, err = svc.Put(ctx, KindAudio, "audio/ogg", strings.NewReader("123456789"))
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = svc.Put(ctx, KindAudio, "audio/ogg", strings.NewReader(""))
	require.ErrorIs(t, err, ErrEmpty)

	_, err = svc.Put(ctx, KindOriginalImage, "text/plain", strings.NewReader("hello"))
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = svc.Put(ctx, KindOriginalImage, "image/png", strings.NewReader("garbage"))
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestFSStore_PathRejectsForeignRefs(t *testing.T) {
	_, fs := newFSService(t, Options{})
	_, ok := fs.Path(Ref("gs://bucket/key"))
	require.False(t, ok)
}
