package codec

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/dfryer1193/imagemerge/gallery/domain"
	"github.com/dfryer1193/imagemerge/gallery/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidJPEG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	return buf.Bytes()
}

func noisePixels(w, h int) []raster.Pixel {
	rng := rand.New(rand.NewPCG(1, 2))
	px := make([]raster.Pixel, w*h)
	for i := range px {
		px[i] = raster.Pixel{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256))}
	}
	return px
}

func noiseJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	dims := raster.Dimensions{Width: w, Height: h}
	var buf bytes.Buffer
	require.NoError(t, Encode(context.Background(), &buf, raster.NewMemory(dims, noisePixels(w, h)), EncodeOptions{Quality: 90}))
	return buf.Bytes()
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestDecode_SolidColour(t *testing.T) {
	data := solidJPEG(t, 24, 10, color.RGBA{R: 10, G: 200, B: 30, A: 255})

	dec, err := Decode(context.Background(), bytes.NewReader(data), DecodeOptions{AutoOrient: true})
	require.NoError(t, err)
	assert.Equal(t, raster.Dimensions{Width: 24, Height: 10}, dec.Dimensions())

	px, err := raster.ReadAll(dec)
	require.NoError(t, err)
	require.Len(t, px, 240)
	for _, p := range px {
		assert.LessOrEqual(t, absDiff(p.R, 10), 4)
		assert.LessOrEqual(t, absDiff(p.G, 200), 4)
		assert.LessOrEqual(t, absDiff(p.B, 30), 4)
	}

	assert.Equal(t, io.EOF, dec.NextRow(make([]raster.Pixel, 24)))
}

func TestDecode_RejectsNonJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))

	_, err := Decode(context.Background(), &buf, DecodeOptions{})
	assert.ErrorIs(t, err, domain.ErrCodec)

	_, err = Decode(context.Background(), bytes.NewReader(nil), DecodeOptions{})
	assert.ErrorIs(t, err, domain.ErrCodec)
}

func TestDecode_Truncated(t *testing.T) {
	data := noiseJPEG(t, 64, 64)

	_, err := Decode(context.Background(), bytes.NewReader(data[:len(data)/2]), DecodeOptions{})
	assert.ErrorIs(t, err, domain.ErrCodec)
}

func TestDecode_WrongRowBuffer(t *testing.T) {
	dec, err := Decode(context.Background(), bytes.NewReader(solidJPEG(t, 8, 8, color.RGBA{A: 255})), DecodeOptions{})
	require.NoError(t, err)

	assert.Error(t, dec.NextRow(make([]raster.Pixel, 3)))
}

func TestEncode_RoundTrip(t *testing.T) {
	dims := raster.Dimensions{Width: 37, Height: 21}
	px := make([]raster.Pixel, dims.Pixels())
	for i := range px {
		px[i] = raster.Pixel{R: 120, G: 60, B: 220}
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(context.Background(), &buf, raster.NewMemory(dims, px), EncodeOptions{Quality: 100}))

	dec, err := Decode(context.Background(), &buf, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, dims, dec.Dimensions())

	got, err := raster.ReadAll(dec)
	require.NoError(t, err)
	for _, p := range got {
		assert.LessOrEqual(t, absDiff(p.R, 120), 4)
		assert.LessOrEqual(t, absDiff(p.G, 60), 4)
		assert.LessOrEqual(t, absDiff(p.B, 220), 4)
	}
}

// countingSource records how many rows have been pulled.
type countingSource struct {
	raster.Source
	rows int
}

func (c *countingSource) NextRow(dst []raster.Pixel) error {
	err := c.Source.NextRow(dst)
	if err == nil {
		c.rows++
	}
	return err
}

// firstWriteRecorder notes the source position when output first arrives.
type firstWriteRecorder struct {
	src           *countingSource
	rowsAtFirst   int
	wrote         bool
	bytesReceived int
}

func (f *firstWriteRecorder) Write(p []byte) (int, error) {
	if !f.wrote {
		f.wrote = true
		f.rowsAtFirst = f.src.rows
	}
	f.bytesReceived += len(p)
	return len(p), nil
}

func TestEncode_EmitsBeforeSourceIsDrained(t *testing.T) {
	dims := raster.Dimensions{Width: 256, Height: 512}
	src := &countingSource{Source: raster.NewMemory(dims, noisePixels(dims.Width, dims.Height))}
	out := &firstWriteRecorder{src: src}

	require.NoError(t, Encode(context.Background(), out, src, EncodeOptions{Quality: 100}))

	assert.True(t, out.wrote)
	assert.Less(t, out.rowsAtFirst, dims.Height/4, "encoder should emit bytes while most rows are still unread")
	assert.Equal(t, dims.Height, src.rows)
}

func TestEncode_SourceEndsEarly(t *testing.T) {
	dims := raster.Dimensions{Width: 16, Height: 40}
	short := raster.NewMemory(dims, make([]raster.Pixel, 16*25))

	err := Encode(context.Background(), io.Discard, short, EncodeOptions{})
	assert.ErrorIs(t, err, domain.ErrCodec)
}

func TestEncode_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dims := raster.Dimensions{Width: 8, Height: 8}
	src := &countingSource{Source: raster.NewMemory(dims, make([]raster.Pixel, 64))}

	err := Encode(ctx, io.Discard, src, EncodeOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.rows)
}

// greySource produces mid-grey rows and cancels after a fixed number of them.
type greySource struct {
	dims     raster.Dimensions
	cancel   context.CancelFunc
	cancelAt int
	rows     int
}

func (g *greySource) Dimensions() raster.Dimensions { return g.dims }

func (g *greySource) NextRow(dst []raster.Pixel) error {
	for i := range dst {
		dst[i] = raster.Pixel{R: 128, G: 128, B: 128}
	}
	g.rows++
	if g.rows == g.cancelAt {
		g.cancel()
	}
	return nil
}

func TestEncode_CancelStopsCompression(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Compressing the whole frame takes seconds; stopping at the
	// second band takes milliseconds.
	src := &greySource{
		dims:     raster.Dimensions{Width: 16384, Height: 16384},
		cancel:   cancel,
		cancelAt: bandHeight,
	}

	start := time.Now()
	err := Encode(ctx, io.Discard, src, EncodeOptions{})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, bandHeight, src.rows)
	assert.Less(t, elapsed, 2*time.Second)
}

type closedPipe struct{}

func (closedPipe) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestEncode_WriteFailureStopsCompression(t *testing.T) {
	src := &greySource{
		dims:   raster.Dimensions{Width: 16384, Height: 16384},
		cancel: func() {},
	}

	start := time.Now()
	err := Encode(context.Background(), closedPipe{}, src, EncodeOptions{})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Less(t, src.rows, 16384)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestEncode_PanicsFromOtherSourcesPropagate(t *testing.T) {
	dims := raster.Dimensions{Width: 4, Height: 4}
	assert.PanicsWithValue(t, "boom", func() {
		_ = Encode(context.Background(), io.Discard, panickingSource{dims: dims}, EncodeOptions{})
	})
}

type panickingSource struct{ dims raster.Dimensions }

func (p panickingSource) Dimensions() raster.Dimensions { return p.dims }

func (p panickingSource) NextRow([]raster.Pixel) error { panic("boom") }

func TestEncode_InvalidInput(t *testing.T) {
	empty := raster.NewMemory(raster.Dimensions{}, nil)
	assert.ErrorIs(t, Encode(context.Background(), io.Discard, empty, EncodeOptions{}), domain.ErrCodec)

	dims := raster.Dimensions{Width: 2, Height: 2}
	src := raster.NewMemory(dims, make([]raster.Pixel, 4))
	assert.ErrorIs(t, Encode(context.Background(), io.Discard, src, EncodeOptions{Quality: 101}), domain.ErrInvalidParameter)
}
