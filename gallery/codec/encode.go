package codec

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/dfryer1193/imagemerge/gallery/domain"
	"github.com/dfryer1193/imagemerge/gallery/raster"
	"github.com/disintegration/imaging"
)

const (
	DefaultQuality = 90

	// bandHeight is the MCU height of 4:2:0 JPEG output; the encoder never
	// looks more than one band ahead.
	bandHeight = 16

	// maxSide is the largest width or height a baseline JPEG can describe.
	maxSide = 1<<16 - 1
)

type EncodeOptions struct {
	// Quality ranges from 1 to 100; zero selects DefaultQuality.
	Quality int
}

// Encode compresses src into w as a JPEG, pulling rows only as the encoder
// reaches them. Bytes are written to w band by band.
//
// If src fails or ends early, or ctx is cancelled, encoding stops at the next
// row access: no further rows are pulled, no further blocks are compressed and
// no further bytes reach w. Whatever was already written stays written, so a
// consumer that has started streaming sees a truncated image.
func Encode(ctx context.Context, w io.Writer, src raster.Source, opts EncodeOptions) error {
	dims := src.Dimensions()
	if dims.Width <= 0 || dims.Height <= 0 {
		return fmt.Errorf("%w: cannot encode empty raster %s", domain.ErrCodec, dims)
	}
	if dims.Width > maxSide || dims.Height > maxSide {
		return fmt.Errorf("%w: raster %s exceeds JPEG limits", domain.ErrCodec, dims)
	}

	quality := opts.Quality
	if quality == 0 {
		quality = DefaultQuality
	}
	if quality < 1 || quality > 100 {
		return fmt.Errorf("%w: jpeg quality %d out of range", domain.ErrInvalidParameter, quality)
	}

	img := newBandImage(ctx, src)
	if err := encodeBands(w, img, quality); err != nil {
		if img.err != nil {
			return img.err
		}
		return fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return nil
}

// abortEncode unwinds the JPEG encoder once the source has failed, so no
// further blocks are transformed.
type abortEncode struct{}

func encodeBands(w io.Writer, img *bandImage, quality int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(abortEncode); !ok {
				panic(r)
			}
			err = img.err
		}
	}()

	return imaging.Encode(&bandSink{w: w, img: img}, img, imaging.JPEG, imaging.JPEGQuality(quality))
}

// bandSink records a failed write on the image, so the encoder also stops
// when the consumer goes away.
type bandSink struct {
	w   io.Writer
	img *bandImage
}

func (s *bandSink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil && s.img.err == nil {
		s.img.err = fmt.Errorf("failed to write jpeg: %w", err)
	}
	return n, err
}

// bandImage presents a raster.Source as an image.Image whose rows are pulled
// on first access. Only the current band of rows is held.
type bandImage struct {
	ctx    context.Context
	src    raster.Source
	dims   raster.Dimensions
	band   [][]raster.Pixel
	start  int // first row of the current band
	loaded int // rows of the current band pulled so far
	err    error
}

func newBandImage(ctx context.Context, src raster.Source) *bandImage {
	dims := src.Dimensions()
	band := make([][]raster.Pixel, bandHeight)
	for i := range band {
		band[i] = make([]raster.Pixel, dims.Width)
	}
	return &bandImage{ctx: ctx, src: src, dims: dims, band: band}
}

func (b *bandImage) ColorModel() color.Model {
	return color.RGBAModel
}

func (b *bandImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.dims.Width, b.dims.Height)
}

// At panics with abortEncode once the source has failed or ctx is done.
func (b *bandImage) At(x, y int) color.Color {
	if !b.fill(y) {
		if b.err != nil {
			panic(abortEncode{})
		}
		return color.RGBA{A: 0xFF}
	}
	if x < 0 || x >= b.dims.Width {
		return color.RGBA{A: 0xFF}
	}
	p := b.band[y-b.start][x]
	return color.RGBA{R: p.R, G: p.G, B: p.B, A: 0xFF}
}

// fill pulls rows until y is resident. Rows are never skipped: moving to a
// later band drains whatever was left of the current one.
func (b *bandImage) fill(y int) bool {
	if b.err != nil || y < b.start || y >= b.dims.Height {
		return false
	}

	for b.start+b.loaded <= y {
		if b.loaded == bandHeight {
			b.start += bandHeight
			b.loaded = 0
			continue
		}

		if err := b.ctx.Err(); err != nil {
			b.err = err
			return false
		}

		row := b.start + b.loaded
		if err := b.src.NextRow(b.band[b.loaded]); err != nil {
			if err == io.EOF {
				b.err = fmt.Errorf("%w: source ended after %d of %d rows", domain.ErrCodec, row, b.dims.Height)
			} else {
				b.err = err
			}
			return false
		}
		b.loaded++
	}

	return true
}
