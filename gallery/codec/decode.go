// Package codec adapts JPEG byte streams to and from raster.Source row
// iterators.
//
// Encoding is incremental: the encoder pulls rows one 16-row MCU band at a
// time and emits compressed bytes as each band completes, so a consumer can
// start transmitting before the source is exhausted.
//
// Decoding is frame-based. The standard JPEG decoder, which imaging wraps,
// materialises the whole frame (progressive JPEGs need every scan before any
// row is final), so a Decoded holds one decoded frame and hands it out row by
// row. Truncated or malformed streams fail in Decode, before any row is
// produced.
package codec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/dfryer1193/imagemerge/gallery/domain"
	"github.com/dfryer1193/imagemerge/gallery/raster"
	"github.com/disintegration/imaging"
)

// jpegMagic is the SOI marker followed by the first byte of the next marker.
var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

type DecodeOptions struct {
	// AutoOrient applies the EXIF orientation tag so both merge inputs are
	// compared the way a viewer would display them.
	AutoOrient bool
}

// Decoded is a raster.Source over a decoded JPEG frame.
type Decoded struct {
	img  image.Image
	dims raster.Dimensions
	row  int
}

// Decode reads a JPEG stream. Anything that is not a complete, well-formed
// JPEG is reported as domain.ErrCodec.
func Decode(ctx context.Context, r io.Reader, opts DecodeOptions) (*Decoded, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	br := bufio.NewReader(r)
	head, err := br.Peek(len(jpegMagic))
	if err != nil || !bytes.Equal(head, jpegMagic) {
		return nil, fmt.Errorf("%w: not a JPEG stream", domain.ErrCodec)
	}

	img, err := imaging.Decode(br, imaging.AutoOrientation(opts.AutoOrient))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCodec, err)
	}

	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty image", domain.ErrCodec)
	}

	return &Decoded{
		img:  img,
		dims: raster.Dimensions{Width: b.Dx(), Height: b.Dy()},
	}, nil
}

func (d *Decoded) Dimensions() raster.Dimensions {
	return d.dims
}

func (d *Decoded) NextRow(dst []raster.Pixel) error {
	if len(dst) != d.dims.Width {
		return fmt.Errorf("row buffer holds %d pixels, want %d", len(dst), d.dims.Width)
	}
	if d.row >= d.dims.Height {
		return io.EOF
	}

	b := d.img.Bounds()
	y := b.Min.Y + d.row
	switch m := d.img.(type) {
	case *image.YCbCr:
		for i := range dst {
			x := b.Min.X + i
			yi, ci := m.YOffset(x, y), m.COffset(x, y)
			r, g, bl := color.YCbCrToRGB(m.Y[yi], m.Cb[ci], m.Cr[ci])
			dst[i] = raster.Pixel{R: r, G: g, B: bl}
		}
	case *image.Gray:
		for i := range dst {
			v := m.Pix[m.PixOffset(b.Min.X+i, y)]
			dst[i] = raster.Pixel{R: v, G: v, B: v}
		}
	case *image.NRGBA:
		for i := range dst {
			o := m.PixOffset(b.Min.X+i, y)
			dst[i] = raster.Pixel{R: m.Pix[o], G: m.Pix[o+1], B: m.Pix[o+2]}
		}
	case *image.CMYK:
		for i := range dst {
			o := m.PixOffset(b.Min.X+i, y)
			r, g, bl := color.CMYKToRGB(m.Pix[o], m.Pix[o+1], m.Pix[o+2], m.Pix[o+3])
			dst[i] = raster.Pixel{R: r, G: g, B: bl}
		}
	default:
		for i := range dst {
			r, g, bl, _ := m.At(b.Min.X+i, y).RGBA()
			dst[i] = raster.Pixel{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bl >> 8)}
		}
	}

	d.row++
	return nil
}
