package chromakey

import (
	"fmt"
	"io"

	"github.com/dfryer1193/imagemerge/gallery/domain"
	"github.com/dfryer1193/imagemerge/gallery/raster"
)

var _ raster.Source = (*Compositor)(nil)

// Compositor is a raster.Source producing the keyed merge of two sources.
// Each output row consumes exactly one row from front and one from back.
type Compositor struct {
	front   raster.Source
	back    raster.Source
	dims    raster.Dimensions
	match   func(raster.Pixel) bool
	backRow []raster.Pixel
	row     int
}

// New pairs front and back under key. Sources of different declared
// dimensions are rejected before any row is read.
func New(front, back raster.Source, key Key) (*Compositor, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	fd, bd := front.Dimensions(), back.Dimensions()
	if fd != bd {
		return nil, &domain.DimensionMismatchError{Front: fd, Back: bd}
	}

	return &Compositor{
		front:   front,
		back:    back,
		dims:    fd,
		match:   key.matcher(),
		backRow: make([]raster.Pixel, fd.Width),
	}, nil
}

func (c *Compositor) Dimensions() raster.Dimensions {
	return c.dims
}

func (c *Compositor) NextRow(dst []raster.Pixel) error {
	if c.row >= c.dims.Height {
		return io.EOF
	}
	if len(dst) != c.dims.Width {
		return fmt.Errorf("row buffer holds %d pixels, want %d", len(dst), c.dims.Width)
	}

	if err := c.front.NextRow(dst); err != nil {
		return c.sourceError(domain.Front, err)
	}
	if err := c.back.NextRow(c.backRow); err != nil {
		return c.sourceError(domain.Back, err)
	}

	for i, f := range dst {
		if c.match(f) {
			dst[i] = c.backRow[i]
		}
	}

	c.row++
	return nil
}

func (c *Compositor) sourceError(side domain.Side, err error) error {
	if err == io.EOF {
		return fmt.Errorf("%w: %s image ended after %d of %d rows", domain.ErrCodec, side, c.row, c.dims.Height)
	}
	return fmt.Errorf("%s image row %d: %w", side, c.row, err)
}
