// Package raster defines the pixel, dimension and row-source types shared by
// the codec, the chroma-key compositor and the merge pipeline.
package raster

import (
	"fmt"
	"io"
)

// Pixel is one 8-bit RGB sample.
type Pixel struct {
	R uint8
	G uint8
	B uint8
}

// Dimensions is the width and height of a raster in pixels.
type Dimensions struct {
	Width  int
	Height int
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Pixels returns the number of pixels in a raster of these dimensions.
func (d Dimensions) Pixels() int {
	return d.Width * d.Height
}

// Source is a pull-based, single-pass sequence of rows in row-major order.
// Sources are not restartable.
type Source interface {
	// Dimensions returns the declared size of the raster.
	Dimensions() Dimensions

	// NextRow fills dst, which must hold exactly Width pixels, with the next
	// row. It returns io.EOF once every declared row has been produced.
	NextRow(dst []Pixel) error
}

// Memory is a Source over an in-memory pixel slice.
type Memory struct {
	dims   Dimensions
	pixels []Pixel
	row    int
}

// NewMemory wraps pixels, which must be laid out row-major. If pixels holds
// fewer rows than dims declares, the source ends early.
func NewMemory(dims Dimensions, pixels []Pixel) *Memory {
	return &Memory{dims: dims, pixels: pixels}
}

func (m *Memory) Dimensions() Dimensions {
	return m.dims
}

func (m *Memory) NextRow(dst []Pixel) error {
	if len(dst) != m.dims.Width {
		return fmt.Errorf("row buffer holds %d pixels, want %d", len(dst), m.dims.Width)
	}
	start := m.row * m.dims.Width
	if m.row >= m.dims.Height || start+m.dims.Width > len(m.pixels) {
		return io.EOF
	}
	copy(dst, m.pixels[start:start+m.dims.Width])
	m.row++
	return nil
}

// ReadAll drains src and returns its pixels in row-major order.
func ReadAll(src Source) ([]Pixel, error) {
	dims := src.Dimensions()
	out := make([]Pixel, 0, dims.Pixels())
	row := make([]Pixel, dims.Width)
	for {
		err := src.NextRow(row)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, row...)
	}
}
