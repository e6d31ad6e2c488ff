package domain

import (
	"errors"
	"fmt"

	"github.com/dfryer1193/imagemerge/gallery/raster"
)

var (
	// ErrNotFound indicates the referenced image id does not exist
	ErrNotFound = errors.New("image not found")

	// ErrCodec indicates malformed, truncated or unsupported image data
	ErrCodec = errors.New("invalid image data")

	// ErrDimensionMismatch indicates the front and back rasters differ in size
	ErrDimensionMismatch = errors.New("image dimensions do not match")

	// ErrInvalidParameter indicates a malformed colour, threshold or upload
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrStorage indicates an I/O failure unrelated to the above
	ErrStorage = errors.New("storage failure")
)

// Side names one of the two merge inputs.
type Side string

const (
	Front Side = "front"
	Back  Side = "back"
)

// MissingImageError reports which merge input could not be resolved.
type MissingImageError struct {
	Side Side
	ID   string
}

func (e *MissingImageError) Error() string {
	return fmt.Sprintf("%s image not found: %s", e.Side, e.ID)
}

func (e *MissingImageError) Is(target error) bool {
	return target == ErrNotFound
}

// DimensionMismatchError carries the sizes of both merge inputs.
type DimensionMismatchError struct {
	Front raster.Dimensions
	Back  raster.Dimensions
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("front image is %s but back image is %s", e.Front, e.Back)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}
