// Package chromakey replaces "background" pixels of a front raster with the
// pixels of a back raster at the same position.
//
// A front pixel is background when its distance to the key's target colour is
// at most the key's threshold. The default metric is Euclidean distance over
// the 8-bit R, G and B differences:
//
//	d = sqrt((fr-tr)² + (fg-tg)² + (fb-tb)²)
//
// evaluated exactly as d² <= threshold², so the boundary is inclusive and a
// threshold of 0 matches the target colour only. The lab and ciede2000 metrics
// measure perceptual ΔE (CIE76 and CIEDE2000) on the usual 0–100 scale.
package chromakey

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dfryer1193/imagemerge/gallery/domain"
	"github.com/dfryer1193/imagemerge/gallery/raster"
	"github.com/lucasb-eyer/go-colorful"
)

type Metric string

// maxRGBDistance exceeds the largest possible RGB distance, sqrt(3·255²) ≈ 441.7.
const maxRGBDistance = 442

const (
	MetricRGB       Metric = "rgb"
	MetricLab       Metric = "lab"
	MetricCIEDE2000 Metric = "ciede2000"
)

// ParseMetric accepts a metric name; the empty string selects MetricRGB.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MetricRGB, nil
	case MetricRGB, MetricLab, MetricCIEDE2000:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown metric %q", domain.ErrInvalidParameter, s)
	}
}

// Key is the background predicate: a target colour, an inclusive distance
// bound and the metric the distance is measured in.
type Key struct {
	Target    raster.Pixel
	Threshold int
	Metric    Metric
}

func (k Key) Validate() error {
	if k.Threshold < 0 {
		return fmt.Errorf("%w: threshold must be non-negative, got %d", domain.ErrInvalidParameter, k.Threshold)
	}
	if _, err := ParseMetric(string(k.Metric)); err != nil {
		return err
	}
	return nil
}

// Matches reports whether p counts as background.
func (k Key) Matches(p raster.Pixel) bool {
	return k.matcher()(p)
}

func (k Key) matcher() func(raster.Pixel) bool {
	switch k.Metric {
	case MetricLab:
		target := toColorful(k.Target)
		limit := float64(k.Threshold)
		return func(p raster.Pixel) bool {
			return toColorful(p).DistanceLab(target)*100 <= limit
		}
	case MetricCIEDE2000:
		target := toColorful(k.Target)
		limit := float64(k.Threshold)
		return func(p raster.Pixel) bool {
			return toColorful(p).DistanceCIEDE2000(target)*100 <= limit
		}
	default:
		// Squaring a larger threshold could overflow, and every pixel is in
		// range anyway.
		if k.Threshold >= maxRGBDistance {
			return func(raster.Pixel) bool { return true }
		}
		limit := k.Threshold * k.Threshold
		target := k.Target
		return func(p raster.Pixel) bool {
			return squaredRGBDistance(p, target) <= limit
		}
	}
}

func squaredRGBDistance(a, b raster.Pixel) int {
	dr := int(a.R) - int(b.R)
	dg := int(a.G) - int(b.G)
	db := int(a.B) - int(b.B)
	return dr*dr + dg*dg + db*db
}

func toColorful(p raster.Pixel) colorful.Color {
	return colorful.Color{R: float64(p.R) / 255, G: float64(p.G) / 255, B: float64(p.B) / 255}
}

// ParseColor accepts "r,g,b" with each channel an integer in 0–255, or a hex
// colour such as "#c83234".
func ParseColor(s string) (raster.Pixel, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		c, err := colorful.Hex(s)
		if err != nil {
			return raster.Pixel{}, fmt.Errorf("%w: colour %q: %v", domain.ErrInvalidParameter, s, err)
		}
		r, g, b := c.RGB255()
		return raster.Pixel{R: r, G: g, B: b}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return raster.Pixel{}, fmt.Errorf("%w: colour %q must have three comma-separated channels", domain.ErrInvalidParameter, s)
	}

	var ch [3]uint8
	for i, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil {
			return raster.Pixel{}, fmt.Errorf("%w: colour channel %q must be an integer between 0 and 255", domain.ErrInvalidParameter, part)
		}
		ch[i] = uint8(v)
	}
	return raster.Pixel{R: ch[0], G: ch[1], B: ch[2]}, nil
}
