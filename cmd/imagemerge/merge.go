package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dfryer1193/imagemerge/gallery/application"
	"github.com/dfryer1193/imagemerge/gallery/chromakey"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	mergeFront     string
	mergeBack      string
	mergeOut       string
	mergeColor     string
	mergeThreshold int
	mergeMetric    string
	mergeQuality   int
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Composite two local JPEG files",
	Long: `Replace every pixel of the front image that lies within --threshold of
--color with the pixel at the same position in the back image. Both images
must have the same dimensions. Use --out - to write to stdout.`,
	Args: cobra.NoArgs,
	RunE: runMerge,
}

func init() {
	flags := mergeCmd.Flags()
	flags.StringVar(&mergeFront, "front", "", "front image path")
	flags.StringVar(&mergeBack, "back", "", "back image path")
	flags.StringVarP(&mergeOut, "out", "o", "", "output path, or - for stdout")
	flags.StringVar(&mergeColor, "color", "", "key colour as r,g,b or #rrggbb (default from config)")
	flags.IntVar(&mergeThreshold, "threshold", 0, "maximum colour distance that counts as background")
	flags.StringVar(&mergeMetric, "metric", "", "distance metric: rgb, lab or ciede2000 (default from config)")
	flags.IntVar(&mergeQuality, "quality", 0, "JPEG quality 1-100 (default from config)")
	_ = mergeCmd.MarkFlagRequired("front")
	_ = mergeCmd.MarkFlagRequired("back")
	_ = mergeCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	key := chromakey.Key{
		Target:    cfg.Merge.DefaultColorPixel(),
		Threshold: mergeThreshold,
		Metric:    cfg.Merge.DefaultMetricValue(),
	}
	if mergeColor != "" {
		if key.Target, err = chromakey.ParseColor(mergeColor); err != nil {
			return err
		}
	}
	if mergeMetric != "" {
		if key.Metric, err = chromakey.ParseMetric(mergeMetric); err != nil {
			return err
		}
	}

	opts := mergeOptions(cfg)
	if mergeQuality != 0 {
		opts.Encode.Quality = mergeQuality
	}

	front, err := os.Open(mergeFront)
	if err != nil {
		return fmt.Errorf("failed to open front image: %w", err)
	}
	defer front.Close()

	back, err := os.Open(mergeBack)
	if err != nil {
		return fmt.Errorf("failed to open back image: %w", err)
	}
	defer back.Close()

	if mergeOut == "-" {
		return application.Composite(cmd.Context(), cmd.OutOrStdout(), front, back, key, opts)
	}

	if err := writeFile(mergeOut, func(w io.Writer) error {
		return application.Composite(cmd.Context(), w, front, back, key, opts)
	}); err != nil {
		return err
	}

	log.Info().Str("out", mergeOut).Msg("Wrote merged image")
	return nil
}

// writeFile writes through a temp file in the destination directory and
// renames it into place, so a failed merge leaves no partial output.
func writeFile(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".imagemerge-*")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}
