package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dfryer1193/imagemerge/gallery/application"
	"github.com/dfryer1193/imagemerge/gallery/codec"
	"github.com/dfryer1193/imagemerge/gallery/persistence"
	"github.com/dfryer1193/imagemerge/internal/config"
	"github.com/dfryer1193/imagemerge/internal/middleware"
	"github.com/dfryer1193/imagemerge/internal/rest"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const readHeaderTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP image service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type service struct {
	server *http.Server
	merges *application.MergeService
}

func mergeOptions(cfg *config.Config) application.MergeOptions {
	return application.MergeOptions{
		Decode: codec.DecodeOptions{AutoOrient: cfg.Merge.AutoOrientEnabled()},
		Encode: codec.EncodeOptions{Quality: cfg.Merge.Quality},
	}
}

func newService(cfg *config.Config) (*service, error) {
	repo, err := persistence.NewImageRepository(cfg.Storage.Dir, cfg.Storage.MaxUploadSizeBytes())
	if err != nil {
		return nil, fmt.Errorf("failed to open image store: %w", err)
	}

	merges := application.NewMergeService(repo, mergeOptions(cfg), cfg.Merge.MaxConcurrent)

	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.LoggingMiddleware())
	router.Use(gin.CustomRecoveryWithWriter(io.Discard, middleware.HandlePanics()))

	images := rest.NewImageHandler(repo, merges, rest.MergeDefaults{
		Color:  cfg.Merge.DefaultColorPixel(),
		Metric: cfg.Merge.DefaultMetricValue(),
	}, cfg.Storage.MaxUploadSizeBytes())
	rest.NewApi(router, images)

	return &service{
		server: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		merges: merges,
	}, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.merges.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to gracefully close merge service")
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", svc.server.Addr).
			Str("images", cfg.Storage.Dir).
			Msg("Starting server")
		if err := svc.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
	defer cancel()

	if err := svc.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}
