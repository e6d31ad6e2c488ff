package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/dfryer1193/imagemerge/api"
	"github.com/dfryer1193/imagemerge/gallery/application"
	"github.com/dfryer1193/imagemerge/gallery/chromakey"
	"github.com/dfryer1193/imagemerge/gallery/domain"
	"github.com/dfryer1193/imagemerge/gallery/raster"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	uploadField = "image"
	jpegMIME    = "image/jpeg"

	// Room for multipart boundaries and part headers on top of the file itself.
	multipartOverhead = 1 << 20
)

// Merger produces merged image streams.
type Merger interface {
	Merge(ctx context.Context, req application.MergeRequest) (*application.MergeStream, error)
}

// MergeDefaults fill in merge query parameters the client leaves out.
type MergeDefaults struct {
	Color  raster.Pixel
	Metric chromakey.Metric
}

type ImageHandler struct {
	repo          domain.ImageRepository
	merger        Merger
	defaults      MergeDefaults
	maxUploadSize int64
}

func NewImageHandler(repo domain.ImageRepository, merger Merger, defaults MergeDefaults, maxUploadSize int64) *ImageHandler {
	return &ImageHandler{
		repo:          repo,
		merger:        merger,
		defaults:      defaults,
		maxUploadSize: maxUploadSize,
	}
}

func toImageInfo(rec domain.ImageRecord) api.ImageInfo {
	return api.ImageInfo{
		ID:         rec.ID,
		UploadedAt: strconv.FormatInt(rec.StoredAt.UnixMilli(), 10),
		Size:       rec.SizeBytes,
	}
}

func (h *ImageHandler) Upload(c *gin.Context) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)
	}

	header, err := c.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, fmt.Errorf("%w: upload exceeds %d bytes", domain.ErrInvalidParameter, h.maxUploadSize))
			return
		}
		respondError(c, fmt.Errorf("%w: multipart field %q is required: %v", domain.ErrInvalidParameter, uploadField, err))
		return
	}
	if h.maxUploadSize > 0 && header.Size > h.maxUploadSize {
		respondError(c, fmt.Errorf("%w: upload exceeds %d bytes", domain.ErrInvalidParameter, h.maxUploadSize))
		return
	}

	file, err := header.Open()
	if err != nil {
		respondError(c, fmt.Errorf("%w: failed to open upload: %v", domain.ErrInvalidParameter, err))
		return
	}
	defer file.Close()

	mtype, err := mimetype.DetectReader(file)
	if err != nil {
		respondError(c, fmt.Errorf("%w: failed to read upload: %v", domain.ErrInvalidParameter, err))
		return
	}
	if !mtype.Is(jpegMIME) {
		respondError(c, fmt.Errorf("%w: upload is %s, not a JPEG image", domain.ErrInvalidParameter, mtype.String()))
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		respondError(c, fmt.Errorf("failed to rewind upload: %w", err))
		return
	}

	rec, err := h.repo.Store(c.Request.Context(), file, mtype.Extension())
	if err != nil {
		respondError(c, err)
		return
	}

	log.Info().Str("id", rec.ID).Int64("size", rec.SizeBytes).Msg("Stored image")
	c.JSON(http.StatusOK, toImageInfo(*rec))
}

func (h *ImageHandler) List(c *gin.Context) {
	records, err := h.repo.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	images := make([]api.ImageInfo, 0, len(records))
	for _, rec := range records {
		images = append(images, toImageInfo(rec))
	}
	c.JSON(http.StatusOK, images)
}

func (h *ImageHandler) Fetch(c *gin.Context) {
	rc, rec, err := h.repo.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, rec.SizeBytes, jpegMIME, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, rec.ID),
	})
}

func (h *ImageHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	log.Info().Str("id", id).Msg("Deleted image")
	c.JSON(http.StatusOK, api.DeleteResponse{ID: id})
}
