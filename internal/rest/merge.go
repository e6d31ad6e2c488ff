package rest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/dfryer1193/imagemerge/gallery/application"
	"github.com/dfryer1193/imagemerge/gallery/chromakey"
	"github.com/dfryer1193/imagemerge/gallery/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const streamChunkSize = 32 * 1024

func (h *ImageHandler) parseMergeRequest(c *gin.Context) (application.MergeRequest, error) {
	req := application.MergeRequest{
		FrontID: c.Query("front"),
		BackID:  c.Query("back"),
		Key: chromakey.Key{
			Target: h.defaults.Color,
			Metric: h.defaults.Metric,
		},
	}

	if s := c.Query("color"); s != "" {
		color, err := chromakey.ParseColor(s)
		if err != nil {
			return req, err
		}
		req.Key.Target = color
	}

	if s := c.Query("threshold"); s != "" {
		threshold, err := strconv.Atoi(s)
		if err != nil {
			return req, fmt.Errorf("%w: threshold %q is not an integer", domain.ErrInvalidParameter, s)
		}
		req.Key.Threshold = threshold
	}

	if s := c.Query("metric"); s != "" {
		metric, err := chromakey.ParseMetric(s)
		if err != nil {
			return req, err
		}
		req.Key.Metric = metric
	}

	return req, req.Key.Validate()
}

// Merge streams the composited JPEG. Failures before the first byte become
// an error status. After that the status line is gone, so a failure drops
// the connection and the client sees a truncated body.
func (h *ImageHandler) Merge(c *gin.Context) {
	req, err := h.parseMergeRequest(c)
	if err != nil {
		respondError(c, err)
		return
	}

	stream, err := h.merger.Merge(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", jpegMIME)
	c.Status(http.StatusOK)

	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			if _, err := c.Writer.Write(buf[:n]); err != nil {
				log.Debug().Err(err).Str("front", req.FrontID).Str("back", req.BackID).Msg("Client went away during merge")
				return
			}
			c.Writer.Flush()
		}

		if errors.Is(readErr, io.EOF) {
			return
		}
		if readErr != nil {
			if !c.Writer.Written() {
				c.Writer.Header().Del("Content-Type")
				respondError(c, readErr)
				return
			}
			log.Warn().Err(readErr).
				Str("front", req.FrontID).
				Str("back", req.BackID).
				Int("bytes", c.Writer.Size()).
				Msg("Merge failed after streaming began, aborting connection")
			panic(http.ErrAbortHandler)
		}
	}
}
