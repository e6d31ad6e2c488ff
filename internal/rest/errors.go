package rest

import (
	"errors"
	"net/http"

	"github.com/dfryer1193/imagemerge/api"
	"github.com/dfryer1193/imagemerge/gallery/application"
	"github.com/dfryer1193/imagemerge/gallery/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, application.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidParameter),
		errors.Is(err, domain.ErrDimensionMismatch),
		errors.Is(err, domain.ErrCodec):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the JSON error body. Internal failures are logged and
// their details kept out of the response.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, api.ErrorResponse{Error: msg})
}
