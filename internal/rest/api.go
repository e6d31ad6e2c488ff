package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func NewApi(router *gin.Engine, images *ImageHandler) {
	router.POST("/upload", images.Upload)
	router.GET("/list", images.List)
	router.GET("/image/:id", images.Fetch)
	router.DELETE("/delete/:id", images.Delete)
	router.GET("/merge", images.Merge)

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
}
