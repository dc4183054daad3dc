package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/timestamp-worker/shared/blobstore"
	"github.com/gin-gonic/gin"
)

// ServeBlob handles GET /blobs/:container/*name
// Only containers with public access are readable; private ones look missing.
func (h *BlobHandler) ServeBlob(c *gin.Context) {
	container := c.Param("container")
	name := strings.TrimPrefix(c.Param("name"), "/")
	if name == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Blob not found"})
		return
	}

	ctx := c.Request.Context()

	info, err := h.blobs.Container(ctx, container)
	if err != nil {
		h.respondBlobError(c, container, name, err)
		return
	}
	if !info.Public {
		c.JSON(http.StatusNotFound, gin.H{"error": "Blob not found"})
		return
	}

	reader, err := h.blobs.OpenReader(ctx, container, name)
	if err != nil {
		h.respondBlobError(c, container, name, err)
		return
	}
	defer reader.Close()

	props := reader.Properties()
	if props.ContentType != "" {
		c.Header("Content-Type", props.ContentType)
	}
	http.ServeContent(c.Writer, c.Request, name, props.UpdatedAt, reader)
}

func (h *BlobHandler) respondBlobError(c *gin.Context, container, name string, err error) {
	if errors.Is(err, blobstore.ErrContainerNotFound) || errors.Is(err, blobstore.ErrBlobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Blob not found"})
		return
	}

	h.logger.Error("Failed to read blob",
		slog.String("container", container),
		slog.String("name", name),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read blob"})
}
