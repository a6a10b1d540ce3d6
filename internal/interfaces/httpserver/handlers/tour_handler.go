package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"h3-server/services/tour-api/internal/domain/tour"
	"h3-server/services/tour-api/internal/infrastructure/storage"
	"h3-server/services/tour-api/internal/processor"
)

// TourHandler exposes the published content registry, its lifecycle
// operations and the public slug resolver.
type TourHandler struct {
	tours *tour.Service
	log   zerolog.Logger
}

func NewTourHandler(tours *tour.Service, log zerolog.Logger) *TourHandler {
	return &TourHandler{
		tours: tours,
		log:   log.With().Str("component", "tour-handler").Logger(),
	}
}

type changeSlugRequest struct {
	NewSlug string `json:"new_slug" binding:"required"`
}

// List returns every registry row.
func (h *TourHandler) List(c *gin.Context) {
	tours, err := h.tours.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tours": tours})
}

// Get returns one tour by content id.
func (h *TourHandler) Get(c *gin.Context) {
	t, err := h.tours.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, tour.ErrTourNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

// ChangeSlug rewrites the routing alias, leaving content id and storage
// prefix untouched.
func (h *TourHandler) ChangeSlug(c *gin.Context) {
	var req changeSlugRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.tours.ChangeSlug(c.Request.Context(), c.Param("id"), req.NewSlug)
	if err != nil {
		switch {
		case errors.Is(err, tour.ErrTourNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, tour.ErrSlugTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, tour.ErrInvalidSlug):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, t)
}

// Archive soft-deletes a tour into the archive prefix.
func (h *TourHandler) Archive(c *gin.Context) {
	t, err := h.tours.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, tour.ErrTourNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Str("content_id", c.Param("id")).Msg("archive failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

// Resolve serves published tour files by slug: chase redirect mappings with
// a 301, then proxy the object bytes from the storage prefix.
func (h *TourHandler) Resolve(c *gin.Context) {
	slug := c.Param("slug")
	filePath := c.Param("filepath")

	t, redirected, err := h.tours.Resolve(c.Request.Context(), slug)
	if err != nil {
		if errors.Is(err, tour.ErrTourNotFound) || errors.Is(err, tour.ErrTourArchived) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tour not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if redirected != "" {
		c.Redirect(http.StatusMovedPermanently, "/t/"+redirected+filePath)
		return
	}

	file := strings.TrimPrefix(filePath, "/")
	if file == "" {
		file = "index.htm"
	}

	reader, err := h.tours.Open(c.Request.Context(), t, file)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer reader.Close()

	c.Header("Content-Type", processor.ContentTypeFor(file))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		h.log.Error().Err(err).Str("slug", slug).Msg("stream error")
	}
}
