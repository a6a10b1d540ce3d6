package v1

import (
	"github.com/gin-gonic/gin"

	"h3-server/services/tour-api/internal/interfaces/httpserver/handlers"
)

// Routes encapsulates versioned route registration.
type Routes struct {
	handlers *handlers.Provider
}

func NewRoutes(provider *handlers.Provider) *Routes {
	return &Routes{handlers: provider}
}

// Register attaches all v1 routes under the /v1 prefix. The management
// group carries the caller-supplied middleware (service key checks); the
// webhook endpoints authenticate with their own HMAC signature instead.
func (r *Routes) Register(router gin.IRouter, managed ...gin.HandlerFunc) {
	group := router.Group("/v1")

	management := group.Group("")
	management.Use(managed...)
	management.POST("/uploads", r.handlers.Uploads.CreateGrant)
	management.POST("/uploads/:id/complete", r.handlers.Uploads.Complete)
	management.GET("/uploads/:id", r.handlers.Uploads.Get)
	management.GET("/progress/:id", r.handlers.Progress.Get)
	management.GET("/tours", r.handlers.Tours.List)
	management.GET("/tours/:id", r.handlers.Tours.Get)
	management.POST("/tours/:id/slug", r.handlers.Tours.ChangeSlug)
	management.DELETE("/tours/:id", r.handlers.Tours.Archive)

	group.POST("/webhooks/processor", r.handlers.Webhook.Report)
	group.POST("/webhooks/processor/progress", r.handlers.Webhook.Progress)
}
