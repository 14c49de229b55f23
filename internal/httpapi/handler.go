// Package httpapi exposes the single transform endpoint:
// GET /insecure/<directives>/plain/<encoded-source-url>.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"

	"mediaproxy/internal/apperr"
	"mediaproxy/internal/directive"
	"mediaproxy/internal/orchestrator"
)

const insecurePrefix = "/insecure/"

// Handler serves the transform endpoint.
type Handler struct {
	orchestrator *orchestrator.Orchestrator
	logger       *slog.Logger
}

// NewHandler constructs the HTTP handler.
func NewHandler(orc *orchestrator.Orchestrator, logger *slog.Logger) *Handler {
	return &Handler{
		orchestrator: orc,
		logger:       logger.With("component", "handler"),
	}
}

// Register attaches routes to the gin engine.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/insecure/*path", h.handleTransform)
	r.GET("/healthz", h.handleHealth)
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h *Handler) handleTransform(c *gin.Context) {
	start := time.Now()
	// The escaped path keeps the percent-encoded source URL as one segment;
	// gin's path param is already decoded and would split it on "/".
	suffix := strings.TrimPrefix(c.Request.URL.EscapedPath(), insecurePrefix)

	req, err := directive.Parse(suffix)
	if err != nil {
		h.respondError(c, err, start)
		return
	}

	result, err := h.orchestrator.Handle(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err, start)
		return
	}

	cacheState := "miss"
	if result.Cached {
		cacheState = "hit"
	}
	c.Header("X-Cache", cacheState)
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, result.ContentType, result.Payload)

	h.logger.Info("served transform",
		slog.String("source", req.SourceURL),
		slog.String("cache", cacheState),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
}

func (h *Handler) respondError(c *gin.Context, err error, start time.Time) {
	status := apperr.StatusOf(err)
	h.logger.Error("request failed",
		slog.Any("error", err),
		slog.Int("status", status),
		slog.String("path", c.Param("path")),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.String(status, "%d %s: %s", status, http.StatusText(status), err.Error())
	c.Abort()
}
