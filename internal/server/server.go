// Package server exposes drafts over HTTP: creation, AI bootstrap and refine, field edits,
// figure upload, previews and PDF export.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/joelkehle/idf-drafter/internal/decoder"
	"github.com/joelkehle/idf-drafter/internal/drafts"
	"github.com/joelkehle/idf-drafter/internal/generate"
	"github.com/joelkehle/idf-drafter/internal/idf"
	"github.com/joelkehle/idf-drafter/internal/layout"
	"github.com/joelkehle/idf-drafter/internal/logging"
	"github.com/joelkehle/idf-drafter/internal/metrics"
	"github.com/joelkehle/idf-drafter/internal/render"
	"github.com/joelkehle/idf-drafter/internal/render/raster"
)

type Generator interface {
	Bootstrap(ctx context.Context, topic string) (idf.Record, error)
	RefineCandidates(ctx context.Context, topic, path, currentValue string, n int, sources ...string) ([]string, error)
}

type Layouter interface {
	Layout(ctx context.Context, rec idf.Record) (layout.Document, error)
}

type PDFRenderer interface {
	Render(ctx context.Context, doc layout.Document, meta render.Meta) ([]byte, error)
}

type PageRenderer interface {
	RenderPage(ctx context.Context, doc layout.Document, n int, w io.Writer) error
}

// Deps are the collaborators of the HTTP layer. Generator, PDF and PNG may be nil; the
// routes that need them then answer 503.
type Deps struct {
	Store      *drafts.Store
	Generator  Generator
	Layout     Layouter
	PDF        PDFRenderer
	PNG        PageRenderer
	Branding   layout.Branding
	FiguresDir string
	MaxUpload  int64
	Service    string
	Origins    []string
	Log        *logging.Logger
	Metrics    *metrics.Metrics
}

type Server struct {
	Deps
}

const maxCandidates = 5

func New(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	if d.MaxUpload <= 0 {
		d.MaxUpload = 10 << 20
	}
	if d.Service == "" {
		d.Service = "idf-drafter"
	}
	if len(d.Origins) == 0 {
		d.Origins = []string{"http://localhost:3000", "http://localhost:5173", "http://127.0.0.1:5173"}
	}
	s := &Server{Deps: d}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(d.Service))
	r.Use(s.observe())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     d.Origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	g := r.Group("/drafts")
	g.GET("", s.handleList)
	g.POST("", s.handleCreate)
	g.GET("/:id", s.handleGet)
	g.DELETE("/:id", s.handleDelete)
	g.POST("/:id/generate", s.handleGenerate)
	g.PUT("/:id/fields/:path", s.handleSetField)
	g.POST("/:id/fields/:path/refine", s.handleRefine)
	g.POST("/:id/figures", s.handleFigure)
	g.GET("/:id/layout", s.handleLayout)
	g.GET("/:id/pages/:n/preview.png", s.handlePagePreview)
	g.GET("/:id/preview", s.handlePreview)
	g.GET("/:id/export.pdf", s.handleExport)
	return r
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if s.Metrics != nil {
			s.Metrics.HTTPRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(status)).Inc()
			s.Metrics.HTTPDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
		}
		if route == "/metrics" || route == "/healthz" {
			return
		}
		s.Log.Debug("request", "method", c.Request.Method, "route", route, "status", status, "duration", time.Since(start))
	}
}

func writeJSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// fail maps a domain error to its HTTP status.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.Log.Error("request failed", "route", c.FullPath(), "status", status, "error", err)
	}
	body := gin.H{"error": err.Error()}
	var ge *generate.GenerationError
	if errors.As(err, &ge) {
		body["provider"] = ge.Provider
		body["class"] = ge.Class
	}
	c.AbortWithStatusJSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, drafts.ErrNotFound), errors.Is(err, idf.ErrUnknownField), errors.Is(err, raster.ErrPageRange):
		return http.StatusNotFound
	case errors.Is(err, drafts.ErrRefineInFlight), errors.Is(err, drafts.ErrExportInProgress):
		return http.StatusConflict
	case errors.Is(err, decoder.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generate.ErrMissingAPIKey):
		return http.StatusServiceUnavailable
	case errors.Is(err, generate.ErrNotRefinable):
		return http.StatusBadRequest
	case errors.Is(err, generate.ErrGeneration):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
