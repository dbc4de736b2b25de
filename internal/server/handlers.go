package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joelkehle/idf-drafter/internal/decoder"
	"github.com/joelkehle/idf-drafter/internal/drafts"
	"github.com/joelkehle/idf-drafter/internal/idf"
	"github.com/joelkehle/idf-drafter/internal/render"
	"github.com/joelkehle/idf-drafter/internal/render/preview"
)

type createRequest struct {
	Topic string `json:"topic"`
}

type generateRequest struct {
	Topic string `json:"topic"`
}

type fieldRequest struct {
	Value json.RawMessage `json:"value"`
	Raw   *string         `json:"raw"`
}

type refineRequest struct {
	N       int      `json:"n"`
	Sources []string `json:"sources"`
	Current *string  `json:"current"`
}

type candidate struct {
	Raw     string          `json:"raw"`
	Decoded *decoder.Result `json:"decoded,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (s *Server) handleList(c *gin.Context) {
	list := s.Store.List()
	out := make([]gin.H, 0, len(list))
	for _, d := range list {
		out = append(out, gin.H{"id": d.ID, "topic": d.Topic, "title": d.Record.Title, "updated_at": d.UpdatedAt, "version": d.Version})
	}
	writeJSON(c, http.StatusOK, gin.H{"drafts": out})
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	d := s.Store.Create(strings.TrimSpace(req.Topic))
	s.Log.Info("draft created", "draft", d.ID)
	writeJSON(c, http.StatusCreated, d)
}

func (s *Server) handleGet(c *gin.Context) {
	d, err := s.Store.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.Store.Delete(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	if s.FiguresDir != "" {
		_ = os.RemoveAll(filepath.Join(s.FiguresDir, filepath.Clean("/"+c.Param("id"))))
	}
	c.Status(http.StatusNoContent)
}

// handleGenerate replaces the Record with a bootstrap from the topic, keeping uploaded
// figures. Nothing changes unless the request is still live when the provider answers.
func (s *Server) handleGenerate(c *gin.Context) {
	if s.Generator == nil {
		writeError(c, http.StatusServiceUnavailable, "generation is not configured")
		return
	}
	id := c.Param("id")
	var req generateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	d, release, err := s.Store.BeginAI(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer release()

	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		topic = d.Topic
	}
	if topic == "" {
		writeError(c, http.StatusBadRequest, "topic is required")
		return
	}
	if topic != d.Topic {
		if _, err := s.Store.SetTopic(id, topic); err != nil {
			s.fail(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	rec, err := s.Generator.Bootstrap(ctx, topic)
	if err != nil {
		s.fail(c, err)
		return
	}
	updated, err := s.Store.Update(ctx, id, func(r *idf.Record) error {
		// Figures only come from uploads; whatever the model put there is dropped.
		figures := r.Invention.Figures
		*r = rec.Clone()
		r.Invention.Figures = figures
		return nil
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.Log.Info("draft bootstrapped", "draft", id, "version", updated.Version)
	writeJSON(c, http.StatusOK, updated)
}

// handleSetField replaces one field, either from a JSON value or from raw model text run
// through the decoder.
func (s *Server) handleSetField(c *gin.Context) {
	path, err := idf.CanonicalPath(c.Param("path"))
	if err != nil {
		s.fail(c, err)
		return
	}
	var req fieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Raw == nil && len(req.Value) == 0 {
		writeError(c, http.StatusBadRequest, "value or raw is required")
		return
	}
	d, err := s.Store.Update(c.Request.Context(), c.Param("id"), func(rec *idf.Record) error {
		if req.Raw != nil {
			return decoder.Apply(rec, path, *req.Raw)
		}
		if err := rec.SetJSON(path, req.Value); err != nil {
			return &badRequest{err}
		}
		return nil
	})
	if err != nil {
		var br *badRequest
		if errors.As(err, &br) {
			writeError(c, http.StatusBadRequest, br.Error())
			return
		}
		if errors.Is(err, decoder.ErrDecode) {
			shape, _ := idf.ShapeOf(path)
			s.Metrics.ObserveDecodeFailure(string(shape))
		}
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type badRequest struct{ err error }

func (b *badRequest) Error() string { return b.err.Error() }
func (b *badRequest) Unwrap() error { return b.err }

// handleRefine returns candidate values for one field. Nothing is applied; the client
// picks a candidate and PUTs it back.
func (s *Server) handleRefine(c *gin.Context) {
	if s.Generator == nil {
		writeError(c, http.StatusServiceUnavailable, "generation is not configured")
		return
	}
	path, err := idf.CanonicalPath(c.Param("path"))
	if err != nil {
		s.fail(c, err)
		return
	}
	shape, _ := idf.ShapeOf(path)
	var req refineRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.N < 1 {
		req.N = 1
	}
	if req.N > maxCandidates {
		req.N = maxCandidates
	}

	d, release, err := s.Store.BeginAI(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	defer release()

	current := ""
	if req.Current != nil {
		current = *req.Current
	} else if current, err = d.Record.FieldValue(path); err != nil {
		s.fail(c, err)
		return
	}
	topic := d.Topic
	if topic == "" {
		topic = d.Record.Title
	}

	raws, genErr := s.Generator.RefineCandidates(c.Request.Context(), topic, path, current, req.N, req.Sources...)
	if genErr != nil && len(raws) == 0 {
		s.fail(c, genErr)
		return
	}
	out := make([]candidate, 0, len(raws))
	for _, raw := range raws {
		cand := candidate{Raw: raw}
		res, err := decoder.Decode(raw, shape)
		if err != nil {
			s.Metrics.ObserveDecodeFailure(string(shape))
			cand.Error = err.Error()
		} else {
			cand.Decoded = &res
		}
		out = append(out, cand)
	}
	body := gin.H{"field": path, "shape": shape, "candidates": out}
	if genErr != nil {
		s.Log.Warn("refine stopped early", "draft", d.ID, "field", path, "got", len(raws), "error", genErr)
		body["error"] = genErr.Error()
	}
	writeJSON(c, http.StatusOK, body)
}

// handleFigure stores an uploaded image under the draft's figure directory and appends it
// to the invention figures.
func (s *Server) handleFigure(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.Store.Get(id); err != nil {
		s.fail(c, err)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.MaxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		writeError(c, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid upload")
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid upload")
		return
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		writeError(c, http.StatusUnsupportedMediaType, "upload is not a supported image")
		return
	}

	dir := filepath.Join(s.FiguresDir, filepath.Clean("/"+id))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		s.fail(c, fmt.Errorf("create figure dir: %w", err))
		return
	}
	name := uuid.NewString() + "." + format
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o640); err != nil {
		s.fail(c, fmt.Errorf("write figure: %w", err))
		return
	}
	ref := id + "/" + name
	d, err := s.Store.Update(c.Request.Context(), id, func(rec *idf.Record) error {
		rec.Invention.Figures = append(rec.Invention.Figures, ref)
		return nil
	})
	if err != nil {
		_ = os.Remove(filepath.Join(dir, name))
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"figure": ref, "draft": d})
}

func (s *Server) handleLayout(c *gin.Context) {
	d, err := s.Store.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	doc, err := s.Layout.Layout(c.Request.Context(), d.Record)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, doc)
}

func (s *Server) handlePagePreview(c *gin.Context) {
	if s.PNG == nil {
		writeError(c, http.StatusServiceUnavailable, "page previews are not configured")
		return
	}
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "page must be a number")
		return
	}
	d, err := s.Store.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	doc, err := s.Layout.Layout(c.Request.Context(), d.Record)
	if err != nil {
		s.fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := s.PNG.RenderPage(c.Request.Context(), doc, n, &buf); err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("X-Page-Count", strconv.Itoa(len(doc.Pages)))
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (s *Server) handlePreview(c *gin.Context) {
	d, err := s.Store.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	out, err := preview.HTML(d.Record, s.Branding)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(out))
}

// handleExport renders a snapshot of the draft. The draft refuses edits until rendering
// is over.
func (s *Server) handleExport(c *gin.Context) {
	if s.PDF == nil {
		writeError(c, http.StatusServiceUnavailable, "pdf renderer unavailable")
		return
	}
	d, done, err := s.Store.BeginExport(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	defer done()

	start := time.Now()
	ctx := c.Request.Context()
	doc, err := s.Layout.Layout(ctx, d.Record)
	if err != nil {
		s.Metrics.ObserveExport("pdf", start, 0, err)
		s.fail(c, err)
		return
	}
	pdf, err := s.PDF.Render(ctx, doc, render.Meta{
		Title:   d.Record.Title,
		Subject: s.Branding.FormTitle,
		Author:  s.Branding.Institution,
	})
	s.Metrics.ObserveExport("pdf", start, len(doc.Pages), err)
	if err != nil {
		s.fail(c, fmt.Errorf("render pdf: %w", err))
		return
	}
	s.Log.Info("draft exported", "draft", d.ID, "pages", len(doc.Pages), "bytes", len(pdf))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", render.ExportFilename(d.Record.Title)))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// Prune drops drafts idle for longer than ttl and their figures.
func Prune(store *drafts.Store, figuresDir string, ttl time.Duration) int {
	before := map[string]bool{}
	for _, d := range store.List() {
		before[d.ID] = true
	}
	n := store.Prune(ttl)
	if n == 0 || figuresDir == "" {
		return n
	}
	for _, d := range store.List() {
		delete(before, d.ID)
	}
	for id := range before {
		_ = os.RemoveAll(filepath.Join(figuresDir, filepath.Clean("/"+id)))
	}
	return n
}
