package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/idf-drafter/internal/drafts"
	"github.com/joelkehle/idf-drafter/internal/generate"
	"github.com/joelkehle/idf-drafter/internal/idf"
	"github.com/joelkehle/idf-drafter/internal/layout"
	"github.com/joelkehle/idf-drafter/internal/metrics"
	"github.com/joelkehle/idf-drafter/internal/render"
	"github.com/joelkehle/idf-drafter/internal/render/raster"
)

type fakeGenerator struct {
	rec     idf.Record
	err     error
	cands   []string
	entered chan struct{}
	unblock chan struct{}

	mu     sync.Mutex
	topics []string
}

func (g *fakeGenerator) Bootstrap(ctx context.Context, topic string) (idf.Record, error) {
	g.mu.Lock()
	g.topics = append(g.topics, topic)
	g.mu.Unlock()
	if g.entered != nil {
		close(g.entered)
		<-g.unblock
	}
	return g.rec, g.err
}

func (g *fakeGenerator) RefineCandidates(ctx context.Context, topic, path, current string, n int, sources ...string) ([]string, error) {
	if len(g.cands) > n {
		return g.cands[:n], g.err
	}
	return g.cands, g.err
}

type fakePDF struct{ meta render.Meta }

func (f *fakePDF) Render(ctx context.Context, doc layout.Document, meta render.Meta) ([]byte, error) {
	f.meta = meta
	return []byte("%PDF-1.7 fake"), nil
}

type env struct {
	store *drafts.Store
	gen   *fakeGenerator
	pdf   *fakePDF
	h     http.Handler
	dir   string
}

func newEnv(t *testing.T, gen *fakeGenerator) *env {
	t.Helper()
	dir := t.TempDir()
	fonts := layout.DefaultFontMetrics()
	images := layout.DirImages{Root: dir}
	e := &env{store: drafts.NewStore(), gen: gen, pdf: &fakePDF{}, dir: dir}
	d := Deps{
		Store:      e.store,
		Layout:     layout.New(fonts, layout.WithImages(images)),
		PDF:        e.pdf,
		PNG:        raster.New(fonts, images, 10, nil),
		Branding:   layout.DefaultBranding(),
		FiguresDir: dir,
		Metrics:    metrics.New(),
	}
	if gen != nil {
		d.Generator = gen
	}
	e.h = New(d)
	return e
}

func (e *env) do(method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func catheter() idf.Record {
	rec := idf.New()
	rec.Title = "Self-sealing catheter"
	rec.Abstract = "A catheter that seals on withdrawal."
	return rec
}

func TestCreateAndGet(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.do(http.MethodPost, "/drafts", map[string]string{"topic": "catheter"})
	require.Equal(t, http.StatusCreated, rec.Code)
	d := decode[drafts.Draft](t, rec)
	assert.Equal(t, "catheter", d.Topic)
	assert.NotNil(t, d.Record.PriorArt)

	rec = e.do(http.MethodGet, "/drafts/"+d.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, d.ID, decode[drafts.Draft](t, rec).ID)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/drafts/nope", nil).Code)
}

func TestGenerateReplacesRecord(t *testing.T) {
	generated := catheter()
	generated.Invention.Figures = []string{"/etc/hostname", "../../secret.png"}
	e := newEnv(t, &fakeGenerator{rec: generated})
	d := e.store.Create("")
	_, err := e.store.Update(context.Background(), d.ID, func(r *idf.Record) error {
		r.Invention.Figures = []string{"x/fig.png"}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/drafts/"+d.ID+"/generate", nil).Code)

	rec := e.do(http.MethodPost, "/drafts/"+d.ID+"/generate", map[string]string{"topic": "self-sealing catheter"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[drafts.Draft](t, rec)
	assert.Equal(t, "Self-sealing catheter", got.Record.Title)
	assert.Equal(t, []string{"x/fig.png"}, got.Record.Invention.Figures, "uploaded figures survive a bootstrap, generated ones are dropped")
	assert.Equal(t, "self-sealing catheter", got.Topic)
	assert.Equal(t, []string{"self-sealing catheter"}, e.gen.topics)
}

func TestGenerateFailureLeavesRecord(t *testing.T) {
	e := newEnv(t, &fakeGenerator{err: &generate.GenerationError{Provider: "anthropic", Op: "bootstrap", Class: "parse", Err: errors.New("bad json")}})
	d := e.store.Create("catheter")

	rec := e.do(http.MethodPost, "/drafts/"+d.ID+"/generate", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "parse", body["class"])

	after, err := e.store.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Version, after.Version)
}

func TestGenerateWithoutProvider(t *testing.T) {
	e := newEnv(t, nil)
	d := e.store.Create("catheter")
	assert.Equal(t, http.StatusServiceUnavailable, e.do(http.MethodPost, "/drafts/"+d.ID+"/generate", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, e.do(http.MethodPost, "/drafts/"+d.ID+"/fields/title/refine", nil).Code)
}

func TestSecondAIRequestConflicts(t *testing.T) {
	gen := &fakeGenerator{rec: catheter(), entered: make(chan struct{}), unblock: make(chan struct{})}
	e := newEnv(t, gen)
	d := e.store.Create("catheter")

	done := make(chan int)
	go func() {
		done <- e.do(http.MethodPost, "/drafts/"+d.ID+"/generate", nil).Code
	}()
	<-gen.entered

	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, "/drafts/"+d.ID+"/fields/title/refine", nil).Code)
	close(gen.unblock)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestCanceledGenerateDoesNotMutate(t *testing.T) {
	e := newEnv(t, &fakeGenerator{rec: catheter()})
	d := e.store.Create("catheter")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/drafts/"+d.ID+"/generate", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusOK, rec.Code)

	after, err := e.store.Get(d.ID)
	require.NoError(t, err)
	assert.Empty(t, after.Record.Title)
	assert.Equal(t, d.Version, after.Version)
}

func TestSetField(t *testing.T) {
	e := newEnv(t, nil)
	d := e.store.Create("")
	base := "/drafts/" + d.ID + "/fields/"

	rec := e.do(http.MethodPut, base+"title", map[string]any{"value": "Catheter"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Catheter", decode[drafts.Draft](t, rec).Record.Title)

	rec = e.do(http.MethodPut, base+"keywords", map[string]any{"value": []string{"seal", "valve"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "seal, valve", decode[drafts.Draft](t, rec).Record.Invention.Keywords.DisplayString())

	raw := "Here you go: [{'title': 'Valve', 'authors': 'Lee'}, {'title': 'Seal', 'authors': 'Kim'}]"
	rec = e.do(http.MethodPut, base+"prior_art", map[string]any{"raw": raw})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[drafts.Draft](t, rec).Record.PriorArt, 2)

	assert.Equal(t, http.StatusUnprocessableEntity, e.do(http.MethodPut, base+"prior_art", map[string]any{"raw": "[{'title': 'x'"}).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPut, base+"nonsense", map[string]any{"value": "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPut, base+"title", map[string]any{"value": 12}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPut, base+"title", map[string]any{}).Code)

	after, err := e.store.Get(d.ID)
	require.NoError(t, err)
	assert.Len(t, after.Record.PriorArt, 2, "a failed decode leaves the field as it was")
}

func TestSetFieldDuringExport(t *testing.T) {
	e := newEnv(t, nil)
	d := e.store.Create("")
	_, done, err := e.store.BeginExport(d.ID)
	require.NoError(t, err)

	assert.Equal(t, http.StatusConflict, e.do(http.MethodPut, "/drafts/"+d.ID+"/fields/title", map[string]any{"value": "x"}).Code)
	done()
	assert.Equal(t, http.StatusOK, e.do(http.MethodPut, "/drafts/"+d.ID+"/fields/title", map[string]any{"value": "x"}).Code)
}

func TestRefineReturnsDecodedCandidates(t *testing.T) {
	e := newEnv(t, &fakeGenerator{cands: []string{
		"[{'title': 'Valve', 'authors': 'Lee'}]",
		"no array here",
		"[]",
	}})
	d := e.store.Create("catheter")

	rec := e.do(http.MethodPost, "/drafts/"+d.ID+"/fields/prior_art/refine", map[string]any{"n": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Field      string      `json:"field"`
		Candidates []candidate `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, idf.FieldPriorArt, body.Field)
	require.Len(t, body.Candidates, 2)
	require.NotNil(t, body.Candidates[0].Decoded)
	assert.Len(t, body.Candidates[0].Decoded.Records, 1)
	assert.Nil(t, body.Candidates[1].Decoded)
	assert.NotEmpty(t, body.Candidates[1].Error)

	after, _ := e.store.Get(d.ID)
	assert.Empty(t, after.Record.PriorArt, "refine never applies a candidate")
}

func TestRefineUnknownField(t *testing.T) {
	e := newEnv(t, &fakeGenerator{})
	d := e.store.Create("catheter")
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/drafts/"+d.ID+"/fields/colour/refine", nil).Code)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 20))))
	return buf.Bytes()
}

func upload(e *env, id string, data []byte) *httptest.ResponseRecorder {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "fig.png")
	_, _ = fw.Write(data)
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/drafts/"+id+"/figures", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func TestFigureUploadFeedsLayout(t *testing.T) {
	e := newEnv(t, nil)
	d := e.store.Create("")

	rec := upload(e, d.ID, pngBytes(t))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	after, _ := e.store.Get(d.ID)
	require.Len(t, after.Record.Invention.Figures, 1)

	rec = e.do(http.MethodGet, "/drafts/"+d.ID+"/layout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode[layout.Document](t, rec)
	assert.Equal(t, after.Record.Invention.Figures, doc.Images())

	assert.Equal(t, http.StatusUnsupportedMediaType, upload(e, d.ID, []byte("plain text")).Code)
}

func TestPreviews(t *testing.T) {
	e := newEnv(t, nil)
	d := e.store.Create("")
	_, err := e.store.Replace(context.Background(), d.ID, catheter())
	require.NoError(t, err)

	rec := e.do(http.MethodGet, "/drafts/"+d.ID+"/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Self-sealing catheter")
	assert.Contains(t, rec.Body.String(), layout.PriorArtPlaceholder)

	rec = e.do(http.MethodGet, "/drafts/"+d.ID+"/pages/1/preview.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	_, err = png.DecodeConfig(rec.Body)
	assert.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/drafts/"+d.ID+"/pages/99/preview.png", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/drafts/"+d.ID+"/pages/x/preview.png", nil).Code)
}

func TestExport(t *testing.T) {
	e := newEnv(t, nil)
	d := e.store.Create("")
	_, err := e.store.Replace(context.Background(), d.ID, catheter())
	require.NoError(t, err)

	rec := e.do(http.MethodGet, "/drafts/"+d.ID+"/export.pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Self-sealing-catheter.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "Self-sealing catheter", e.pdf.meta.Title)

	after, _ := e.store.Get(d.ID)
	assert.False(t, after.Exporting, "export lock released")
}

func TestExportWithoutHebrewFontFails(t *testing.T) {
	e := newEnv(t, nil)
	d := e.store.Create("")
	rec := catheter()
	rec.Title = "צנתר אוטם עצמי"
	_, err := e.store.Replace(context.Background(), d.ID, rec)
	require.NoError(t, err)

	resp := e.do(http.MethodGet, "/drafts/"+d.ID+"/export.pdf", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Contains(t, resp.Body.String(), layout.ErrFontUnavailable.Error())

	after, _ := e.store.Get(d.ID)
	assert.False(t, after.Exporting, "export lock released")
}

func TestMetricsAndHealth(t *testing.T) {
	e := newEnv(t, nil)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/healthz", nil).Code)
	e.do(http.MethodGet, "/drafts/nope", nil)

	rec := e.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `idf_http_requests_total{method="GET",route="/drafts/:id",status="404"} 1`), rec.Body.String())
}

func TestDeleteAndPrune(t *testing.T) {
	e := newEnv(t, nil)
	old := e.store.Create("")
	require.Equal(t, http.StatusCreated, upload(e, old.ID, pngBytes(t)).Code)

	assert.Equal(t, 0, Prune(e.store, e.dir, time.Hour))
	_, err := os.Stat(filepath.Join(e.dir, old.ID))
	require.NoError(t, err)

	assert.Equal(t, 1, Prune(e.store, e.dir, -time.Second))
	_, err = os.Stat(filepath.Join(e.dir, old.ID))
	assert.True(t, os.IsNotExist(err), "figures of pruned drafts are removed")

	d := e.store.Create("")
	assert.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, "/drafts/"+d.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/drafts/"+d.ID, nil).Code)
}
