package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/idf-drafter/internal/idf"
	"github.com/joelkehle/idf-drafter/internal/metrics"
)

// mockMessager implements AnthropicMessager for testing.
type mockMessager struct {
	mu        sync.Mutex
	responses []*anthropic.Message
	errs      []error
	params    []anthropic.MessageNewParams
}

func (m *mockMessager) New(_ context.Context, p anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.params)
	m.params = append(m.params, p)
	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return m.responses[len(m.responses)-1], nil
}

func newMockMessage(text string) *anthropic.Message {
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: text},
		},
	}
}

func withMockClient(mock *mockMessager) func() {
	old := newAnthropicClient
	newAnthropicClient = func(_ string) AnthropicMessager { return mock }
	return func() { newAnthropicClient = old }
}

func noSleep(g *Generator) { g.sleep = func(context.Context, time.Duration) error { return nil } }

// scriptedCaller replays replies and records prompts.
type scriptedCaller struct {
	mu      sync.Mutex
	replies []string
	prompts []string
}

func (s *scriptedCaller) Provider() string { return "scripted" }

func (s *scriptedCaller) Generate(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	return s.replies[len(s.prompts)-1], nil
}

const bootstrapJSON = "```json\n" + `{
  "date": "2026-10-18",
  "title": "Self-sealing catheter",
  "inventors": [{"Name": "Dana Levi", "id": "1234", "nationality": "IL", "inventorship": 60, "employer": "Hospital", "address": "Haifa", "phone": "050", "email": "dana@h.org"}],
  "abstract": "Need and solution.",
  "invention": {"description": "d", "keywords": ["catheter", "seal"], "components": "sleeve\nport", "results": ["sealed"]},
  "prior_art": null,
  "disclosure": [],
  "plans": [{"title": "Talk", "authors": "Levi", "disclosed": "oral presentation", "Date": "2027-01"}]
}` + "\n```"

func TestBootstrapParsesFencedRecord(t *testing.T) {
	mock := &mockMessager{responses: []*anthropic.Message{newMockMessage(bootstrapJSON)}}
	defer withMockClient(mock)()

	caller, err := NewAnthropicCaller("test-key", "")
	require.NoError(t, err)
	g := New(caller, nil, DefaultConfig())

	rec, err := g.Bootstrap(context.Background(), "Self-sealing catheter")
	require.NoError(t, err)
	assert.Equal(t, "Self-sealing catheter", rec.Title)
	require.Len(t, rec.Inventors, 1)
	assert.Equal(t, "60", rec.Inventors[0].Inventorship)
	assert.Equal(t, "050", rec.Inventors[0].Phone)
	assert.Equal(t, "catheter, seal", rec.Invention.Keywords.DisplayString())
	assert.NotNil(t, rec.PriorArt)
	assert.Len(t, rec.Plans, 1)

	require.Len(t, mock.params, 1)
	assert.Equal(t, anthropic.Model(DefaultAnthropicModel), mock.params[0].Model)
	assert.Equal(t, int64(bootstrapMaxTokens), mock.params[0].MaxTokens)
}

func TestBootstrapToleratesChatterAroundObject(t *testing.T) {
	rec, err := parseRecord("Here is the form:\n{\"title\": \"X\"}\nHope it helps.")
	require.NoError(t, err)
	assert.Equal(t, "X", rec.Title)
}

func TestBootstrapMalformedEnvelopeIsGenerationError(t *testing.T) {
	mock := &mockMessager{responses: []*anthropic.Message{newMockMessage("I cannot help with that.")}}
	defer withMockClient(mock)()
	caller, err := NewAnthropicCaller("test-key", "")
	require.NoError(t, err)

	_, err = New(caller, nil, DefaultConfig()).Bootstrap(context.Background(), "topic")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGeneration))
	var ge *GenerationError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "parse", ge.Class)
}

func TestBootstrapRetriesTransientFailures(t *testing.T) {
	mock := &mockMessager{
		errs:      []error{errors.New("POST /v1/messages: 529 server error"), nil},
		responses: []*anthropic.Message{nil, newMockMessage(`{"title":"ok"}`)},
	}
	defer withMockClient(mock)()
	caller, err := NewAnthropicCaller("test-key", "claude-test")
	require.NoError(t, err)

	m := metrics.New()
	g := New(caller, nil, Config{MaxAttempts: 3}, noSleep, WithMetrics(m))
	rec, err := g.Bootstrap(context.Background(), "topic")
	require.NoError(t, err)
	assert.Equal(t, "ok", rec.Title)
	assert.Len(t, mock.params, 2)
	assert.Equal(t, anthropic.Model("claude-test"), mock.params[0].Model)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	mock := &mockMessager{errs: []error{errors.New("status code: 401 unauthorized")}, responses: []*anthropic.Message{nil}}
	defer withMockClient(mock)()
	caller, err := NewAnthropicCaller("test-key", "")
	require.NoError(t, err)

	_, err = New(caller, nil, Config{MaxAttempts: 3}, noSleep).Bootstrap(context.Background(), "topic")
	require.ErrorIs(t, err, ErrGeneration)
	assert.Len(t, mock.params, 1)
}

func TestCanceledBootstrapFailsWithoutRetry(t *testing.T) {
	mock := &mockMessager{errs: []error{context.Canceled}, responses: []*anthropic.Message{nil}}
	defer withMockClient(mock)()
	caller, err := NewAnthropicCaller("test-key", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(caller, nil, Config{MaxAttempts: 3}, noSleep).Bootstrap(ctx, "topic")
	require.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, mock.params, 1)
}

func TestMissingCallersAndKeys(t *testing.T) {
	_, err := NewAnthropicCaller(" ", "")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	_, err = NewPerplexityCaller("", "", "")
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = New(nil, nil, DefaultConfig()).RefineField(context.Background(), "t", "title", "x")
	assert.ErrorIs(t, err, ErrGeneration)
}

func fakePerplexity(t *testing.T, status int, content string, seen *[]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if seen != nil {
			*seen = append(*seen, body)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream unavailable","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRefineFieldUsesChatCompletions(t *testing.T) {
	var seen []map[string]any
	srv := fakePerplexity(t, http.StatusOK, "[{'title':'Hydrogel valves','authors':'Cohen'}]", &seen)
	caller, err := NewPerplexityCaller("test-key", srv.URL, "")
	require.NoError(t, err)

	raw, err := New(nil, caller, DefaultConfig()).RefineField(context.Background(), "Self-sealing catheter", "prior_art", "[]")
	require.NoError(t, err)
	assert.Equal(t, "[{'title':'Hydrogel valves','authors':'Cohen'}]", raw)

	require.Len(t, seen, 1)
	assert.Equal(t, DefaultPerplexityModel, seen[0]["model"])
	msgs := seen[0]["messages"].([]any)
	prompt := msgs[0].(map[string]any)["content"].(string)
	assert.Contains(t, prompt, "Self-sealing catheter")
	assert.Contains(t, prompt, "JSON array only")
}

func TestRefineFieldProviderFailure(t *testing.T) {
	srv := fakePerplexity(t, http.StatusBadGateway, "", nil)
	caller, err := NewPerplexityCaller("test-key", srv.URL, "sonar")
	require.NoError(t, err)

	_, err = New(nil, caller, Config{MaxAttempts: 1}).RefineField(context.Background(), "t", "invention.keywords", "a, b")
	require.Error(t, err)
	var ge *GenerationError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, ProviderPerplexity, ge.Provider)
	assert.Equal(t, "server", ge.Class)
}

func TestRefineFieldRejectsUnknownAndUnguidedFields(t *testing.T) {
	g := New(nil, &scriptedCaller{replies: []string{"x"}}, DefaultConfig())
	_, err := g.RefineField(context.Background(), "t", "invention.colour", "")
	assert.ErrorIs(t, err, idf.ErrUnknownField)
	_, err = g.RefineField(context.Background(), "t", "date", "")
	assert.ErrorIs(t, err, ErrNotRefinable)
}

func TestRefineCandidatesChainsFromPreviousCandidate(t *testing.T) {
	s := &scriptedCaller{replies: []string{"first draft", "second draft", "third draft"}}
	got, err := New(nil, s, DefaultConfig()).RefineCandidates(context.Background(), "catheter", "abstract", "original", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"first draft", "second draft", "third draft"}, got)
	require.Len(t, s.prompts, 3)
	assert.Contains(t, s.prompts[0], "'original'")
	assert.Contains(t, s.prompts[1], "'first draft'")
	assert.Contains(t, s.prompts[2], "'second draft'")
}

// blockingCaller waits for its context to end.
type blockingCaller struct{}

func (blockingCaller) Provider() string { return "blocking" }
func (blockingCaller) Generate(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestCallTimeout(t *testing.T) {
	_, err := New(nil, blockingCaller{}, Config{Timeout: 10 * time.Millisecond, MaxAttempts: 1}).
		RefineField(context.Background(), "t", "title", "x")
	var ge *GenerationError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "timeout", ge.Class)
}

func TestEmptyResponseIsGenerationError(t *testing.T) {
	_, err := New(nil, &scriptedCaller{replies: []string{"  \n"}}, DefaultConfig()).RefineField(context.Background(), "t", "title", "x")
	var ge *GenerationError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "empty", ge.Class)
}

func TestPromptsCarryTopicDateAndSources(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	p := bootstrapPrompt("Self-sealing catheter", now)
	assert.Contains(t, p, `"Self-sealing catheter"`)
	assert.Contains(t, p, "2026-10-18T09:00:00Z")

	rp, err := refinePrompt("catheter", "invention.keywords", "a, b", idf.ShapeScalar, []string{"https://pubmed.ncbi.nlm.nih.gov/1"})
	require.NoError(t, err)
	assert.Contains(t, rp, "5 keywords")
	assert.Contains(t, rp, `["https://pubmed.ncbi.nlm.nih.gov/1"]`)
	assert.False(t, strings.Contains(rp, "JSON array only"))
}
