// Package generate wraps the two LLM providers: Anthropic bootstraps a whole form from a
// topic, Perplexity rewrites single fields.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/joelkehle/idf-drafter/internal/idf"
	"github.com/joelkehle/idf-drafter/internal/logging"
	"github.com/joelkehle/idf-drafter/internal/metrics"
	"github.com/joelkehle/idf-drafter/internal/tracing"
)

type Config struct {
	// Timeout bounds each provider attempt.
	Timeout time.Duration
	// MaxAttempts includes the first call; 1 disables retries.
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{Timeout: 90 * time.Second, MaxAttempts: 2}
}

type Generator struct {
	bootstrap LLMCaller
	refine    LLMCaller
	cfg       Config
	log       *logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
}

type Option func(*Generator)

func WithLogger(l *logging.Logger) Option   { return func(g *Generator) { g.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(g *Generator) { g.metrics = m } }
func WithClock(now func() time.Time) Option { return func(g *Generator) { g.now = now } }

// New builds a Generator. Either caller may be nil; calls needing it then fail with
// ErrGeneration.
func New(bootstrap, refine LLMCaller, cfg Config, opts ...Option) *Generator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	g := &Generator{
		bootstrap: bootstrap,
		refine:    refine,
		cfg:       cfg,
		log:       logging.Nop(),
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Bootstrap asks provider A for a complete Record for topic.
func (g *Generator) Bootstrap(ctx context.Context, topic string) (idf.Record, error) {
	topic = strings.TrimSpace(topic)
	raw, err := g.call(ctx, g.bootstrap, "bootstrap", bootstrapPrompt(topic, g.now()), attribute.Int("topic.length", len(topic)))
	if err != nil {
		return idf.Record{}, err
	}
	rec, err := parseRecord(raw)
	if err != nil {
		g.log.Warn("bootstrap response unusable", "error", err, "response_bytes", len(raw))
		return idf.Record{}, &GenerationError{Provider: g.bootstrap.Provider(), Op: "bootstrap", Class: failureParse.String(), Attempts: 1, Err: err}
	}
	return rec, nil
}

// RefineField asks provider B for a new value of one field and returns the raw text. The
// caller decodes it for the field's shape. sources are optional reference URLs.
func (g *Generator) RefineField(ctx context.Context, topic, path, currentValue string, sources ...string) (string, error) {
	canonical, err := idf.CanonicalPath(path)
	if err != nil {
		return "", err
	}
	shape, err := idf.ShapeOf(canonical)
	if err != nil {
		return "", err
	}
	prompt, err := refinePrompt(strings.TrimSpace(topic), canonical, currentValue, shape, sources)
	if err != nil {
		return "", err
	}
	return g.call(ctx, g.refine, "refine", prompt, attribute.String("field", canonical))
}

// RefineCandidates produces n successive refinements, each seeded with the previous one.
// Candidates produced before a failure are returned together with the error.
func (g *Generator) RefineCandidates(ctx context.Context, topic, path, currentValue string, n int, sources ...string) ([]string, error) {
	if n < 1 {
		n = 1
	}
	out := make([]string, 0, n)
	seed := currentValue
	for i := 0; i < n; i++ {
		cand, err := g.RefineField(ctx, topic, path, seed, sources...)
		if err != nil {
			return out, err
		}
		out = append(out, cand)
		seed = cand
	}
	return out, nil
}

// call runs one provider request under the configured timeout, retrying transient
// failures up to MaxAttempts.
func (g *Generator) call(ctx context.Context, caller LLMCaller, op, prompt string, attrs ...attribute.KeyValue) (string, error) {
	if caller == nil {
		return "", &GenerationError{Provider: "unconfigured", Op: op, Class: failureClient.String(), Err: ErrMissingAPIKey}
	}
	provider := caller.Provider()
	ctx, span := tracing.Start(ctx, "generate."+op, append(attrs, attribute.String("provider", provider))...)
	var err error
	defer func() { tracing.End(span, err) }()

	var raw string
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		raw, err = g.attempt(ctx, caller, prompt)
		g.metrics.ObserveProvider(provider, op, start, err)
		if err == nil {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				err = &GenerationError{Provider: provider, Op: op, Class: failureEmpty.String(), Attempts: attempt, Err: errors.New("empty response")}
				return "", err
			}
			g.log.Debug("provider call done", "provider", provider, "op", op, "attempt", attempt, "elapsed_ms", time.Since(start).Milliseconds())
			return raw, nil
		}
		class := classifyTransportError(err)
		if ctx.Err() != nil {
			class = failureTimeout
		}
		g.log.Warn("provider call failed", "provider", provider, "op", op, "attempt", attempt, "class", class.String(), "error", err)
		if !class.transient() || attempt == g.cfg.MaxAttempts || ctx.Err() != nil {
			err = &GenerationError{Provider: provider, Op: op, Class: class.String(), Attempts: attempt, Err: err}
			return "", err
		}
		if serr := g.sleep(ctx, backoffDelay(attempt)); serr != nil {
			err = &GenerationError{Provider: provider, Op: op, Class: failureTimeout.String(), Attempts: attempt, Err: serr}
			return "", err
		}
	}
	err = &GenerationError{Provider: provider, Op: op, Class: failureServer.String(), Attempts: g.cfg.MaxAttempts, Err: errors.New("no attempts made")}
	return "", err
}

func (g *Generator) attempt(ctx context.Context, caller LLMCaller, prompt string) (string, error) {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}
	return caller.Generate(ctx, prompt)
}

// parseRecord decodes the bootstrap object, tolerating code fences and surrounding chatter.
func parseRecord(raw string) (idf.Record, error) {
	clean := stripCodeFences(raw)
	var rec idf.Record
	err := json.Unmarshal([]byte(clean), &rec)
	if err == nil {
		return rec, nil
	}
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start < 0 || end <= start {
		return idf.Record{}, fmt.Errorf("no JSON object in response: %w", err)
	}
	var rec2 idf.Record
	if err2 := json.Unmarshal([]byte(clean[start:end+1]), &rec2); err2 != nil {
		return idf.Record{}, fmt.Errorf("parse record: %w", err2)
	}
	return rec2, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}
