package generate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

var (
	ErrGeneration    = errors.New("generation failed")
	ErrNotRefinable  = errors.New("field has no refine guidance")
	ErrMissingAPIKey = errors.New("api key not configured")
)

type failureClass int

const (
	failureNone failureClass = iota
	failureParse
	failureEmpty
	failureTimeout
	failureRateLimit
	failureServer
	failureClient
)

func (c failureClass) String() string {
	switch c {
	case failureParse:
		return "parse"
	case failureEmpty:
		return "empty"
	case failureTimeout:
		return "timeout"
	case failureRateLimit:
		return "rate_limit"
	case failureServer:
		return "server"
	case failureClient:
		return "client"
	default:
		return "none"
	}
}

// transient classes are retried when retries are enabled.
func (c failureClass) transient() bool {
	return c == failureTimeout || c == failureRateLimit || c == failureServer
}

// GenerationError is returned for any provider failure: transport, non-success status or a
// response envelope that could not be used.
type GenerationError struct {
	Provider string
	Op       string
	Class    string
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s %s failed (%s, %d attempt(s)): %v", e.Provider, e.Op, e.Class, e.Attempts, e.Err)
}

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

func (e *GenerationError) Unwrap() error { return e.Err }

func classifyTransportError(err error) failureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	if status := statusCode(err); status != 0 {
		switch {
		case status == 429:
			return failureRateLimit
		case status >= 500:
			return failureServer
		case status >= 400:
			return failureClient
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"):
		return failureRateLimit
	case strings.Contains(msg, "status code: 5") || strings.Contains(msg, "server error"):
		return failureServer
	case strings.Contains(msg, "status code: 4"):
		return failureClient
	default:
		return failureServer
	}
}

func statusCode(err error) int {
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	var oe *openai.APIError
	if errors.As(err, &oe) {
		return oe.HTTPStatusCode
	}
	var re *openai.RequestError
	if errors.As(err, &re) {
		return re.HTTPStatusCode
	}
	return 0
}

func backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	return 2 * time.Second
}
