// Package mock provides an in-memory implementation of [genai.Generator]
// for use in unit tests.
//
// Responses are served from an exported Script in call order (the last
// entry repeats), or computed by Fn when set. Every request is recorded so
// tests can assert on prompt contents.
package mock

import (
	"context"
	"sync"

	"github.com/livetranscripts/livetranscripts/pkg/provider/genai"
)

// Outcome is one scripted Generate result.
type Outcome struct {
	// Response is returned when Err is nil.
	Response genai.Response

	// Err, when set, is returned instead of Response.
	Err error
}

// Generator is a mock implementation of [genai.Generator].
type Generator struct {
	mu sync.Mutex

	// ModelID is returned by Model. Defaults to "mock" if empty.
	ModelID string

	// Script holds outcomes served in call order. When exhausted, the last
	// entry repeats. An empty script yields empty responses.
	Script []Outcome

	// Fn, when set, overrides Script entirely.
	Fn func(ctx context.Context, req genai.Request) (genai.Response, error)

	// Requests records all Generate invocations in order.
	Requests []genai.Request

	next int
}

// Ensure Generator implements the genai.Generator interface.
var _ genai.Generator = (*Generator)(nil)

// Generate implements [genai.Generator].
func (g *Generator) Generate(ctx context.Context, req genai.Request) (genai.Response, error) {
	g.mu.Lock()
	g.Requests = append(g.Requests, req)
	fn := g.Fn
	var out Outcome
	if fn == nil && len(g.Script) > 0 {
		i := min(g.next, len(g.Script)-1)
		out = g.Script[i]
		g.next++
	}
	g.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return genai.Response{}, err
	}
	if out.Err != nil {
		return genai.Response{}, out.Err
	}
	return out.Response, nil
}

// Model implements [genai.Generator].
func (g *Generator) Model() string {
	if g.ModelID == "" {
		return "mock"
	}
	return g.ModelID
}

// CallCount returns how many times Generate was called.
func (g *Generator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Requests)
}

// LastRequest returns the most recent request, or a zero value if none.
func (g *Generator) LastRequest() genai.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Requests) == 0 {
		return genai.Request{}
	}
	return g.Requests[len(g.Requests)-1]
}
