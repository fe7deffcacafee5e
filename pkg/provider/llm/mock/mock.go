// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that callers send correct Requests
// and to feed controlled responses without a live LLM backend. All fields
// are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Response: &llm.Response{Content: `{"nombre":"Ana"}`},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/clinvox/clinvox/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the Request passed to Complete.
	Req llm.Request
}

// Outcome is one scripted result for a Complete call.
type Outcome struct {
	// Response is returned when Err is nil.
	Response *llm.Response
	// Err, if non-nil, is returned instead of Response.
	Err error
}

// Provider is a mock implementation of llm.Provider.
// Zero values cause Complete to return nil, nil. Set Err to inject an error,
// or Queue to script a sequence of differing outcomes (used by retry tests).
type Provider struct {
	mu sync.Mutex

	// Queue is a scripted sequence of outcomes, consumed one per Complete
	// call. When the queue is exhausted, Response and Err apply.
	Queue []Outcome

	// Response is returned by Complete when the Queue is empty. May be nil.
	Response *llm.Response

	// Err, if non-nil, is returned as the error from Complete when the Queue
	// is empty.
	Err error

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns the next scripted outcome, or
// Response, Err once the queue is exhausted.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if len(p.Queue) > 0 {
		next := p.Queue[0]
		p.Queue = p.Queue[1:]
		if next.Err != nil {
			return nil, next.Err
		}
		return next.Response, nil
	}
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Response, nil
}

// CallCount returns the number of Complete calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// Reset clears all recorded calls and any unconsumed queue. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.Queue = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
