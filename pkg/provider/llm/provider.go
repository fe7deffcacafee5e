// Package llm defines the Provider interface for Large Language Model
// backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4, a
// local Ollama instance, or any backend reachable through any-llm) and
// exposes a uniform completion interface. The ingestion pipeline uses it to
// extract structured clinical data from transcripts; the query pipeline uses
// it to compose grounded answers. Both are single-shot request/response
// calls, so there is no streaming surface.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must propagate context cancellation promptly.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Provided as a
	// convenience; some providers return it directly rather than computing it
	// from the parts.
	TotalTokens int
}

// Request carries everything the LLM needs to produce a response. Callers
// should treat a zero-value request as invalid; at minimum Messages must be
// non-empty.
type Request struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history. If the provider does not natively support a
	// dedicated system prompt, implementors prepend it as a "system"-role
	// message.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0]. Lower
	// values produce more deterministic outputs. Clinical extraction runs at
	// low temperatures so that repeated runs agree.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// JSONOnly asks the provider to constrain the output to a single JSON
	// object. Providers without a native JSON mode ignore it; callers must
	// still validate the response body.
	JSONOnly bool
}

// Response is returned by Complete.
type Response struct {
	// Content is the full text of the model's reply.
	Content string

	// Usage contains token accounting for this request/response pair. May be
	// zero when the backend does not report usage.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use. Errors carry a
// clinerr.Kind so callers can distinguish rate limiting from provider
// outages.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// On success the Response is non-nil and Content carries the complete
	// assistant reply. Returns an error if the request fails or if ctx is
	// cancelled before the completion arrives.
	Complete(ctx context.Context, req Request) (*Response, error)
}
