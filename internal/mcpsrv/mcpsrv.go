// Package mcpsrv exposes the indexed corpus to MCP agent clients.
//
// The server speaks the Model Context Protocol over stdio using the official
// Go SDK and advertises two tools: search_records for ranked retrieval and
// ask_corpus for full question answering with source attributions. It is
// enabled by the mcp.enabled configuration flag and runs alongside the HTTP
// API, sharing the same application instance.
package mcpsrv

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/clinvox/clinvox/internal/app"
)

const (
	toolSearchRecords = "search_records"
	toolAskCorpus     = "ask_corpus"
)

// Server is an MCP stdio server over the application façade.
type Server struct {
	app *app.App
	srv *mcpsdk.Server
}

// New creates a Server with both corpus tools registered.
func New(a *app.App) *Server {
	s := &Server{app: a}

	srv := mcpsdk.NewServer(
		&mcpsdk.Implementation{Name: "clinvox", Version: "1.0.0"},
		nil,
	)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name: toolSearchRecords,
		Description: "Semantic search over indexed clinical recordings and documents. " +
			"Returns ranked excerpts with patient metadata. Queries are expected in Spanish.",
	}, s.handleSearchRecords)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name: toolAskCorpus,
		Description: "Answer a clinical question from the indexed corpus, with source " +
			"attributions and a confidence score. Queries are expected in Spanish.",
	}, s.handleAskCorpus)

	s.srv = srv
	return s
}

// Run serves MCP over stdin/stdout until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	if err := s.srv.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcpsrv: serve stdio: %w", err)
	}
	return nil
}

// searchArgs are the arguments of the search_records tool.
type searchArgs struct {
	Query string `json:"query" jsonschema:"search text, in Spanish"`
	K     int    `json:"k,omitempty" jsonschema:"maximum number of results, 1-20, default 5"`
}

type searchHit struct {
	SourceID    string  `json:"source_id"`
	Kind        string  `json:"kind"`
	PatientName string  `json:"patient_name,omitempty"`
	Diagnosis   string  `json:"diagnosis,omitempty"`
	Date        string  `json:"date,omitempty"`
	Score       float64 `json:"score"`
	Excerpt     string  `json:"excerpt,omitempty"`
}

type searchOutput struct {
	Hits []searchHit `json:"hits"`
}

func (s *Server) handleSearchRecords(ctx context.Context, _ *mcpsdk.CallToolRequest, args searchArgs) (*mcpsdk.CallToolResult, searchOutput, error) {
	hits, err := s.app.Search(ctx, app.SearchRequest{Query: args.Query, K: args.K})
	if err != nil {
		return nil, searchOutput{}, err
	}

	out := searchOutput{Hits: make([]searchHit, 0, len(hits))}
	for _, h := range hits {
		out.Hits = append(out.Hits, searchHit{
			SourceID:    h.SourceID,
			Kind:        string(h.Kind),
			PatientName: h.PatientName,
			Diagnosis:   h.Diagnosis,
			Date:        h.Date,
			Score:       h.Score,
			Excerpt:     h.Excerpt,
		})
	}

	res := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: fmt.Sprintf("found %d result(s)", len(hits))},
		},
	}
	return res, out, nil
}

// askArgs are the arguments of the ask_corpus tool.
type askArgs struct {
	Query string `json:"query" jsonschema:"question to answer from the corpus, in Spanish"`
}

type askSource struct {
	ID        string  `json:"conversation_id"`
	Kind      string  `json:"kind"`
	Relevance float64 `json:"relevance_score"`
	Excerpt   string  `json:"excerpt,omitempty"`
	Date      string  `json:"date,omitempty"`
}

type askOutput struct {
	Answer     string      `json:"answer"`
	Confidence float64     `json:"confidence"`
	Intent     string      `json:"intent"`
	Sources    []askSource `json:"sources,omitempty"`
}

func (s *Server) handleAskCorpus(ctx context.Context, _ *mcpsdk.CallToolRequest, args askArgs) (*mcpsdk.CallToolResult, askOutput, error) {
	ans, err := s.app.Chat(ctx, app.ChatRequest{Query: args.Query, IncludeSources: true})
	if err != nil {
		return nil, askOutput{}, err
	}

	out := askOutput{
		Answer:     ans.Text,
		Confidence: ans.Confidence,
		Intent:     string(ans.Intent),
		Sources:    make([]askSource, 0, len(ans.Sources)),
	}
	for _, src := range ans.Sources {
		out.Sources = append(out.Sources, askSource{
			ID:        src.ID,
			Kind:      string(src.Kind),
			Relevance: src.Relevance,
			Excerpt:   src.Excerpt,
			Date:      src.Date,
		})
	}

	res := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: ans.Text},
		},
	}
	return res, out, nil
}
