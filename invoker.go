package rowbatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// GenAIInvoker calls Gemini through the Google GenAI client.
type GenAIInvoker struct {
	client *genai.Client
	log    *slog.Logger
	cfg    generateConfig
	config *genai.GenerateContentConfig
}

// NewGenAIInvoker validates the generation options and returns an invoker.
func NewGenAIInvoker(client *genai.Client, log *slog.Logger, opts ...GenerateOption) (*GenAIInvoker, error) {
	if client == nil {
		return nil, fmt.Errorf("client not initialized")
	}
	if log == nil {
		log = slog.Default()
	}

	cfg := generateConfig{
		ModelName:  DefaultModel,
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultBackoff,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModel
	}

	config, err := cfg.contentConfig()
	if err != nil {
		return nil, err
	}
	return &GenAIInvoker{client: client, log: log, cfg: cfg, config: config}, nil
}

// Model returns the model name requests are sent to.
func (g *GenAIInvoker) Model() string { return g.cfg.ModelName }

// Generate sends prompt as a single user turn. Throttling and gateway
// failures are retried with exponential backoff inside ctx's deadline.
func (g *GenAIInvoker) Generate(ctx context.Context, prompt string) (*Response, error) {
	g.log.Debug("Generating content", "model", g.cfg.ModelName, "prompt_length", len(prompt), "web_search", g.cfg.WebSearch)

	var resp *genai.GenerateContentResponse
	err := retryable(ctx, func() error {
		var err error
		resp, err = g.client.Models.GenerateContent(ctx, g.cfg.ModelName, genai.Text(prompt), g.config)
		return err
	}, isRetryableStatus, g.cfg.MaxRetries, g.cfg.Backoff, g.log)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	out := responseOf(resp)
	if strings.TrimSpace(out.Text) == "" {
		g.log.Debug("No text in response")
		return nil, ErrEmptyResponse
	}
	g.log.Debug("Generated content successfully", "response_length", len(out.Text))
	return out, nil
}

// responseOf joins the text parts of the first candidate and keeps its
// search grounding.
func responseOf(resp *genai.GenerateContentResponse) *Response {
	out := &Response{}
	if resp == nil || len(resp.Candidates) == 0 {
		return out
	}
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		var sb strings.Builder
		for _, part := range candidate.Content.Parts {
			if part != nil && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
		out.Text = sb.String()
	}

	if md := candidate.GroundingMetadata; md != nil {
		g := &Grounding{Queries: md.WebSearchQueries}
		for _, chunk := range md.GroundingChunks {
			if chunk == nil || chunk.Web == nil {
				continue
			}
			g.Sources = append(g.Sources, Source{URI: chunk.Web.URI, Title: chunk.Web.Title})
		}
		if len(g.Queries) > 0 || len(g.Sources) > 0 {
			out.Grounding = g
		}
	}
	return out
}

func isRetryableStatus(err error) bool {
	var code int
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		return false
	}
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
