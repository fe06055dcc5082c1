package ai

import (
	"context"
	"errors"
	"time"
)

// Runtime is implemented by text-generation backends such as OpenRouter and
// a local Ollama.
type Runtime interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// Pinger is implemented by runtimes that can report liveness cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Provider identifiers used across the CLI for selection.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderLocal      = "local"
)

var (
	// ErrNoRuntime means no text-generation backend is configured.
	ErrNoRuntime = errors.New("no text-generation runtime configured")
	// ErrEmptyResponse means the backend answered without content.
	ErrEmptyResponse = errors.New("empty response from runtime")
)

// Prompt is a single system+user exchange.
type Prompt struct {
	Model       string
	System      string
	User        string
	MaxTokens   int
	Temperature float64
	JSON        bool
	// Timeout bounds the whole call, retries included. Zero means ctx only.
	Timeout time.Duration
}

// Complete sends p to rt and returns the first choice's text.
func Complete(ctx context.Context, rt Runtime, p Prompt) (string, error) {
	if rt == nil {
		return "", ErrNoRuntime
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	var msgs []Message
	if p.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: p.System})
	}
	msgs = append(msgs, Message{Role: "user", Content: p.User})
	resp, err := rt.Generate(ctx, GenerateRequest{
		Model:       p.Model,
		Messages:    msgs,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		JSON:        p.JSON,
	})
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
