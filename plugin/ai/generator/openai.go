package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/mindloop/plugin/ai/mindstate"
	"github.com/hrygo/mindloop/plugin/ai/retry"
)

// Config holds the generation API configuration.
type Config struct {
	Provider    string // openai, deepseek, ollama (all OpenAI compatible)
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Retry       retry.Config
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Provider:    "openai",
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		MaxTokens:   1024,
		Temperature: 0.8,
		Retry:       retry.DefaultConfig(),
	}
}

// OpenAIGenerator implements Generator on an OpenAI-compatible chat API.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    Config
}

// NewOpenAIGenerator creates a generator, applying defaults for unset values.
func NewOpenAIGenerator(cfg Config) *OpenAIGenerator {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = def.Temperature
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}
}

// Model returns the configured model name.
func (g *OpenAIGenerator) Model() string {
	return g.cfg.Model
}

func (g *OpenAIGenerator) request(ms *mindstate.Mindstate, message string, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    BuildMessages(ms, message),
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Stream:      stream,
	}
}

// Generate implements Generator. Transient API failures are retried.
func (g *OpenAIGenerator) Generate(ctx context.Context, ms *mindstate.Mindstate, message string) (*Generation, error) {
	start := time.Now()
	req := g.request(ms, message, false)

	var resp openai.ChatCompletionResponse
	err := retry.Do(ctx, retry.NewPolicy(g.cfg.Retry), "generator.generate", func(ctx context.Context) error {
		var err error
		resp, err = g.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete chat: %w", err)
	}

	model := resp.Model
	if model == "" {
		model = g.cfg.Model
	}
	return &Generation{
		Text:             resp.Choices[0].Message.Content,
		Model:            model,
		Latency:          time.Since(start),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Stream implements Generator. Opening the stream is retried; once tokens
// flow, a failure ends the stream with an error.
func (g *OpenAIGenerator) Stream(ctx context.Context, ms *mindstate.Mindstate, message string) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(tokens)

		req := g.request(ms, message, true)
		var stream *openai.ChatCompletionStream
		err := retry.Do(ctx, retry.NewPolicy(g.cfg.Retry), "generator.stream", func(ctx context.Context) error {
			var err error
			stream, err = g.client.CreateChatCompletionStream(ctx, req)
			return err
		})
		if err != nil {
			errs <- fmt.Errorf("failed to open chat stream: %w", err)
			return
		}
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					errs <- ctxErr
				} else {
					errs <- fmt.Errorf("chat stream interrupted: %w", err)
				}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			select {
			case tokens <- content:
			case <-ctx.Done():
				slog.Debug("chat stream cancelled by caller", "model", g.cfg.Model)
				errs <- ctx.Err()
				return
			}
		}
	}()

	return tokens, errs
}
