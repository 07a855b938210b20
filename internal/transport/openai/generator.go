package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/diagflow/internal/domain"
	"github.com/kailas-cloud/diagflow/internal/metrics"
)

// Generator runs structured generation over an OpenAI-compatible chat API.
// Sampling is deterministic (temperature 0) with a bounded output budget;
// model output is decoded into the caller's schema struct and never trusted
// beyond that decode.
type Generator struct {
	client     *openai.Client
	model      string
	maxTokens  int
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// GeneratorConfig holds the generation provider settings.
type GeneratorConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int
	Logger     *zap.Logger
}

// NewGenerator creates an OpenAI-compatible generation provider.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Generator{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: maxRetries,
		backoff:    500 * time.Millisecond,
		logger:     cfg.Logger,
	}
}

// Generate sends the instruction and payload to the model and decodes the
// JSON answer into out. Transport failures and unparseable output are
// retried up to the configured bound; after that the call fails with
// domain.ErrGenerationFailed. stage labels metrics only.
func (g *Generator) Generate(ctx context.Context, stage, instruction, payload string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.GenerationRetriesTotal.WithLabelValues(g.model, retryReason(lastErr)).Inc()
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", domain.ErrGenerationFailed, ctx.Err())
			case <-time.After(g.backoff * time.Duration(attempt)):
			}
		}

		err := g.generateOnce(ctx, stage, instruction, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		g.logger.Warn("Generation attempt failed",
			zap.String("stage", stage),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return fmt.Errorf("%w after %d attempts: %w", domain.ErrGenerationFailed, g.maxRetries+1, lastErr)
}

func (g *Generator) generateOnce(ctx context.Context, stage, instruction, payload string, out any) error {
	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0,
		MaxTokens:   g.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instruction},
			{Role: openai.ChatMessageRoleUser, Content: payload},
		},
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, stage, "error").Inc()
		return fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, stage, "error").Inc()
		return fmt.Errorf("%w: empty completion response", domain.ErrMalformedOutput)
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, stage, "malformed").Inc()
		return fmt.Errorf("%w: %v", domain.ErrMalformedOutput, err)
	}

	metrics.GenerationRequestsTotal.WithLabelValues(g.model, stage, "success").Inc()
	metrics.GenerationRequestDuration.WithLabelValues(g.model, stage).Observe(duration.Seconds())
	metrics.GenerationTokensTotal.WithLabelValues(g.model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.GenerationTokensTotal.WithLabelValues(g.model, "completion").Add(float64(resp.Usage.CompletionTokens))
	return nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (g *Generator) HealthCheck(ctx context.Context) error {
	if _, err := g.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// stripCodeFence tolerates models that wrap JSON in a markdown fence even
// in JSON mode.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func retryReason(err error) string {
	if errors.Is(err, domain.ErrMalformedOutput) {
		return "malformed"
	}
	return "transport"
}
