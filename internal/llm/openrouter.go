// Package llm adapts remote language models to the ingest.ClassificationService port.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/revrost/go-openrouter"
	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "google/gemini-2.0-flash-001"

const systemPrompt = "You are a precise curriculum analyst. Respond with a single JSON object and nothing else."

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openrouter.ChatCompletionRequest) (openrouter.ChatCompletionResponse, error)
}

// OpenRouter sends classification prompts through the OpenRouter chat API in JSON mode.
type OpenRouter struct {
	client chatCompleter
	model  string
	logger *zap.Logger
}

// NewOpenRouter creates an adapter for the given API key and model.
func NewOpenRouter(apiKey, model string, logger *zap.Logger) (*OpenRouter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openrouter api key is required")
	}
	return newOpenRouter(openrouter.NewClient(apiKey), model, logger), nil
}

func newOpenRouter(client chatCompleter, model string, logger *zap.Logger) *OpenRouter {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenRouter{client: client, model: model, logger: logger.Named("openrouter")}
}

// Classify implements ingest.ClassificationService.
func (o *OpenRouter) Classify(ctx context.Context, req ingest.ClassifyRequest) (ingest.ClassifyResponse, error) {
	request := openrouter.ChatCompletionRequest{
		Model: o.model,
		Messages: []openrouter.ChatCompletionMessage{
			{
				Role:    openrouter.ChatMessageRoleSystem,
				Content: openrouter.Content{Text: systemPrompt},
			},
			{
				Role:    openrouter.ChatMessageRoleUser,
				Content: openrouter.Content{Text: req.Prompt},
			},
		},
		ResponseFormat: &openrouter.ChatCompletionResponseFormat{
			Type: openrouter.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	response, err := o.client.CreateChatCompletion(ctx, request)
	if err != nil {
		if IsQuotaError(err) {
			return ingest.ClassifyResponse{}, fmt.Errorf("%w: %w", ingest.ErrQuotaExceeded, err)
		}
		return ingest.ClassifyResponse{}, fmt.Errorf("create completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return ingest.ClassifyResponse{}, errors.New("no completion choices returned")
	}

	raw := ExtractJSON(response.Choices[0].Message.Content.Text)
	o.logger.Debug("classification response",
		zap.String("kind", string(req.Kind)),
		zap.Int("bytes", len(raw)),
	)
	return ingest.ClassifyResponse{Raw: raw}, nil
}

var quotaMarkers = []string{"429", "rate limit", "resource_exhausted", "quota"}

// IsQuotaError reports whether err looks like a transient quota signal.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ingest.ErrQuotaExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// ExtractJSON trims markdown fences and surrounding prose from a model reply,
// returning the outermost JSON object when one is present.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	candidate := text[start : end+1]
	if json.Valid([]byte(candidate)) {
		return candidate
	}
	return text
}
