package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/inkwell/services/pipeline/resilience"
)

type OpenAIClient struct {
	client  *openai.Client
	limiter *rate.Limiter
}

// NewOpenAIClient builds a client from OPENAI_API_KEY (env or the mounted
// secret file). Requests are paced to avoid tripping provider rate limits
// before the circuit breaker has to.
func NewOpenAIClient(requestsPerSecond float64) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	slog.Info("Initializing OpenAI client", "requests_per_second", requestsPerSecond)
	return &OpenAIClient{
		client:  openai.NewClient(apiKey),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}, nil
}

func (o *OpenAIClient) Provider() string { return "openai" }

// Complete implements the Client interface.
func (o *OpenAIClient) Complete(ctx context.Context, model, system, prompt string, params Params) (Completion, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return Completion{}, err
	}

	slog.Debug("Generating text via OpenAI", "model", model)
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	if system != "" {
		messages = append([]openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
		}, messages...)
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices or empty content")
		return Completion{}, fmt.Errorf("OpenAI returned no choices")
	}

	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return Completion{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// classifyOpenAIError maps provider status codes onto the fault taxonomy so
// the retry layer can tell throttling and outages from bad requests.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("OpenAI API call failed: %w", err)
	}
	switch {
	case apiErr.HTTPStatusCode == 429:
		return fmt.Errorf("OpenAI: %w", resilience.ErrRateLimited)
	case apiErr.HTTPStatusCode >= 500:
		return resilience.MarkTransient(fmt.Errorf("OpenAI API call failed: %w", err))
	default:
		return fmt.Errorf("OpenAI API call failed: %w", err)
	}
}
