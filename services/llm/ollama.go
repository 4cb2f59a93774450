package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/inkwell/services/pipeline/resilience"
)

var tracer = otel.Tracer("inkwell.llm.ollama") // Specific tracer name

type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// Ollama API request structure
type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	CreatedAt       string `json:"created_at"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// NewOllamaClient builds a client for a local Ollama daemon from
// OLLAMA_BASE_URL.
func NewOllamaClient(requestsPerSecond float64) (*OllamaClient, error) {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("OLLAMA_BASE_URL environment variable not set")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if requestsPerSecond <= 0 {
		requestsPerSecond = 4
	}
	slog.Info("Initializing Ollama client", "base_url", baseURL)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}, nil
}

func (o *OllamaClient) Provider() string { return "ollama" }

// Complete implements the Client interface.
func (o *OllamaClient) Complete(ctx context.Context, model, system, prompt string, params Params) (Completion, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	if err := o.limiter.Wait(ctx); err != nil {
		return Completion{}, err
	}

	options := map[string]interface{}{}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}

	reqPayload := ollamaGenerateRequest{
		Model:   model,
		Prompt:  prompt,
		System:  system,
		Stream:  false,
		Options: options,
	}
	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		span.SetStatus(codes.Error, "marshal failed")
		return Completion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := o.baseURL + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return Completion{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("Sending request to Ollama", "model", model, "url", url)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "request failed")
		return Completion{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, "ollama server error")
		// A local daemon restarting is the common case here.
		return Completion{}, resilience.MarkTransient(
			fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes)))
	}
	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, "ollama error")
		return Completion{}, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp ollamaGenerateResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return Completion{}, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if apiResp.Response == "" {
		return Completion{}, fmt.Errorf("received empty response from Ollama")
	}

	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", apiResp.PromptEvalCount),
		attribute.Int("llm.completion_tokens", apiResp.EvalCount),
	)

	return Completion{
		Text:             apiResp.Response,
		PromptTokens:     apiResp.PromptEvalCount,
		CompletionTokens: apiResp.EvalCount,
	}, nil
}
