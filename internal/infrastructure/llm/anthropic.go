package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

type promptFunc func(systemPrompt, userPrompt string, settings types.RequestSettings) (string, error)

// AnthropicClient implements ports.Summarizer through the llmkit Messages API wrapper.
type AnthropicClient struct {
	systemPrompt string
	settings     types.RequestSettings
	prompt       promptFunc
}

var _ ports.Summarizer = (*AnthropicClient)(nil)

// NewAnthropicClient builds a client from configuration.
func NewAnthropicClient(cfg config.SummarizerConfig) *AnthropicClient {
	apiKey := cfg.APIKey
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = defaultAnthropicModel
	}

	return &AnthropicClient{
		systemPrompt: safePrompt(cfg.SystemPrompt),
		settings: types.RequestSettings{
			Model:       model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		},
		prompt: func(systemPrompt, userPrompt string, settings types.RequestSettings) (string, error) {
			response, err := anthropic.PromptWithSettings(systemPrompt, userPrompt, "", apiKey, settings)
			if err != nil {
				return "", err
			}
			if len(response.Content) == 0 {
				return "", errors.New("no content in response")
			}
			return response.Content[0].Text, nil
		},
	}
}

type promptResult struct {
	text string
	err  error
}

// Summarize sends one prompt. llmkit calls take no context, so a cancelled ctx returns
// immediately while the request finishes in the background.
func (c *AnthropicClient) Summarize(ctx context.Context, title, text string) (string, error) {
	done := make(chan promptResult, 1)
	go func() {
		out, err := c.prompt(c.systemPrompt, userPrompt(title, text), c.settings)
		done <- promptResult{text: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("anthropic: %w", classifyAnthropicError(res.err))
		}
		return strings.TrimSpace(res.text), nil
	}
}

var (
	statusCodePattern = regexp.MustCompile(`\bstatus(?: code)?:?\s*(\d{3})\b`)
	permanentMarkers  = []string{"invalid_request", "authentication", "permission", "invalid x-api-key", "not_found"}
)

// classifyAnthropicError maps llmkit's string errors onto the adapter taxonomy. The HTTP
// status named in the message wins over keywords; unknown errors stay transient.
func classifyAnthropicError(err error) error {
	msg := strings.ToLower(err.Error())
	if m := statusCodePattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		if code == http.StatusRequestTimeout || code == http.StatusTooEarly || code == http.StatusTooManyRequests || code >= 500 {
			return domain.Transient(err)
		}
		if code >= 400 {
			return domain.Permanent(err)
		}
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return domain.Permanent(err)
		}
	}
	return domain.Transient(err)
}
