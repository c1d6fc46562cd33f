package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/pavelanni/mathtrainer/internal/llm/prompts"
	"github.com/pavelanni/mathtrainer/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when the model produces no usable choice.
var ErrEmptyResponse = errors.New("LLM returned no choices")

// GradeResult holds the LLM's assessment of a single answer.
type GradeResult struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
	Hint    string   `json:"hint"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client. An empty baseURL targets the OpenAI API;
// point it at an Ollama server's /v1 endpoint for local models.
func New(baseURL, apiKey, modelName string, variant prompts.PromptVariant) (*Client, error) {
	if variant == "" {
		variant = prompts.PromptStandard
	}
	if !prompts.IsValidVariant(string(variant)) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	if err := prompts.Load(prompts.Templates); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: variant,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Ping checks that the endpoint answers a model listing.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// GradeAnswer asks the model to score answer against the question's
// reference solution. Feedback is requested in the named language.
func (c *Client) GradeAnswer(ctx context.Context, question model.Question, answer, language string) (*GradeResult, error) {
	prompt, err := prompts.BuildGradePrompt(c.variant, question, answer, language)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM grading API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "model", c.model, "raw", raw)

	return parseGradeResult(raw)
}

func parseGradeResult(raw string) (*GradeResult, error) {
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")

	var result GradeResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &result); err != nil {
		return nil, fmt.Errorf("parse grading response: %w (raw: %s)", err, raw)
	}
	if math.IsNaN(result.Score) || math.IsInf(result.Score, 0) {
		return nil, fmt.Errorf("parse grading response: score is not a number (raw: %s)", raw)
	}
	result.Score = math.Max(0, math.Min(1, result.Score))

	reasons := result.Reasons[:0]
	for _, r := range result.Reasons {
		if r = strings.TrimSpace(r); r != "" {
			reasons = append(reasons, r)
		}
	}
	result.Reasons = reasons
	result.Hint = strings.TrimSpace(result.Hint)
	return &result, nil
}
