package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/allaspectsdev/scoutman/internal/provider"
	"github.com/allaspectsdev/scoutman/internal/router"
	"github.com/allaspectsdev/scoutman/internal/upstream"
)

const anthropicVersion = "2023-06-01"

// defaultAnthropicMaxTokens is sent when the call leaves MaxTokens unset,
// since the messages API requires it.
const defaultAnthropicMaxTokens = 1024

// Anthropic calls the Anthropic messages API.
type Anthropic struct {
	name    string
	baseURL string
	apiKey  string
	client  *upstream.Client
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (a *Anthropic) Generate(ctx context.Context, call router.Call) (string, error) {
	maxTokens := call.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	var resp anthropicResponse
	err := a.client.Do(ctx, upstream.Request{
		Provider: a.name,
		URL:      a.baseURL + "/messages",
		Headers: map[string]string{
			"x-api-key":         a.apiKey,
			"anthropic-version": anthropicVersion,
		},
		Body: anthropicRequest{
			Model:       call.Model,
			System:      call.SystemPrompt,
			Messages:    []chatMessage{{Role: "user", Content: call.Prompt}},
			MaxTokens:   maxTokens,
			Temperature: call.Temperature,
		},
	}, &resp)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", provider.NewError(a.name, provider.KindEmpty, errors.New("no text content in response"))
	}
	return sb.String(), nil
}
