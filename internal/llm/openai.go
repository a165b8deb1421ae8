package llm

import (
	"context"
	"errors"

	"github.com/allaspectsdev/scoutman/internal/provider"
	"github.com/allaspectsdev/scoutman/internal/router"
	"github.com/allaspectsdev/scoutman/internal/upstream"
)

// OpenAI calls an OpenAI-compatible chat completions endpoint. Groq and
// OpenRouter speak the same format.
type OpenAI struct {
	name    string
	baseURL string
	apiKey  string
	client  *upstream.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (o *OpenAI) Generate(ctx context.Context, call router.Call) (string, error) {
	var msgs []chatMessage
	if call.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: call.SystemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: call.Prompt})

	var resp chatResponse
	err := o.client.Do(ctx, upstream.Request{
		Provider: o.name,
		URL:      o.baseURL + "/chat/completions",
		Headers:  map[string]string{"Authorization": "Bearer " + o.apiKey},
		Body: chatRequest{
			Model:       call.Model,
			Messages:    msgs,
			MaxTokens:   call.MaxTokens,
			Temperature: call.Temperature,
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", provider.NewError(o.name, provider.KindEmpty, errors.New("no choices in response"))
	}
	return resp.Choices[0].Message.Content, nil
}
