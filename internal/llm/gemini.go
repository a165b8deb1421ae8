package llm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/allaspectsdev/scoutman/internal/provider"
	"github.com/allaspectsdev/scoutman/internal/router"
	"github.com/allaspectsdev/scoutman/internal/upstream"
)

// Gemini calls the Google Generative Language generateContent endpoint.
type Gemini struct {
	name    string
	baseURL string
	apiKey  string
	client  *upstream.Client
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (g *Gemini) Generate(ctx context.Context, call router.Call) (string, error) {
	req := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: call.Prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: call.MaxTokens,
			Temperature:     call.Temperature,
		},
	}
	if call.SystemPrompt != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: call.SystemPrompt}}}
	}

	var resp geminiResponse
	err := g.client.Do(ctx, upstream.Request{
		Provider: g.name,
		URL:      fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(call.Model)),
		Headers:  map[string]string{"x-goog-api-key": g.apiKey},
		Body:     req,
	}, &resp)
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		msg := "no candidates in response"
		if resp.PromptFeedback.BlockReason != "" {
			msg += ": blocked (" + resp.PromptFeedback.BlockReason + ")"
		}
		return "", provider.NewError(g.name, provider.KindEmpty, errors.New(msg))
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
