package tokenizer

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts prompt tokens so generation requests can be fitted into a
// provider's context window. Encodings are loaded once and cached.
type Tokenizer struct {
	cl100kOnce sync.Once
	cl100kEnc  *tiktoken.Tiktoken
	cl100kErr  error

	o200kOnce sync.Once
	o200kEnc  *tiktoken.Tiktoken
	o200kErr  error
}

// modelEncodings maps model name prefixes to a tiktoken encoding. Gemini and
// Llama-family models have no published tiktoken encoding; cl100k_base is a
// close enough approximation for budgeting.
var modelEncodings = map[string]string{
	"gpt-4o":       "o200k_base",
	"gpt-4.1":      "o200k_base",
	"o1":           "o200k_base",
	"o3":           "o200k_base",
	"gpt-4":        "cl100k_base",
	"gpt-3.5":      "cl100k_base",
	"claude":       "cl100k_base",
	"gemini":       "cl100k_base",
	"llama":        "cl100k_base",
	"mixtral":      "cl100k_base",
	"openai/gpt-4": "cl100k_base",
}

// New creates a new Tokenizer instance.
func New() *Tokenizer {
	return &Tokenizer{}
}

// GetEncoding returns the encoding name for the given model. The longest
// matching prefix wins; unknown models default to cl100k_base.
func (t *Tokenizer) GetEncoding(model string) string {
	lower := strings.ToLower(model)
	if enc, ok := modelEncodings[lower]; ok {
		return enc
	}

	best, bestLen := "cl100k_base", 0
	for prefix, enc := range modelEncodings {
		if strings.HasPrefix(lower, prefix) && len(prefix) > bestLen {
			best, bestLen = enc, len(prefix)
		}
	}
	return best
}

func (t *Tokenizer) getEncoder(model string) (*tiktoken.Tiktoken, error) {
	switch t.GetEncoding(model) {
	case "o200k_base":
		t.o200kOnce.Do(func() {
			t.o200kEnc, t.o200kErr = tiktoken.GetEncoding("o200k_base")
		})
		return t.o200kEnc, t.o200kErr
	default:
		t.cl100kOnce.Do(func() {
			t.cl100kEnc, t.cl100kErr = tiktoken.GetEncoding("cl100k_base")
		})
		return t.cl100kEnc, t.cl100kErr
	}
}

// CountTokens counts the tokens in text for the specified model. When the
// encoding cannot be loaded it falls back to Estimate.
func (t *Tokenizer) CountTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc, err := t.getEncoder(model)
	if err != nil {
		return Estimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// CountPrompt counts a system prompt plus user prompt as two chat messages,
// including the per-message framing overhead and reply priming.
func (t *Tokenizer) CountPrompt(model, system, prompt string) int {
	total := 3 // reply priming
	if system != "" {
		total += 4 + t.CountTokens(model, system)
	}
	total += 4 + t.CountTokens(model, prompt)
	return total
}

// Estimate approximates a token count at four characters per token.
func Estimate(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
