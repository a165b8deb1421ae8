package router

import "errors"

// errPromptTooLarge means the prompt alone exhausts the provider's context
// window. It skips the provider without counting a failure.
var errPromptTooLarge = errors.New("prompt exceeds context window")

// apply maps a request onto this provider's parameters.
func (l Limits) apply(req Request, counter TokenCounter) (Call, error) {
	call := Call{
		Model:        l.Model,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
	}

	if call.MaxTokens <= 0 {
		call.MaxTokens = l.DefaultMaxTokens
	}
	if call.MaxTokens <= 0 {
		call.MaxTokens = l.MaxTokens
	}
	if l.MaxTokens > 0 && call.MaxTokens > l.MaxTokens {
		call.MaxTokens = l.MaxTokens
	}

	if l.ContextWindow > 0 && counter != nil {
		room := l.ContextWindow - counter.CountPrompt(l.Model, req.SystemPrompt, req.Prompt)
		if room <= 0 {
			return Call{}, errPromptTooLarge
		}
		if call.MaxTokens <= 0 || call.MaxTokens > room {
			call.MaxTokens = room
		}
	}

	if l.MaxTemperature > 0 {
		if call.Temperature < l.MinTemperature {
			call.Temperature = l.MinTemperature
		}
		if call.Temperature > l.MaxTemperature {
			call.Temperature = l.MaxTemperature
		}
	}
	return call, nil
}
