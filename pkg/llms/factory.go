package llms

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/acelabs/ace-go/pkg/core"
	"github.com/acelabs/ace-go/pkg/errors"
)

// NewLLM creates a new LLM instance based on the provided model ID.
// Anthropic model ids are used as-is; Ollama models take the form
// "ollama:<model_name>".
func NewLLM(apiKey string, modelID string) (core.LLM, error) {
	switch {
	case strings.HasPrefix(modelID, "ollama:"):
		parts := strings.SplitN(modelID, ":", 2)
		if parts[1] == "" {
			return nil, errors.New(errors.InvalidInput, "invalid Ollama model ID format, use 'ollama:<model_name>'")
		}
		return NewOllamaLLM("http://localhost:11434", parts[1])
	case strings.HasPrefix(modelID, "claude"):
		return NewAnthropicLLM(apiKey, anthropic.Model(modelID))
	default:
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "unsupported model ID"),
			errors.Fields{"model": modelID})
	}
}
