// Package gateway wraps a core.LLM with the reliability layer the
// learning loop needs: bounded retries with exponential backoff,
// per-call timeouts, and schema-enforced structured output with a
// single correction re-prompt.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/acelabs/ace-go/pkg/core"
	"github.com/acelabs/ace-go/pkg/errors"
	"github.com/acelabs/ace-go/pkg/llms"
	"github.com/acelabs/ace-go/pkg/logging"
)

// RetryConfig defines how transient provider failures are retried.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// BackoffMultiplier determines how long to wait between retries.
	BackoffMultiplier float64

	// InitialBackoff is the wait after the first failure. Defaults to
	// one second.
	InitialBackoff time.Duration
}

// Config tunes a Gateway.
type Config struct {
	Retry RetryConfig

	// CallTimeout bounds each individual provider call. Zero disables
	// the per-call timeout.
	CallTimeout time.Duration
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		Retry: RetryConfig{
			MaxAttempts:       3,
			BackoffMultiplier: 2.0,
		},
		CallTimeout: 2 * time.Minute,
	}
}

// Gateway is the sole path between the learning roles and a model
// provider. It never retries non-transient failures: a malformed
// response gets one correction re-prompt and then fails.
type Gateway struct {
	llm      core.LLM
	cfg      Config
	validate *validator.Validate
}

// New creates a Gateway around the given model.
func New(llm core.LLM, cfg Config) *Gateway {
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Retry.BackoffMultiplier <= 0 {
		cfg.Retry.BackoffMultiplier = 2.0
	}
	if cfg.Retry.InitialBackoff <= 0 {
		cfg.Retry.InitialBackoff = time.Second
	}
	return &Gateway{
		llm:      llm,
		cfg:      cfg,
		validate: validator.New(),
	}
}

// ModelID reports the wrapped model's id.
func (g *Gateway) ModelID() string {
	return g.llm.ModelID()
}

// Generate produces a free-text completion, retrying transient provider
// failures with exponential backoff.
func (g *Gateway) Generate(ctx context.Context, prompt string, options ...core.GenerateOption) (*core.LLMResponse, error) {
	logger := logging.GetLogger()
	ctx = logging.WithModelID(ctx, g.llm.ModelID())

	var lastErr error
	for attempt := 0; attempt < g.cfg.Retry.MaxAttempts; attempt++ {
		if err := errors.CheckContext(ctx, "generate"); err != nil {
			return nil, err
		}

		resp, err := g.generateOnce(ctx, prompt, options...)
		if err == nil {
			logger.PromptCompletion(ctx, prompt, resp.Content, tokenInfo(resp))
			return resp, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			return nil, err
		}
		logger.Warn(ctx, "transient generation failure (attempt %d/%d): %v",
			attempt+1, g.cfg.Retry.MaxAttempts, err)

		backoff := time.Duration(float64(g.cfg.Retry.InitialBackoff) *
			math.Pow(g.cfg.Retry.BackoffMultiplier, float64(attempt)))
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.Canceled, "context canceled during retry backoff")
		case <-time.After(backoff):
		}
	}

	return nil, errors.WithFields(
		errors.Wrap(lastErr, errors.ProviderUnavailable, "max retry attempts reached"),
		errors.Fields{
			"model":    g.llm.ModelID(),
			"attempts": g.cfg.Retry.MaxAttempts,
		})
}

func tokenInfo(resp *core.LLMResponse) *logging.TokenInfo {
	if resp.Usage == nil {
		return nil
	}
	return &logging.TokenInfo{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
}

func (g *Gateway) generateOnce(ctx context.Context, prompt string, options ...core.GenerateOption) (*core.LLMResponse, error) {
	if g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}

	resp, err := g.llm.Generate(ctx, prompt, options...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(err, errors.Timeout, "provider call timed out")
		}
		return nil, err
	}
	return resp, nil
}

// GenerateStructured produces a completion decoded into out, which must
// be a pointer to a struct with validator tags. A response that fails
// decoding or validation earns exactly one correction re-prompt carrying
// the violation; a second failure returns InvalidResponse.
func (g *Gateway) GenerateStructured(ctx context.Context, prompt string, out interface{}, options ...core.GenerateOption) error {
	logger := logging.GetLogger()

	resp, err := g.Generate(ctx, prompt, options...)
	if err != nil {
		return err
	}

	schemaErr := g.decode(resp.Content, out)
	if schemaErr == nil {
		return nil
	}

	logger.Warn(ctx, "schema violation, issuing correction re-prompt: %v", schemaErr)

	correction := fmt.Sprintf(
		"%s\n\nYour previous response was invalid: %v\n\nPrevious response:\n%s\n\nRespond again with ONLY a valid JSON object matching the required schema.",
		prompt, schemaErr, resp.Content)

	resp, err = g.Generate(ctx, correction, options...)
	if err != nil {
		return err
	}
	if err := g.decode(resp.Content, out); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.InvalidResponse, "response failed schema validation after correction"),
			errors.Fields{"model": g.llm.ModelID()})
	}
	return nil
}

func (g *Gateway) decode(content string, out interface{}) error {
	cleaned := llms.StripCodeFences(content)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return errors.Wrap(err, errors.InvalidResponse, "response is not valid JSON")
	}
	if err := g.validate.Struct(out); err != nil {
		return errors.Wrap(err, errors.InvalidResponse, "response violates schema constraints")
	}
	return nil
}
