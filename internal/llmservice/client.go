package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"

	"persona-rag/internal/config"
	"persona-rag/internal/models"
)

// Client sends rendered prompts to a language model. It is safe for
// concurrent use.
type Client struct {
	model       llms.Model
	name        string
	temperature float64
	timeout     time.Duration
	breaker     *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
}

// NewModel creates the langchaingo model selected by the config provider
func NewModel(ctx context.Context, cfg *config.LLMConfig) (llms.Model, error) {
	log.Debug().Interface("config", map[string]string{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating generation model")

	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)
	case "googleai":
		return googleai.New(ctx,
			googleai.WithAPIKey(cfg.Key),
			googleai.WithDefaultModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}
}

// New builds a Client for the configured provider
func New(ctx context.Context, cfg *config.LLMConfig) (*Client, error) {
	model, err := NewModel(ctx, cfg)
	if err != nil {
		return nil, models.NewError(models.KindConfiguration, "llmservice.New", err)
	}
	return NewWithModel(model, cfg), nil
}

// NewWithModel wraps an existing model with the config's timeout, rate
// limit and circuit breaker.
func NewWithModel(model llms.Model, cfg *config.LLMConfig) *Client {
	c := &Client{
		model:       model,
		name:        cfg.Provider + ":" + cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}
	if cfg.RatePerMinute > 0 {
		burst := max(cfg.RatePerMinute/10, 1)
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), burst)
	}
	if cfg.Breaker {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        c.name,
			MaxRequests: 1,
			Interval:    10 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Generation circuit breaker changed state")
			},
		})
	}
	return c
}

// Complete returns the model's answer to a single user prompt. Every
// failure, including an open breaker, is a generation failure.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", models.NewError(models.KindGeneration, "llmservice.Complete", err)
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	call := func() (string, error) {
		return c.generate(ctx, prompt)
	}
	var (
		text string
		err  error
	)
	if c.breaker != nil {
		var out any
		out, err = c.breaker.Execute(func() (any, error) { return call() })
		if err == nil {
			text = out.(string)
		}
	} else {
		text, err = call()
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			log.Warn().Str("model", c.name).Msg("Generation skipped, circuit breaker open")
		}
		return "", models.NewError(models.KindGeneration, "llmservice.Complete", err)
	}
	return text, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}
	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, messages, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	log.Debug().Str("model", c.name).Dur("elapsed", time.Since(start)).Int("prompt_len", len(prompt)).Msg("Generated content")
	return resp.Choices[0].Content, nil
}
