package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"polyarb/internal/config"
	"polyarb/internal/models"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	rest        *resty.Client
	limiter     *rate.Limiter
	model       string
	temperature float64
	maxRetries  int
	log         *zap.Logger
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewClient(cfg config.LLMConfig, rateCfg config.RateConfig, log *zap.Logger) *Client {
	rest := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if key := os.Getenv(cfg.APIKeyEnv); key != "" {
		rest.SetAuthToken(key)
	}
	rps := rateCfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := rateCfg.Burst
	if burst <= 0 {
		burst = int(rps)
	}
	return &Client{
		rest:        rest,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxRetries:  rateCfg.MaxRetries,
		log:         log,
	}
}

// Complete sends one system+user exchange and returns the raw assistant
// text. Transient HTTP failures are retried with backoff.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	var out chatResponse
	var lastStatus int
	attempts := c.maxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
		resp, err := c.rest.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&out).
			Post("/chat/completions")
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			c.log.Warn("llm request error", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		lastStatus = resp.StatusCode()
		if resp.IsSuccess() {
			if len(out.Choices) == 0 {
				return "", models.NewScanError(models.ErrAnalyzerParseFailure, "llm returned no choices", nil)
			}
			return out.Choices[0].Message.Content, nil
		}
		if lastStatus != 429 && lastStatus < 500 {
			break
		}
		c.log.Warn("llm transient status", zap.Int("status", lastStatus), zap.Int("attempt", attempt))
	}
	msg := fmt.Sprintf("llm request failed with status %d", lastStatus)
	if out.Error != nil {
		msg += ": " + out.Error.Message
	}
	return "", models.NewScanError(models.ErrSourceUnavailable, msg, nil)
}
