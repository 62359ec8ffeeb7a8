package embed

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

// Client talks to an OpenAI-compatible embeddings endpoint.
type Client struct {
	rest       *resty.Client
	limiter    *rate.Limiter
	model      string
	batchSize  int
	maxRetries int
	log        *zap.Logger
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewClient(cfg config.EmbedConfig, rateCfg config.RateConfig, log *zap.Logger) *Client {
	rest := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if key := os.Getenv(cfg.APIKeyEnv); key != "" {
		rest.SetAuthToken(key)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
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
		rest:       rest,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		model:      cfg.Model,
		batchSize:  batch,
		maxRetries: rateCfg.MaxRetries,
		log:        log,
	}
}

// BatchSize is the maximum input count per request.
func (c *Client) BatchSize() int { return c.batchSize }

// Embed returns one vector per input text, in input order. Inputs longer
// than the batch size must be split by the caller.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > c.batchSize {
		return nil, fmt.Errorf("embed batch of %d exceeds limit %d", len(texts), c.batchSize)
	}

	var out embedResponse
	var lastStatus int
	attempts := c.maxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := c.rest.R().
			SetContext(ctx).
			SetBody(embedRequest{Model: c.model, Input: texts}).
			SetResult(&out).
			Post("/embeddings")
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("embed request error", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		lastStatus = resp.StatusCode()
		if resp.IsSuccess() {
			if len(out.Data) != len(texts) {
				return nil, models.NewScanError(models.ErrSourceFormat,
					fmt.Sprintf("embedding count %d does not match input %d", len(out.Data), len(texts)), nil)
			}
			vectors := make([][]float64, len(texts))
			for _, d := range out.Data {
				if d.Index < 0 || d.Index >= len(vectors) {
					return nil, models.NewScanError(models.ErrSourceFormat, "embedding index out of range", nil)
				}
				vectors[d.Index] = d.Embedding
			}
			return vectors, nil
		}
		if lastStatus != 429 && lastStatus < 500 {
			break
		}
		c.log.Warn("embed transient status", zap.Int("status", lastStatus), zap.Int("attempt", attempt))
	}
	msg := fmt.Sprintf("embed request failed with status %d", lastStatus)
	if out.Error != nil {
		msg += ": " + out.Error.Message
	}
	return nil, models.NewScanError(models.ErrSourceUnavailable, msg, nil)
}
