package clob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"polyarb/internal/client/httpx"
	"polyarb/internal/config"
	"polyarb/internal/models"
)

// Client fetches order books from the CLOB REST API.
type Client struct {
	host       string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	nBook      int
	log        *zap.Logger
}

func NewClient(cfg config.ClobRESTConfig, rateCfg config.RateConfig, nBook int, log *zap.Logger) *Client {
	host := strings.TrimRight(cfg.BaseURL, "/")
	if host == "" {
		host = "https://clob.polymarket.com"
	}
	if nBook <= 0 {
		nBook = 8
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
		host:       host,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries: rateCfg.MaxRetries,
		nBook:      nBook,
		log:        log,
	}
}

// GetBook fetches one order book. After retries are exhausted it returns
// an empty book rather than an error so callers degrade to skipping the
// market instead of aborting the scan.
func (c *Client) GetBook(ctx context.Context, tokenID string) models.OrderBook {
	if tokenID == "" {
		return models.EmptyOrderBook(tokenID)
	}
	query := url.Values{}
	query.Set("token_id", tokenID)

	var body []byte
	err := httpx.DoWithRetry(ctx, c.limiter, c.maxRetries, func() error {
		b, err := c.doRequest(ctx, "/book", query)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		c.log.Warn("book fetch failed, using empty book",
			zap.String("token_id", tokenID),
			zap.Error(err))
		return models.EmptyOrderBook(tokenID)
	}
	book, err := parseOrderBook(tokenID, body)
	if err != nil {
		c.log.Warn("book parse failed, using empty book",
			zap.String("token_id", tokenID),
			zap.Error(err))
		return models.EmptyOrderBook(tokenID)
	}
	return book
}

// GetBooks fetches books for many tokens with a bounded worker pool.
// The result maps token ID to book; failed fetches map to empty books.
func (c *Client) GetBooks(ctx context.Context, tokenIDs []string) (map[string]models.OrderBook, error) {
	books := make([]models.OrderBook, len(tokenIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.nBook)
	for i, id := range tokenIDs {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			books[i] = c.GetBook(gctx, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, models.NewScanError(models.ErrCanceled, "book fetch pool", err)
	}
	out := make(map[string]models.OrderBook, len(tokenIDs))
	for i, id := range tokenIDs {
		out[id] = books[i]
	}
	return out, nil
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, httpx.Retryable(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, httpx.Retryable(err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("clob %s: status %d: %s", path, resp.StatusCode, truncate(string(body), 200))
		if httpx.TransientStatus(resp.StatusCode) {
			return nil, httpx.Retryable(err)
		}
		return nil, err
	}
	return body, nil
}

// sortBook normalizes level ordering: bids descending, asks ascending.
func sortBook(b *models.OrderBook) {
	sort.Slice(b.Bids, func(i, j int) bool {
		return b.Bids[i].Price.GreaterThan(b.Bids[j].Price)
	})
	sort.Slice(b.Asks, func(i, j int) bool {
		return b.Asks[i].Price.LessThan(b.Asks[j].Price)
	})
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
