package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"polyarb/internal/client/httpx"
	"polyarb/internal/config"
	"polyarb/internal/models"
)

// Client fetches the market catalog from the Gamma REST API. Responses
// for a given tag set are cached briefly so repeated scans inside the
// TTL reuse one snapshot.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	pageLimit  int
	maxPages   int
	nSource    int
	log        *zap.Logger

	mu    sync.Mutex
	cache map[string]snapshot
	ttl   time.Duration
}

type snapshot struct {
	markets   []models.Market
	fetchedAt time.Time
}

func NewClient(cfg config.GammaConfig, rateCfg config.RateConfig, nSource int, log *zap.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://gamma-api.polymarket.com"
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = 200
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 25
	}
	if nSource <= 0 {
		nSource = 4
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
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries: rateCfg.MaxRetries,
		pageLimit:  pageLimit,
		maxPages:   maxPages,
		nSource:    nSource,
		log:        log,
		cache:      make(map[string]snapshot),
		ttl:        cfg.CacheTTL,
	}
}

// FetchMarkets returns open markets carrying any of the given tag slugs.
// A zero limit means no cap. The result is sorted by market ID so scan
// inputs are deterministic.
func (c *Client) FetchMarkets(ctx context.Context, tags []string, limit int) ([]models.Market, error) {
	key := cacheKey(tags)
	c.mu.Lock()
	if s, ok := c.cache[key]; ok && c.ttl > 0 && time.Since(s.fetchedAt) < c.ttl {
		cached := s.markets
		c.mu.Unlock()
		return capMarkets(cached, limit), nil
	}
	c.mu.Unlock()

	byID := make(map[string]models.Market)
	for _, tag := range tags {
		pages, err := c.fetchTagPages(ctx, tag)
		if err != nil {
			return nil, err
		}
		for _, m := range pages {
			if existing, ok := byID[m.ID]; ok {
				for t := range m.Tags {
					existing.Tags[t] = struct{}{}
				}
				byID[m.ID] = existing
				continue
			}
			byID[m.ID] = m
		}
	}

	markets := make([]models.Market, 0, len(byID))
	for _, m := range byID {
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })

	c.mu.Lock()
	c.cache[key] = snapshot{markets: markets, fetchedAt: time.Now()}
	c.mu.Unlock()

	c.log.Info("catalog fetched",
		zap.Strings("tags", tags),
		zap.Int("markets", len(markets)))
	return capMarkets(markets, limit), nil
}

// fetchTagPages walks the /markets pagination for one tag slug. Pages are
// requested in waves of nSource concurrent fetches; the walk stops at the
// first short page or after maxPages.
func (c *Client) fetchTagPages(ctx context.Context, tag string) ([]models.Market, error) {
	var all []models.Market
	for page := 0; page < c.maxPages; {
		wave := c.nSource
		if page+wave > c.maxPages {
			wave = c.maxPages - page
		}
		results := make([][]models.Market, wave)
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < wave; i++ {
			i := i
			offset := (page + i) * c.pageLimit
			g.Go(func() error {
				ms, err := c.fetchPage(gctx, tag, offset)
				if err != nil {
					return err
				}
				results[i] = ms
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		short := false
		for _, ms := range results {
			all = append(all, ms...)
			if len(ms) < c.pageLimit {
				short = true
			}
		}
		if short {
			return all, nil
		}
		page += wave
	}
	c.log.Warn("catalog pagination truncated",
		zap.String("tag", tag),
		zap.Int("max_pages", c.maxPages))
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, tag string, offset int) ([]models.Market, error) {
	q := url.Values{}
	q.Set("tag_slug", tag)
	q.Set("closed", "false")
	q.Set("active", "true")
	q.Set("limit", fmt.Sprintf("%d", c.pageLimit))
	q.Set("offset", fmt.Sprintf("%d", offset))

	body, err := c.doRequest(ctx, "/markets", q)
	if err != nil {
		return nil, err
	}
	raws, err := decodeMarketList(body)
	if err != nil {
		// A malformed page is skipped, not fatal: the scan continues on
		// whatever the remaining pages carry.
		c.log.Warn("skipping undecodable catalog page",
			zap.String("tag", tag),
			zap.Int("offset", offset),
			zap.Error(err))
		return nil, nil
	}
	out := make([]models.Market, 0, len(raws))
	for _, r := range raws {
		m, ok := r.toMarket(tag)
		if !ok {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// FetchTags returns the venue tag catalog, used to validate configured
// tag slugs before a scan.
func (c *Client) FetchTags(ctx context.Context) ([]models.TagInfo, error) {
	q := url.Values{}
	q.Set("limit", "500")
	body, err := c.doRequest(ctx, "/tags", q)
	if err != nil {
		return nil, err
	}
	var raws []rawTag
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, models.NewScanError(models.ErrSourceFormat, "decode gamma tags", err)
	}
	out := make([]models.TagInfo, 0, len(raws))
	for _, t := range raws {
		if t.Slug == "" {
			continue
		}
		out = append(out, models.TagInfo{ID: t.ID.String(), Label: t.Label, Slug: t.Slug})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	var body []byte
	err := httpx.DoWithRetry(ctx, c.limiter, c.maxRetries, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return httpx.Retryable(err)
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return httpx.Retryable(err)
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("gamma %s: status %d: %s", path, resp.StatusCode, truncate(string(b), 200))
			if httpx.TransientStatus(resp.StatusCode) {
				return httpx.Retryable(err)
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, models.NewScanError(models.ErrSourceUnavailable, "gamma request failed", err)
	}
	return body, nil
}

func cacheKey(tags []string) string {
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func capMarkets(ms []models.Market, limit int) []models.Market {
	if limit > 0 && len(ms) > limit {
		return ms[:limit]
	}
	return ms
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
