package gamma

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func testClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		maxRetries: 0,
		pageLimit:  200,
		maxPages:   1,
		nSource:    1,
		log:        zap.NewNop(),
		cache:      make(map[string]snapshot),
	}
}

func TestFetchTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[
			{"id":2,"label":"Crypto","slug":"crypto"},
			{"id":"7","label":"Bitcoin","slug":"bitcoin"},
			{"id":9,"label":"broken"}
		]`))
	}))
	defer srv.Close()

	tags, err := testClient(srv.URL).FetchTags(context.Background())
	if err != nil {
		t.Fatalf("FetchTags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("tags = %+v", tags)
	}
	if tags[0].Slug != "bitcoin" || tags[0].ID != "7" {
		t.Fatalf("tags[0] = %+v", tags[0])
	}
	if tags[1].Slug != "crypto" || tags[1].Label != "Crypto" {
		t.Fatalf("tags[1] = %+v", tags[1])
	}
}

func TestFetchMarketsSkipsMalformedPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"this is not a market page"`))
	}))
	defer srv.Close()

	markets, err := testClient(srv.URL).FetchMarkets(context.Background(), []string{"crypto"}, 0)
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(markets) != 0 {
		t.Fatalf("markets = %+v", markets)
	}
}

func TestFetchTagsBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"oops":true}`))
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).FetchTags(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}
