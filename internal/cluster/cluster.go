package cluster

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"polyarb/internal/models"
)

// Embedder produces one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	BatchSize() int
}

// Clusterer groups markets by question similarity so the pairwise
// analyzer only looks inside clusters instead of at the full cross
// product of the catalog.
type Clusterer struct {
	embedder Embedder
	nEmbed   int
	cutoff   float64
	log      *zap.Logger
}

func New(embedder Embedder, nEmbed int, cutoff float64, log *zap.Logger) *Clusterer {
	if nEmbed <= 0 {
		nEmbed = 4
	}
	if cutoff <= 0 {
		cutoff = 0.45
	}
	return &Clusterer{embedder: embedder, nEmbed: nEmbed, cutoff: cutoff, log: log}
}

// Cluster partitions markets into similarity groups. Output is
// deterministic for a given input order: clusters are sorted by their
// smallest member index and members keep catalog order. Singleton
// clusters are dropped, they cannot produce a pair.
func (c *Clusterer) Cluster(ctx context.Context, markets []models.Market) ([][]models.Market, error) {
	if len(markets) < 2 {
		return nil, nil
	}

	texts := make([]string, len(markets))
	for i, m := range markets {
		texts[i] = embedText(m)
	}
	vectors, err := c.embedAll(ctx, texts)
	if err != nil {
		return nil, err
	}

	uf := newUnionFind(len(markets))
	for i := 0; i < len(markets); i++ {
		for j := i + 1; j < len(markets); j++ {
			if cosine(vectors[i], vectors[j]) >= c.cutoff {
				uf.union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := range markets {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}
	roots := make([]int, 0, len(groups))
	for root, members := range groups {
		if len(members) < 2 {
			continue
		}
		roots = append(roots, root)
	}
	sort.Slice(roots, func(a, b int) bool {
		return groups[roots[a]][0] < groups[roots[b]][0]
	})

	clusters := make([][]models.Market, 0, len(roots))
	for _, root := range roots {
		members := groups[root]
		cl := make([]models.Market, 0, len(members))
		for _, idx := range members {
			cl = append(cl, markets[idx])
		}
		clusters = append(clusters, cl)
	}
	c.log.Info("markets clustered",
		zap.Int("markets", len(markets)),
		zap.Int("clusters", len(clusters)))
	return clusters, nil
}

// embedAll splits texts into batches and embeds batches concurrently.
func (c *Clusterer) embedAll(ctx context.Context, texts []string) ([][]float64, error) {
	batchSize := c.embedder.BatchSize()
	if batchSize <= 0 {
		batchSize = 100
	}
	vectors := make([][]float64, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.nEmbed)
	for start := 0; start < len(texts); start += batchSize {
		start := start
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			batch, err := c.embedder.Embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// embedText is the canonical text for a market. Grouped outcomes carry
// the event title so "Yes" style sub-questions stay distinguishable.
func embedText(m models.Market) string {
	parts := []string{m.Question}
	if m.GroupTitle != "" && m.EventTitle != "" {
		parts = append(parts, m.EventTitle)
	}
	return strings.Join(parts, " | ")
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union attaches the larger root under the smaller so cluster roots are
// stable across runs.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra > rb {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
