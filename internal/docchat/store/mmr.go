package store

import (
	"context"
	"math"

	"github.com/kart-io/docchat/internal/pkg/rag/textutil"
)

// MaxMarginalRelevance 从候选向量中选出 k 个，兼顾与查询的相关性和彼此之间的差异。
// lambda 为相关性权重，1 只看相关性，0 只看多样性。返回所选候选的下标，按选择顺序排列。
func MaxMarginalRelevance(query []float32, candidates [][]float32, k int, lambda float64) []int {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		relevance[i] = textutil.CosineSimilarity(query, c)
	}

	selected := make([]int, 0, k)
	used := make([]bool, len(candidates))
	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i, c := range candidates {
			if used[i] {
				continue
			}
			redundancy := 0.0
			if len(selected) > 0 {
				redundancy = math.Inf(-1)
				for _, j := range selected {
					if sim := textutil.CosineSimilarity(c, candidates[j]); sim > redundancy {
						redundancy = sim
					}
				}
			}
			score := lambda*relevance[i] - (1-lambda)*redundancy
			// 非有限向量得到 NaN，排在所有有效候选之后
			if math.IsNaN(score) {
				score = math.Inf(-1)
			}
			if best == -1 || score > bestScore {
				best, bestScore = i, score
			}
		}
		used[best] = true
		selected = append(selected, best)
	}
	return selected
}

// MMRSearch 先取 fetchK 个最近邻，再用 MMR 选出 k 个。
func MMRSearch(ctx context.Context, idx Index, vector []float32, k, fetchK int, lambda float64) ([]SearchResult, error) {
	if fetchK < k {
		fetchK = k
	}
	pool, err := idx.Search(ctx, vector, fetchK)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(pool))
	for i, r := range pool {
		vectors[i] = r.Chunk.Embedding
	}

	picked := MaxMarginalRelevance(vector, vectors, k, lambda)
	out := make([]SearchResult, 0, len(picked))
	for _, i := range picked {
		out = append(out, pool[i])
	}
	return out, nil
}
