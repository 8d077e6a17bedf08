package rag

import "strings"

// SelectDiverse re-ranks a candidate pool with Maximal Marginal Relevance:
// each round picks the candidate maximizing
//
//	relevance(c)*(1-lambda) - lambda*maxSim(c, selected)
//
// where maxSim is the highest pairwise similarity to any already selected
// passage. lambda=0 degenerates to plain top-k by relevance, lambda=1
// maximizes dissimilarity. Ties break on original rank, so the output is
// fully deterministic for fixed inputs.
func SelectDiverse(candidates []Passage, topK int, lambda float64) []Passage {
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}
	if topK <= 0 || len(candidates) == 0 {
		return nil
	}
	if topK > len(candidates) {
		topK = len(candidates)
	}

	selected := make([]Passage, 0, topK)
	remaining := make([]int, len(candidates))
	for i := range candidates {
		remaining[i] = i
	}

	for len(selected) < topK {
		bestPos := -1
		bestScore := 0.0
		for pos, idx := range remaining {
			c := candidates[idx]
			maxSim := 0.0
			for _, s := range selected {
				if sim := passageSimilarity(c, s); sim > maxSim {
					maxSim = sim
				}
			}
			score := c.Score*(1-lambda) - lambda*maxSim
			// Strict comparison keeps the earliest-ranked candidate on ties.
			if bestPos == -1 || score > bestScore {
				bestPos = pos
				bestScore = score
			}
		}

		selected = append(selected, candidates[remaining[bestPos]])
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	return selected
}

// passageSimilarity prefers embedding cosine similarity and falls back to
// term overlap when either passage lacks an embedding (internet results do).
func passageSimilarity(a, b Passage) float64 {
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return CosineSimilarity(a.Embedding, b.Embedding)
	}
	return jaccard(termSet(a.Text), termSet(b.Text))
}

func termSet(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		terms[strings.Trim(f, ".,;:!?\"'()")] = struct{}{}
	}
	delete(terms, "")
	return terms
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
