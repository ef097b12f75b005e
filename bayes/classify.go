package bayes

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// Classify ranks the known categories for text, best first.
//
// A category's score is the sum, over the non-blacklisted tokens of text, of
// the token's count in the category divided by the category total. Only
// finite scores above zero are ranked. Equal scores keep the order the store
// lists categories in. The ranking is paginated by skipping offset entries
// and then returning at most limit-1 entries; a non-positive limit means
// DefaultLimit and a negative offset is treated as zero.
//
// No training data, or no matching tokens, yields an empty slice rather than
// an error.
func (c *Classifier) Classify(ctx context.Context, text string, limit, offset int) (results []Result, err error) {
	defer observe("classify", time.Now(), &err)

	ranked, err := c.rank(ctx, "classify", text)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	return paginate(ranked, limit, offset), nil
}

// Scores returns every positive category score for text, unpaginated.
func (c *Classifier) Scores(ctx context.Context, text string) (scores map[string]float64, err error) {
	defer observe("score", time.Now(), &err)

	ranked, err := c.rank(ctx, "score", text)
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	scores = make(map[string]float64, len(ranked))
	for _, r := range ranked {
		scores[r.Category] = r.Score
	}
	return scores, nil
}

func (c *Classifier) rank(ctx context.Context, op, text string) ([]Result, error) {
	tokens := c.tokens(op, text, false)

	categories, err := c.store.Keys(ctx, c.sets)
	if err != nil {
		return nil, err
	}
	if len(categories) == 0 || len(tokens) == 0 {
		return []Result{}, nil
	}

	totals, err := c.store.MultiGet(ctx, c.sets, categories)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(tokens)*len(categories))
	for _, token := range tokens {
		for _, category := range categories {
			keys = append(keys, setKey(token, category))
		}
	}
	inSet, err := c.store.MultiGet(ctx, c.words, keys)
	if err != nil {
		return nil, err
	}
	if c.debug {
		for _, key := range keys {
			c.debugf("%s: %d", key, inSet[key])
		}
	}

	blacklisted, err := c.store.MultiGet(ctx, c.blacklist, tokens)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(categories))
	for _, category := range categories {
		if category == "" {
			continue
		}
		total := totals[category]

		var score float64
		for _, token := range tokens {
			if _, skip := blacklisted[token]; skip {
				continue
			}
			n := inSet[setKey(token, category)]
			if n > 0 && total > 0 {
				score += float64(n) / float64(total)
			}
		}

		if !math.IsInf(score, 0) && !math.IsNaN(score) && score > 0 {
			results = append(results, Result{Category: category, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

func paginate(results []Result, limit, offset int) []Result {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(results) {
		return []Result{}
	}

	// Compared against what is left so huge limits cannot overflow.
	end := len(results)
	if limit-1 < end-offset {
		end = offset + limit - 1
	}
	return results[offset:end]
}
