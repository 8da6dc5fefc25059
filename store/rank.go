package store

import (
	"sort"

	"github.com/use-agent/tweetscope/models"
	"github.com/use-agent/tweetscope/simhash"
)

// nearDuplicateDistance is the largest simhash distance at which two
// posts are treated as the same content.
const nearDuplicateDistance = 3

// Score is the weighted engagement score of p.
func Score(p models.Post, w models.Weights) float64 {
	return float64(p.Likes)*w.Like +
		float64(p.Replies)*w.Reply +
		float64(p.Reposts)*w.Repost +
		float64(p.Quotes)*w.Quote
}

// Rank scores posts and orders them by score, newest first on equal
// scores, then by id so the order is total. limit <= 0 returns all.
func Rank(posts []models.Post, w models.Weights, limit int) []models.ScoredPost {
	w = w.OrDefault()
	scored := make([]models.ScoredPost, len(posts))
	for i, p := range posts {
		scored[i] = models.ScoredPost{Post: p, Score: Score(p, w)}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	if limit > 0 && limit < len(scored) {
		scored = scored[:limit]
	}
	return scored
}

// Distinct drops posts whose text is a near duplicate of a post ranked
// above them. ranked must already be in rank order.
func Distinct(ranked []models.ScoredPost, limit int) []models.ScoredPost {
	out := make([]models.ScoredPost, 0, len(ranked))
	for _, p := range ranked {
		dup := false
		if p.Fingerprint != 0 {
			for _, kept := range out {
				if kept.Fingerprint != 0 && simhash.Similar(p.Fingerprint, kept.Fingerprint, nearDuplicateDistance) {
					dup = true
					break
				}
			}
		}
		if dup {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
