// Package trend scores posts by engagement rate and selects the ones worth replying to.
package trend

import (
	"math"
	"slices"
	"time"

	"github.com/TobiSchelling/xgrowth/internal/store"
)

// Calibration: this many weighted engagements per minute maps to 50 points.
const (
	referenceRate  = 5.0
	referenceScore = 50.0
	maxScore       = 100.0
)

// Weights multiply each engagement counter.
type Weights struct {
	Like   float64
	Repost float64
	Reply  float64
}

// DefaultWeights returns the standard like/repost/reply weighting.
func DefaultWeights() Weights {
	return Weights{Like: 1.0, Repost: 2.0, Reply: 1.5}
}

// Scorer computes trending scores.
type Scorer struct {
	weights Weights
	now     func() time.Time
}

// NewScorer creates a scorer. A zero Weights value uses the defaults.
func NewScorer(w Weights) *Scorer {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Scorer{weights: w, now: time.Now}
}

// WithClock replaces the scorer's clock and returns the scorer.
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Score returns a value in [0, 100] rounded to two decimals.
func (s *Scorer) Score(p store.Post) float64 {
	age := math.Max(s.now().Sub(p.CreatedAt).Minutes(), 1)
	weighted := float64(p.LikeCount)*s.weights.Like +
		float64(p.RepostCount)*s.weights.Repost +
		float64(p.ReplyCount)*s.weights.Reply
	rate := weighted / age
	score := math.Min(rate/referenceRate*referenceScore, maxScore)
	return math.Round(score*100) / 100
}

// RankAndFilter scores posts in place, sorts them by descending score and keeps
// those at or above minScore. When fewer than minCount pass but the pool holds
// at least minCount posts, the top minCount are returned regardless of score.
func (s *Scorer) RankAndFilter(posts []store.Post, minScore float64, minCount int) []store.Post {
	for i := range posts {
		posts[i].TrendingScore = s.Score(posts[i])
	}

	sorted := slices.Clone(posts)
	slices.SortStableFunc(sorted, func(a, b store.Post) int {
		switch {
		case a.TrendingScore > b.TrendingScore:
			return -1
		case a.TrendingScore < b.TrendingScore:
			return 1
		}
		return 0
	})

	var filtered []store.Post
	for _, p := range sorted {
		if p.TrendingScore >= minScore {
			filtered = append(filtered, p)
		}
	}

	if len(filtered) < minCount && len(sorted) >= minCount {
		return sorted[:minCount]
	}
	return filtered
}
