package models

import (
	"fmt"
	"time"
)

// Post is one platform post extracted from a search timeline.
type Post struct {
	// ID is the platform-assigned id and the dedup key.
	ID string `json:"id"`

	Text         string    `json:"text"`
	AuthorHandle string    `json:"author_handle"`
	AuthorName   string    `json:"author_name"`
	CreatedAt    time.Time `json:"created_at"`

	Likes   int64 `json:"likes"`
	Replies int64 `json:"replies"`
	Reposts int64 `json:"reposts"`
	Quotes  int64 `json:"quotes"`

	// Lang is the platform language tag; empty when undetermined.
	Lang string `json:"lang,omitempty"`

	Permalink string `json:"permalink"`

	// QueryTag is the search query that produced the post.
	QueryTag string `json:"query_tag,omitempty"`

	// Fingerprint is the simhash of Text, used to collapse near-duplicates.
	Fingerprint uint64 `json:"-"`

	CollectedAt time.Time `json:"collected_at"`
}

// ScoredPost is a Post annotated with its weighted engagement score.
type ScoredPost struct {
	Post
	Score float64 `json:"score"`
}

// PermalinkFor builds the canonical status URL for a handle and id.
func PermalinkFor(handle, id string) string {
	return fmt.Sprintf("https://x.com/%s/status/%s", handle, id)
}

// Weights are the per-counter multipliers of the engagement score.
type Weights struct {
	Like   float64 `json:"like"`
	Reply  float64 `json:"reply"`
	Repost float64 `json:"repost"`
	Quote  float64 `json:"quote"`
}

// DefaultWeights favour replies over passive likes.
var DefaultWeights = Weights{Like: 1, Reply: 2, Repost: 1.5, Quote: 1.5}

// IsZero reports whether no weight is set.
func (w Weights) IsZero() bool {
	return w == Weights{}
}

// OrDefault returns w, or DefaultWeights when w is zero.
func (w Weights) OrDefault() Weights {
	if w.IsZero() {
		return DefaultWeights
	}
	return w
}

// Stats summarises the post store.
type Stats struct {
	Total          int64            `json:"total"`
	PerQueryCounts map[string]int64 `json:"per_query_counts"`
	PerAuthorTop   []AuthorCount    `json:"per_author_top"`
	LastRunAt      *time.Time       `json:"last_run_at,omitempty"`
}

// AuthorCount is one row of the most prolific authors list.
type AuthorCount struct {
	Handle string `json:"handle"`
	Count  int64  `json:"count"`
}
