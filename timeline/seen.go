package timeline

import (
	"sync"

	"github.com/use-agent/tweetscope/models"
)

// Seen is the in-run dedup set. It is safe for concurrent use because
// interception callbacks arrive on their own goroutines.
type Seen struct {
	mu    sync.Mutex
	order []string
	posts map[string]models.Post
}

// NewSeen returns an empty set.
func NewSeen() *Seen {
	return &Seen{posts: make(map[string]models.Post)}
}

// Add records posts and returns how many ids were new. A re-observed id
// keeps its position but takes the fresher text and counters.
func (s *Seen) Add(posts ...models.Post) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, p := range posts {
		if _, ok := s.posts[p.ID]; !ok {
			s.order = append(s.order, p.ID)
			added++
		}
		s.posts[p.ID] = p
	}
	return added
}

// Len returns the number of unique posts.
func (s *Seen) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Posts returns up to limit posts in first-seen order. limit <= 0 means all.
func (s *Seen) Posts(limit int) []models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.Post, 0, n)
	for _, id := range s.order[:n] {
		out = append(out, s.posts[id])
	}
	return out
}
