package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/tweetscope/cache"
	"github.com/use-agent/tweetscope/models"
	"github.com/use-agent/tweetscope/store"
)

// Posts is the read side of the post store.
type Posts interface {
	Search(ctx context.Context, text string, limit int) ([]models.ScoredPost, error)
	Latest(ctx context.Context, limit int, author string, w models.Weights) ([]models.ScoredPost, error)
	ByQueryTag(ctx context.Context, tag string, limit int, w models.Weights) ([]models.ScoredPost, error)
	Top(ctx context.Context, opts store.TopOptions) ([]models.ScoredPost, error)
	Stats(ctx context.Context) (models.Stats, error)
	Ping(ctx context.Context) error
}

// listQuery holds the query parameters shared by the post list endpoints.
type listQuery struct {
	Limit   int     `form:"limit" binding:"omitempty,min=1,max=200"`
	WLike   float64 `form:"w_like" binding:"omitempty,min=0"`
	WReply  float64 `form:"w_reply" binding:"omitempty,min=0"`
	WRepost float64 `form:"w_repost" binding:"omitempty,min=0"`
	WQuote  float64 `form:"w_quote" binding:"omitempty,min=0"`
}

func (q listQuery) weights() models.Weights {
	return models.Weights{Like: q.WLike, Reply: q.WReply, Repost: q.WRepost, Quote: q.WQuote}
}

type searchQuery struct {
	Q     string `form:"q" binding:"required,max=200"`
	Limit int    `form:"limit" binding:"omitempty,min=1,max=200"`
}

type latestQuery struct {
	listQuery
	Author string `form:"author" binding:"omitempty,max=64"`
}

type topQuery struct {
	listQuery
	Query    string `form:"query" binding:"omitempty,max=200"`
	Distinct bool   `form:"distinct"`
}

// SearchPosts returns a handler for GET /api/v1/posts/search.
func SearchPosts(ps Posts, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q searchQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			respondCode(c, models.ErrCodeInvalidInput, err.Error())
			return
		}
		servePosts(c, ps, cc, func(ctx context.Context) ([]models.ScoredPost, error) {
			return ps.Search(ctx, q.Q, q.Limit)
		})
	}
}

// LatestPosts returns a handler for GET /api/v1/posts/latest.
func LatestPosts(ps Posts, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q latestQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			respondCode(c, models.ErrCodeInvalidInput, err.Error())
			return
		}
		servePosts(c, ps, cc, func(ctx context.Context) ([]models.ScoredPost, error) {
			return ps.Latest(ctx, q.Limit, q.Author, q.weights())
		})
	}
}

// TopPosts returns a handler for GET /api/v1/posts/top.
func TopPosts(ps Posts, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q topQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			respondCode(c, models.ErrCodeInvalidInput, err.Error())
			return
		}
		servePosts(c, ps, cc, func(ctx context.Context) ([]models.ScoredPost, error) {
			return ps.Top(ctx, store.TopOptions{
				Limit:    q.Limit,
				QueryTag: q.Query,
				Weights:  q.weights(),
				Distinct: q.Distinct,
			})
		})
	}
}

// TagPosts returns a handler for GET /api/v1/posts/tag/:tag.
func TagPosts(ps Posts, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q listQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			respondCode(c, models.ErrCodeInvalidInput, err.Error())
			return
		}
		tag := c.Param("tag")
		servePosts(c, ps, cc, func(ctx context.Context) ([]models.ScoredPost, error) {
			return ps.ByQueryTag(ctx, tag, q.Limit, q.weights())
		})
	}
}

// servePosts runs one read through the cache. Keys cover the route and
// the full query string, so differing parameters never share an entry.
func servePosts(c *gin.Context, ps Posts, cc *cache.Cache, read func(ctx context.Context) ([]models.ScoredPost, error)) {
	if ps == nil {
		respondCode(c, models.ErrCodeStore, "post store is not configured")
		return
	}

	// ── 1. Cache lookup ───────────────────────────────────────────
	var key string
	var gen uint64
	if cc != nil {
		gen = cc.Generation()
		key = cache.Key(c.FullPath(), c.Param("tag"), c.Request.URL.Query().Encode())
		if cached, hit := cc.Get(key); hit {
			resp := *cached
			resp.CacheStatus = "hit"
			c.JSON(http.StatusOK, resp)
			return
		}
	}

	// ── 2. Read ───────────────────────────────────────────────────
	posts, err := read(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if posts == nil {
		posts = []models.ScoredPost{}
	}
	resp := models.PostListResponse{Posts: posts, Count: len(posts)}

	// ── 3. Cache store ────────────────────────────────────────────
	if cc != nil {
		stored := resp
		cc.SetIfCurrent(gen, key, &stored)
		resp.CacheStatus = "miss"
	}
	c.JSON(http.StatusOK, resp)
}
