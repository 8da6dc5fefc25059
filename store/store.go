// Package store is the durable post store: upsert by id, a generated
// full-text index over text and author, engagement ranking and the
// retention sweep.
package store

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/use-agent/tweetscope/config"
	"github.com/use-agent/tweetscope/models"
)

//go:embed schema.sql
var schema string

// topAuthors is the length of the per-author list in Stats.
const topAuthors = 10

const postColumns = `id, text, author_handle, author_name, created_at,
	likes, replies, reposts, quotes, lang, permalink, coalesce(query_tag, ''),
	fingerprint, collected_at`

const upsertSQL = `INSERT INTO posts
	(id, text, author_handle, author_name, created_at,
	 likes, replies, reposts, quotes, lang, permalink, query_tag,
	 fingerprint, collected_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NULLIF($12, ''),$13,$14)
	ON CONFLICT (id) DO UPDATE SET
		text          = EXCLUDED.text,
		author_handle = EXCLUDED.author_handle,
		author_name   = EXCLUDED.author_name,
		likes         = EXCLUDED.likes,
		replies       = EXCLUDED.replies,
		reposts       = EXCLUDED.reposts,
		quotes        = EXCLUDED.quotes,
		lang          = EXCLUDED.lang,
		permalink     = EXCLUDED.permalink,
		query_tag     = COALESCE(posts.query_tag, EXCLUDED.query_tag),
		fingerprint   = EXCLUDED.fingerprint,
		collected_at  = EXCLUDED.collected_at
	RETURNING (xmax = 0) AS inserted`

// Store is a Postgres-backed post store. It is safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	window int
}

// TopOptions selects and ranks posts for Top.
type TopOptions struct {
	Limit    int
	QueryTag string
	Weights  models.Weights

	// Distinct collapses near-duplicate texts, keeping the higher ranked.
	Distinct bool
}

// Open connects the pool and verifies the connection.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeStore, "invalid store DSN", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeStore, "failed to create pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, models.NewScrapeError(models.ErrCodeStore, "store unreachable", err)
	}

	window := cfg.CandidateWindow
	if window <= 0 {
		window = 500
	}
	slog.Info("store connected", "maxConns", pcfg.MaxConns, "candidateWindow", window)
	return &Store{pool: pool, window: window}, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return models.NewScrapeError(models.ErrCodeStore, "schema migration failed", err)
	}
	slog.Info("store schema applied")
	return nil
}

// Ping reports whether the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// UpsertPosts writes posts in one transaction. Existing ids take the new
// text and counters. It returns how many ids were new.
func (s *Store) UpsertPosts(ctx context.Context, posts []models.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, models.NewScrapeError(models.ErrCodeStore, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, p := range posts {
		collected := p.CollectedAt
		if collected.IsZero() {
			collected = time.Now().UTC()
		}
		b.Queue(upsertSQL,
			p.ID, p.Text, p.AuthorHandle, p.AuthorName, p.CreatedAt,
			p.Likes, p.Replies, p.Reposts, p.Quotes, p.Lang, p.Permalink, p.QueryTag,
			int64(p.Fingerprint), collected,
		)
	}

	inserted := 0
	br := tx.SendBatch(ctx, b)
	for i := range posts {
		var isNew bool
		if err := br.QueryRow().Scan(&isNew); err != nil {
			_ = br.Close()
			return 0, models.NewScrapeError(models.ErrCodeStore,
				fmt.Sprintf("upsert of post %s failed", posts[i].ID), err)
		}
		if isNew {
			inserted++
		}
	}
	if err := br.Close(); err != nil {
		return 0, models.NewScrapeError(models.ErrCodeStore, "upsert batch failed", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, models.NewScrapeError(models.ErrCodeStore, "commit failed", err)
	}

	slog.Debug("posts upserted", "total", len(posts), "inserted", inserted)
	return inserted, nil
}

// Search runs a full-text query over text and author fields. Score is
// the text rank, not the engagement score.
func (s *Store) Search(ctx context.Context, text string, limit int) ([]models.ScoredPost, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "search text is required", nil)
	}

	rows, err := s.pool.Query(ctx, `SELECT `+postColumns+`,
			ts_rank(search_vector, websearch_to_tsquery('simple', $1)) AS rank
		FROM posts
		WHERE search_vector @@ websearch_to_tsquery('simple', $1)
		ORDER BY rank DESC, created_at DESC
		LIMIT $2`, text, clampLimit(limit))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeStore, "search failed", err)
	}
	defer rows.Close()

	var out []models.ScoredPost
	for rows.Next() {
		var sp models.ScoredPost
		var rank float32
		if err := scanPost(rows, &sp.Post, &rank); err != nil {
			return nil, models.NewScrapeError(models.ErrCodeStore, "search scan failed", err)
		}
		sp.Score = float64(rank)
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeStore, "search failed", err)
	}
	return out, nil
}

// Latest ranks the limit most recent posts, optionally by one author.
func (s *Store) Latest(ctx context.Context, limit int, author string, w models.Weights) ([]models.ScoredPost, error) {
	limit = clampLimit(limit)
	var (
		posts []models.Post
		err   error
	)
	if author = strings.TrimPrefix(strings.TrimSpace(author), "@"); author != "" {
		posts, err = s.candidates(ctx, `WHERE lower(author_handle) = lower($2)`, limit, author)
	} else {
		posts, err = s.candidates(ctx, ``, limit)
	}
	if err != nil {
		return nil, err
	}
	return Rank(posts, w, limit), nil
}

// ByQueryTag ranks the candidate window of posts acquired for tag.
func (s *Store) ByQueryTag(ctx context.Context, tag string, limit int, w models.Weights) ([]models.ScoredPost, error) {
	if strings.TrimSpace(tag) == "" {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "query tag is required", nil)
	}
	posts, err := s.candidates(ctx, `WHERE query_tag = $2`, s.windowFor(limit), tag)
	if err != nil {
		return nil, err
	}
	return Rank(posts, w, clampLimit(limit)), nil
}

// Top ranks the candidate window, optionally restricted to one tag.
func (s *Store) Top(ctx context.Context, opts TopOptions) ([]models.ScoredPost, error) {
	limit := clampLimit(opts.Limit)
	var (
		posts []models.Post
		err   error
	)
	if opts.QueryTag != "" {
		posts, err = s.candidates(ctx, `WHERE query_tag = $2`, s.windowFor(limit), opts.QueryTag)
	} else {
		posts, err = s.candidates(ctx, ``, s.windowFor(limit))
	}
	if err != nil {
		return nil, err
	}

	if !opts.Distinct {
		return Rank(posts, opts.Weights, limit), nil
	}
	return Distinct(Rank(posts, opts.Weights, 0), limit), nil
}

// candidates loads the n most recent posts matching where. where may
// reference $2 onward; $1 is the row bound.
func (s *Store) candidates(ctx context.Context, where string, n int, args ...any) ([]models.Post, error) {
	q := `SELECT ` + postColumns + ` FROM posts ` + where + ` ORDER BY created_at DESC, id DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, q, append([]any{n}, args...)...)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeStore, "candidate query failed", err)
	}
	defer rows.Close()

	posts := make([]models.Post, 0, n)
	for rows.Next() {
		var p models.Post
		if err := scanPost(rows, &p); err != nil {
			return nil, models.NewScrapeError(models.ErrCodeStore, "candidate scan failed", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeStore, "candidate query failed", err)
	}
	return posts, nil
}

// Sweep deletes posts created before now - olderThan. A non-positive
// age deletes nothing.
func (s *Store) Sweep(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM posts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, models.NewScrapeError(models.ErrCodeStore, "retention sweep failed", err)
	}
	return tag.RowsAffected(), nil
}

// Stats summarises the store.
func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	st := models.Stats{PerQueryCounts: make(map[string]int64)}

	var last *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT count(*), max(collected_at) FROM posts`).Scan(&st.Total, &last); err != nil {
		return st, models.NewScrapeError(models.ErrCodeStore, "stats failed", err)
	}
	st.LastRunAt = last

	rows, err := s.pool.Query(ctx, `SELECT query_tag, count(*) FROM posts
		WHERE query_tag IS NOT NULL GROUP BY query_tag`)
	if err != nil {
		return st, models.NewScrapeError(models.ErrCodeStore, "stats failed", err)
	}
	for rows.Next() {
		var tag string
		var n int64
		if err := rows.Scan(&tag, &n); err != nil {
			rows.Close()
			return st, models.NewScrapeError(models.ErrCodeStore, "stats scan failed", err)
		}
		st.PerQueryCounts[tag] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, models.NewScrapeError(models.ErrCodeStore, "stats failed", err)
	}

	authors, err := s.pool.Query(ctx, `SELECT author_handle, count(*) AS n FROM posts
		WHERE author_handle <> '' GROUP BY author_handle
		ORDER BY n DESC, author_handle ASC LIMIT $1`, topAuthors)
	if err != nil {
		return st, models.NewScrapeError(models.ErrCodeStore, "stats failed", err)
	}
	defer authors.Close()
	for authors.Next() {
		var ac models.AuthorCount
		if err := authors.Scan(&ac.Handle, &ac.Count); err != nil {
			return st, models.NewScrapeError(models.ErrCodeStore, "stats scan failed", err)
		}
		st.PerAuthorTop = append(st.PerAuthorTop, ac)
	}
	if err := authors.Err(); err != nil {
		return st, models.NewScrapeError(models.ErrCodeStore, "stats failed", err)
	}
	return st, nil
}

// windowFor is the candidate window for a request of limit rows; it is
// never smaller than the limit itself.
func (s *Store) windowFor(limit int) int {
	if limit > s.window {
		return limit
	}
	return s.window
}

// maxLimit caps any single read.
const maxLimit = 200

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}

func scanPost(row pgx.Row, p *models.Post, extra ...any) error {
	var fp int64
	dest := []any{
		&p.ID, &p.Text, &p.AuthorHandle, &p.AuthorName, &p.CreatedAt,
		&p.Likes, &p.Replies, &p.Reposts, &p.Quotes, &p.Lang, &p.Permalink, &p.QueryTag,
		&fp, &p.CollectedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	p.Fingerprint = uint64(fp)
	return nil
}

