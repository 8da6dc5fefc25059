// Package timeline turns intercepted search-timeline payloads into Posts.
package timeline

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/tweetscope/models"
	"github.com/use-agent/tweetscope/simhash"
	"golang.org/x/net/html"
)

// searchEndpoint is the GraphQL operation serving search results.
const searchEndpoint = "/SearchTimeline"

// IsSearchTimeline reports whether a network response is a successful
// search-results payload worth parsing.
func IsSearchTimeline(rawURL string, status int) bool {
	if status != 200 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(u.Path, "/graphql/") && strings.HasSuffix(u.Path, searchEndpoint)
}

type searchResponse struct {
	Data struct {
		SearchByRawQuery struct {
			SearchTimeline struct {
				Timeline struct {
					Instructions []instruction `json:"instructions"`
				} `json:"timeline"`
			} `json:"search_timeline"`
		} `json:"search_by_raw_query"`
	} `json:"data"`
}

type instruction struct {
	Type    string            `json:"type"`
	Entries []json.RawMessage `json:"entries"`
	Entry   json.RawMessage   `json:"entry"`
}

type entry struct {
	EntryID string `json:"entryId"`
	Content struct {
		EntryType   string       `json:"entryType"`
		ItemContent *itemContent `json:"itemContent"`
		Items       []struct {
			Item struct {
				ItemContent *itemContent `json:"itemContent"`
			} `json:"item"`
		} `json:"items"`
	} `json:"content"`
}

type itemContent struct {
	ItemType     string `json:"itemType"`
	TweetResults struct {
		Result json.RawMessage `json:"result"`
	} `json:"tweet_results"`
}

// Parse extracts posts from one search-timeline response body. Each
// malformed entry yields one PARSE_ERROR in errs and is skipped; it never
// aborts the rest of the batch.
func Parse(body []byte, queryTag string) (posts []models.Post, errs []error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, []error{models.NewScrapeError(models.ErrCodeParse, "undecodable search payload", err)}
	}

	now := time.Now().UTC()
	for _, ins := range resp.Data.SearchByRawQuery.SearchTimeline.Timeline.Instructions {
		raws := ins.Entries
		if ins.Type == "TimelineReplaceEntry" && len(ins.Entry) > 0 {
			raws = []json.RawMessage{ins.Entry}
		}
		for _, raw := range raws {
			for _, result := range entryResults(raw, &errs) {
				p, ok, err := Normalize(result, queryTag)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if !ok {
					continue
				}
				p.CollectedAt = now
				posts = append(posts, p)
			}
		}
	}
	return posts, errs
}

// entryResults returns the raw tweet results carried by one timeline
// entry: one for an item, several for a module, none for cursors.
func entryResults(raw json.RawMessage, errs *[]error) []json.RawMessage {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		*errs = append(*errs, models.NewScrapeError(models.ErrCodeParse, "undecodable timeline entry", err))
		return nil
	}

	var contents []*itemContent
	if e.Content.ItemContent != nil {
		contents = append(contents, e.Content.ItemContent)
	}
	for _, it := range e.Content.Items {
		if it.Item.ItemContent != nil {
			contents = append(contents, it.Item.ItemContent)
		}
	}

	var results []json.RawMessage
	for _, c := range contents {
		if c.ItemType != "" && c.ItemType != "TimelineTweet" {
			continue
		}
		if len(c.TweetResults.Result) == 0 {
			*errs = append(*errs, models.NewScrapeError(models.ErrCodeParse,
				fmt.Sprintf("entry %s has no tweet result", e.EntryID), nil))
			continue
		}
		results = append(results, c.TweetResults.Result)
	}
	return results
}

// Normalize converts one tweet result into a Post. ok is false for results
// that legitimately carry no post (tombstones, unavailable, unknown kinds).
func Normalize(raw json.RawMessage, queryTag string) (p models.Post, ok bool, err error) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		return p, false, models.NewScrapeError(models.ErrCodeParse, "bad result envelope", err)
	}
	if env.Kind != KindTweet {
		return p, false, nil
	}
	tr := env.Tweet
	if tr.Legacy == nil {
		return p, false, models.NewScrapeError(models.ErrCodeParse, "tweet without legacy block", nil)
	}

	id := tr.RestID
	if id == "" {
		id = tr.Legacy.IDStr
	}
	if _, convErr := strconv.ParseUint(id, 10, 64); convErr != nil {
		return p, false, models.NewScrapeError(models.ErrCodeParse, fmt.Sprintf("invalid tweet id %q", id), convErr)
	}

	handle, name := authorOf(tr)
	if handle == "" {
		return p, false, models.NewScrapeError(models.ErrCodeParse, "tweet "+id+" has no author handle", nil)
	}

	created, timeErr := time.Parse(time.RubyDate, tr.Legacy.CreatedAt)
	if timeErr != nil {
		return p, false, models.NewScrapeError(models.ErrCodeParse, "tweet "+id+" has bad created_at", timeErr)
	}

	text := tr.Legacy.FullText
	if tr.NoteTweet != nil && tr.NoteTweet.NoteTweetResults.Result.Text != "" {
		text = tr.NoteTweet.NoteTweetResults.Result.Text
	}
	text = html.UnescapeString(text)

	lang := tr.Legacy.Lang
	if lang == "und" {
		lang = ""
	}

	return models.Post{
		ID:           id,
		Text:         text,
		AuthorHandle: handle,
		AuthorName:   name,
		CreatedAt:    created.UTC(),
		Likes:        tr.Legacy.FavoriteCount,
		Replies:      tr.Legacy.ReplyCount,
		Reposts:      tr.Legacy.RetweetCount,
		Quotes:       tr.Legacy.QuoteCount,
		Lang:         lang,
		Permalink:    models.PermalinkFor(handle, id),
		QueryTag:     queryTag,
		Fingerprint:  simhash.FingerprintPost(text),
	}, true, nil
}

// authorOf prefers the newer user core block and falls back to legacy.
func authorOf(tr *tweetResult) (handle, name string) {
	u := tr.Core.UserResults.Result
	if u.Core != nil && u.Core.ScreenName != "" {
		return u.Core.ScreenName, u.Core.Name
	}
	if u.Legacy != nil {
		return u.Legacy.ScreenName, u.Legacy.Name
	}
	return "", ""
}
