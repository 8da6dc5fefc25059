package timeline

import (
	"encoding/json"
	"fmt"
)

// Kind tags the known shapes a tweet_results.result may take.
type Kind int

const (
	KindUnknown Kind = iota
	KindTweet
	KindVisibilityWrapped
	KindTombstone
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindTweet:
		return "Tweet"
	case KindVisibilityWrapped:
		return "TweetWithVisibilityResults"
	case KindTombstone:
		return "TweetTombstone"
	case KindUnavailable:
		return "TweetUnavailable"
	default:
		return "unknown"
	}
}

// maxUnwrap bounds nested visibility envelopes.
const maxUnwrap = 3

// Envelope is a decoded result envelope. Tweet is set only for KindTweet;
// wrapped results are unwrapped by decodeEnvelope before returning.
type Envelope struct {
	Kind  Kind
	Tweet *tweetResult
}

// tweetResult mirrors the subset of the GraphQL Tweet object we read.
type tweetResult struct {
	Typename string          `json:"__typename"`
	RestID   string          `json:"rest_id"`
	Tweet    json.RawMessage `json:"tweet"`

	Core struct {
		UserResults struct {
			Result struct {
				Core   *userNames `json:"core"`
				Legacy *userNames `json:"legacy"`
			} `json:"result"`
		} `json:"user_results"`
	} `json:"core"`

	Legacy *struct {
		IDStr         string `json:"id_str"`
		FullText      string `json:"full_text"`
		CreatedAt     string `json:"created_at"`
		FavoriteCount int64  `json:"favorite_count"`
		ReplyCount    int64  `json:"reply_count"`
		RetweetCount  int64  `json:"retweet_count"`
		QuoteCount    int64  `json:"quote_count"`
		Lang          string `json:"lang"`
	} `json:"legacy"`

	NoteTweet *struct {
		NoteTweetResults struct {
			Result struct {
				Text string `json:"text"`
			} `json:"result"`
		} `json:"note_tweet_results"`
	} `json:"note_tweet"`
}

type userNames struct {
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
}

// decodeEnvelope classifies raw and unwraps visibility envelopes.
func decodeEnvelope(raw json.RawMessage) (Envelope, error) {
	for depth := 0; depth < maxUnwrap; depth++ {
		if len(raw) == 0 || string(raw) == "null" {
			return Envelope{}, fmt.Errorf("empty result")
		}
		var tr tweetResult
		if err := json.Unmarshal(raw, &tr); err != nil {
			return Envelope{}, fmt.Errorf("decode result: %w", err)
		}

		switch tr.Typename {
		case "TweetWithVisibilityResults":
			raw = tr.Tweet
			continue
		case "TweetTombstone":
			return Envelope{Kind: KindTombstone}, nil
		case "TweetUnavailable":
			return Envelope{Kind: KindUnavailable}, nil
		case "Tweet", "":
			// Inner tweets of a visibility envelope often omit __typename.
			if tr.Legacy == nil && len(tr.Tweet) > 0 {
				raw = tr.Tweet
				continue
			}
			return Envelope{Kind: KindTweet, Tweet: &tr}, nil
		default:
			return Envelope{Kind: KindUnknown}, nil
		}
	}
	return Envelope{}, fmt.Errorf("result nested deeper than %d envelopes", maxUnwrap)
}
