package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/tweetscope/models"
)

// pageState is what a search page shows when no result rendered in time.
type pageState int

const (
	stateUnknown pageState = iota
	stateLoginWall
	stateRateLimited
	stateEmpty
)

var (
	loginWallSel = cascadia.MustCompile(
		`[data-testid="loginButton"], [data-testid="login"], ` +
			`form[action*="/login"], input[autocomplete="username"]`)
	emptyStateSel  = cascadia.MustCompile(`[data-testid="emptyState"]`)
	errorDetailSel = cascadia.MustCompile(`[data-testid="error-detail"], [role="alert"]`)
)

// rateLimitPhrases appear on the interstitial served when the session
// exceeds the platform's request budget.
var rateLimitPhrases = []string{
	"rate limit exceeded",
	"something went wrong. try reloading",
	"you are over the daily limit",
}

// classifyPage inspects a rendered search page.
func classifyPage(html string) pageState {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return stateUnknown
	}

	if doc.FindMatcher(loginWallSel).Length() > 0 {
		return stateLoginWall
	}

	alert := strings.ToLower(doc.FindMatcher(errorDetailSel).Text())
	body := strings.ToLower(doc.Find("body").Text())
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(alert, phrase) || strings.Contains(body, phrase) {
			return stateRateLimited
		}
	}

	if doc.FindMatcher(emptyStateSel).Length() > 0 {
		return stateEmpty
	}
	return stateUnknown
}

// diagnose maps a failed content wait to the most specific error the
// page supports.
func diagnose(html string, waitErr error) *models.ScrapeError {
	switch classifyPage(html) {
	case stateLoginWall:
		return models.NewScrapeError(models.ErrCodeLoginRequired, "session token rejected; login wall shown", waitErr)
	case stateRateLimited:
		return models.NewScrapeError(models.ErrCodePlatformLimited, "platform rate limit page shown", waitErr)
	case stateEmpty:
		return models.NewScrapeError(models.ErrCodeEmptyResults, "search returned no results", waitErr)
	default:
		return categorizeError(waitErr, models.ErrCodeContentWaitTimeout, "no search results rendered")
	}
}
