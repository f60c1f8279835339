// internal/tools/scrape.go
package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
	"github.com/xkilldash9x/webpilot/internal/markdown"
	"go.uber.org/zap"
)

const (
	noticeIdentical = "No new content found; page is identical to the last scrape."
	noticeNoText    = "No new textual content found to scrape."

	// maxStaleAttempts is how many attempts in a row may find no new informative element.
	maxStaleAttempts = 7
	clickTimeout     = 2 * time.Second
	scrollPause      = 2 * time.Second
	fallbackPause    = 3 * time.Second
)

var errNoResponseKey = errors.New("LLM failed to return a valid JSON object with a 'response' key.")

// extract asks the model for the "response" value of an extraction over page content.
func extract(ctx context.Context, env *Env, query, content string) (interface{}, error) {
	if env.LLM == nil {
		return nil, ErrNoModel
	}
	reply, err := env.LLM.Generate(ctx, schemas.GenerationRequest{
		Messages: []schemas.Message{
			schemas.SystemMessage(BuildScraperPrompt(env.Schema)),
			schemas.UserMessage("User Query: " + query),
			schemas.UserMessage("HTML Content in Markdown Format\n: " + content),
		},
		ForceJSONFormat: true,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	parsed, err := llmutil.ParseJSONResponse[map[string]interface{}](reply)
	if err != nil {
		return nil, errNoResponseKey
	}
	response, ok := (*parsed)["response"]
	if !ok {
		return nil, errNoResponseKey
	}
	return response, nil
}

func pageMarkdown(ctx context.Context, b schemas.BrowserDriver) (string, error) {
	body, err := b.BodyHTML(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read page body: %w", err)
	}
	return markdown.Convert(body)
}

// -- scraper --

type scraperTool struct{}

// Scraper extracts data for a query from the page content that is new since the last scrape.
func Scraper() Tool { return scraperTool{} }

func (scraperTool) Name() string { return "scraper" }

func (scraperTool) Description() string {
	return "Scrapes the whole page based on the user given query content. Note that it will scrape the whole body of the html. It converts the body into markdown format and sends it to the LLM to scrape based on the user query."
}

func (scraperTool) Schema() []ArgSpec {
	return []ArgSpec{{Name: "user_input", Type: ArgString, Required: true, Description: "User Query"}}
}

func (scraperTool) ProducesData() bool { return true }

func (scraperTool) Execute(ctx context.Context, env *Env, args Args) (interface{}, error) {
	b, err := env.browser()
	if err != nil {
		return nil, err
	}
	current, err := pageMarkdown(ctx, b)
	if err != nil {
		return nil, err
	}

	delta := current
	if env.hasScrape {
		switch {
		case current == env.lastMarkdown:
			return Notice(noticeIdentical), nil
		case env.lastMarkdown != "" && strings.HasPrefix(current, env.lastMarkdown):
			delta = current[len(env.lastMarkdown):]
			env.logger().Debug("Scraping only the appended content.", zap.Int("delta_bytes", len(delta)))
		}
	}
	if strings.TrimSpace(delta) == "" {
		return Notice(noticeNoText), nil
	}

	response, err := extract(ctx, env, args.String("user_input"), delta)
	if err != nil {
		return nil, err
	}
	// The snapshot only moves once the model round-trip succeeded.
	env.lastMarkdown, env.hasScrape = current, true
	return response, nil
}

// -- scroll_and_scrape --

var loadMoreTags = map[string]bool{"button": true, "a": true, "div": true, "span": true}

var loadMoreNames = []*regexp.Regexp{
	regexp.MustCompile(`(?i)load\s*more`),
	regexp.MustCompile(`(?i)show\s*more`),
	regexp.MustCompile(`(?i)view\s*more`),
	regexp.MustCompile(`(?i)^more$`),
	regexp.MustCompile(`(?i)^next$`),
}

var loadMoreIndicators = []string{"loadmore", "load-more", "next", "pagination"}

// FindLoadMore returns the first interactive element that looks like a "load more" or pagination control.
func FindLoadMore(elements []schemas.InteractiveElement) (schemas.InteractiveElement, bool) {
	for _, el := range elements {
		if !loadMoreTags[strings.ToLower(el.Tag)] {
			continue
		}
		name := strings.TrimSpace(el.Name)
		for _, re := range loadMoreNames {
			if re.MatchString(name) {
				return el, true
			}
		}
		for k, v := range el.Attributes {
			k, v = strings.ToLower(k), strings.ToLower(v)
			for _, ind := range loadMoreIndicators {
				if strings.Contains(k, ind) || strings.Contains(v, ind) {
					return el, true
				}
			}
		}
	}
	return schemas.InteractiveElement{}, false
}

type scrollAndScrapeTool struct{}

// ScrollAndScrape loads as much of an infinite or paginated list as it can, then extracts once.
func ScrollAndScrape() Tool { return scrollAndScrapeTool{} }

func (scrollAndScrapeTool) Name() string { return "scroll_and_scrape" }

func (scrollAndScrapeTool) Description() string {
	return "Scrolls through the page and clicks 'load more' style buttons until no new content appears, then scrapes the whole page for the user query in one pass. Use it for long lists, feeds and search results."
}

func (scrollAndScrapeTool) Schema() []ArgSpec {
	return []ArgSpec{
		{Name: "user_query", Type: ArgString, Required: true, Description: "What to extract from the page."},
		{Name: "max_attempts", Type: ArgInt, Default: 20, Description: "Maximum number of scroll or click attempts."},
		{Name: "scroll_step", Type: ArgInt, Default: 1000, Description: "Pixels to scroll per attempt."},
		{Name: "wait_timeout", Type: ArgInt, Default: 15000, Description: "Milliseconds to wait before the final scrape."},
	}
}

func (scrollAndScrapeTool) ProducesData() bool { return true }

func (scrollAndScrapeTool) Execute(ctx context.Context, env *Env, args Args) (interface{}, error) {
	b, err := env.browser()
	if err != nil {
		return nil, err
	}
	logger := env.logger().With(zap.String("tool", "scroll_and_scrape"))

	seen := make(map[string]struct{})
	stale := 0
	for attempt := 0; attempt < args.Int("max_attempts"); attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		before := len(seen)
		state, err := b.Perceive(ctx)
		if err != nil {
			logger.Debug("Perception failed during scroll.", zap.Error(err))
		}
		for _, xp := range state.InformativeXPaths() {
			seen[xp] = struct{}{}
		}
		if attempt > 0 && len(seen) == before {
			stale++
			if stale >= maxStaleAttempts {
				logger.Debug("No new content after repeated attempts.", zap.Int("attempt", attempt))
				break
			}
		} else {
			stale = 0
		}

		clicked := false
		if state != nil {
			if btn, ok := FindLoadMore(state.Interactive); ok {
				if err := b.ClickXPath(ctx, btn.XPath, clickTimeout); err != nil {
					logger.Debug("Load-more click failed, scrolling instead.", zap.String("xpath", btn.XPath), zap.Error(err))
				} else {
					clicked = true
				}
			}
		}
		if !clicked {
			if err := b.Scroll(ctx, 0, float64(args.Int("scroll_step"))); err != nil {
				logger.Debug("Scroll failed.", zap.Error(err))
			}
			if err := env.sleep(ctx, scrollPause); err != nil {
				return nil, err
			}
		}
		if err := b.WaitNetworkIdle(ctx, settleTimeout); err != nil {
			if err := env.sleep(ctx, fallbackPause); err != nil {
				return nil, err
			}
		}
	}

	if err := env.sleep(ctx, time.Duration(args.Int("wait_timeout"))*time.Millisecond); err != nil {
		return nil, err
	}
	content, err := pageMarkdown(ctx, b)
	if err != nil {
		return nil, err
	}
	response, err := extract(ctx, env, args.String("user_query"), content)
	if err != nil {
		if errors.Is(err, errNoResponseKey) {
			return nil, errors.New("Failed to extract JSON from the final response.")
		}
		return nil, err
	}
	return response, nil
}
