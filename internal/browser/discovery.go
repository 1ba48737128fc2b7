package browser

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	scrollHeightJS = `document.documentElement.scrollHeight`
	scrollBottomJS = `window.scrollTo(0, document.documentElement.scrollHeight)`
	watchLinksJS   = `Array.from(document.querySelectorAll('a[href*="/watch?v="]')).map(a => a.href)`
)

var videoIDShape = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// DiscoverVideos lists the ids on a channel's videos tab, top of page first.
func (b *Browser) DiscoverVideos(ctx context.Context, channelURL string) ([]string, error) {
	target := strings.TrimRight(channelURL, "/") + "/videos"
	tabCtx, cleanup, err := b.open(ctx, target)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	scrolls, err := scrollUntilStable(tabCtx,
		func(ctx context.Context) (int64, error) {
			var height int64
			err := chromedp.Run(ctx, chromedp.Evaluate(scrollHeightJS, &height))
			return height, err
		},
		func(ctx context.Context) error {
			return chromedp.Run(ctx, chromedp.Evaluate(scrollBottomJS, nil))
		},
		b.cfg.ScrollPause,
		b.cfg.MaxScrolls,
	)
	if err != nil {
		// Partial scrolling still leaves usable anchors on the page.
		b.logger.Warn("scrolling stopped early", zap.Int("scrolls", scrolls), zap.Error(err))
	}

	hrefs, err := b.watchLinks(tabCtx)
	if err != nil {
		return nil, err
	}
	ids, irregular := ExtractVideoIDs(hrefs)
	if len(irregular) > 0 {
		b.logger.Warn("unexpected video id shape", zap.Strings("ids", irregular))
	}
	b.logger.Info("channel discovered",
		zap.String("url", target),
		zap.Int("scrolls", scrolls),
		zap.Int("videos", len(ids)),
	)
	return ids, nil
}

// RelatedVideos lists the ids linked from a video's watch page, excluding
// the video itself.
func (b *Browser) RelatedVideos(ctx context.Context, videoID string) ([]string, error) {
	if strings.TrimSpace(videoID) == "" {
		return nil, errEmptyID
	}
	tabCtx, cleanup, err := b.open(ctx, b.WatchURL(videoID))
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := sleep(tabCtx, 2*b.cfg.SettleDelay); err != nil {
		return nil, err
	}
	hrefs, err := b.watchLinks(tabCtx)
	if err != nil {
		return nil, err
	}
	ids, _ := ExtractVideoIDs(hrefs)
	related := ids[:0]
	for _, id := range ids {
		if id != videoID {
			related = append(related, id)
		}
	}
	return related, nil
}

func (b *Browser) watchLinks(ctx context.Context) ([]string, error) {
	var hrefs []string
	if err := chromedp.Run(ctx, chromedp.Evaluate(watchLinksJS, &hrefs)); err != nil {
		return nil, fmt.Errorf("collect watch links: %w", err)
	}
	return hrefs, nil
}

// scrollUntilStable scrolls until two consecutive height measurements match
// or maxScrolls is reached. It returns the number of scrolls performed.
func scrollUntilStable(
	ctx context.Context,
	measure func(context.Context) (int64, error),
	scroll func(context.Context) error,
	pause time.Duration,
	maxScrolls int,
) (int, error) {
	scrolls := 0
	for scrolls < maxScrolls {
		before, err := measure(ctx)
		if err != nil {
			return scrolls, fmt.Errorf("measure page height: %w", err)
		}
		if err := scroll(ctx); err != nil {
			return scrolls, fmt.Errorf("scroll page: %w", err)
		}
		scrolls++
		if err := sleep(ctx, pause); err != nil {
			return scrolls, err
		}
		after, err := measure(ctx)
		if err != nil {
			return scrolls, fmt.Errorf("measure page height: %w", err)
		}
		if after == before {
			break
		}
	}
	return scrolls, nil
}

// ExtractVideoIDs pulls the v= parameter out of watch links, deduplicated in
// document order. Ids that do not look like 11-character video ids are kept
// and also reported as irregular.
func ExtractVideoIDs(hrefs []string) (ids, irregular []string) {
	seen := make(map[string]struct{}, len(hrefs))
	for _, href := range hrefs {
		id := videoParam(href)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
		if !videoIDShape.MatchString(id) {
			irregular = append(irregular, id)
		}
	}
	return ids, irregular
}

func videoParam(href string) string {
	parsed, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.Query().Get("v"))
}
