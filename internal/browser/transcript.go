package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
)

const (
	pollInterval  = 250 * time.Millisecond
	panelSelector = "ytd-transcript-renderer"
)

// affordance is one clickable UI element, found by selector and optionally
// by a case-insensitive text match.
type affordance struct {
	name     string
	selector string
	text     string
}

// uiPath is an ordered series of clicks that should open the transcript panel.
type uiPath struct {
	name  string
	steps []affordance
}

var transcriptPaths = []uiPath{
	{
		name: "actions-menu",
		steps: []affordance{
			{name: "more actions", selector: `ytd-menu-renderer button[aria-label="More actions"], #button-shape button[aria-label="More actions"]`},
			{name: "transcript item", selector: `ytd-menu-service-item-renderer, tp-yt-paper-item`, text: "transcript"},
		},
	},
	{
		name: "description",
		steps: []affordance{
			{name: "description expander", selector: `tp-yt-paper-button#expand, tp-yt-paper-button#more, #description-inline-expander #expand`},
			{name: "show transcript", selector: `button[aria-label*="Show transcript" i], tp-yt-paper-button[aria-label*="Show transcript" i], ytd-video-description-transcript-section-renderer button`},
		},
	},
}

// TranscriptFromUI opens the transcript panel of a watch page and returns
// its text. Each UI path is tried in order; an element that does not appear
// within the probe timeout moves on to the next path.
func (b *Browser) TranscriptFromUI(ctx context.Context, videoID string) (string, error) {
	if strings.TrimSpace(videoID) == "" {
		return "", errEmptyID
	}
	tabCtx, cleanup, err := b.open(ctx, b.WatchURL(videoID))
	if err != nil {
		return "", err
	}
	defer cleanup()

	var errs []error
	for _, path := range transcriptPaths {
		text, err := b.followPath(tabCtx, path)
		if err == nil {
			b.logger.Debug("transcript panel opened",
				zap.String("video_id", videoID), zap.String("path", path.name))
			return text, nil
		}
		if tabCtx.Err() != nil {
			return "", fmt.Errorf("transcript panel: %w", tabCtx.Err())
		}
		b.logger.Debug("ui path unavailable",
			zap.String("video_id", videoID), zap.String("path", path.name), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", path.name, err))
	}
	return "", errors.Join(errs...)
}

func (b *Browser) followPath(ctx context.Context, path uiPath) (string, error) {
	for _, step := range path.steps {
		expr := clickExpression(step.selector, step.text)
		err := waitFor(ctx, b.cfg.ProbeTimeout, func(ctx context.Context) (bool, error) {
			var clicked bool
			if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &clicked)); err != nil {
				return false, err
			}
			return clicked, nil
		})
		if err != nil {
			return "", fmt.Errorf("%s: %w", step.name, err)
		}
		if err := b.settle(ctx); err != nil {
			return "", err
		}
	}

	var text string
	err := waitFor(ctx, b.cfg.ProbeTimeout, func(ctx context.Context) (bool, error) {
		if err := chromedp.Run(ctx, chromedp.Evaluate(panelTextExpression(panelSelector), &text)); err != nil {
			return false, err
		}
		return strings.TrimSpace(text) != "", nil
	})
	if err != nil {
		return "", fmt.Errorf("transcript panel: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Snapshot returns the rendered HTML of a watch page.
func (b *Browser) Snapshot(ctx context.Context, videoID string) (string, error) {
	if strings.TrimSpace(videoID) == "" {
		return "", errEmptyID
	}
	tabCtx, cleanup, err := b.open(ctx, b.WatchURL(videoID))
	if err != nil {
		return "", err
	}
	defer cleanup()

	if err := b.settle(tabCtx); err != nil {
		return "", err
	}
	var html string
	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("capture html: %w", err)
	}
	return html, nil
}

// waitFor polls check until it reports true. Running out of time yields
// crawler.ErrAffordanceAbsent; check errors are retried until then.
func waitFor(ctx context.Context, timeout time.Duration, check func(context.Context) (bool, error)) error {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	var lastErr error
	for {
		ok, err := check(probeCtx)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-probeCtx.Done():
			if ctx.Err() != nil {
				return fmt.Errorf("probe canceled: %w", ctx.Err())
			}
			if lastErr != nil {
				return fmt.Errorf("%w after %s: %v", crawler.ErrAffordanceAbsent, timeout, lastErr)
			}
			return fmt.Errorf("%w after %s", crawler.ErrAffordanceAbsent, timeout)
		case <-ticker.C:
		}
	}
}

// clickExpression builds a script that clicks the first element matching
// selector whose text contains text, and reports whether it found one.
func clickExpression(selector, text string) string {
	sel, _ := json.Marshal(selector)
	needle, _ := json.Marshal(strings.ToLower(text))
	return fmt.Sprintf(`(() => {
  const needle = %s;
  const el = Array.from(document.querySelectorAll(%s)).find(e =>
    e.offsetParent !== null && (needle === "" || (e.innerText || "").toLowerCase().includes(needle)));
  if (!el) { return false; }
  el.click();
  return true;
})()`, needle, sel)
}

func panelTextExpression(selector string) string {
	sel, _ := json.Marshal(selector)
	return fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el ? el.innerText : ""; })()`, sel)
}
