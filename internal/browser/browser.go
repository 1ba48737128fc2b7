// Package browser drives headless Chrome for channel discovery, the rendered
// transcript panel, related videos and page snapshots.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-transcript-crawler/internal/policy/ratelimit"
)

// Config controls the browser collaborator.
type Config struct {
	BaseURL           string
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	ProbeTimeout      time.Duration
	SettleDelay       time.Duration
	ScrollPause       time.Duration
	MaxScrolls        int
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://www.youtube.com"
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.ScrollPause <= 0 {
		c.ScrollPause = 2 * time.Second
	}
	if c.MaxScrolls <= 0 {
		c.MaxScrolls = 200
	}
}

// Browser owns one Chrome allocator. Every operation opens its own tab.
type Browser struct {
	cfg         Config
	limiter     *ratelimit.Limiter
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New prepares the allocator. Chrome starts lazily on the first operation.
// limiter may be nil to navigate without pacing.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*Browser, error) {
	cfg.applyDefaults()
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	headless := any("new")
	if !cfg.Headless {
		headless = false
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		logger:      logger.Named("browser"),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts Chrome down.
func (b *Browser) Close() {
	b.allocCancel()
}

// WatchURL returns the watch page of a video.
func (b *Browser) WatchURL(videoID string) string {
	return strings.TrimRight(b.cfg.BaseURL, "/") + "/watch?v=" + url.QueryEscape(videoID)
}

// ChannelURL returns the base URL of a channel handle.
func (b *Browser) ChannelURL(handle string) string {
	return strings.TrimRight(b.cfg.BaseURL, "/") + "/" + strings.TrimLeft(handle, "/")
}

// open navigates a fresh tab to rawURL and returns its context. The returned
// cleanup closes the tab.
func (b *Browser) open(ctx context.Context, rawURL string) (context.Context, func(), error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx, rawURL); err != nil {
			return nil, nil, err
		}
	}
	tabCtx, cancelTab := chromedp.NewContext(b.allocator)
	stopForward := forwardCancel(ctx, cancelTab)
	cleanup := func() {
		stopForward()
		cancelTab()
	}

	navCtx, cancelNav := context.WithTimeout(tabCtx, b.cfg.NavigationTimeout)
	defer cancelNav()
	err := chromedp.Run(navCtx,
		b.setupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	b.logger.Debug("navigated", zap.String("url", rawURL))
	return tabCtx, cleanup, nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) settle(ctx context.Context) error {
	if b.cfg.SettleDelay <= 0 {
		return nil
	}
	return sleep(ctx, b.cfg.SettleDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// forwardCancel cancels the tab when the caller's context ends.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

var errEmptyID = errors.New("video id is required")
