package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
)

// DefaultTimedtextURL is the public caption endpoint.
const DefaultTimedtextURL = "https://www.youtube.com/api/timedtext"

// TimedtextConfig controls the in-process fetcher.
type TimedtextConfig struct {
	BaseURL   string
	Language  string
	UserAgent string
	Timeout   time.Duration
}

// TimedtextFetcher downloads json3 captions through a colly collector.
type TimedtextFetcher struct {
	cfg           TimedtextConfig
	baseCollector *colly.Collector
}

// NewTimedtextFetcher builds a fetcher. An invalid base URL is an error.
func NewTimedtextFetcher(cfg TimedtextConfig) (*TimedtextFetcher, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTimedtextURL
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse timedtext url: %w", err)
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	})
	return &TimedtextFetcher{cfg: cfg, baseCollector: c}, nil
}

// FetchTranscript requests the caption track for videoID.
func (f *TimedtextFetcher) FetchTranscript(ctx context.Context, videoID string) (string, error) {
	if strings.TrimSpace(videoID) == "" {
		return "", errors.New("video id is required")
	}
	params := url.Values{}
	params.Set("v", videoID)
	params.Set("lang", f.cfg.Language)
	params.Set("fmt", "json3")
	target := f.cfg.BaseURL + "?" + params.Encode()

	var (
		body     []byte
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.Context = ctx
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("timedtext status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	if err := collector.Visit(target); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("timedtext fetch canceled: %w", ctx.Err())
		}
		return "", fmt.Errorf("timedtext visit failed: %w", err)
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("timedtext fetch canceled: %w", ctx.Err())
	}
	if fetchErr != nil {
		return "", fmt.Errorf("timedtext response failed: %w", fetchErr)
	}
	return ParseTimedtext(body)
}

type timedtextDoc struct {
	Events []struct {
		Segs []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

// ParseTimedtext flattens a json3 caption document into one line per event.
// An empty body means the video has no track in the requested language.
func ParseTimedtext(data []byte) (string, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", crawler.ErrNoTranscript
	}
	var doc timedtextDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("%w: %v", crawler.ErrMalformedResponse, err)
	}
	lines := make([]string, 0, len(doc.Events))
	for _, event := range doc.Events {
		var b strings.Builder
		for _, seg := range event.Segs {
			b.WriteString(seg.UTF8)
		}
		line := strings.TrimSpace(strings.ReplaceAll(b.String(), "\n", " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "", crawler.ErrNoTranscript
	}
	return strings.Join(lines, "\n"), nil
}
