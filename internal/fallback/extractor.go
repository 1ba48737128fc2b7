// Package fallback runs the last-resort extraction tool out of process and
// reads a transcript field from its JSON reply.
package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
)

// Mode selects what the tool receives.
type Mode string

// Supported modes.
const (
	// ModeVideoID passes the video id as an argument.
	ModeVideoID Mode = "video_id"
	// ModeSnapshot writes the captured page HTML to stdin. Requests without
	// a snapshot fall back to ModeVideoID.
	ModeSnapshot Mode = "snapshot"
)

// VideoIDPlaceholder is replaced by the video id in configured arguments.
const VideoIDPlaceholder = crawler.VideoIDPlaceholder

const (
	defaultTimeout   = 120 * time.Second
	defaultWaitDelay = 5 * time.Second
	maxStderr        = 512
)

// Config describes the extraction tool.
type Config struct {
	Command string
	Args    []string
	Env     []string
	Mode    Mode
	Timeout time.Duration
	// WaitDelay bounds how long a killed tool's inherited pipes may keep
	// the call open.
	WaitDelay time.Duration
}

// Extractor implements crawler.FallbackExtractor.
type Extractor struct {
	cfg Config
}

// New validates cfg and returns an Extractor.
func New(cfg Config) (*Extractor, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("fallback command is required")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeVideoID
	case ModeVideoID, ModeSnapshot:
	default:
		return nil, fmt.Errorf("unknown fallback mode %q", cfg.Mode)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	cfg.Args = append([]string(nil), cfg.Args...)
	return &Extractor{cfg: cfg}, nil
}

// Mode reports the configured input mode.
func (e *Extractor) Mode() Mode {
	return e.cfg.Mode
}

type response struct {
	Transcript *string `json:"transcript"`
	Error      string  `json:"error,omitempty"`
}

// Extract runs the tool for one video.
func (e *Extractor) Extract(ctx context.Context, request crawler.FallbackRequest) (string, error) {
	if strings.TrimSpace(request.VideoID) == "" {
		return "", errors.New("video id is required")
	}
	cmdCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	// #nosec G204 -- the command comes from operator configuration.
	cmd := exec.CommandContext(cmdCtx, e.cfg.Command, crawler.ExpandArgs(e.cfg.Args, request.VideoID)...)
	cmd.WaitDelay = e.cfg.WaitDelay
	if len(e.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), e.cfg.Env...)
	}
	if e.cfg.Mode == ModeSnapshot && request.HTML != "" {
		cmd.Stdin = strings.NewReader(request.HTML)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cmdCtx.Err() != nil {
			return "", fmt.Errorf("fallback tool timed out after %s: %w", e.cfg.Timeout, cmdCtx.Err())
		}
		return "", fmt.Errorf("fallback tool failed: %w: %s", err, crawler.TruncateOutput(stderr.String(), maxStderr))
	}
	return ParseResponse(stdout.Bytes())
}

// ParseResponse extracts the transcript field from the tool's JSON reply.
func ParseResponse(data []byte) (string, error) {
	var resp response
	if err := json.Unmarshal(bytes.TrimSpace(data), &resp); err != nil {
		return "", fmt.Errorf("%w: %v", crawler.ErrMalformedResponse, err)
	}
	if resp.Transcript == nil {
		if resp.Error != "" {
			return "", fmt.Errorf("%w: %s", crawler.ErrNoTranscript, resp.Error)
		}
		return "", fmt.Errorf("%w: missing transcript field", crawler.ErrMalformedResponse)
	}
	if strings.TrimSpace(*resp.Transcript) == "" {
		return "", crawler.ErrNoTranscript
	}
	return *resp.Transcript, nil
}
