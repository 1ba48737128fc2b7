package transcript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
)

// VideoIDPlaceholder is replaced by the video id in configured arguments.
const VideoIDPlaceholder = crawler.VideoIDPlaceholder

const (
	defaultCommand   = "python3"
	defaultTimeout   = 60 * time.Second
	defaultWaitDelay = 5 * time.Second
	maxStderr        = 512
)

// defaultScript prints one caption line per row using youtube-transcript-api.
const defaultScript = `import sys
from youtube_transcript_api import YouTubeTranscriptApi
for row in YouTubeTranscriptApi.get_transcript(sys.argv[1]):
    print(row["text"])`

// DefaultArgs are used when no arguments are configured.
var DefaultArgs = []string{"-c", defaultScript, VideoIDPlaceholder}

// ProcessConfig describes the helper command.
type ProcessConfig struct {
	Command string
	Args    []string
	Env     []string
	Timeout time.Duration
	// WaitDelay bounds how long a killed helper's inherited pipes may keep
	// the call open.
	WaitDelay time.Duration
}

// ProcessFetcher runs a helper process per video; stdout is the transcript.
type ProcessFetcher struct {
	command   string
	args      []string
	env       []string
	timeout   time.Duration
	waitDelay time.Duration
}

// NewProcessFetcher builds a fetcher, filling defaults for empty fields.
func NewProcessFetcher(cfg ProcessConfig) *ProcessFetcher {
	command := cfg.Command
	if command == "" {
		command = defaultCommand
	}
	args := cfg.Args
	if len(args) == 0 {
		args = DefaultArgs
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	waitDelay := cfg.WaitDelay
	if waitDelay <= 0 {
		waitDelay = defaultWaitDelay
	}
	return &ProcessFetcher{
		command:   command,
		args:      append([]string(nil), args...),
		env:       append([]string(nil), cfg.Env...),
		timeout:   timeout,
		waitDelay: waitDelay,
	}
}

// FetchTranscript runs the helper for videoID.
func (f *ProcessFetcher) FetchTranscript(ctx context.Context, videoID string) (string, error) {
	if strings.TrimSpace(videoID) == "" {
		return "", errors.New("video id is required")
	}
	cmdCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	// #nosec G204 -- the command comes from operator configuration.
	cmd := exec.CommandContext(cmdCtx, f.command, crawler.ExpandArgs(f.args, videoID)...)
	cmd.WaitDelay = f.waitDelay
	if len(f.env) > 0 {
		cmd.Env = append(os.Environ(), f.env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cmdCtx.Err() != nil {
			return "", fmt.Errorf("transcript helper timed out after %s: %w", f.timeout, cmdCtx.Err())
		}
		return "", fmt.Errorf("transcript helper failed: %w: %s", err, crawler.TruncateOutput(stderr.String(), maxStderr))
	}
	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "", crawler.ErrNoTranscript
	}
	return text, nil
}
