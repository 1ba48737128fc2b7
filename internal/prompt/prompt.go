// Package prompt reads and validates the channel handle from an operator.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
)

// Question is shown before reading a handle interactively.
const Question = "Enter the YouTube profile handle to start (e.g., @someyoutubechannel): "

// ReadHandle writes Question to out and reads one line from in. The trailing
// newline and surrounding whitespace are dropped; EOF after a partial line
// still yields that line.
func ReadHandle(in io.Reader, out io.Writer) (string, error) {
	if _, err := io.WriteString(out, Question); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read handle: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Validate rejects handles that do not start with sigil or carry nothing
// after it.
func Validate(handle, sigil string) error {
	handle = strings.TrimSpace(handle)
	if sigil == "" {
		sigil = "@"
	}
	if !strings.HasPrefix(handle, sigil) || len(handle) == len(sigil) {
		return fmt.Errorf("%w: %q should start with %q", crawler.ErrInvalidHandle, handle, sigil)
	}
	if strings.ContainsAny(handle, " /?#") {
		return fmt.Errorf("%w: %q contains whitespace or url characters", crawler.ErrInvalidHandle, handle)
	}
	return nil
}
