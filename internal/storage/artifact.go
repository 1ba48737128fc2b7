// Package storage persists transcript artifacts and answers whether a
// (channel, video) pair has already been saved.
package storage

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultExtension is appended to every artifact key.
const DefaultExtension = ".txt"

const timestampLayout = "2006-01-02T15:04:05.000Z"

// keyTimestamp matches the start of what follows a pair prefix in a key.
var keyTimestamp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{3}Z`)

// Sanitize replaces every character outside [A-Za-z0-9] with an underscore.
func Sanitize(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// VideoName is the name a video carries inside artifact keys.
func VideoName(videoID string) string {
	return "Video_" + videoID
}

// KeyPrefix is the time-independent part of every artifact key for a pair.
func KeyPrefix(channel, videoID string) string {
	return Sanitize(channel) + "_" + Sanitize(VideoName(videoID)) + "_"
}

// Timestamp renders t as ISO-8601 UTC with ':' and '.' replaced by '-'.
func Timestamp(t time.Time) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(t.UTC().Format(timestampLayout))
}

// ArtifactKey builds the key for one save. A positive attempt appends a
// disambiguating suffix for saves that land on the same millisecond.
func ArtifactKey(channel, videoID string, createdAt time.Time, ext string, attempt int) string {
	if ext == "" {
		ext = DefaultExtension
	}
	key := KeyPrefix(channel, videoID) + Timestamp(createdAt)
	if attempt > 0 {
		key += "-" + strconv.Itoa(attempt)
	}
	return key + ext
}

// MatchesPair reports whether key is an artifact for the pair that produced
// prefix. The timestamp check keeps "abc" from matching keys of "abc_def".
func MatchesPair(key, prefix string) bool {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return false
	}
	return keyTimestamp.MatchString(rest)
}
