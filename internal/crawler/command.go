package crawler

import "strings"

// VideoIDPlaceholder is replaced by the video id in configured helper
// arguments.
const VideoIDPlaceholder = "{video_id}"

// ExpandArgs substitutes the video id into args. When no argument carries
// the placeholder the id is appended as the last argument.
func ExpandArgs(args []string, videoID string) []string {
	out := make([]string, 0, len(args)+1)
	substituted := false
	for _, arg := range args {
		if strings.Contains(arg, VideoIDPlaceholder) {
			arg = strings.ReplaceAll(arg, VideoIDPlaceholder, videoID)
			substituted = true
		}
		out = append(out, arg)
	}
	if !substituted {
		out = append(out, videoID)
	}
	return out
}

// TruncateOutput trims s and caps it at limit bytes for error messages.
func TruncateOutput(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
