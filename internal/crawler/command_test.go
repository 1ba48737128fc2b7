package crawler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandArgs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"-c", "script", "abc"}, ExpandArgs([]string{"-c", "script", "{video_id}"}, "abc"))
	assert.Equal(t, []string{"--id=abc"}, ExpandArgs([]string{"--id={video_id}"}, "abc"))
	assert.Equal(t, []string{"fetch", "abc"}, ExpandArgs([]string{"fetch"}, "abc"))
	assert.Equal(t, []string{"abc"}, ExpandArgs(nil, "abc"))
}

func TestTruncateOutput(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", TruncateOutput("  short\n", 10))
	assert.Equal(t, strings.Repeat("x", 4)+"...", TruncateOutput(strings.Repeat("x", 9), 4))
}
