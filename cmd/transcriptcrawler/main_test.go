package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-transcript-crawler/internal/prompt"
)

// isolate points every output path at a fresh temp dir and returns it.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CRAWLER_STORAGE_DIR", filepath.Join(dir, "TRANSCRIPTIONS"))
	t.Setenv("CRAWLER_CONSOLIDATION_OUTPUT", filepath.Join(dir, "consolidated_transcripts.jsonl"))
	t.Setenv("CRAWLER_MANIFEST_PATH", filepath.Join(dir, "manifest.db"))
	return dir
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestInvalidHandleFlagExitsWithUsage(t *testing.T) {
	dir := isolate(t)
	var stdout, stderr bytes.Buffer

	code := run([]string{"-channel", "example", "-env-file", filepath.Join(dir, "missing.env")}, strings.NewReader(""), &stdout, &stderr)

	require.Equal(t, exitUsage, code)
	require.Contains(t, stderr.String(), "Invalid profile handle format")
	requireEmptyDir(t, dir)
}

func TestInvalidHandleFromPromptExitsWithUsage(t *testing.T) {
	dir := isolate(t)
	var stdout, stderr bytes.Buffer

	code := run([]string{"-env-file", filepath.Join(dir, "missing.env")}, strings.NewReader("example\n"), &stdout, &stderr)

	require.Equal(t, exitUsage, code)
	require.Contains(t, stdout.String(), prompt.Question)
	requireEmptyDir(t, dir)
}

func TestEnvFileOverridesSigil(t *testing.T) {
	dir := isolate(t)
	t.Setenv("CRAWLER_CHANNEL_SIGIL", "")
	require.NoError(t, os.Unsetenv("CRAWLER_CHANNEL_SIGIL"))
	envPath := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("CRAWLER_CHANNEL_SIGIL=~\n"), 0o600))

	var stdout, stderr bytes.Buffer
	code := run([]string{"-channel", "@chan", "-env-file", envPath}, strings.NewReader(""), &stdout, &stderr)

	require.Equal(t, exitUsage, code)
	require.Contains(t, stderr.String(), "'~'")
	requireEmptyDir(t, dir)
}

func TestBadConfigExitsWithFailure(t *testing.T) {
	dir := isolate(t)
	var stdout, stderr bytes.Buffer

	code := run([]string{"-config", filepath.Join(dir, "nope.yaml"), "-channel", "@chan"}, strings.NewReader(""), &stdout, &stderr)

	require.Equal(t, exitFailure, code)
	require.Contains(t, stderr.String(), "config error")
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, exitUsage, run([]string{"-bogus"}, strings.NewReader(""), &stdout, &stderr))
	require.Equal(t, exitOK, run([]string{"-h"}, strings.NewReader(""), &stdout, &stderr))
}
