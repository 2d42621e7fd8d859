// Package fakeytdlp installs a scripted yt-dlp stand-in for tests.
package fakeytdlp

import (
	_ "embed"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// Environment variables read by the fake extractor.
const (
	EnvMode  = "DOWNLOADFLOW_FAKE_MODE"
	EnvTitle = "DOWNLOADFLOW_FAKE_TITLE"
	EnvSleep = "DOWNLOADFLOW_FAKE_SLEEP"
	EnvCalls = "DOWNLOADFLOW_FAKE_CALLS"
	EnvArgs  = "DOWNLOADFLOW_FAKE_ARGS"
)

// Modes understood by the fake extractor.
const (
	ModeSuccess  = "success"
	ModeFail     = "fail"
	ModeNoFile   = "nofile"
	ModeSleep    = "sleep"
	ModeLive     = "live"
	ModeUpcoming = "upcoming"
)

//go:embed fake-ytdlp.sh
var script []byte

// Locator serves fixed tool paths.
type Locator struct {
	Extractor string
	MuxerDir  string
}

// LocateExtractor returns the extractor path.
func (l Locator) LocateExtractor() string { return l.Extractor }

// LocateMuxerDir returns the muxer directory.
func (l Locator) LocateMuxerDir() string { return l.MuxerDir }

// Install writes the fake extractor into a temp dir, selects mode and returns a locator for it.
// Tests using it cannot run in parallel since the mode travels through the environment.
func Install(t *testing.T, mode string) Locator {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake yt-dlp is a shell script")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "yt-dlp")

	if err := os.WriteFile(path, script, 0o755); err != nil { //nolint:gosec // test binary must be executable
		t.Fatalf("write fake yt-dlp: %v", err)
	}

	t.Setenv(EnvMode, mode)

	return Locator{Extractor: path}
}

// CountCalls makes the fake record its invocations and returns a function reporting the count.
func CountCalls(t *testing.T) func() int {
	t.Helper()

	path := filepath.Join(t.TempDir(), "calls")
	t.Setenv(EnvCalls, path)

	return func() int {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0
		}

		count := 0

		for _, b := range data {
			if b == '\n' {
				count++
			}
		}

		return count
	}
}

// CaptureArgs makes the fake record its arguments and returns a function reading the last set.
func CaptureArgs(t *testing.T) func() []string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "args")
	t.Setenv(EnvArgs, path)

	return func() []string {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}

		var args []string

		start := 0

		for i, b := range data {
			if b == '\n' {
				args = append(args, string(data[start:i]))
				start = i + 1
			}
		}

		return args
	}
}
