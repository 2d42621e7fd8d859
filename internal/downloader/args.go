package downloader

import (
	"path/filepath"
	"strconv"

	"downloadflow/internal/entity"
)

// formatBest is the selector used when no target height is requested, best match first.
const formatBest = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/bestvideo+bestaudio/best"

// ArgsOptions holds the environment-dependent parts of an extractor invocation.
type ArgsOptions struct {
	MuxerDir            string
	UserAgent           string
	CacheDir            string
	CookieFile          string
	Proxy               string
	ConcurrentFragments int
}

// OutputTemplate returns the extractor output template that prefixes files with id.
func OutputTemplate(dir, id string) string {
	return filepath.Join(dir, id+"_%(title)s.%(ext)s")
}

// BuildArgs returns the extractor arguments for a download request. The URL is always last.
func BuildArgs(req entity.DownloadRequest, outputTemplate string, opt ArgsOptions) []string {
	args := []string{"--no-playlist", "--newline"}

	if opt.MuxerDir != "" {
		args = append(args, "--ffmpeg-location", opt.MuxerDir)
	}

	if opt.UserAgent != "" {
		args = append(args, "--user-agent", opt.UserAgent)
	}

	if opt.ConcurrentFragments > 0 {
		args = append(args, "--concurrent-fragments", strconv.Itoa(opt.ConcurrentFragments))
	}

	if opt.CacheDir != "" {
		args = append(args, "--cache-dir", opt.CacheDir)
	}

	if opt.CookieFile != "" {
		args = append(args, "--cookies", opt.CookieFile)
	}

	if opt.Proxy != "" {
		args = append(args, "--proxy", opt.Proxy)
	}

	args = append(args, formatArgs(req)...)

	if req.Trim != nil {
		args = append(args, "--download-sections", trimSection(*req.Trim))

		if req.PreciseTrim {
			args = append(args, "--force-keyframes-at-cuts")
		}
	}

	return append(args, "-o", outputTemplate, req.URL)
}

func formatArgs(req entity.DownloadRequest) []string {
	if req.AudioOnly {
		return []string{"-x", "--audio-format", "mp3", "--audio-quality", "0"}
	}

	format := formatBest
	if req.Quality != nil {
		format = heightSelector(*req.Quality)
	}

	return []string{"--merge-output-format", "mp4", "-f", format}
}

func heightSelector(height int) string {
	h := strconv.Itoa(height)

	return "bestvideo[height=" + h + "][ext=mp4]+bestaudio[ext=m4a]/" +
		"bestvideo[height=" + h + "]+bestaudio/" +
		"bestvideo[height<=" + h + "]+bestaudio/best"
}

// trimSection renders a trim window as a --download-sections range: "*12.5-30".
func trimSection(trim entity.TrimWindow) string {
	return "*" + strconv.FormatFloat(trim.Start, 'f', -1, 64) + "-" + strconv.FormatFloat(trim.End, 'f', -1, 64)
}
