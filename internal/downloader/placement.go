package downloader

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"downloadflow/internal/errs"
)

const (
	defaultFileName   = "download"
	filePermReadWrite = 0o644
)

// partial download suffixes left behind by the extractor.
var partialSuffixes = []string{".part", ".ytdl", ".temp"}

var nameReplacer = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_", "/", "_", `\`, "_", "|", "_", "?", "_", "*", "_",
)

// LocateOutput returns the finished file in dir that belongs to download id.
func LocateOutput(dir, id string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read dir: %w", err)
	}

	prefix := id + "_"

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || isPartial(name) {
			continue
		}

		return filepath.Join(dir, name), nil
	}

	return "", errs.ErrOutputNotFound
}

func isPartial(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}

	return false
}

// FriendlyName strips the download id prefix from a produced file name and sanitizes the rest.
func FriendlyName(path, id string) string {
	name := filepath.Base(path)
	name = strings.TrimPrefix(name, id+"_")

	return Sanitize(name)
}

// Sanitize replaces characters that are invalid in file names on common filesystems.
func Sanitize(name string) string {
	name = strings.TrimSpace(nameReplacer.Replace(name))
	if name == "" || name == "." || name == ".." {
		return defaultFileName
	}

	return name
}

// UniquePath returns dir/name, or dir/"name (n).ext" with the smallest n that does not exist yet.
func UniquePath(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if !exists(candidate) {
		return candidate
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for n := 1; ; n++ {
		candidate = filepath.Join(dir, base+" ("+strconv.Itoa(n)+")"+ext)
		if !exists(candidate) {
			return candidate
		}
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)

	return err == nil
}

// IsDir reports whether path is an existing directory.
func IsDir(path string) bool {
	if path == "" {
		return false
	}

	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}

// Place moves src into destDir under a collision-free variant of name and returns the new path.
func Place(src, destDir, name string) (string, error) {
	dest := UniquePath(destDir, name)

	if err := MoveFile(src, dest); err != nil {
		return "", err
	}

	return dest, nil
}

// MoveFile renames src to dest, copying across filesystems when a rename is not possible.
func MoveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, filePermReadWrite)
	if err != nil {
		return fmt.Errorf("create dest: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)

		return fmt.Errorf("copy: %w", err)
	}

	if err := out.Close(); err != nil {
		os.Remove(dest)

		return fmt.Errorf("close dest: %w", err)
	}

	in.Close()

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source: %w", err)
	}

	return nil
}
