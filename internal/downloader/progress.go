package downloader

import (
	"errors"
	"regexp"
	"strconv"

	"downloadflow/internal/consts"
)

// reProgress matches the first percentage in an extractor output line: "[download]  42.3% of ...".
var reProgress = regexp.MustCompile(`(\d+\.?\d*)%`)

// ParseProgress extracts the first percentage from line, clamped to [0, 100].
// It reports false when the line carries no parseable percentage.
func ParseProgress(line string) (float64, bool) {
	match := reProgress.FindStringSubmatch(line)
	if len(match) < 2 {
		return 0, false
	}

	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}

	return min(max(value, 0), consts.FullProgress), true
}
