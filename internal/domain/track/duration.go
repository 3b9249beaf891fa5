package track

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInvalidDuration is returned for strings that are not "M:SS".
var ErrInvalidDuration = errors.New("invalid duration")

// ParseDuration parses a "M:SS" display string.
// "4:05" is 4*60000 + 5*1000 ms.
func ParseDuration(s string) (time.Duration, error) {
	minutesPart, secondsPart, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || minutesPart == "" || len(secondsPart) != 2 {
		return 0, errors.Wrapf(ErrInvalidDuration, "%q", s)
	}

	minutes, err := strconv.Atoi(minutesPart)
	if err != nil || minutes < 0 {
		return 0, errors.Wrapf(ErrInvalidDuration, "%q: bad minutes", s)
	}
	seconds, err := strconv.Atoi(secondsPart)
	if err != nil || seconds < 0 || seconds > 59 {
		return 0, errors.Wrapf(ErrInvalidDuration, "%q: bad seconds", s)
	}

	ms := int64(minutes)*60000 + int64(seconds)*1000
	return time.Duration(ms) * time.Millisecond, nil
}

// FormatDuration formats d as "M:SS", truncating sub-second precision.
// Negative durations format as "0:00".
func FormatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	minutes := ms / 60000
	seconds := (ms % 60000) / 1000
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// FromMillis converts an integer millisecond count to a duration.
func FromMillis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
