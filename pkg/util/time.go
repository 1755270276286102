package util

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatSeconds renders seconds the way ffmpeg filter arguments expect them:
// fixed three decimals, no exponent.
func FormatSeconds(s float64) string {
	if math.Abs(s) < 0.0005 {
		s = 0
	}
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// ParseTimestamp parses a timestamp string (HH:MM:SS.mmm or SS.mmm or MM:SS).
// ffmpeg reports out_time in the HH:MM:SS.micro form.
func ParseTimestamp(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp format: %s", s)
	}

	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp format: %s", s)
		}
		total = total*60 + v
	}

	d := time.Duration(total * float64(time.Second))
	if neg {
		d = -d
	}
	return d, nil
}
