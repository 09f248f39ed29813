package site

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

var countSuffixes = map[string]float64{
	"":         1,
	"k":        1e3,
	"thousand": 1e3,
	"m":        1e6,
	"million":  1e6,
	"b":        1e9,
	"billion":  1e9,
	"千":        1e3,
	"万":        1e4,
	"萬":        1e4,
	"亿":        1e8,
	"億":        1e8,
}

// ParseCount parses an abbreviated engagement count: "1,234", "12.5K",
// "3M", "1.2B", "3.4万", "2亿", "1.5 million". Returns false when s carries
// no digits or an unknown suffix. Negative counts are never produced.
func ParseCount(s string) (int64, bool) {
	s = strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimRight(s, ".+")
	if s == "" {
		return 0, false
	}

	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.') {
		end++
	}
	if end == 0 {
		return 0, false
	}
	num, suffix := s[:end], strings.ToLower(s[end:])
	mult, ok := countSuffixes[suffix]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return int64(math.Round(v * mult)), true
}
