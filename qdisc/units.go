package qdisc

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	units "github.com/docker/go-units"
)

// A size component: a plain decimal number and an optional unit suffix,
// followed by whitespace or the end of the text.
var sizeComponent = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([A-Za-z]*)(?:\s+|$)`)

// Exa suffixes are parsed here; go-units stops at peta.
var exaSuffixes = map[int]map[string]float64{
	1000: {"e": 1e18, "eb": 1e18},
	1024: {"e": 1 << 60, "eb": 1 << 60, "eib": 1 << 60},
}

// ParseByteSize parses a size such as "1500", "10K", "1.5M" or "1G 500M".
// Base 1000 treats suffixes as decimal multiples, base 1024 as binary ones.
// Components are summed.
func ParseByteSize(text string, base int) (uint64, error) {
	if base != 1000 && base != 1024 {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedUnits, base)
	}

	rest := strings.TrimSpace(text)
	if rest == "" {
		return 0, ErrInvalidSize
	}

	var total uint64
	for rest != "" {
		m := sizeComponent.FindStringSubmatch(rest)
		if m == nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidSize, text)
		}
		rest = rest[len(m[0]):]

		n, err := parseSizeComponent(m[1], m[2], base)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", err, text)
		}
		if total > math.MaxUint64-n {
			return 0, fmt.Errorf("%w: %q", ErrOutOfRange, text)
		}
		total += n
	}
	return total, nil
}

func parseSizeComponent(num, suffix string, base int) (uint64, error) {
	sfx := strings.ToLower(suffix)
	if base == 1000 && strings.Contains(sfx, "i") {
		return 0, ErrInvalidSize
	}

	if mul, ok := exaSuffixes[base][sfx]; ok {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, ErrInvalidSize
		}
		v := f * mul
		if v >= math.MaxInt64 {
			return 0, ErrOutOfRange
		}
		return uint64(v), nil
	}

	var (
		n   int64
		err error
	)
	if base == 1000 {
		n, err = units.FromHumanSize(num + suffix)
	} else {
		n, err = units.RAMInBytes(num + suffix)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSize, err)
	}
	if n < 0 {
		return 0, ErrOutOfRange
	}
	return uint64(n), nil
}

var durationUnits = map[string]time.Duration{
	"":        time.Second,
	"us":      time.Microsecond,
	"µs":      time.Microsecond,
	"usec":    time.Microsecond,
	"ms":      time.Millisecond,
	"msec":    time.Millisecond,
	"s":       time.Second,
	"sec":     time.Second,
	"second":  time.Second,
	"seconds": time.Second,
	"m":       time.Minute,
	"min":     time.Minute,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"h":       time.Hour,
	"hr":      time.Hour,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"d":       24 * time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
}

// ParseDuration parses a time span like "50ms", "1.5", "2min 30s". Bare
// numbers are seconds. The result is truncated to whole microseconds.
func ParseDuration(text string) (time.Duration, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, ErrInvalidDuration
	}

	var total float64
	for s != "" {
		i := 0
		for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, text)
		}
		v, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, text)
		}
		s = strings.TrimLeft(s[i:], " ")

		j := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
		if j < 0 {
			j = len(s)
		}
		unit, ok := durationUnits[strings.ToLower(s[:j])]
		if !ok {
			return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidDuration, s[:j])
		}
		s = strings.TrimLeft(s[j:], " ")

		total += v * float64(unit)
		if total > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %q", ErrOutOfRange, text)
		}
	}

	return time.Duration(total).Truncate(time.Microsecond), nil
}
