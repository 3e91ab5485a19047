// Package rangeparse implements Component A: parsing a single HTTP
// Range header value into a normalized, satisfiable byte interval.
package rangeparse

import (
	"strconv"
	"strings"

	apperrors "github.com/alchemorsel/gateway/pkg/errors"
)

// Interval is a normalized, inclusive byte range: 0 <= Start <= End < Size.
type Interval struct {
	Start int64
	End   int64
}

// Len returns the number of bytes the interval covers.
func (i Interval) Len() int64 {
	return i.End - i.Start + 1
}

// Parse parses a single Range header value of the grammar
// "bytes=<start>-<end>" (both optional, at least one present) or the suffix
// form "bytes=-<N>", against a known total size.
//
// Multi-range values (containing a comma) are rejected as UnparseableRange,
// matching the no-multi-range Non-goal.
func Parse(raw string, size int64) (Interval, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(raw, prefix) {
		return Interval{}, apperrors.NewUnparseableRangeError(raw)
	}
	spec := raw[len(prefix):]
	if strings.Contains(spec, ",") {
		return Interval{}, apperrors.NewUnparseableRangeError(raw)
	}

	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return Interval{}, apperrors.NewUnparseableRangeError(raw)
	}

	startStr, endStr := spec[:dash], spec[dash+1:]

	if startStr == "" {
		// Suffix form: bytes=-N, last N bytes of the body.
		if endStr == "" {
			return Interval{}, apperrors.NewUnparseableRangeError(raw)
		}
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n < 0 {
			return Interval{}, apperrors.NewUnparseableRangeError(raw)
		}
		if n == 0 {
			return Interval{}, apperrors.NewUnsatisfiableRangeError(raw, size)
		}
		if n >= size {
			return Interval{Start: 0, End: size - 1}, nil
		}
		return Interval{Start: size - n, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return Interval{}, apperrors.NewUnparseableRangeError(raw)
	}

	var end int64
	if endStr == "" {
		end = size - 1
	} else {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < 0 {
			return Interval{}, apperrors.NewUnparseableRangeError(raw)
		}
	}

	if start >= size || start > end {
		return Interval{}, apperrors.NewUnsatisfiableRangeError(raw, size)
	}
	if end >= size {
		end = size - 1
	}

	return Interval{Start: start, End: end}, nil
}
