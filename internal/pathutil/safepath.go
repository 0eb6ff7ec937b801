// Package pathutil checks identifiers and object keys that end up as path
// segments, such as room ids inside S3 summary keys.
package pathutil

import (
	"path"
	"strings"
)

// MaxSegmentLen caps an id used as a single path segment
const MaxSegmentLen = 64

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// IsSafeSegment reports whether s can be used as one path or key segment:
// 1 to MaxSegmentLen characters from [A-Za-z0-9_-].
func IsSafeSegment(s string) bool {
	if s == "" || len(s) > MaxSegmentLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// Within reports whether the cleaned p stays under base. An empty base only
// rejects absolute paths and paths that climb out with "..".
func Within(base, p string) bool {
	p = path.Clean(p)
	base = path.Clean(base)
	if base == "." {
		return !path.IsAbs(p) && p != ".." && !strings.HasPrefix(p, "../")
	}
	return strings.HasPrefix(p, strings.TrimSuffix(base, "/")+"/")
}
