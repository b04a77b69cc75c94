package router

import "strings"

// matchPattern reports whether path matches a glob-style pattern. A "*"
// matches any run of characters, including "/": "/api/*" matches
// "/api/health" and "/api/v1/query" but not "/api" itself, and "*.html"
// matches any path ending in ".html". Patterns without a "*" match
// exactly.
func matchPattern(pattern, path string) bool {
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return pattern == path
	}

	// First segment must anchor at the start, last at the end.
	if !strings.HasPrefix(path, segments[0]) {
		return false
	}
	path = path[len(segments[0]):]

	last := segments[len(segments)-1]
	if !strings.HasSuffix(path, last) {
		return false
	}
	path = path[:len(path)-len(last)]

	// Middle segments must appear in order in what remains.
	for _, seg := range segments[1 : len(segments)-1] {
		if seg == "" {
			continue
		}
		i := strings.Index(path, seg)
		if i < 0 {
			return false
		}
		path = path[i+len(seg):]
	}
	return true
}
