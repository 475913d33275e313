package textmatch

import (
	"regexp"
	"sync"
)

const maxCachedPatterns = 512

// RegexCache compiles case-insensitive patterns once. Invalid patterns are
// remembered as nil so they fail closed without being recompiled.
type RegexCache struct {
	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// NewRegexCache creates an empty cache.
func NewRegexCache() *RegexCache {
	return &RegexCache{patterns: make(map[string]*regexp.Regexp)}
}

// Get returns the compiled pattern, or nil when it does not compile.
func (c *RegexCache) Get(pattern string) *regexp.Regexp {
	c.mu.RLock()
	re, ok := c.patterns[pattern]
	c.mu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = nil
	}
	c.mu.Lock()
	if len(c.patterns) >= maxCachedPatterns {
		c.patterns = make(map[string]*regexp.Regexp)
	}
	c.patterns[pattern] = re
	c.mu.Unlock()
	return re
}

// Match reports whether text matches pattern. Invalid patterns never match.
func (c *RegexCache) Match(pattern, text string) bool {
	re := c.Get(pattern)
	if re == nil {
		return false
	}
	return re.MatchString(text)
}

// Valid reports whether pattern compiles.
func (c *RegexCache) Valid(pattern string) bool {
	return c.Get(pattern) != nil
}

var shared = NewRegexCache()

// MatchRegex matches against the process-wide cache used by the storage
// engine's regexp function.
func MatchRegex(pattern, text string) bool {
	return shared.Match(pattern, text)
}

// CompileRegex returns the cached compiled form of pattern, or nil.
func CompileRegex(pattern string) *regexp.Regexp {
	return shared.Get(pattern)
}
