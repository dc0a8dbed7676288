package pipeline

import (
	"regexp"
	"sync"
)

var rewriteCache sync.Map // pattern string -> *regexp.Regexp

// compileRewrite compiles (and memoizes) a URL rewrite pattern. M3U
// account rewrite patterns are few and reused across every probe of that
// account's streams, so caching avoids recompiling per stream.
func compileRewrite(pattern string) (*regexp.Regexp, error) {
	if v, ok := rewriteCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rewriteCache.Store(pattern, re)
	return re, nil
}
