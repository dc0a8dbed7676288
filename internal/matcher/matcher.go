// Package matcher implements the regex-based channel-name -> candidate
// stream matcher described in spec §6. The spec treats the upstream
// matcher as an external collaborator; this package is the default
// implementation the pipeline invokes during a force-check, grounded on
// the teacher's internal/normalize regex-building conventions.
package matcher

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// channelNameToken is the literal placeholder a channel's match pattern may
// contain; it is substituted with the channel name escaped as a regex
// literal, never interpolated raw.
const channelNameToken = "CHANNEL_NAME"

// StreamRef is a minimal reference returned by a Matcher, just enough for
// the pipeline to associate a discovered stream with a channel.
type StreamRef struct {
	StreamID     int
	Name         string
	M3UAccountID int
}

// Candidate is something a Matcher can test a pattern against.
type Candidate struct {
	StreamID     int
	Name         string
	M3UAccountID int
}

// Matcher discovers candidate streams for a channel by name.
type Matcher interface {
	CandidatesFromPatterns(channelName string, patterns []string, m3uAccountFilter []int, pool []Candidate) ([]StreamRef, error)
}

var _ Matcher = (*RegexMatcher)(nil)

// whitespaceRun matches one or more whitespace characters in a raw pattern
// before compilation, so authors can write a pattern with literal spaces
// and have it tolerate arbitrary playlist-name whitespace at match time.
var whitespaceRun = regexp.MustCompile(`\s+`)

// RegexMatcher is the default Matcher: each channel carries zero or more
// raw patterns (configured upstream, outside this package's scope); this
// type turns one such pattern plus a channel name into a compiled regex
// and filters the candidate pool.
type RegexMatcher struct {
	caseSensitive bool
}

// New creates a RegexMatcher. caseSensitive mirrors the "case_sensitive"
// global setting (spec §6 default: true).
func New(caseSensitive bool) *RegexMatcher {
	return &RegexMatcher{caseSensitive: caseSensitive}
}

// Compile builds the final regex for one raw pattern and channel name:
// whitespace runs become `\s+`, then CHANNEL_NAME is substituted with the
// channel name escaped as a regex literal, its own whitespace runs also
// matching `\s+`.
func (m *RegexMatcher) Compile(rawPattern, channelName string) (*regexp.Regexp, error) {
	normalized := whitespaceRun.ReplaceAllString(rawPattern, `\s+`)
	escaped := whitespaceRun.ReplaceAllString(regexp.QuoteMeta(channelName), `\s+`)
	normalized = strings.ReplaceAll(normalized, channelNameToken, escaped)

	if !m.caseSensitive {
		normalized = "(?i)" + normalized
	}

	re, err := regexp.Compile(normalized)
	if err != nil {
		return nil, fmt.Errorf("matcher: compile pattern %q: %w", rawPattern, err)
	}
	return re, nil
}

// CandidatesFromPatterns filters pool down to entries whose Name matches
// any of patterns (each a raw pattern potentially containing CHANNEL_NAME)
// and, when m3uAccountFilter is non-empty, whose M3UAccountID is in it.
func (m *RegexMatcher) CandidatesFromPatterns(channelName string, patterns []string, m3uAccountFilter []int, pool []Candidate) ([]StreamRef, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := m.Compile(p, channelName)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}

	accountAllowed := func(id int) bool {
		if len(m3uAccountFilter) == 0 {
			return true
		}
		for _, a := range m3uAccountFilter {
			if a == id {
				return true
			}
		}
		return false
	}

	var out []StreamRef
	for _, c := range pool {
		if !accountAllowed(c.M3UAccountID) {
			continue
		}
		for _, re := range compiled {
			if re.MatchString(c.Name) {
				out = append(out, StreamRef{StreamID: c.StreamID, Name: c.Name, M3UAccountID: c.M3UAccountID})
				break
			}
		}
	}
	return out, nil
}

// titleCaser is retained for callers that need display-normalized channel
// names (e.g. changelog messages); case_sensitive matching itself never
// depends on it.
var titleCaser = cases.Title(language.Und)

// DisplayName title-cases name using Unicode-aware rules, independent of
// the regex matcher's own case_sensitive setting.
func DisplayName(name string) string {
	return titleCaser.String(name)
}
