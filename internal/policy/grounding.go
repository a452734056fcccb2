package policy

import (
	"regexp"
	"strings"
)

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s<>"'()\[\]{}]+`)
	markdownLink    = regexp.MustCompile(`\[([^\]\n]+)\]\((https?://[^)\s]+)\)`)
	emptyBulletLine = regexp.MustCompile(`(?m)^[ \t]*(?:[-*•]|\d+[.)])[ \t:]*$\n?`)
)

// extractURLs returns every http(s) URL in text, trailing punctuation trimmed.
func extractURLs(text string) []string {
	raw := urlPattern.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, u := range raw {
		if u = trimURL(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func trimURL(u string) string {
	return strings.TrimRight(u, ".,;:!?*_`")
}

// normalizeURL drops the scheme, a leading "www.", the fragment and the
// trailing slash for comparison. The host is lowercased.
func normalizeURL(u string) string {
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u, _, _ = strings.Cut(u, "#")
	host, path, _ := strings.Cut(u, "/")
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if path == "" {
		return host
	}
	return strings.TrimSuffix(host+"/"+path, "/")
}

// observedURLs collects the normalized URLs found in the evidence texts.
func observedURLs(evidence []string) map[string]bool {
	seen := make(map[string]bool)
	for _, ev := range evidence {
		for _, u := range extractURLs(ev) {
			if n := normalizeURL(u); n != "" {
				seen[n] = true
			}
		}
	}
	return seen
}

// grounded reports whether u is one of the observed URLs. A prefix of an
// observed URL does not count.
func grounded(u string, observed map[string]bool) bool {
	n := normalizeURL(u)
	return n != "" && observed[n]
}

// dropUngroundedLinks removes links that no tool observation contains.
// Markdown links keep their label. Lines left empty are removed.
func dropUngroundedLinks(answer string, evidence []string) (string, []string) {
	observed := observedURLs(evidence)
	var dropped []string
	seen := make(map[string]bool)
	note := func(u string) {
		if !seen[u] {
			seen[u] = true
			dropped = append(dropped, u)
		}
	}

	answer = markdownLink.ReplaceAllStringFunc(answer, func(m string) string {
		sub := markdownLink.FindStringSubmatch(m)
		if grounded(trimURL(sub[2]), observed) {
			return m
		}
		note(trimURL(sub[2]))
		return sub[1]
	})

	answer = urlPattern.ReplaceAllStringFunc(answer, func(m string) string {
		u := trimURL(m)
		if grounded(u, observed) {
			return m
		}
		note(u)
		return m[len(u):] // keep the trailing punctuation
	})

	if len(dropped) > 0 {
		answer = emptyBulletLine.ReplaceAllString(answer, "")
		answer = tidy(answer)
	}
	return answer, dropped
}
