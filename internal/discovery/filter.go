package discovery

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jobgrid/pipeline-cli/internal/config"
	"github.com/jobgrid/pipeline-cli/internal/model"
)

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldLocation lowercases and strips diacritics so "Zürich" matches "zurich".
func foldLocation(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// filterByCities keeps items whose location mentions a requested city. An
// item matching no rule is still kept when any lenient rule applies; with no
// rules configured everything passes.
func filterByCities(items []model.DiscoveredItem, rules []config.CityRule) []model.DiscoveredItem {
	if len(rules) == 0 {
		return items
	}

	out := items[:0:0]
	for _, item := range items {
		loc := foldLocation(item.Location)
		keep := false
		for _, rule := range rules {
			if rule.City != "" && strings.Contains(loc, foldLocation(rule.City)) {
				keep = true
				break
			}
			if rule.Lenient {
				keep = true
			}
		}
		if keep {
			out = append(out, item)
		}
	}
	return out
}

// filterEmployers drops items whose employer matches the blocklist by
// case-insensitive substring.
func filterEmployers(items []model.DiscoveredItem, blocklist []string) []model.DiscoveredItem {
	if len(blocklist) == 0 {
		return items
	}

	out := items[:0:0]
	for _, item := range items {
		employer := strings.ToLower(item.Employer)
		blocked := false
		for _, kw := range blocklist {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if strings.Contains(employer, kw) {
				blocked = true
				break
			}
		}
		if !blocked {
			out = append(out, item)
		}
	}
	return out
}

// dedupe drops items whose URL is already known or seen earlier in the
// batch. Items without a URL are dropped outright; the URL is the identity.
func dedupe(items []model.DiscoveredItem, knownURLs []string) []model.DiscoveredItem {
	seen := make(map[string]struct{}, len(knownURLs)+len(items))
	for _, u := range knownURLs {
		seen[u] = struct{}{}
	}

	out := items[:0:0]
	for _, item := range items {
		if item.URL == "" {
			continue
		}
		if _, dup := seen[item.URL]; dup {
			continue
		}
		seen[item.URL] = struct{}{}
		out = append(out, item)
	}
	return out
}
