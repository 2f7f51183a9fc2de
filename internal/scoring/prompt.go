package scoring

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jobgrid/pipeline-cli/internal/config"
	"github.com/jobgrid/pipeline-cli/internal/model"
)

const evalSystemPrompt = `You evaluate how well a job posting fits a candidate profile. ` +
	`Reply with a JSON object containing "score", a number from 0 to 100 where 100 is a perfect fit, ` +
	`and "reason", one or two sentences explaining the score. Reply with JSON only.`

const maxDescriptionChars = 4000

func buildEvalPrompt(profile config.ProfileConfig, item *model.ScoredItem) string {
	var b strings.Builder

	b.WriteString("Candidate profile:\n")
	if profile.Summary != "" {
		b.WriteString(profile.Summary)
		b.WriteString("\n")
	}
	if len(profile.Keywords) > 0 {
		fmt.Fprintf(&b, "Key skills: %s\n", strings.Join(profile.Keywords, ", "))
	}

	b.WriteString("\nJob posting:\n")
	fmt.Fprintf(&b, "Title: %s\n", item.Title)
	if item.Employer != "" {
		fmt.Fprintf(&b, "Employer: %s\n", item.Employer)
	}
	if item.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", item.Location)
	}
	if item.SalaryMin > 0 || item.SalaryMax > 0 {
		fmt.Fprintf(&b, "Salary: %.0f-%.0f\n", item.SalaryMin, item.SalaryMax)
	}
	if item.Description != "" {
		fmt.Fprintf(&b, "Description:\n%s\n", truncate(item.Description, maxDescriptionChars))
	}

	return b.String()
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// offlineScore produces a deterministic heuristic score from keyword overlap
// between the profile and the posting text. It stands in for the AI call when
// no provider credential is configured.
func (s *Stage) offlineScore(item *model.ScoredItem) *scoreResult {
	if len(s.profile.Keywords) == 0 {
		return &scoreResult{Score: 50, Reason: "offline heuristic: no profile keywords configured, neutral score"}
	}

	haystack := strings.ToLower(item.Title + " " + item.Description)
	matched := make([]string, 0, len(s.profile.Keywords))
	for _, kw := range s.profile.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}

	score := 100 * float64(len(matched)) / float64(len(s.profile.Keywords))
	reason := fmt.Sprintf("offline heuristic: matched %d of %d profile keywords", len(matched), len(s.profile.Keywords))
	if len(matched) > 0 {
		reason += " (" + strings.Join(matched, ", ") + ")"
	}
	return &scoreResult{Score: score, Reason: reason}
}
