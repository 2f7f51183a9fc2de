// Package sponsor looks employers up in a visa-sponsor register. The fuzzy
// matching algorithm itself lives outside this repo; this package defines
// the boundary plus a normalized-name table implementation.
package sponsor

import (
	"os"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Matcher resolves an employer name to a sponsor-register entry.
type Matcher interface {
	Match(employer string) (string, bool)
}

// Noop never matches. Used when no register is configured.
type Noop struct{}

func (Noop) Match(string) (string, bool) { return "", false }

// registerEntry is one row of the YAML register file.
type registerEntry struct {
	Name string `yaml:"name"`
}

// Table matches employers against a register loaded from file, by
// normalized exact name.
type Table struct {
	byName map[string]string
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func normalizeName(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	// Strip common legal suffixes so "Acme Ltd" matches "ACME LIMITED".
	for _, suffix := range []string{" limited", " ltd", " plc", " llp", " inc", " gmbh"} {
		folded = strings.TrimSuffix(strings.TrimSpace(folded), suffix)
	}
	return strings.Join(strings.Fields(folded), " ")
}

// LoadTable reads a YAML register file into a Table.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "sponsor: read register")
	}

	var entries []registerEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, eris.Wrap(err, "sponsor: parse register")
	}

	t := &Table{byName: make(map[string]string, len(entries))}
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		t.byName[normalizeName(e.Name)] = e.Name
	}
	return t, nil
}

// Match reports the register entry for the employer, if present.
func (t *Table) Match(employer string) (string, bool) {
	name, ok := t.byName[normalizeName(employer)]
	return name, ok
}
