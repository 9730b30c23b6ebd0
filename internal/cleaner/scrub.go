package cleaner

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// asciiFold strips diacritics: NFD decompose, drop nonspacing marks, NFC
// recompose. Used to canonicalize free-text attributes (city, region) from
// external sources so that "São Paulo" and "Sao Paulo" dedup together.
var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Scrubber normalizes string values before validation.
type Scrubber struct {
	// FoldDiacritics applies asciiFold to the listed fields.
	FoldDiacritics []string
}

// scrub trims surrounding whitespace, collapses the non-breaking space
// mojibake seen in real exports, and optionally folds diacritics.
func (s Scrubber) scrub(field, v string) string {
	v = strings.TrimSpace(strings.ReplaceAll(v, " ", " "))
	for _, f := range s.FoldDiacritics {
		if f != field {
			continue
		}
		if folded, _, err := transform.String(asciiFold, v); err == nil {
			v = folded
		}
		break
	}
	return v
}
