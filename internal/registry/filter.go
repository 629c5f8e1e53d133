package registry

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/pharmacy-density/internal/model"
)

// DefaultKeyword selects pharmacies by activity name ("Farmacias con
// minisúper", "Comercio al por menor en farmacias", ...).
const DefaultKeyword = "farm"

// Fold lowercases s and strips diacritics, so "FARMACÉUTICOS" and
// "farmaceuticos" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// FilterPharmacies returns the records whose activity name contains keyword
// after folding both sides. The input is not modified and the result keeps
// input order, so applying the filter twice yields the same set.
//
// The match is a plain substring test: any activity containing the keyword
// (e.g. "farmacéutica" wholesalers) is kept.
func FilterPharmacies(records []model.BusinessRecord, keyword string) []model.BusinessRecord {
	needle := Fold(strings.TrimSpace(keyword))
	out := make([]model.BusinessRecord, 0, len(records)/8)
	for _, r := range records {
		if strings.Contains(Fold(r.ActivityName), needle) {
			out = append(out, r)
		}
	}
	return out
}
