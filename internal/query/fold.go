package query

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold приводит s к нижнему регистру и убирает диакритику, чтобы "Thức ăn" совпадало с "thuc an".
func Fold(s string) string {
	// transformer-ы хранят состояние, поэтому цепочка строится на каждый вызов.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.Map(func(r rune) rune {
		switch r {
		case 'đ', 'Đ':
			return 'd'
		}
		return r
	}, folded)
	return strings.ToLower(strings.TrimSpace(folded))
}
