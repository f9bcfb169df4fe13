package intent

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	markerNextDay  = "manana"
	markerEveryDay = "todos los dias"
)

// Markers are the intent phrases found in a message. Both may be set; the
// router gives NextDay precedence.
type Markers struct {
	NextDay  bool
	EveryDay bool
}

// DetectMarkers looks for the next-day and every-day phrases, ignoring case
// and accents ("mañana" and "manana" are the same marker).
func DetectMarkers(text string) Markers {
	folded := Fold(text)
	return Markers{
		NextDay:  strings.Contains(folded, markerNextDay),
		EveryDay: strings.Contains(folded, markerEveryDay),
	}
}

// Fold lower-cases text, strips combining marks and collapses whitespace runs.
func Fold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		out = text
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}
