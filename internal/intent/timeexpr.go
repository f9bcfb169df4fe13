package intent

import (
	"fmt"
	"regexp"
	"strconv"
)

// ParsedTime is a wall-clock time of day. The zero value is midnight; absence
// is signalled by the ok result of ParseTime.
type ParsedTime struct {
	Hour   int
	Minute int
}

// String renders HH:MM.
func (p ParsedTime) String() string { return fmt.Sprintf("%02d:%02d", p.Hour, p.Minute) }

// "a las 8", "at 15:30". The Spanish form has no leading word boundary
// ("para las 9" reads as "a las 9"); "at" must start a word. Singular "a la"
// is not a time: "a la 9 de julio" names a street.
var reTime = regexp.MustCompile(`(?i)(?:a\s+las|\bat)\s+(\d{1,2})(?::(\d{2}))?`)

// ParseTime finds the first time expression in text. An out-of-range first
// match is a miss; later matches are not considered.
func ParseTime(text string) (ParsedTime, bool) {
	m := reTime.FindStringSubmatch(text)
	if m == nil {
		return ParsedTime{}, false
	}
	h, err := strconv.Atoi(m[1])
	if err != nil {
		return ParsedTime{}, false
	}
	mn := 0
	if m[2] != "" {
		if mn, err = strconv.Atoi(m[2]); err != nil {
			return ParsedTime{}, false
		}
	}
	if h < 0 || h > 23 || mn < 0 || mn > 59 {
		return ParsedTime{}, false
	}
	return ParsedTime{Hour: h, Minute: mn}, true
}
