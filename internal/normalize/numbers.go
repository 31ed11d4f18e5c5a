package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// numPat matches one amount token. The first alternative is a grouped number
// (space, apostrophe, period or comma groups of exactly three digits with an
// optional 1-2 digit decimal part); the second is an ungrouped number with an
// optional decimal part.
const numPat = `(\d{1,3}(?:(?:[ '’]\d{3})+|(?:\.\d{3})+|(?:,\d{3})+)(?:[.,]\d{1,2})?|\d+(?:[.,]\d+)?)`

// sufPat matches magnitude suffixes such as "50k" or "1,5 million".
const sufPat = `(?:\s*(k|mio\.?|mn|millions?|mrd|md|milliards?|bn|billions?|m)\b)?`

var (
	reLooseNumber = regexp.MustCompile(`^[+]?` + numPat + sufPat + `\s*%?$`)
	spaceLike     = strings.NewReplacer(
		"\u00a0", " ", // no-break space
		"\u202f", " ", // narrow no-break space (fr-FR grouping)
		"\u2009", " ", // thin space
		"\u2007", " ", // figure space
		"\t", " ",
	)
)

// cleanSpaces maps the typographic spaces used for digit grouping to plain
// spaces and lowercases the input.
func cleanSpaces(s string) string {
	return strings.ToLower(spaceLike.Replace(s))
}

// parseNumberToken converts one numPat match into a float. Separator roles are
// decided from the token itself:
//   - spaces and apostrophes are always grouping;
//   - when both '.' and ',' occur, the last one is the decimal mark;
//   - a separator repeated more than once is grouping;
//   - a single separator followed by exactly three digits, with one to three
//     non-zero-led digits before it, is grouping; otherwise it is decimal.
func parseNumberToken(tok string) (float64, bool) {
	tok = strings.NewReplacer(" ", "", "'", "", "’", "").Replace(strings.TrimSpace(tok))
	if tok == "" {
		return 0, false
	}
	dots := strings.Count(tok, ".")
	commas := strings.Count(tok, ",")

	switch {
	case dots > 0 && commas > 0:
		if strings.LastIndex(tok, ",") > strings.LastIndex(tok, ".") {
			tok = strings.ReplaceAll(tok, ".", "")
			tok = strings.Replace(tok, ",", ".", 1)
		} else {
			tok = strings.ReplaceAll(tok, ",", "")
		}
	case commas > 1:
		tok = strings.ReplaceAll(tok, ",", "")
	case dots > 1:
		tok = strings.ReplaceAll(tok, ".", "")
	case commas == 1:
		if isThousandsGroup(tok, ",") {
			tok = strings.ReplaceAll(tok, ",", "")
		} else {
			tok = strings.Replace(tok, ",", ".", 1)
		}
	case dots == 1:
		if isThousandsGroup(tok, ".") {
			tok = strings.ReplaceAll(tok, ".", "")
		}
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func isThousandsGroup(tok, sep string) bool {
	i := strings.Index(tok, sep)
	before, after := tok[:i], tok[i+1:]
	return len(after) == 3 && len(before) >= 1 && len(before) <= 3 && before[0] != '0'
}

// suffixMultiplier maps a magnitude suffix to its factor.
func suffixMultiplier(suf string) float64 {
	switch strings.TrimSuffix(strings.TrimSpace(suf), ".") {
	case "k":
		return 1e3
	case "m", "mio", "mn", "million", "millions":
		return 1e6
	case "md", "mrd", "milliard", "milliards", "bn", "billion", "billions":
		return 1e9
	}
	return 1
}

// parseLooseNumber parses a whole string as a single number, accepting
// grouping, magnitude suffixes and a trailing percent sign.
func parseLooseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(cleanSpaces(s))
	m := reLooseNumber.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	f, ok := parseNumberToken(m[1])
	if !ok {
		return 0, false
	}
	return f * suffixMultiplier(m[2]), true
}
