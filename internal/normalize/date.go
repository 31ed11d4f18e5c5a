package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateOrder is the field order assumed for ambiguous numeric dates.
type DateOrder int

const (
	// DayFirst reads 03/04/2025 as 3 April 2025.
	DayFirst DateOrder = iota
	// MonthFirst reads 03/04/2025 as 4 March 2025.
	MonthFirst
)

func (o DateOrder) String() string {
	if o == MonthFirst {
		return "MM/DD"
	}
	return "DD/MM"
}

// ParseDateOrder maps a config value or locale tag to a DateOrder. Only US
// style locales are month-first; everything else, including unknown values,
// is day-first.
func ParseDateOrder(s string) DateOrder {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mdy", "mm/dd", "en-us", "en_us", "us":
		return MonthFirst
	}
	return DayFirst
}

// DateResult is the outcome of date parsing. Date is nil when nothing parsed.
type DateResult struct {
	Date      *time.Time
	Method    string
	Ambiguous bool
	Warnings  []string
}

// ISO returns the date as YYYY-MM-DD, or nil.
func (r DateResult) ISO() *string {
	if r.Date == nil {
		return nil
	}
	s := r.Date.Format("2006-01-02")
	return &s
}

var (
	isoLayouts = []string{
		"2006-01-02",
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006/01/02",
	}
	reNumericDate   = regexp.MustCompile(`\b(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})\b`)
	reISODate       = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	reDayMonthName  = regexp.MustCompile(`\b(\d{1,2})(?:er|st|nd|rd|th|\.)?\s+([a-zéûäèì]+)\.?,?\s+(\d{4})\b`)
	reMonthNameDay  = regexp.MustCompile(`\b([a-zéûäèì]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	excelEpoch      = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
	monthNames      = map[string]time.Month{}
	monthNameTables = map[time.Month][]string{
		time.January:   {"january", "jan", "janvier", "janv", "januar", "jän", "enero", "ene", "gennaio", "gen"},
		time.February:  {"february", "feb", "février", "fevrier", "févr", "fevr", "februar", "febrero", "febbraio"},
		time.March:     {"march", "mar", "mars", "märz", "marz", "marzo"},
		time.April:     {"april", "apr", "avril", "avr", "abril", "abr", "aprile"},
		time.May:       {"may", "mai", "mayo", "maggio", "mag"},
		time.June:      {"june", "jun", "juin", "juni", "junio", "giugno", "giu"},
		time.July:      {"july", "jul", "juillet", "juil", "juli", "julio", "luglio", "lug"},
		time.August:    {"august", "aug", "août", "aout", "agosto", "ago"},
		time.September: {"september", "sep", "sept", "septembre", "septiembre", "settembre", "set"},
		time.October:   {"october", "oct", "octobre", "oktober", "okt", "octubre", "ottobre", "ott"},
		time.November:  {"november", "nov", "novembre", "noviembre"},
		time.December:  {"december", "dec", "décembre", "decembre", "déc", "dezember", "dez", "diciembre", "dic", "dicembre"},
	}
)

func init() {
	for m, names := range monthNameTables {
		for _, n := range names {
			monthNames[n] = m
		}
	}
}

// ToDate parses ISO-8601, DD/MM/YYYY, MM/DD/YYYY (with '/', '.' or '-'),
// month-name dates in several languages and Excel serial numbers.
//
// Disambiguation rule for numeric dates: if only one of DD/MM and MM/DD
// yields a valid calendar date, that one is used. If both are valid and
// differ, the configured order wins and the result is flagged Ambiguous with
// a warning. Identical readings (e.g. 05/05/2025) are not ambiguous.
func ToDate(v RawValue, order DateOrder) DateResult {
	switch v.Kind {
	case RawMissing, RawBool, RawObject:
		return DateResult{Method: "empty"}
	case RawNumber:
		return dateFromSerial(v.Num)
	case RawArray:
		var warns []string
		for _, it := range v.Items {
			r := ToDate(it, order)
			if r.Date != nil {
				if len(v.Items) > 1 {
					r.Warnings = append(r.Warnings, "multiple dates found; kept the first parseable one")
				}
				return r
			}
			warns = append(warns, r.Warnings...)
		}
		return DateResult{Method: "unmatched", Warnings: warns}
	}
	if v.IsBlank() {
		return DateResult{Method: "empty"}
	}
	trimmed := strings.TrimSpace(v.Str)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return DateResult{Date: dateOnly(t), Method: "iso"}
		}
	}
	s := cleanSpaces(trimmed)
	if r, ok := parseNumeric(s, order, true); ok {
		return r
	}
	if r, ok := parseMonthName(s); ok {
		return r
	}

	// Free text such as "Deadline: 15/03/2025 at noon".
	if m := reISODate.FindStringSubmatch(s); m != nil {
		if t, ok := buildDate(m[1], m[2], m[3]); ok {
			return DateResult{Date: t, Method: "iso_in_text", Warnings: []string{"date extracted from surrounding text"}}
		}
	}
	if r, ok := parseNumeric(s, order, false); ok {
		r.Warnings = append(r.Warnings, "date extracted from surrounding text")
		return r
	}
	return DateResult{Method: "unmatched", Warnings: []string{"no date pattern matched: " + truncateRaw(v.Str)}}
}

func parseNumeric(s string, order DateOrder, anchored bool) (DateResult, bool) {
	m := reNumericDate.FindStringSubmatchIndex(s)
	if m == nil {
		return DateResult{}, false
	}
	if anchored && (m[0] != 0 || m[1] != len(s)) {
		return DateResult{}, false
	}
	a, b, y := s[m[2]:m[3]], s[m[4]:m[5]], s[m[6]:m[7]]
	dmy, dmyOK := buildDate(y, b, a)
	mdy, mdyOK := buildDate(y, a, b)

	switch {
	case dmyOK && !mdyOK:
		return DateResult{Date: dmy, Method: "dmy"}, true
	case mdyOK && !dmyOK:
		return DateResult{Date: mdy, Method: "mdy"}, true
	case dmyOK && mdyOK:
		if dmy.Equal(*mdy) {
			return DateResult{Date: dmy, Method: "dmy"}, true
		}
		chosen, method := dmy, "dmy"
		if order == MonthFirst {
			chosen, method = mdy, "mdy"
		}
		return DateResult{
			Date:      chosen,
			Method:    method,
			Ambiguous: true,
			Warnings: []string{fmt.Sprintf("ambiguous date %q read as %s per source locale (alternative %s)",
				s[m[0]:m[1]], order, other(chosen, dmy, mdy).Format("2006-01-02"))},
		}, true
	}
	return DateResult{}, false
}

func parseMonthName(s string) (DateResult, bool) {
	if m := reDayMonthName.FindStringSubmatch(s); m != nil {
		if mon, ok := monthNames[m[2]]; ok {
			if t, ok := buildDate(m[3], strconv.Itoa(int(mon)), m[1]); ok {
				return DateResult{Date: t, Method: "month_name"}, true
			}
		}
	}
	if m := reMonthNameDay.FindStringSubmatch(s); m != nil {
		if mon, ok := monthNames[m[1]]; ok {
			if t, ok := buildDate(m[3], strconv.Itoa(int(mon)), m[2]); ok {
				return DateResult{Date: t, Method: "month_name"}, true
			}
		}
	}
	return DateResult{}, false
}

// dateFromSerial accepts spreadsheet serial dates between 1954 and 2119.
func dateFromSerial(n float64) DateResult {
	if n < 20000 || n > 80000 {
		return DateResult{Method: "unmatched", Warnings: []string{fmt.Sprintf("number %v is not a date", n)}}
	}
	t := excelEpoch.AddDate(0, 0, int(n))
	return DateResult{Date: &t, Method: "excel_serial"}
}

func buildDate(y, m, d string) (*time.Time, bool) {
	year, err1 := strconv.Atoi(y)
	month, err2 := strconv.Atoi(m)
	day, err3 := strconv.Atoi(d)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || year < 1900 || year > 2200 {
		return nil, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return nil, false // e.g. 31/02
	}
	return &t, true
}

func dateOnly(t time.Time) *time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func other(chosen, a, b *time.Time) *time.Time {
	if chosen == a {
		return b
	}
	return a
}
