package normalize

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

// MoneyResult is the outcome of amount parsing. Money is nil when nothing
// matched; that is a normal outcome, not an error.
type MoneyResult struct {
	Money    *entity.Money
	Method   string
	Warnings []string
}

const curPat = `(€|\$|£|chf|sfr\.?|fr\.|euros?|eur|usd|gbp|dollars?|pounds?)`

// amtPat is one amount with optional leading or trailing currency. It has
// four capture groups: leading currency, number, suffix, trailing currency.
const amtPat = `(?:` + curPat + `\s*)?` + numPat + sufPat + `(?:\s*` + curPat + `)?`

var (
	reRangePhrase = regexp.MustCompile(
		`\b(?:between|from|entre|de|du|zwischen|von|tra|da|desde)\s+` + amtPat +
			`\s+(?:and|to|et|à|a|au|und|bis|e|y|hasta|-)\s+` + amtPat)
	reDashRange    = regexp.MustCompile(amtPat + `\s*-\s*` + amtPat)
	reSinglePhrase = regexp.MustCompile(
		`(?:up\s+to(?:\s+a\s+maximum\s+of)?|maximum\s+of|max(?:imum)?\.?|grant\s+of|ceiling\s+of|capped\s+at|` +
			`jusqu['’]\s*(?:à|a)|plafonn[ée]e?s?\s+à|plafond\s+de|bis\s+zu|höchstens|hasta|fino\s+a|massimo)\s*:?\s*` + amtPat)
	reCurrencyFirst = regexp.MustCompile(curPat + `\s*` + numPat + sufPat)
	reCurrencyLast  = regexp.MustCompile(numPat + sufPat + `\s*` + curPat)
	reBareAmount    = regexp.MustCompile(`^` + numPat + sufPat + `$`)
	reYear          = regexp.MustCompile(`^(19|20)\d{2}$`)
)

type amount struct {
	value    float64
	currency string
	hinted   bool // carried a currency or magnitude suffix
	raw      string
}

// ToMoney resolves a raw value to a single amount.
//
// Numbers are taken as-is; arrays resolve to their largest parseable entry.
// Strings are matched in priority order: range phrases and dash ranges
// resolve to the maximum bound (see bestRange for unhinted ranges),
// single-amount phrases to their amount, then
// number+currency, then a bare number. Separators are interpreted per
// matched token (see parseNumberToken), never from a global locale.
func ToMoney(v RawValue) MoneyResult {
	switch v.Kind {
	case RawMissing, RawBool:
		return MoneyResult{Method: "empty"}
	case RawNumber:
		return MoneyResult{Money: &entity.Money{Amount: v.Num}, Method: "number"}
	case RawArray:
		return moneyFromArray(v)
	case RawObject:
		return moneyFromObject(v)
	}
	s := cleanSpaces(strings.TrimSpace(v.Str))
	if v.IsBlank() {
		return MoneyResult{Method: "empty"}
	}
	s = strings.NewReplacer("–", "-", "—", "-", "‑", "-").Replace(s)

	singles := reSinglePhrase.FindAllStringSubmatch(s, -1)
	var cands []amount
	for _, m := range reCurrencyFirst.FindAllStringSubmatch(s, -1) {
		if a, ok := toAmount(m[1], m[2], m[3], ""); ok {
			cands = append(cands, a)
		}
	}
	for _, m := range reCurrencyLast.FindAllStringSubmatch(s, -1) {
		if a, ok := toAmount("", m[1], m[2], m[3]); ok {
			cands = append(cands, a)
		}
	}
	anchored := len(singles) > 0 || len(cands) > 0

	if best, n := bestRange(reRangePhrase.FindAllStringSubmatch(s, -1), s, false, anchored); n > 0 {
		return resultFrom(best, "range", n)
	}
	if best, n := bestRange(reDashRange.FindAllStringSubmatch(s, -1), s, true, anchored); n > 0 {
		return resultFrom(best, "range", n)
	}
	if best, n := bestSingle(singles, 0); n > 0 {
		return resultFrom(best, "single_phrase", n)
	}

	if len(cands) > 0 {
		best := cands[0]
		for _, c := range cands[1:] {
			if c.value > best.value {
				best = c
			}
		}
		return resultFrom(best, "currency_amount", distinct(cands))
	}

	if m := reBareAmount.FindStringSubmatch(s); m != nil {
		if a, ok := toAmount("", m[1], m[2], ""); ok {
			return resultFrom(a, "number", 1)
		}
	}
	return MoneyResult{Method: "unmatched", Warnings: []string{"no amount pattern matched: " + truncateRaw(v.Str)}}
}

// ParseAmount is ToMoney for plain strings.
func ParseAmount(s string) (float64, bool) {
	r := ToMoney(String(s))
	if r.Money == nil {
		return 0, false
	}
	return r.Money.Amount, true
}

func moneyFromArray(v RawValue) MoneyResult {
	var best *entity.Money
	var warns []string
	for _, it := range v.Items {
		r := ToMoney(it)
		warns = append(warns, r.Warnings...)
		if r.Money != nil && (best == nil || r.Money.Amount > best.Amount) {
			m := *r.Money
			best = &m
		}
	}
	if best == nil {
		return MoneyResult{Method: "array_max", Warnings: warns}
	}
	return MoneyResult{Money: best, Method: "array_max", Warnings: warns}
}

func moneyFromObject(v RawValue) MoneyResult {
	for _, key := range []string{"max", "maximum", "amount", "value", "montant"} {
		inner, ok := v.Fields[key]
		if !ok {
			continue
		}
		r := ToMoney(inner)
		if r.Money == nil {
			continue
		}
		if c, ok := v.Fields["currency"]; ok {
			if code, ok := c.Text(); ok && r.Money.Currency == "" {
				r.Money.Currency = currencyCode(strings.ToLower(code))
				if r.Money.Currency == "" && len(code) == 3 {
					r.Money.Currency = strings.ToUpper(code)
				}
			}
		}
		r.Method = "object_" + key
		return r
	}
	return MoneyResult{Method: "unmatched", Warnings: []string{"object has no amount key"}}
}

// bestRange picks the maximum bound across all range matches. A range with
// no currency or magnitude hint on either bound is never a span of years and
// is dropped when the input carries an anchored amount (a single-amount
// phrase or a number with currency) elsewhere; durations and day spans in
// "from 2 to 5 years; grant of 100 000 €" must not win. Unhinted dash ranges
// must also span the whole input.
func bestRange(matches [][]string, whole string, dash, anchored bool) (amount, int) {
	var best amount
	n := 0
	for _, m := range matches {
		lo, ok1 := toAmount(m[1], m[2], m[3], m[4])
		hi, ok2 := toAmount(m[5], m[6], m[7], m[8])
		if !ok1 || !ok2 {
			continue
		}
		if !lo.hinted && !hi.hinted {
			if anchored {
				continue
			}
			if reYear.MatchString(strings.TrimSpace(m[2])) && reYear.MatchString(strings.TrimSpace(m[6])) {
				continue
			}
			if dash && strings.TrimSpace(m[0]) != strings.TrimSpace(whole) {
				continue
			}
		}
		top := hi
		if lo.value > hi.value {
			top = lo
		}
		if top.currency == "" {
			top.currency = firstNonEmpty(hi.currency, lo.currency)
		}
		if n == 0 || top.value > best.value {
			best = top
		}
		n++
	}
	return best, n
}

func bestSingle(matches [][]string, offset int) (amount, int) {
	var best amount
	n := 0
	for _, m := range matches {
		a, ok := toAmount(m[offset+1], m[offset+2], m[offset+3], m[offset+4])
		if !ok {
			continue
		}
		if n == 0 || a.value > best.value {
			best = a
		}
		n++
	}
	return best, n
}

func toAmount(curBefore, num, suffix, curAfter string) (amount, bool) {
	f, ok := parseNumberToken(num)
	if !ok {
		return amount{}, false
	}
	cur := currencyCode(firstNonEmpty(curBefore, curAfter))
	return amount{
		value:    f * suffixMultiplier(suffix),
		currency: cur,
		hinted:   cur != "" || suffix != "",
		raw:      num,
	}, true
}

func resultFrom(a amount, method string, matches int) MoneyResult {
	r := MoneyResult{Money: &entity.Money{Amount: a.value, Currency: a.currency}, Method: method}
	if matches > 1 {
		r.Warnings = append(r.Warnings, "multiple amounts found; kept the largest")
	}
	return r
}

func distinct(as []amount) int {
	seen := map[float64]struct{}{}
	for _, a := range as {
		seen[a.value] = struct{}{}
	}
	return len(seen)
}

func currencyCode(sym string) string {
	switch strings.TrimSpace(sym) {
	case "€", "eur", "euro", "euros":
		return "EUR"
	case "$", "usd", "dollar", "dollars":
		return "USD"
	case "£", "gbp", "pound", "pounds":
		return "GBP"
	case "chf", "sfr", "sfr.", "fr.":
		return "CHF"
	}
	return ""
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

func truncateRaw(s string) string {
	const max = 80
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "..."
}
