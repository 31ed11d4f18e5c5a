package ocr

import (
	"regexp"
	"strings"
)

var (
	reDate     = regexp.MustCompile(`\b\d{1,2}[/.\-]\d{1,2}[/.\-]\d{4}\b|\b\d{4}-\d{2}-\d{2}\b`)
	reCurr     = regexp.MustCompile(`\b(eur|usd|gbp|chf)\b|[$£€]`)
	reAmount   = regexp.MustCompile(`\b\d{1,3}([ .,'’]\d{3})+\b`)
	reKeywords = regexp.MustCompile(`(deadline|eligib|funding|grant|subvention|aide|date limite|förder|frist|beneficiar)`)
)

// heuristicConfidence scores OCR text by the artifacts a funding notice
// usually carries. It is a rough signal in 0..1.
func heuristicConfidence(txt string) float64 {
	txtL := strings.ToLower(txt)
	score := 0.2
	if reDate.MatchString(txtL) {
		score += 0.2
	}
	if reCurr.MatchString(txtL) {
		score += 0.15
	}
	if reAmount.MatchString(txtL) {
		score += 0.15
	}
	if reKeywords.MatchString(txtL) {
		score += 0.15
	}
	if len(txt) > 200 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
