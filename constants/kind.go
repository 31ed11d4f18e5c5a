package constants

import "strings"

// DocumentKind is the declared format of a source document. Dispatch is by
// declared kind only; content is never sniffed.
type DocumentKind string

const (
	KindText        DocumentKind = "text"
	KindHTML        DocumentKind = "html"
	KindPDF         DocumentKind = "pdf"
	KindSpreadsheet DocumentKind = "spreadsheet"
	KindWord        DocumentKind = "word"
)

// Kinds lists every kind with an adapter.
var Kinds = []DocumentKind{KindText, KindHTML, KindPDF, KindSpreadsheet, KindWord}

// AllowedExtensions holds the default extensions picked up by the inbox watcher.
var AllowedExtensions = map[string]struct{}{
	"txt":  {},
	"md":   {},
	"html": {},
	"htm":  {},
	"pdf":  {},
	"xlsx": {},
	"xlsm": {},
	"docx": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToKind maps a normalized extension to a document kind, "" if unknown.
func MapExtToKind(ext string) DocumentKind {
	switch NormalizeExt(ext) {
	case "txt", "md", "text":
		return KindText
	case "html", "htm":
		return KindHTML
	case "pdf":
		return KindPDF
	case "xlsx", "xlsm":
		return KindSpreadsheet
	case "docx":
		return KindWord
	}
	return ""
}

// ParseKind validates a declared kind string.
func ParseKind(s string) (DocumentKind, bool) {
	k := DocumentKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}
