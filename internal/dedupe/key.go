// Package dedupe removes exact duplicates from JSONL document files.
package dedupe

import (
	"strings"
	"unicode"
)

// normalizeText lowercases, collapses whitespace runs to single spaces and
// trims the ends. Two texts that differ only in spacing or case share a key.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.Trim(b.String(), " ")
}

// normalizeURLish is the key-building URL normalization: lowercase plus
// trailing-slash strip. It is deliberately weaker than the full crawl-time
// URL normalization so keys stay stable across records written by older
// runs.
func normalizeURLish(s string) string {
	return strings.TrimRight(strings.ToLower(s), "/")
}

func stringField(record map[string]any, key string) string {
	v, _ := record[key].(string)
	return v
}

// BuildKey derives the dedup key for one parsed record. Priority: text,
// then title, then URL, then id. Short texts and titles are disambiguated
// with the URL so boilerplate snippets from different pages do not collapse
// into one. An empty return means the caller must fall back to a positional
// key.
func BuildKey(record map[string]any) string {
	textNorm := normalizeText(stringField(record, "text"))
	titleNorm := normalizeText(stringField(record, "title"))
	urlNorm := normalizeURLish(stringField(record, "url"))

	if textNorm != "" {
		if len(textNorm) < 80 && urlNorm != "" {
			return textNorm + "|url|" + urlNorm
		}
		return textNorm
	}
	if titleNorm != "" {
		if urlNorm != "" {
			return titleNorm + "|url|" + urlNorm
		}
		return titleNorm
	}
	if urlNorm != "" {
		return "url|" + urlNorm
	}
	if id := stringField(record, "id"); id != "" {
		return "id|" + id
	}
	return ""
}
