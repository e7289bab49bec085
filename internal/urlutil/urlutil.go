// Package urlutil normalizes URLs for candidate deduplication and derives
// stable document ids from them.
package urlutil

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are stripped from every query string before comparison.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"igshid":       {},
	"mibextid":     {},
	"ref":          {},
	"ref_src":      {},
	"spm":          {},
}

type queryPair struct {
	key   string
	value string
}

// filterQueryByDomain applies per-site allowlists so that forum thread URLs
// with volatile pagination or session params normalize to one canonical form.
func filterQueryByDomain(host, path string, pairs []queryPair) []queryPair {
	hostL := strings.ToLower(host)
	pathL := strings.ToLower(path)

	allowOnly := func(allow map[string]struct{}) []queryPair {
		kept := pairs[:0:0]
		for _, p := range pairs {
			if _, ok := allow[strings.ToLower(p.key)]; ok {
				kept = append(kept, p)
			}
		}
		return kept
	}

	switch {
	case strings.HasSuffix(hostL, "dcinside.com") && strings.Contains(pathL, "/board/view/"):
		return allowOnly(map[string]struct{}{"id": {}, "no": {}})
	case strings.HasSuffix(hostL, "bobaedream.co.kr") && (strings.Contains(pathL, "/board/bbs_view") || pathL == "/view"):
		return allowOnly(map[string]struct{}{"code": {}, "no": {}})
	case strings.HasSuffix(hostL, "mlbpark.donga.com") && strings.Contains(pathL, "/mp/b.php"):
		return allowOnly(map[string]struct{}{"b": {}, "id": {}, "idx": {}})
	case strings.HasSuffix(hostL, "ppomppu.co.kr") && strings.Contains(pathL, "/zboard/view.php"):
		return allowOnly(map[string]struct{}{"id": {}, "no": {}})
	case strings.HasSuffix(hostL, "news.naver.com"):
		return allowOnly(map[string]struct{}{"oid": {}, "aid": {}})
	}
	return pairs
}

// Normalize returns the canonical form of a URL: lowercased scheme and host,
// default ports dropped, tracking params removed, per-site query allowlists
// applied, remaining query pairs sorted, fragment dropped.
func Normalize(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" && port != "80" && port != "443" {
		host = host + ":" + port
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}

	var pairs []queryPair
	for _, part := range strings.Split(parsed.RawQuery, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			decodedKey = key
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			decodedValue = value
		}
		if _, tracked := trackingParams[strings.ToLower(decodedKey)]; tracked {
			continue
		}
		pairs = append(pairs, queryPair{key: decodedKey, value: decodedValue})
	}
	pairs = filterQueryByDomain(host, path, pairs)
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	var query strings.Builder
	for i, p := range pairs {
		if i > 0 {
			query.WriteByte('&')
		}
		query.WriteString(p.key)
		query.WriteByte('=')
		query.WriteString(p.value)
	}

	normalized := scheme + "://" + host + path
	if query.Len() > 0 {
		normalized += "?" + query.String()
	}
	return normalized
}

// SHA1Hex returns the lowercase hex SHA-1 digest of value.
func SHA1Hex(value string) string {
	sum := sha1.Sum([]byte(value))
	return hex.EncodeToString(sum[:])
}

// DocumentID derives the stable document id from the normalized URL and the
// extracted text. Recomputing it for the same inputs always yields the same
// value, which is what makes cross-run deduplication possible.
func DocumentID(normalizedURL, text string) string {
	return SHA1Hex(normalizedURL + "\n" + SHA1Hex(text))
}
