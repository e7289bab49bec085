package extract

import (
	"fmt"
	"math"
	"strings"

	"github.com/nps-senti/crawler/internal/crawl"
)

// BuildQuality scores extracted text. Each factor contributes a fixed bonus
// when satisfied and a reason string when not, so rejected documents explain
// themselves in the output.
func (e *Extractor) BuildQuality(text, lang string) crawl.Quality {
	score := 0.0
	reasons := []string{}
	length := len([]rune(text))

	if e.allowedLangs[strings.ToLower(lang)] {
		score += 0.3
	} else {
		reasons = append(reasons, fmt.Sprintf("lang=%s", lang))
	}

	textLower := strings.ToLower(text)
	hits := 0
	for _, kw := range e.keywords {
		if strings.Contains(textLower, kw) {
			hits++
		}
	}
	coverage := 0.0
	if len(e.keywords) > 0 {
		coverage = float64(hits) / float64(len(e.keywords))
	}
	if hits >= e.quality.MinKeywordHits {
		score += 0.2
	} else {
		reasons = append(reasons, "keyword_hits")
	}

	if length >= e.quality.MinTextChars {
		score += 0.2
	} else {
		reasons = append(reasons, "short_text")
	}

	return crawl.Quality{
		Score:           round3(score),
		Reasons:         reasons,
		KeywordCoverage: round3(coverage),
		Length:          length,
		KeywordHits:     hits,
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
