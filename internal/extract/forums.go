package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nps-senti/crawler/internal/crawl"
)

var wsPattern = regexp.MustCompile(`\s+`)

func cleanWS(s string) string {
	return wsPattern.ReplaceAllString(strings.TrimSpace(s), " ")
}

// forumComment is one extracted board comment, kept in the document's extra
// block alongside the combined text.
type forumComment struct {
	Author      string
	Text        string
	PublishedAt string
}

// Container selectors tried across board layouts. Korean community sites
// rarely agree on markup, so the list is long and ordered from the common
// comment-list shapes down to bare table rows.
var genericCommentContainers = []string{
	"ul.cmt_list li",
	"div.cmt_list li",
	"div.comment_list li",
	"div.comments li",
	"#comment li",
	"#cmt li",
	"div#comment .comment",
	"li.comment",
	"div.comment",
	"div.reply",
	"li.reply",
	"div.reple",
	"li.reple",
	"table#cmttbl tr",
}

var commentTextSelectors = []string{
	".cmt_txt", ".comment_txt", ".comment-text", ".comment-content", ".txt", ".text", "p",
}

var commentAuthorSelectors = []string{
	".nickname", ".nick", ".name", ".writer", ".author", ".user", ".member", ".ub-writer",
}

var boilerplateComments = map[string]bool{
	"신고": true, "삭제": true, "추천": true, "비공개": true,
}

// augmentForum appends board comments to the thread text and records them in
// the candidate's extra block. Selector misses just leave the text alone.
func (e *Extractor) augmentForum(candidate *crawl.Candidate, ext *extraction, html string) {
	if html == "" {
		return
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return
	}

	var comments []forumComment
	switch candidate.Source {
	case crawl.SourceTheqoo:
		comments = e.selectComments(doc, []string{"#cmt .comment", "#cmt li", "div.comment", "ul#cmt li"},
			[]string{".comment-content", ".xe_content", "p", ".txt"},
			[]string{".author", ".nick", ".name", ".writer"})
	case crawl.SourcePpomppu:
		comments = e.selectComments(doc, []string{"#comment tr", ".comList tr", ".comment tr"},
			[]string{".comContent", ".comment", ".txt", "p", "td"},
			[]string{".writer", ".nick", ".name", "td.user", ".author"})
	}
	if len(comments) == 0 {
		comments = e.selectComments(doc, genericCommentContainers, commentTextSelectors, commentAuthorSelectors)
	}
	if len(comments) == 0 {
		return
	}
	if e.opts.ForumCommentsMax > 0 && len(comments) > e.opts.ForumCommentsMax {
		comments = comments[:e.opts.ForumCommentsMax]
	}

	lines := make([]string, 0, len(comments))
	meta := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		lines = append(lines, c.Text)
		entry := map[string]any{"text": c.Text}
		if c.Author != "" {
			entry["author"] = c.Author
		}
		if c.PublishedAt != "" {
			entry["publishedAt"] = c.PublishedAt
		}
		meta = append(meta, entry)
	}

	parts := make([]string, 0, 2)
	if ext.Text != "" {
		parts = append(parts, ext.Text)
	}
	parts = append(parts, strings.Join(lines, "\n"))
	ext.Text = strings.Join(parts, "\n\n")

	if candidate.Extra == nil {
		candidate.Extra = map[string]any{}
	}
	forumMeta, _ := candidate.Extra["forum"].(map[string]any)
	if forumMeta == nil {
		forumMeta = map[string]any{}
		candidate.Extra["forum"] = forumMeta
	}
	forumMeta["comments"] = meta
}

func (e *Extractor) selectComments(doc *goquery.Document, containers, textSels, authorSels []string) []forumComment {
	var items []forumComment
	seen := make(map[string]bool)
	for _, container := range containers {
		doc.Find(container).EachWithBreak(func(_ int, node *goquery.Selection) bool {
			text := firstText(node, textSels)
			if len([]rune(text)) < 2 || boilerplateComments[text] || seen[text] {
				return true
			}
			seen[text] = true
			items = append(items, forumComment{
				Author:      firstText(node, authorSels),
				Text:        text,
				PublishedAt: commentTimestamp(node),
			})
			return e.opts.ForumCommentsMax <= 0 || len(items) < e.opts.ForumCommentsMax
		})
		if e.opts.ForumCommentsMax > 0 && len(items) >= e.opts.ForumCommentsMax {
			break
		}
	}
	return items
}

// firstText returns the cleaned text of the first matching selector, falling
// back to the node's own text.
func firstText(node *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if el := node.Find(sel).First(); el.Length() > 0 {
			return cleanWS(el.Text())
		}
	}
	return cleanWS(node.Text())
}

func commentTimestamp(node *goquery.Selection) string {
	if el := node.Find("time[datetime]").First(); el.Length() > 0 {
		if val, ok := el.Attr("datetime"); ok && strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	for _, sel := range []string{"time", ".date", ".time", ".regdate"} {
		if el := node.Find(sel).First(); el.Length() > 0 {
			if txt := cleanWS(el.Text()); txt != "" {
				return txt
			}
		}
	}
	return ""
}
