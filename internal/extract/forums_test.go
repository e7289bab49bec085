package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nps-senti/crawler/internal/crawl"
)

const threadHTML = `<html><body>
<div class="view_content">국민연금 수령액이 또 줄어든다는 기사 봤음?</div>
<ul class="cmt_list">
  <li>
    <span class="nickname">연금러</span>
    <p class="cmt_txt">어차피 우리 세대는 못 받는다</p>
    <span class="date">2025.05.01 10:00</span>
  </li>
  <li>
    <span class="nickname">직장인A</span>
    <p class="cmt_txt">보험료만 오르고 수령액은 그대로네</p>
    <span class="date">2025.05.01 10:05</span>
  </li>
  <li>
    <p class="cmt_txt">신고</p>
  </li>
</ul>
</body></html>`

func TestAugmentForumComments(t *testing.T) {
	e := newTestExtractor(Options{ForumCommentsEnabled: true, ForumCommentsMax: 200})
	candidate := crawl.Candidate{
		URL:           "https://gall.dcinside.com/board/view/?id=pension&no=100",
		Source:        crawl.SourceDCInside,
		DiscoveredVia: map[string]any{"type": "forum", "site": "dcinside"},
	}
	ext := &extraction{Text: "국민연금 수령액이 또 줄어든다는 기사 봤음?"}

	e.augmentForum(&candidate, ext, threadHTML)

	assert.Contains(t, ext.Text, "어차피 우리 세대는 못 받는다")
	assert.Contains(t, ext.Text, "보험료만 오르고 수령액은 그대로네")
	assert.NotContains(t, ext.Text, "신고", "boilerplate rows are dropped")

	forumMeta, ok := candidate.Extra["forum"].(map[string]any)
	require.True(t, ok)
	comments, ok := forumMeta["comments"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, comments, 2)
	assert.Equal(t, "연금러", comments[0]["author"])
	assert.Equal(t, "2025.05.01 10:00", comments[0]["publishedAt"])
}

func TestAugmentForumCommentCap(t *testing.T) {
	e := newTestExtractor(Options{ForumCommentsEnabled: true, ForumCommentsMax: 1})
	candidate := crawl.Candidate{
		Source:        crawl.SourceDCInside,
		DiscoveredVia: map[string]any{"type": "forum"},
	}
	ext := &extraction{Text: "본문"}

	e.augmentForum(&candidate, ext, threadHTML)

	forumMeta := candidate.Extra["forum"].(map[string]any)
	comments := forumMeta["comments"].([]map[string]any)
	assert.Len(t, comments, 1)
}

func TestAugmentForumNoComments(t *testing.T) {
	e := newTestExtractor(Options{ForumCommentsEnabled: true, ForumCommentsMax: 200})
	candidate := crawl.Candidate{
		Source:        crawl.SourceTheqoo,
		DiscoveredVia: map[string]any{"type": "forum"},
	}
	ext := &extraction{Text: "본문만 있는 글"}

	e.augmentForum(&candidate, ext, "<html><body><div>본문만 있는 글</div></body></html>")

	assert.Equal(t, "본문만 있는 글", ext.Text)
	assert.Nil(t, candidate.Extra)
}
