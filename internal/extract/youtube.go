package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/crawl"
)

const defaultCommentThreadsURL = "https://www.googleapis.com/youtube/v3/commentThreads"

var tagPattern = regexp.MustCompile(`<[^>]+>`)

func stripHTML(s string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(s, " "))
}

type commentSnippet struct {
	TextDisplay       string `json:"textDisplay"`
	TextOriginal      string `json:"textOriginal"`
	AuthorDisplayName string `json:"authorDisplayName"`
	LikeCount         int    `json:"likeCount"`
	PublishedAt       string `json:"publishedAt"`
}

type commentThreadsResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet struct {
			TopLevelComment struct {
				Snippet commentSnippet `json:"snippet"`
			} `json:"topLevelComment"`
		} `json:"snippet"`
		Replies struct {
			Comments []struct {
				Snippet commentSnippet `json:"snippet"`
			} `json:"comments"`
		} `json:"replies"`
	} `json:"items"`
}

// augmentYouTube rebuilds the document text from the video's API metadata
// (title, description, top comments) and returns the structured video block.
// Comment fetching is best effort: API failures leave the document intact.
func (e *Extractor) augmentYouTube(ctx context.Context, candidate *crawl.Candidate, ext *extraction) *crawl.VideoMeta {
	details, _ := candidate.Extra["youtube"].(map[string]any)
	snippet, _ := details["snippet"].(map[string]any)
	statistics, _ := details["statistics"].(map[string]any)

	title := ext.Title
	if title == "" {
		title = nestedString(snippet, "title")
	}
	if title == "" {
		title = candidate.Title
	}
	description := nestedString(snippet, "description")

	videoID := nestedString(details, "id")
	if videoID == "" {
		videoID = videoIDFromURL(candidate.URL)
	}

	var commentTexts []string
	var commentMeta []map[string]any
	if e.opts.YouTubeAPIKey != "" && videoID != "" && e.opts.CommentsPages > 0 {
		commentTexts, commentMeta = e.fetchComments(ctx, videoID)
	}

	parts := make([]string, 0, 4)
	for _, p := range []string{title, description, ext.Text, strings.Join(commentTexts, "\n")} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	if combined := strings.Join(parts, "\n\n"); combined != "" {
		ext.Text = combined
	}
	ext.Title = title

	if candidate.Extra == nil {
		candidate.Extra = map[string]any{}
	}
	yt, _ := candidate.Extra["youtube"].(map[string]any)
	if yt == nil {
		yt = map[string]any{}
		candidate.Extra["youtube"] = yt
	}
	if len(commentMeta) > 0 {
		yt["comments"] = commentMeta
	}

	return &crawl.VideoMeta{
		VideoID:      videoID,
		ChannelID:    nestedString(snippet, "channelId"),
		ChannelTitle: nestedString(snippet, "channelTitle"),
		Captions:     []crawl.Caption{},
		Stats: crawl.VideoStats{
			Views:    statInt(statistics, "viewCount"),
			Likes:    statInt(statistics, "likeCount"),
			Comments: statInt(statistics, "commentCount"),
		},
	}
}

func (e *Extractor) fetchComments(ctx context.Context, videoID string) ([]string, []map[string]any) {
	endpoint := e.commentThreadsURL()
	part := "snippet"
	if e.opts.IncludeReplies {
		part = "snippet,replies"
	}

	var texts []string
	var meta []map[string]any
	pageToken := ""
	for page := 0; page < e.opts.CommentsPages; page++ {
		params := url.Values{
			"key":        {e.opts.YouTubeAPIKey},
			"part":       {part},
			"videoId":    {videoID},
			"maxResults": {"100"},
			"order":      {e.opts.CommentsOrder},
			"textFormat": {e.opts.CommentsTextFormat},
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return texts, meta
		}
		resp, err := e.client.Do(req)
		if err != nil {
			e.logger.Debug("comment fetch failed", zap.String("video_id", videoID), zap.Error(err))
			return texts, meta
		}
		var body commentThreadsResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 400 || decodeErr != nil {
			return texts, meta
		}
		for _, item := range body.Items {
			e.appendComment(item.Snippet.TopLevelComment.Snippet, &texts, &meta)
			if e.opts.IncludeReplies {
				for _, reply := range item.Replies.Comments {
					e.appendComment(reply.Snippet, &texts, &meta)
				}
			}
		}
		pageToken = body.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return texts, meta
}

func (e *Extractor) appendComment(s commentSnippet, texts *[]string, meta *[]map[string]any) {
	var text string
	if e.opts.CommentsTextFormat == "html" {
		text = stripHTML(s.TextDisplay)
	} else {
		text = strings.TrimSpace(s.TextOriginal)
		if text == "" {
			text = strings.TrimSpace(s.TextDisplay)
		}
	}
	if text == "" {
		return
	}
	*texts = append(*texts, text)
	*meta = append(*meta, map[string]any{
		"author":      s.AuthorDisplayName,
		"likeCount":   s.LikeCount,
		"publishedAt": s.PublishedAt,
	})
}

func (e *Extractor) commentThreadsURL() string {
	if e.commentsEndpoint != "" {
		return e.commentsEndpoint
	}
	return defaultCommentThreadsURL
}

func videoIDFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if id := parsed.Query().Get("v"); id != "" {
		return id
	}
	// youtu.be short links carry the id in the path.
	if strings.EqualFold(parsed.Host, "youtu.be") {
		return strings.Trim(parsed.Path, "/")
	}
	return ""
}

func nestedString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func statInt(m map[string]any, key string) int64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
