// Package youtube implements the extract.Extractor contract against the
// YouTube Data API v3, with captions fetched from the timedtext endpoint.
package youtube

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/config"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/extract"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/jobs"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/videourl"
)

var _ extract.Extractor = (*Client)(nil)

const (
	extractionMethod  = "youtube-data-api-v3"
	errorSnippetLimit = 400
)

// Client calls the YouTube Data API v3 videos endpoint.
type Client struct {
	httpClient   *http.Client
	apiKey       string
	baseURL      string
	timedTextURL string
}

// New creates a YouTube extractor from configuration.
func New(cfg config.YouTubeConfig) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		timedTextURL: strings.TrimRight(cfg.TimedTextURL, "/"),
	}
}

// Extract looks the video up by id and maps the response into VideoMetadata.
func (c *Client) Extract(ctx context.Context, normalizedURL string) (*extract.Result, *jobs.JobError) {
	id, err := videourl.YouTubeVideoID(normalizedURL)
	if err != nil {
		return nil, jobs.NewJobError(jobs.CodeInvalidURL, "could not extract a video id from the URL").WithDetails(err.Error())
	}

	q := url.Values{}
	q.Set("part", "snippet,contentDetails,statistics")
	q.Set("id", id)
	q.Set("key", c.apiKey)
	reqURL := c.baseURL + "/videos?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, jobs.NewJobError(jobs.CodeInternalError, "failed to build provider request").WithDetails(err.Error())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, jobs.NewJobError(jobs.CodeAPIError, "video metadata lookup timed out").WithDetails(ctx.Err().Error())
		}
		return nil, jobs.NewJobError(jobs.CodeAPIError, "video metadata service is unreachable").WithDetails(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if jerr := mapStatus(resp, body); jerr != nil {
		return nil, jerr
	}

	var list videoListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, jobs.NewJobError(jobs.CodeAPIError, "could not parse provider response").WithDetails(err.Error())
	}
	if len(list.Items) == 0 {
		// Private and deleted videos both come back as an empty item list.
		return nil, jobs.NewJobError(jobs.CodeNotFound, "the video does not exist or is not visible")
	}
	item := list.Items[0]

	if item.Snippet.LiveBroadcastContent != "" && item.Snippet.LiveBroadcastContent != "none" {
		return nil, jobs.NewJobError(jobs.CodeUnsupportedContent, "live broadcasts cannot be processed")
	}

	md := &jobs.VideoMetadata{
		Title:            item.Snippet.Title,
		Description:      item.Snippet.Description,
		ThumbnailURL:     bestThumbnail(item.Snippet.Thumbnails),
		CreatorID:        item.Snippet.ChannelID,
		CreatorName:      item.Snippet.ChannelTitle,
		Hashtags:         hashtags(item.Snippet.Description, item.Snippet.Tags),
		UploadDate:       item.Snippet.PublishedAt,
		ExtractionMethod: extractionMethod,
		ExtractedAt:      time.Now().UTC(),
	}

	var warnings []string
	if secs, err := parseISODuration(item.ContentDetails.Duration); err == nil {
		md.DurationSeconds = secs
	} else {
		warnings = append(warnings, "video duration could not be parsed")
	}
	if item.Statistics.ViewCount != "" {
		if n, err := strconv.ParseUint(item.Statistics.ViewCount, 10, 64); err == nil {
			md.ViewCount = n
		}
	}

	return &extract.Result{Metadata: md, Warnings: warnings}, nil
}

// Transcript fetches English captions from the timedtext endpoint. Plenty of
// videos have none; that surfaces as a transcript_failed error which callers
// downgrade to a warning.
func (c *Client) Transcript(ctx context.Context, normalizedURL string) (string, *jobs.JobError) {
	id, err := videourl.YouTubeVideoID(normalizedURL)
	if err != nil {
		return "", jobs.NewJobError(jobs.CodeTranscriptFailed, "could not extract a video id from the URL").WithDetails(err.Error())
	}

	q := url.Values{}
	q.Set("lang", "en")
	q.Set("v", id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.timedTextURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", jobs.NewJobError(jobs.CodeTranscriptFailed, "failed to build caption request").WithDetails(err.Error())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", jobs.NewJobError(jobs.CodeTranscriptFailed, "caption service is unreachable").WithDetails(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || len(body) == 0 {
		return "", jobs.NewJobError(jobs.CodeTranscriptFailed, "no captions are available for this video")
	}

	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", jobs.NewJobError(jobs.CodeTranscriptFailed, "could not parse captions").WithDetails(err.Error())
	}
	parts := make([]string, 0, len(tt.Texts))
	for _, t := range tt.Texts {
		line := strings.TrimSpace(html.UnescapeString(t.Value))
		if line != "" {
			parts = append(parts, line)
		}
	}
	if len(parts) == 0 {
		return "", jobs.NewJobError(jobs.CodeTranscriptFailed, "captions are empty")
	}
	return strings.Join(parts, " "), nil
}

// mapStatus translates non-2xx provider responses into the error taxonomy.
func mapStatus(resp *http.Response, body []byte) *jobs.JobError {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	reason := apiErrorReason(body)
	snippet := truncate(string(body), errorSnippetLimit)

	switch resp.StatusCode {
	case http.StatusForbidden:
		switch reason {
		case "quotaExceeded", "dailyLimitExceeded", "rateLimitExceeded":
			je := jobs.NewJobError(jobs.CodeQuotaExceeded, "the video metadata quota is exhausted")
			je.RetryAfterMs = int64((time.Hour).Milliseconds())
			return je
		default:
			return jobs.NewJobError(jobs.CodePrivacyBlocked, "access to the video is restricted").WithDetails(snippet)
		}
	case http.StatusNotFound:
		return jobs.NewJobError(jobs.CodeNotFound, "the video could not be found")
	case http.StatusTooManyRequests:
		je := jobs.NewJobError(jobs.CodeRateLimited, "the video metadata service is rate limiting requests")
		je.RetryAfterMs = retryAfterMs(resp)
		return je
	default:
		return jobs.NewJobError(jobs.CodeAPIError,
			fmt.Sprintf("video metadata service returned status %d", resp.StatusCode)).WithDetails(snippet)
	}
}

func retryAfterMs(resp *http.Response) int64 {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return int64(secs) * 1000
		}
	}
	return 60_000
}

func apiErrorReason(body []byte) string {
	var e apiErrorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	if len(e.Error.Errors) > 0 {
		return e.Error.Errors[0].Reason
	}
	return ""
}

// bestThumbnail prefers the highest resolution variant the API returned.
var thumbnailOrder = []string{"maxres", "standard", "high", "medium", "default"}

func bestThumbnail(ts map[string]thumbnail) string {
	for _, key := range thumbnailOrder {
		if t, ok := ts[key]; ok && t.URL != "" {
			return t.URL
		}
	}
	return ""
}

var hashtagPattern = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)

// hashtags merges explicit API tags with #tags mined from the description,
// lower-cased and deduplicated, in stable order.
func hashtags(description string, tags []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	for _, m := range hashtagPattern.FindAllStringSubmatch(description, -1) {
		add(m[1])
	}
	sort.Strings(tags)
	for _, t := range tags {
		add(t)
	}
	return out
}

var isoDurationPattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// parseISODuration converts an ISO-8601 duration like PT1M30S into seconds.
func parseISODuration(s string) (int, error) {
	m := isoDurationPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("unrecognized duration %q", s)
	}
	total := 0
	for i, mult := range []int{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, fmt.Errorf("unrecognized duration %q", s)
		}
		total += n * mult
	}
	return total, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// Wire types for the videos endpoint.

type videoListResponse struct {
	Items []videoItem `json:"items"`
}

type videoItem struct {
	ID             string         `json:"id"`
	Snippet        snippet        `json:"snippet"`
	ContentDetails contentDetails `json:"contentDetails"`
	Statistics     statistics     `json:"statistics"`
}

type snippet struct {
	Title                string               `json:"title"`
	Description          string               `json:"description"`
	ChannelID            string               `json:"channelId"`
	ChannelTitle         string               `json:"channelTitle"`
	PublishedAt          string               `json:"publishedAt"`
	Tags                 []string             `json:"tags"`
	Thumbnails           map[string]thumbnail `json:"thumbnails"`
	LiveBroadcastContent string               `json:"liveBroadcastContent"`
}

type thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type contentDetails struct {
	Duration string `json:"duration"`
}

type statistics struct {
	ViewCount string `json:"viewCount"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// timedText mirrors the caption XML: <transcript><text start dur>..</text></transcript>
type timedText struct {
	XMLName xml.Name        `xml:"transcript"`
	Texts   []timedTextLine `xml:"text"`
}

type timedTextLine struct {
	Start string `xml:"start,attr"`
	Dur   string `xml:"dur,attr"`
	Value string `xml:",chardata"`
}
