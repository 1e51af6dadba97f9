package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"socialpulse.app/autopilot/internal/faults"
	"socialpulse.app/autopilot/internal/model"
)

const defaultGraphBaseURL = "https://graph.instagram.com/v21.0"

// Graph API error codes that mean the app hit a quota rather than a real
// failure. Code 4 is app-level throttling, 17 user-level, 32 page-level.
var rateLimitCodes = map[int]bool{4: true, 17: true, 32: true}

type Config struct {
	AccessToken string
	BaseURL     string // Optional: override for tests and regional endpoints
	HTTPClient  *http.Client
}

type instagramClient struct {
	http        *http.Client
	baseURL     string
	accessToken string
}

// NewInstagramClient creates a Client backed by the Instagram Graph API.
func NewInstagramClient(cfg Config) (Client, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &instagramClient{
		http:        httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: cfg.AccessToken,
	}, nil
}

func (c *instagramClient) GetAccountInfo(ctx context.Context) (*model.AccountInfo, error) {
	var resp struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	params := url.Values{"fields": {"id,username"}}
	if err := c.get(ctx, "/me", params, &resp); err != nil {
		return nil, err
	}
	return &model.AccountInfo{ID: resp.ID, Username: resp.Username}, nil
}

func (c *instagramClient) GetAccountPosts(ctx context.Context, limit int) ([]model.Post, error) {
	var resp struct {
		Data []struct {
			ID        string `json:"id"`
			Caption   string `json:"caption"`
			MediaType string `json:"media_type"`
			Permalink string `json:"permalink"`
			Timestamp string `json:"timestamp"`
		} `json:"data"`
	}
	params := url.Values{
		"fields": {"id,caption,media_type,permalink,timestamp"},
		"limit":  {strconv.Itoa(limit)},
	}
	if err := c.get(ctx, "/me/media", params, &resp); err != nil {
		return nil, err
	}

	posts := make([]model.Post, 0, len(resp.Data))
	for _, p := range resp.Data {
		posts = append(posts, model.Post{
			ID:        p.ID,
			Caption:   p.Caption,
			MediaType: model.PostType(p.MediaType),
			Permalink: p.Permalink,
			Timestamp: parseGraphTime(p.Timestamp),
		})
	}
	return posts, nil
}

func (c *instagramClient) GetRecentComments(ctx context.Context, postID string) ([]model.Comment, error) {
	var resp struct {
		Data []struct {
			ID       string `json:"id"`
			Text     string `json:"text"`
			Username string `json:"username"`
			From     struct {
				ID       string `json:"id"`
				Username string `json:"username"`
			} `json:"from"`
			Timestamp string `json:"timestamp"`
		} `json:"data"`
	}
	params := url.Values{"fields": {"id,text,username,from,timestamp"}}
	if err := c.get(ctx, "/"+postID+"/comments", params, &resp); err != nil {
		return nil, err
	}

	comments := make([]model.Comment, 0, len(resp.Data))
	for _, cm := range resp.Data {
		username := cm.Username
		if username == "" {
			username = cm.From.Username
		}
		comments = append(comments, model.Comment{
			ID:        cm.ID,
			PostID:    postID,
			Username:  username,
			UserID:    cm.From.ID,
			Text:      cm.Text,
			Timestamp: parseGraphTime(cm.Timestamp),
		})
	}
	return comments, nil
}

func (c *instagramClient) ReplyToComment(ctx context.Context, commentID, text string) (*Reply, error) {
	var resp struct {
		ID string `json:"id"`
	}
	params := url.Values{"message": {text}}
	if err := c.post(ctx, "/"+commentID+"/replies", params, &resp); err != nil {
		return nil, err
	}
	return &Reply{ID: resp.ID}, nil
}

func (c *instagramClient) SendPrivateReply(ctx context.Context, commentID, text string) (*Reply, error) {
	recipient, err := json.Marshal(map[string]string{"comment_id": commentID})
	if err != nil {
		return nil, fmt.Errorf("encoding recipient: %w", err)
	}
	message, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}

	var resp struct {
		MessageID string `json:"message_id"`
	}
	params := url.Values{
		"recipient": {string(recipient)},
		"message":   {string(message)},
	}
	if err := c.post(ctx, "/me/messages", params, &resp); err != nil {
		return nil, err
	}
	return &Reply{ID: resp.MessageID}, nil
}

func (c *instagramClient) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("access_token", c.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(req, out)
}

func (c *instagramClient) post(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("access_token", c.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *instagramClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return faults.Transient("graph api request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return faults.Transient("reading graph api response", err)
	}

	if resp.StatusCode >= 400 {
		return c.mapError(resp, body)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return faults.Transient("decoding graph api response", err)
		}
	}
	return nil
}

type graphError struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		Subcode   int    `json:"error_subcode"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

func (c *instagramClient) mapError(resp *http.Response, body []byte) error {
	var ge graphError
	_ = json.Unmarshal(body, &ge)

	msg := ge.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("graph api returned status %d", resp.StatusCode)
	}
	msg = fmt.Sprintf("%s (code=%d, subcode=%d)", msg, ge.Error.Code, ge.Error.Subcode)

	slog.Debug("graph api error",
		"status", resp.StatusCode,
		"code", ge.Error.Code,
		"subcode", ge.Error.Subcode,
		"fbtrace_id", ge.Error.FBTraceID)

	switch {
	case ge.Error.Type == "OAuthException" && ge.Error.Code == 190,
		resp.StatusCode == http.StatusUnauthorized:
		return faults.Authentication(msg)
	case resp.StatusCode == http.StatusTooManyRequests, rateLimitCodes[ge.Error.Code]:
		return faults.RateLimited(msg, parseRetryAfter(resp))
	case resp.StatusCode >= 500:
		return faults.Transient(msg, nil)
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusBadRequest:
		return faults.Permanent(msg)
	default:
		return faults.Transient(msg, nil)
	}
}

func parseRetryAfter(resp *http.Response) *time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return nil
	}
	d := time.Duration(secs) * time.Second
	return &d
}

func parseGraphTime(raw string) time.Time {
	// Graph timestamps look like 2024-05-01T12:30:00+0000.
	for _, layout := range []string{"2006-01-02T15:04:05-0700", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
