// Package platform is a client for the parts of the X API v2 used to
// publish posts and read the signed-in user's profile and timeline.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dgellow/xpost/internal/apperr"
	"github.com/dgellow/xpost/internal/ioutil"
	"github.com/dgellow/xpost/internal/log"
)

// MaxPostLength is the longest post accepted, counted in characters
const MaxPostLength = 280

const (
	minTimelineResults     = 5
	maxTimelineResults     = 100
	defaultTimelineResults = 10

	responseBodyLimit = 1 << 20
)

// Authorizer adds credentials to an outgoing request
type Authorizer interface {
	Authorize(req *http.Request) error
}

// BearerToken authorizes requests with an OAuth2 access token
type BearerToken string

func (t BearerToken) Authorize(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+string(t))
	return nil
}

// Post is a published post as returned by X
type Post struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	CreatedAt string         `json:"created_at,omitempty"`
	Metrics   *PublicMetrics `json:"public_metrics,omitempty"`
}

// PublicMetrics are the engagement counters of a post
type PublicMetrics struct {
	RetweetCount int `json:"retweet_count"`
	ReplyCount   int `json:"reply_count"`
	LikeCount    int `json:"like_count"`
	QuoteCount   int `json:"quote_count"`
}

// User is the profile returned by /2/users/me
type User struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
	PublicMetrics   struct {
		FollowersCount int `json:"followers_count"`
		FollowingCount int `json:"following_count"`
		TweetCount     int `json:"tweet_count"`
	} `json:"public_metrics"`
}

// Client calls the X API v2. It holds no credentials; every call takes an
// Authorizer.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the API rooted at baseURL, e.g.
// https://api.x.com/2
func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// ValidateText checks a post before anything is sent
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return apperr.Invalid("Post text is required")
	}
	if n := utf8.RuneCountInString(text); n > MaxPostLength {
		return apperr.Invalid("Post exceeds %d characters (%d)", MaxPostLength, n)
	}
	return nil
}

type createPostRequest struct {
	Text  string `json:"text"`
	Reply *struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply,omitempty"`
}

// CreatePost publishes text, as a reply to replyToID when it is not empty
func (c *Client) CreatePost(ctx context.Context, auth Authorizer, text, replyToID string) (*Post, error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}

	body := createPostRequest{Text: text}
	if replyToID != "" {
		body.Reply = &struct {
			InReplyToTweetID string `json:"in_reply_to_tweet_id"`
		}{InReplyToTweetID: replyToID}
	}

	var resp struct {
		Data Post `json:"data"`
	}
	if err := c.do(ctx, auth, http.MethodPost, "/tweets", nil, body, &resp); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("create post: %w", apperr.NewProviderError(apperr.ErrTransient, http.StatusOK, "response has no post id"))
	}

	log.LogInfoWithFields("platform", "Post created", map[string]any{
		"post_id":  resp.Data.ID,
		"reply_to": replyToID,
	})
	return &resp.Data, nil
}

// FetchIdentity returns the profile of the user the credentials belong to
func (c *Client) FetchIdentity(ctx context.Context, auth Authorizer) (*User, error) {
	q := url.Values{}
	q.Set("user.fields", "created_at,description,profile_image_url,public_metrics")

	var resp struct {
		Data User `json:"data"`
	}
	if err := c.do(ctx, auth, http.MethodGet, "/users/me", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch identity: %w", err)
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("fetch identity: %w", apperr.NewProviderError(apperr.ErrTransient, http.StatusOK, "response has no user id"))
	}
	return &resp.Data, nil
}

// RecentPosts returns up to limit of the user's latest posts
func (c *Client) RecentPosts(ctx context.Context, auth Authorizer, userID string, limit int) ([]Post, error) {
	if userID == "" {
		return nil, apperr.Invalid("user id is required")
	}

	q := url.Values{}
	q.Set("max_results", strconv.Itoa(ClampTimelineLimit(limit)))
	q.Set("tweet.fields", "created_at,public_metrics")

	var resp struct {
		Data []Post `json:"data"`
	}
	if err := c.do(ctx, auth, http.MethodGet, "/users/"+url.PathEscape(userID)+"/tweets", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("recent posts: %w", err)
	}
	if resp.Data == nil {
		return []Post{}, nil
	}
	return resp.Data, nil
}

// FetchRecentPosts is RecentPosts for display: any failure is logged and
// yields an empty list
func (c *Client) FetchRecentPosts(ctx context.Context, auth Authorizer, userID string, limit int) []Post {
	posts, err := c.RecentPosts(ctx, auth, userID, limit)
	if err != nil {
		log.LogWarnWithFields("platform", "Failed to fetch recent posts", map[string]any{
			"user_id": userID,
			"error":   err,
		})
		return []Post{}
	}
	return posts
}

// ClampTimelineLimit maps a requested count into the range X accepts
func ClampTimelineLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultTimelineResults
	case limit < minTimelineResults:
		return minTimelineResults
	case limit > maxTimelineResults:
		return maxTimelineResults
	default:
		return limit
	}
}

func (c *Client) do(ctx context.Context, auth Authorizer, method, path string, query url.Values, body, out any) error {
	if auth == nil {
		return apperr.NewProviderError(apperr.ErrProviderAuth, 0, "no credentials")
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := auth.Authorize(req); err != nil {
		return fmt.Errorf("authorizing request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return apperr.NewProviderError(apperr.ErrTransient, 0, err.Error())
	}
	defer ioutil.DrainAndClose(resp.Body, responseBodyLimit)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return classify(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, responseBodyLimit)).Decode(out); err != nil {
		return apperr.NewProviderError(apperr.ErrTransient, resp.StatusCode, "malformed response: "+err.Error())
	}
	return nil
}

// problem is the error document X returns. v2 endpoints use title/detail,
// older ones an errors array.
type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (p problem) message() string {
	switch {
	case p.Detail != "":
		return p.Detail
	case p.Title != "":
		return p.Title
	case len(p.Errors) > 0:
		return p.Errors[0].Message
	default:
		return ""
	}
}

func classify(resp *http.Response) error {
	body, err := ioutil.ReadLimitedBytes(resp.Body, ioutil.ErrorBodyLimit)
	detail := ""
	if err == nil {
		var p problem
		if json.Unmarshal(body, &p) == nil {
			detail = p.message()
		}
	}

	var kind error
	switch {
	case resp.StatusCode == http.StatusForbidden && isDuplicate(detail):
		kind = apperr.ErrValidation
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		kind = apperr.ErrProviderAuth
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		kind = apperr.ErrValidation
	default:
		kind = apperr.ErrTransient
	}

	log.LogDebugWithFields("platform", "X API error response", map[string]any{
		"status": resp.StatusCode,
		"detail": detail,
	})

	if kind == apperr.ErrValidation && detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	return apperr.NewProviderError(kind, resp.StatusCode, detail)
}

// isDuplicate recognises the 403 X answers to a post that repeats a recent
// one. The credentials are fine in that case.
func isDuplicate(detail string) bool {
	return strings.Contains(strings.ToLower(detail), "duplicate")
}

// IsAuthError reports whether err means X rejected the credentials
func IsAuthError(err error) bool {
	return errors.Is(err, apperr.ErrProviderAuth)
}
