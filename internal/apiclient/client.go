// Package apiclient implements the REST client for the feed API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"feedsync/pkg/feed"
)

const maxErrorBodyBytes = 200

// TokenSource supplies the current bearer token, if any. The client only
// ever reads the credential; it never mutates it.
type TokenSource interface {
	Get() (string, bool)
}

// Client talks to one deployment of the feed API.
type Client struct {
	httpClient       *http.Client
	tokens           TokenSource
	logger           *slog.Logger
	base             string
	feedPageSize     int
	commentsPageSize int
}

// Options tunes a Client beyond its base URL.
type Options struct {
	HTTPClient       *http.Client
	FeedPageSize     int
	CommentsPageSize int
}

// New creates a client for the API at base (scheme://host, no trailing
// slash required).
func New(base string, tokens TokenSource, logger *slog.Logger, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	feedPageSize := opts.FeedPageSize
	if feedPageSize <= 0 {
		feedPageSize = 10
	}
	commentsPageSize := opts.CommentsPageSize
	if commentsPageSize <= 0 {
		commentsPageSize = 20
	}
	return &Client{
		httpClient:       httpClient,
		tokens:           tokens,
		logger:           logger,
		base:             strings.TrimSuffix(base, "/"),
		feedPageSize:     feedPageSize,
		commentsPageSize: commentsPageSize,
	}
}

// FetchPostsPage fetches one page of a feed by its request key.
func (c *Client) FetchPostsPage(ctx context.Context, key string) (*feed.PostsPage, error) {
	var page feed.PostsPage
	if err := c.getJSON(ctx, key, &page); err != nil {
		return nil, fmt.Errorf("fetch posts page: %w", err)
	}
	return &page, nil
}

// FetchCommentsPage fetches one page of a post's comments by its request key.
func (c *Client) FetchCommentsPage(ctx context.Context, key string) (*feed.CommentsPage, error) {
	var page feed.CommentsPage
	if err := c.getJSON(ctx, key, &page); err != nil {
		return nil, fmt.Errorf("fetch comments page: %w", err)
	}
	return &page, nil
}

// Like marks a post as liked and returns the authoritative post record.
func (c *Client) Like(ctx context.Context, postID string) (*feed.Post, error) {
	var post feed.Post
	u := c.base + "/api/posts/" + url.PathEscape(postID) + "/likes"
	if err := c.doJSON(ctx, http.MethodPost, u, nil, &post); err != nil {
		return nil, fmt.Errorf("like post: %w", err)
	}
	return &post, nil
}

// Unlike removes a like and returns the authoritative post record.
func (c *Client) Unlike(ctx context.Context, postID string) (*feed.Post, error) {
	var post feed.Post
	u := c.base + "/api/posts/" + url.PathEscape(postID) + "/likes"
	if err := c.doJSON(ctx, http.MethodDelete, u, nil, &post); err != nil {
		return nil, fmt.Errorf("unlike post: %w", err)
	}
	return &post, nil
}

// DeletePost deletes a post.
func (c *Client) DeletePost(ctx context.Context, postID string) error {
	u := c.base + "/api/posts/" + url.PathEscape(postID)
	if err := c.doJSON(ctx, http.MethodDelete, u, nil, nil); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

// CreatePost publishes a new post and returns the server's record.
func (c *Client) CreatePost(ctx context.Context, content, imageURL string) (*feed.Post, error) {
	body := map[string]any{"content": content}
	if imageURL != "" {
		body["imageUrl"] = imageURL
	}
	var post feed.Post
	if err := c.doJSON(ctx, http.MethodPost, c.base+"/api/posts", body, &post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &post, nil
}

// CreateComment adds a comment to a post and returns the created record.
func (c *Client) CreateComment(ctx context.Context, postID, content string) (*feed.Comment, error) {
	u := c.base + "/api/posts/" + url.PathEscape(postID) + "/comments"
	var comment feed.Comment
	if err := c.doJSON(ctx, http.MethodPost, u, map[string]any{"content": content}, &comment); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	return &comment, nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*feed.LoginResponse, error) {
	var resp feed.LoginResponse
	body := map[string]any{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, c.base+"/api/auth/login", body, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &resp, nil
}

// Register creates an account and returns a bearer token for it.
func (c *Client) Register(ctx context.Context, email, displayName, password string) (*feed.LoginResponse, error) {
	var resp feed.LoginResponse
	body := map[string]any{"email": email, "displayName": displayName, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, c.base+"/api/auth/register", body, &resp); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &resp, nil
}

// Me returns the logged-in user's record.
func (c *Client) Me(ctx context.Context) (*feed.AuthUser, error) {
	var user feed.AuthUser
	if err := c.getJSON(ctx, c.base+"/api/auth/me", &user); err != nil {
		return nil, fmt.Errorf("fetch me: %w", err)
	}
	return &user, nil
}

// Profile returns the public profile for a display name.
func (c *Client) Profile(ctx context.Context, displayName string) (*feed.Profile, error) {
	var profile feed.Profile
	u := c.base + "/api/users/" + url.PathEscape(displayName)
	if err := c.getJSON(ctx, u, &profile); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &profile, nil
}

// FollowStats returns follower statistics for a display name.
func (c *Client) FollowStats(ctx context.Context, displayName string) (*feed.FollowStats, error) {
	var stats feed.FollowStats
	u := c.base + "/api/users/" + url.PathEscape(displayName) + "/follow-stats"
	if err := c.getJSON(ctx, u, &stats); err != nil {
		return nil, fmt.Errorf("fetch follow stats: %w", err)
	}
	return &stats, nil
}

// Follow starts following a user.
func (c *Client) Follow(ctx context.Context, displayName string) error {
	u := c.base + "/api/users/" + url.PathEscape(displayName) + "/follow"
	if err := c.doJSON(ctx, http.MethodPost, u, nil, nil); err != nil {
		return fmt.Errorf("follow: %w", err)
	}
	return nil
}

// Unfollow stops following a user.
func (c *Client) Unfollow(ctx context.Context, displayName string) error {
	u := c.base + "/api/users/" + url.PathEscape(displayName) + "/follow"
	if err := c.doJSON(ctx, http.MethodDelete, u, nil, nil); err != nil {
		return fmt.Errorf("unfollow: %w", err)
	}
	return nil
}

// SearchUsers searches users by display name prefix.
func (c *Client) SearchUsers(ctx context.Context, query string, limit int) ([]feed.UserSearchResult, error) {
	if limit <= 0 {
		limit = 8
	}
	u := fmt.Sprintf("%s/api/users/search?q=%s&limit=%d", c.base, url.QueryEscape(query), limit)
	var results []feed.UserSearchResult
	if err := c.getJSON(ctx, u, &results); err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return results, nil
}

// getJSON performs an idempotent GET with retries. Server rejections are
// not retried; transport failures and 5xx responses are.
func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	err := retry.Do(
		func() error {
			return c.once(ctx, http.MethodGet, u, nil, out)
		},
		retry.Attempts(3),
		retry.LastErrorOnly(true),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying request after error", "attempt", n, "url", u, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode >= http.StatusInternalServerError
			}
			return true
		}),
	)
	if err != nil {
		return fmt.Errorf("after retries: %w", err)
	}
	return nil
}

// doJSON performs a single-shot request. Mutations are never retried:
// the caller owns reconciliation, and a duplicated POST is worse than a
// surfaced failure.
func (c *Client) doJSON(ctx context.Context, method, u string, body, out any) error {
	return c.once(ctx, method, u, body, out)
}

func (c *Client) once(ctx context.Context, method, u string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok, ok := c.tokens.Get(); ok {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Request failed", "method", method, "url", u, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Debug("Request completed",
		"method", method,
		"url", u,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &StatusError{StatusCode: resp.StatusCode, URL: u, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
