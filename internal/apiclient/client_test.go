package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/pkg/feed"
)

type staticToken string

func (s staticToken) Get() (string, bool) { return string(s), s != "" }

func newTestClient(t *testing.T, handler http.Handler, tok string) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(srv.URL, staticToken(tok), logger, Options{
		HTTPClient:   srv.Client(),
		FeedPageSize: 10,
	})
	return c, srv
}

func TestFetchPostsPage(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	var gotAuth string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/posts", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		page := feed.PostsPage{
			Posts:      []feed.Post{{ID: "p1", Author: "ann", Content: "hi", CreatedAt: now}},
			NextCursor: &feed.Cursor{CreatedAt: now.Format(time.RFC3339), ID: "p1"},
		}
		_ = json.NewEncoder(w).Encode(page)
	})
	c, _ := newTestClient(t, handler, "tok123")

	key, ok := c.FeedPageKey(feed.Selector{Mode: feed.ModeGlobal}, 0, nil)
	require.True(t, ok)
	page, err := c.FetchPostsPage(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok123", gotAuth)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, "p1", page.Posts[0].ID)
	assert.True(t, page.Posts[0].CreatedAt.Equal(now))
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, "p1", page.NextCursor.ID)
}

func TestFetchPostsPageRejectionNotRetried(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "no such user", http.StatusNotFound)
	})
	c, srv := newTestClient(t, handler, "")

	_, err := c.FetchPostsPage(context.Background(), srv.URL+"/api/users/ghost/posts?limit=10")
	require.Error(t, err)
	assert.True(t, IsNotFound(err), "expected a 404 rejection, got %v", err)
	assert.Equal(t, int32(1), calls.Load(), "4xx responses must not be retried")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Body, "no such user")
}

func TestFetchPostsPageServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(feed.PostsPage{})
	})
	c, srv := newTestClient(t, handler, "")

	page, err := c.FetchPostsPage(context.Background(), srv.URL+"/api/posts?limit=10")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Nil(t, page.NextCursor)
}

func TestFetchPostsPageMalformedBody(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	})
	c, srv := newTestClient(t, handler, "")

	_, err := c.FetchPostsPage(context.Background(), srv.URL+"/api/posts?limit=10")
	require.Error(t, err)
	assert.False(t, IsRejection(err), "a decode failure is not a server rejection")
	assert.ErrorContains(t, err, "decode response")
}

func TestLikeUnlike(t *testing.T) {
	var method string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		assert.Equal(t, "/api/posts/p1/likes", r.URL.Path)
		_ = json.NewEncoder(w).Encode(feed.Post{ID: "p1", LikeCount: 6, LikedByMe: r.Method == http.MethodPost})
	})
	c, _ := newTestClient(t, handler, "tok")

	post, err := c.Like(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, method)
	assert.True(t, post.LikedByMe)
	assert.Equal(t, int64(6), post.LikeCount)

	post, err = c.Unlike(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, method)
	assert.False(t, post.LikedByMe)
}

func TestMutationsNotRetried(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	c, _ := newTestClient(t, handler, "tok")

	_, err := c.Like(context.Background(), "p1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "mutations must be single-shot")
}

func TestDeletePost(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/posts/p1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	c, _ := newTestClient(t, handler, "tok")

	require.NoError(t, c.DeletePost(context.Background(), "p1"))
}

func TestCreateComment(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/posts/p1/comments", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "nice", body["content"])
		_ = json.NewEncoder(w).Encode(feed.Comment{ID: "c1", Author: "ann", Content: "nice"})
	})
	c, _ := newTestClient(t, handler, "tok")

	cm, err := c.CreateComment(context.Background(), "p1", "nice")
	require.NoError(t, err)
	assert.Equal(t, "c1", cm.ID)
}

func TestLogin(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ann@example.com", body["email"])
		_ = json.NewEncoder(w).Encode(feed.LoginResponse{
			Token: "tok456",
			User:  feed.AuthUser{ID: "u1", Email: "ann@example.com", DisplayName: "ann"},
		})
	})
	c, _ := newTestClient(t, handler, "")

	resp, err := c.Login(context.Background(), "ann@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok456", resp.Token)
	assert.Equal(t, "ann", resp.User.DisplayName)
}

func TestSearchUsers(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/users/search", r.URL.Path)
		assert.Equal(t, "an", r.URL.Query().Get("q"))
		_ = json.NewEncoder(w).Encode([]feed.UserSearchResult{{ID: "u1", DisplayName: "ann"}})
	})
	c, _ := newTestClient(t, handler, "")

	results, err := c.SearchUsers(context.Background(), "an", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ann", results[0].DisplayName)
}
