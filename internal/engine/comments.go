package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"feedsync/internal/feedcache"
	"feedsync/pkg/feed"
)

// CommentAPI is the slice of the REST client a comment thread needs.
type CommentAPI interface {
	CommentsPageKey(postID string, index int, prev *feed.CommentsPage) (string, bool)
	FetchCommentsPage(ctx context.Context, key string) (*feed.CommentsPage, error)
	CreateComment(ctx context.Context, postID, content string) (*feed.Comment, error)
}

// TempCommentPrefix marks locally fabricated comment IDs that have not
// been confirmed by the server yet.
const TempCommentPrefix = "temp-"

// IsTempComment reports whether a comment ID is a local placeholder.
func IsTempComment(id string) bool {
	return strings.HasPrefix(id, TempCommentPrefix)
}

// CommentThread is the synchronization engine for one post's comment
// drawer.
type CommentThread struct {
	api    CommentAPI
	creds  Credentials
	logger *slog.Logger
	postID string
	self   string // display name used for pending comments

	mu       sync.Mutex
	gen      uint64
	version  uint64
	pages    []feed.CommentsPage
	fetching bool
	lastErr  error

	now func() time.Time // test hook
}

// NewCommentThread mounts the comment view for one post. self is the
// logged-in display name shown on pending comments.
func NewCommentThread(postID, self string, api CommentAPI, creds Credentials, logger *slog.Logger) *CommentThread {
	return &CommentThread{
		api:    api,
		creds:  creds,
		logger: logger,
		postID: postID,
		self:   self,
		now:    time.Now,
	}
}

// Comments flattens the comment pages into one sequence.
func (t *CommentThread) Comments() []feed.Comment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return feedcache.FlattenComments(t.pages)
}

// End reports whether all comments have been fetched.
func (t *CommentThread) End() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return feedcache.CommentsExhausted(t.pages)
}

// Err returns the most recent page-fetch error.
func (t *CommentThread) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Version increments on every change to the comment pages.
func (t *CommentThread) Version() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// LoadMore fetches the next comment page under the same driver rules as
// Feed.LoadMore.
func (t *CommentThread) LoadMore(ctx context.Context) error {
	t.mu.Lock()
	if t.fetching || feedcache.CommentsExhausted(t.pages) {
		t.mu.Unlock()
		return nil
	}
	index := len(t.pages)
	var prev *feed.CommentsPage
	if index > 0 {
		prev = &t.pages[index-1]
	}
	key, ok := t.api.CommentsPageKey(t.postID, index, prev)
	if !ok {
		t.mu.Unlock()
		return nil
	}
	t.fetching = true
	gen := t.gen
	t.mu.Unlock()

	page, err := t.api.FetchCommentsPage(ctx, key)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		return nil
	}
	t.fetching = false
	if err != nil {
		t.lastErr = err
		t.version++
		t.logger.Warn("Comment page fetch failed", "post_id", t.postID, "index", index, "error", err)
		return err
	}
	t.lastErr = nil
	t.pages = append(t.pages, *page)
	t.version++
	return nil
}

// Add posts a comment with an optimistic placeholder. On success the
// placeholder is swapped for the server's record; on failure the whole
// thread is re-fetched, because reconstructing server-assigned ordering
// locally is unreliable.
func (t *CommentThread) Add(ctx context.Context, content string) error {
	if _, ok := t.creds.Get(); !ok {
		return ErrNoCredential
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("empty comment")
	}

	temp := feed.Comment{
		ID:        fmt.Sprintf("%s%d", TempCommentPrefix, t.now().UnixMilli()),
		Author:    t.self,
		Content:   content,
		CreatedAt: t.now().UTC(),
	}

	t.mu.Lock()
	loaded := len(t.pages)
	t.pages = feedcache.PrependComment(t.pages, temp)
	t.version++
	gen := t.gen
	t.mu.Unlock()

	real, err := t.api.CreateComment(ctx, t.postID, content)

	if err != nil {
		t.logger.Warn("Comment post failed, re-fetching thread", "post_id", t.postID, "error", err)
		if refetchErr := t.refetch(ctx, gen, loaded); refetchErr != nil {
			t.logger.Warn("Thread re-fetch failed", "post_id", t.postID, "error", refetchErr)
		}
		return fmt.Errorf("post comment: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		return nil
	}
	if pages, removed := feedcache.RemoveComment(t.pages, temp.ID); removed {
		t.pages = pages
	}
	t.pages = feedcache.PrependComment(t.pages, *real)
	t.version++
	return nil
}

// refetch re-reads up to n pages from the server in index order and
// replaces the page set with the result.
func (t *CommentThread) refetch(ctx context.Context, gen uint64, n int) error {
	if n < 1 {
		n = 1
	}
	fresh := make([]feed.CommentsPage, 0, n)
	for i := 0; i < n; i++ {
		var prev *feed.CommentsPage
		if i > 0 {
			prev = &fresh[i-1]
		}
		key, ok := t.api.CommentsPageKey(t.postID, i, prev)
		if !ok {
			break
		}
		page, err := t.api.FetchCommentsPage(ctx, key)
		if err != nil {
			return fmt.Errorf("refetch page %d: %w", i, err)
		}
		fresh = append(fresh, *page)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		return nil
	}
	t.pages = fresh
	t.version++
	return nil
}
