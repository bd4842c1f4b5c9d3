// Package engine merges paginated fetches, optimistic local edits and
// push events into one consistent in-memory view of a feed. Each Feed
// instance exclusively owns its page set; one mutex serializes every
// mutation, so push events and mutation completions never interleave a
// half-applied state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"feedsync/internal/events"
	"feedsync/internal/feedcache"
	"feedsync/pkg/feed"
)

// State describes the pagination driver.
type State int

const (
	// StateIdle means the driver is ready to fetch the next page.
	StateIdle State = iota
	// StateFetching means a page fetch is in flight.
	StateFetching
	// StateExhausted means the last page reported no further cursor.
	StateExhausted
)

// ErrNoCredential is returned when a mutation requires a logged-in user.
var ErrNoCredential = errors.New("not logged in")

// ErrUnknownPost is returned when a mutation targets a post that is not
// in the current view.
var ErrUnknownPost = errors.New("post not in view")

// PostAPI is the slice of the REST client a feed view needs.
type PostAPI interface {
	FeedPageKey(sel feed.Selector, index int, prev *feed.PostsPage) (string, bool)
	FetchPostsPage(ctx context.Context, key string) (*feed.PostsPage, error)
	Like(ctx context.Context, postID string) (*feed.Post, error)
	Unlike(ctx context.Context, postID string) (*feed.Post, error)
	DeletePost(ctx context.Context, postID string) error
}

// Credentials reports whether a bearer token is currently held.
type Credentials interface {
	Get() (string, bool)
}

// Feed is the synchronization engine for one mounted feed view.
type Feed struct {
	api      PostAPI
	creds    Credentials
	bus      *events.Bus
	logger   *slog.Logger
	pageSize int

	mu       sync.Mutex
	sel      feed.Selector
	gen      uint64
	version  uint64
	pages    []feed.PostsPage
	fetching bool
	lastErr  error
	likeBusy map[string]struct{}
	busSub   uuid.UUID
	closed   bool
}

// NewFeed mounts a feed view for the given selector and subscribes it to
// the push channel. Close must be called on teardown.
func NewFeed(sel feed.Selector, api PostAPI, creds Credentials, bus *events.Bus, pageSize int, logger *slog.Logger) *Feed {
	f := &Feed{
		api:      api,
		creds:    creds,
		bus:      bus,
		logger:   logger,
		pageSize: pageSize,
		sel:      sel,
		likeBusy: make(map[string]struct{}),
	}
	if bus != nil {
		f.busSub = bus.Subscribe(f.onEvent)
	}
	return f
}

// Close unsubscribes the view from the push channel. No further events
// are applied afterwards.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	f.gen++
	f.mu.Unlock()
	if f.bus != nil {
		f.bus.Unsubscribe(f.busSub)
	}
}

// Selector returns the feed this view is bound to.
func (f *Feed) Selector() feed.Selector {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sel
}

// State reports the pagination driver's current state.
func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.fetching:
		return StateFetching
	case feedcache.Exhausted(f.pages):
		return StateExhausted
	default:
		return StateIdle
	}
}

// Posts flattens the page set into the render-ready sequence.
func (f *Feed) Posts() []feed.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return feedcache.FlattenPosts(f.pages)
}

// End reports whether the view has reached the end of the list.
func (f *Feed) End() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return feedcache.Exhausted(f.pages)
}

// Err returns the most recent page-fetch error, if the last fetch failed.
// Already-loaded pages stay valid regardless.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Version increments on every page-set change; callers can poll it to
// know when to re-render.
func (f *Feed) Version() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

// LoadMore fetches the next page. Re-entrant triggers while a fetch is
// in flight are no-ops, as are triggers after exhaustion, so firing the
// scroll condition many times costs at most one request. A fetch error
// is scoped to the requested page.
func (f *Feed) LoadMore(ctx context.Context) error {
	f.mu.Lock()
	if f.closed || f.fetching || feedcache.Exhausted(f.pages) {
		f.mu.Unlock()
		return nil
	}
	index := len(f.pages)
	var prev *feed.PostsPage
	if index > 0 {
		prev = &f.pages[index-1]
	}
	key, ok := f.api.FeedPageKey(f.sel, index, prev)
	if !ok {
		f.mu.Unlock()
		return nil
	}
	f.fetching = true
	gen := f.gen
	f.mu.Unlock()

	page, err := f.api.FetchPostsPage(ctx, key)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen {
		// The selector changed while the fetch was in flight; the
		// result belongs to a torn-down view and must be discarded.
		f.logger.Debug("Discarding stale page fetch", "key", key)
		return nil
	}
	f.fetching = false
	if err != nil {
		f.lastErr = err
		f.version++
		f.logger.Warn("Page fetch failed", "index", index, "error", err)
		return err
	}
	f.lastErr = nil
	f.pages = append(f.pages, *page)
	f.version++
	f.logger.Debug("Page loaded", "index", index, "posts", len(page.Posts), "more", page.NextCursor != nil)
	return nil
}

// Reset rebinds the view to a new selector, drops all pages and
// invalidates every request still in flight for the old one.
func (f *Feed) Reset(sel feed.Selector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.sel = sel
	f.pages = nil
	f.fetching = false
	f.lastErr = nil
	f.likeBusy = make(map[string]struct{})
	f.version++
}

// Refresh replaces the page set wholesale, keeping the selector.
func (f *Feed) Refresh(ctx context.Context) error {
	f.mu.Lock()
	sel := f.sel
	f.mu.Unlock()
	f.Reset(sel)
	return f.LoadMore(ctx)
}

// ToggleLike flips the liked state of a post optimistically and
// reconciles with the server. While a toggle for the same post is in
// flight, further toggles on it are no-ops.
func (f *Feed) ToggleLike(ctx context.Context, postID string) error {
	if _, ok := f.creds.Get(); !ok {
		return ErrNoCredential
	}

	f.mu.Lock()
	if _, busy := f.likeBusy[postID]; busy {
		f.mu.Unlock()
		return nil
	}
	p, ok := feedcache.FindPost(f.pages, postID)
	if !ok {
		f.mu.Unlock()
		return ErrUnknownPost
	}
	like := !p.LikedByMe
	f.likeBusy[postID] = struct{}{}
	f.pages = feedcache.SetLiked(f.pages, postID, like)
	f.version++
	gen := f.gen
	f.mu.Unlock()

	var fresh *feed.Post
	var err error
	if like {
		fresh, err = f.api.Like(ctx, postID)
	} else {
		fresh, err = f.api.Unlike(ctx, postID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.likeBusy, postID)
	if f.gen != gen {
		return nil
	}
	if err != nil {
		// Revert the guess: the inverse toggle restores the pre-toggle
		// liked flag and count exactly.
		f.pages = feedcache.SetLiked(f.pages, postID, !like)
		f.version++
		return fmt.Errorf("toggle like: %w", err)
	}
	if pages, found := feedcache.ReplacePost(f.pages, *fresh); found {
		f.pages = pages
		f.version++
	}
	return nil
}

// DeletePost removes a post optimistically. On failure the page set is
// restored verbatim to the pre-delete snapshot; pages are copy-on-write,
// so holding the old slice is a complete snapshot.
func (f *Feed) DeletePost(ctx context.Context, postID string) error {
	if _, ok := f.creds.Get(); !ok {
		return ErrNoCredential
	}

	f.mu.Lock()
	snapshot := f.pages
	pages, removed := feedcache.RemovePost(f.pages, postID)
	if !removed {
		f.mu.Unlock()
		return ErrUnknownPost
	}
	f.pages = pages
	f.version++
	gen := f.gen
	f.mu.Unlock()

	err := f.api.DeletePost(ctx, postID)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen {
		return nil
	}
	if err != nil {
		f.pages = snapshot
		f.version++
		f.logger.Warn("Delete failed, view restored", "post_id", postID, "error", err)
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

func (f *Feed) onEvent(ev events.Event) {
	switch ev.Kind {
	case events.PostUpserted:
		if ev.Post != nil {
			f.applyUpsert(*ev.Post)
		}
	case events.PostDeleted:
		if ev.PostID != "" {
			f.applyDelete(ev.PostID)
		}
	case events.CredentialChanged:
		// Like/follow flags in loaded pages reflect the old identity;
		// the owning view refreshes on login state changes.
	}
}

// applyUpsert applies a pushed post record. Replaying the same event is
// idempotent: a known ID is replaced in place, and inserting an
// already-present post never happens.
func (f *Feed) applyUpsert(p feed.Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	// Per-author filter by exact display name, as the view defines it.
	// A user renamed mid-session slips past this; accepted upstream
	// behavior.
	if f.sel.Mode == feed.ModeUser && p.Author != f.sel.User {
		return
	}
	if pages, found := feedcache.ReplacePost(f.pages, p); found {
		f.pages = pages
		f.version++
		return
	}
	if !f.sel.Mode.AcceptsLiveInserts() || len(f.pages) == 0 {
		return
	}
	f.pages = feedcache.InsertNewest(f.pages, p, f.pageSize)
	f.version++
}

func (f *Feed) applyDelete(postID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	if pages, removed := feedcache.RemovePost(f.pages, postID); removed {
		f.pages = pages
		f.version++
	}
}
