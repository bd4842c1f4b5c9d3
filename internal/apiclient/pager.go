package apiclient

import (
	"fmt"
	"net/url"
	"strings"

	"feedsync/pkg/feed"
)

// FeedPageKey composes the request URL for one page of a feed. It
// returns ok=false when the previous page reported no further cursor, or
// when a page beyond the first is requested without its predecessor:
// pages must be fetched in index order, and cursors come only from pages
// that were actually fetched. Identical inputs always yield identical
// keys, so the key doubles as a deduplication handle.
func (c *Client) FeedPageKey(sel feed.Selector, index int, prev *feed.PostsPage) (string, bool) {
	var cursor *feed.Cursor
	if index > 0 {
		if prev == nil || prev.NextCursor == nil {
			return "", false
		}
		cursor = prev.NextCursor
	}

	var base string
	switch sel.Mode {
	case feed.ModeHome:
		base = c.base + "/api/home"
	case feed.ModeUser:
		base = c.base + "/api/users/" + url.PathEscape(strings.TrimSpace(sel.User)) + "/posts"
	case feed.ModePopularDay:
		base = c.base + "/api/popular?range=day"
	case feed.ModePopularWeek:
		base = c.base + "/api/popular?range=week"
	default:
		base = c.base + "/api/posts"
	}

	return pageKey(base, c.feedPageSize, cursor), true
}

// CommentsPageKey composes the request URL for one page of a post's
// comments, under the same ordering rules as FeedPageKey.
func (c *Client) CommentsPageKey(postID string, index int, prev *feed.CommentsPage) (string, bool) {
	var cursor *feed.Cursor
	if index > 0 {
		if prev == nil || prev.NextCursor == nil {
			return "", false
		}
		cursor = prev.NextCursor
	}

	base := c.base + "/api/posts/" + url.PathEscape(postID) + "/comments"
	return pageKey(base, c.commentsPageSize, cursor), true
}

func pageKey(base string, limit int, cursor *feed.Cursor) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	key := fmt.Sprintf("%s%slimit=%d", base, sep, limit)
	if cursor != nil {
		key += "&cursorCreatedAt=" + url.QueryEscape(cursor.CreatedAt) + "&cursorId=" + url.QueryEscape(cursor.ID)
	}
	return key
}
