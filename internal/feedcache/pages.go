// Package feedcache implements copy-on-write operations over the pages
// of a mounted feed view. Fetched pages are never mutated in place: each
// operation returns a new page slice, re-allocating only the pages it
// touched, so a reader holding the previous slice always sees a
// consistent snapshot.
package feedcache

import (
	"sort"

	"feedsync/pkg/feed"
)

// ReplacePost swaps in the given post wherever its ID appears, keeping
// page and position. Reports whether any page contained it.
func ReplacePost(pages []feed.PostsPage, p feed.Post) ([]feed.PostsPage, bool) {
	found := false
	out := clonePages(pages)
	for i := range out {
		for j := range out[i].Posts {
			if out[i].Posts[j].ID != p.ID {
				continue
			}
			out[i] = clonePostsPage(out[i])
			out[i].Posts[j] = p
			found = true
		}
	}
	if !found {
		return pages, false
	}
	return out, true
}

// RemovePost drops the post with the given ID from every page. Reports
// whether anything was removed; page boundaries are otherwise preserved.
func RemovePost(pages []feed.PostsPage, id string) ([]feed.PostsPage, bool) {
	removed := false
	out := clonePages(pages)
	for i := range out {
		keep := make([]feed.Post, 0, len(out[i].Posts))
		for _, p := range out[i].Posts {
			if p.ID == id {
				removed = true
				continue
			}
			keep = append(keep, p)
		}
		if len(keep) != len(out[i].Posts) {
			out[i] = feed.PostsPage{Posts: keep, NextCursor: out[i].NextCursor}
		}
	}
	if !removed {
		return pages, false
	}
	return out, true
}

// SetLiked flips the liked flag on the post with the given ID everywhere
// it appears, adjusting the like count by one in the matching direction
// and flooring it at zero.
func SetLiked(pages []feed.PostsPage, id string, liked bool) []feed.PostsPage {
	out := clonePages(pages)
	for i := range out {
		for j := range out[i].Posts {
			if out[i].Posts[j].ID != id {
				continue
			}
			out[i] = clonePostsPage(out[i])
			p := &out[i].Posts[j]
			p.LikedByMe = liked
			if liked {
				p.LikeCount++
			} else if p.LikeCount > 0 {
				p.LikeCount--
			}
		}
	}
	return out
}

// InsertNewest adds a post to the first page, re-sorts that page newest
// first (ties keep insertion order) and truncates it to pageSize. Items
// pushed out disappear from view only; pagination will bring them back.
func InsertNewest(pages []feed.PostsPage, p feed.Post, pageSize int) []feed.PostsPage {
	if len(pages) == 0 {
		return pages
	}
	out := clonePages(pages)
	first := clonePostsPage(out[0])
	first.Posts = append(first.Posts, p)
	sort.SliceStable(first.Posts, func(a, b int) bool {
		return first.Posts[a].CreatedAt.After(first.Posts[b].CreatedAt)
	})
	if pageSize > 0 && len(first.Posts) > pageSize {
		first.Posts = first.Posts[:pageSize]
	}
	out[0] = first
	return out
}

// FindPost returns the current copy of a post by ID.
func FindPost(pages []feed.PostsPage, id string) (feed.Post, bool) {
	for i := range pages {
		for _, p := range pages[i].Posts {
			if p.ID == id {
				return p, true
			}
		}
	}
	return feed.Post{}, false
}

// FlattenPosts projects the page set into one render-ready sequence.
func FlattenPosts(pages []feed.PostsPage) []feed.Post {
	n := 0
	for i := range pages {
		n += len(pages[i].Posts)
	}
	flat := make([]feed.Post, 0, n)
	for i := range pages {
		flat = append(flat, pages[i].Posts...)
	}
	return flat
}

// Exhausted reports whether the last fetched page said there is no more
// data upstream. An empty page set is not exhausted: nothing has been
// fetched yet.
func Exhausted(pages []feed.PostsPage) bool {
	return len(pages) > 0 && pages[len(pages)-1].NextCursor == nil
}

// PrependComment puts a comment at the front of the first comment page.
// With no pages fetched yet there is nowhere to show it; the caller's
// request still goes out and the comment arrives on the next fetch.
func PrependComment(pages []feed.CommentsPage, cm feed.Comment) []feed.CommentsPage {
	if len(pages) == 0 {
		return pages
	}
	out := cloneCommentPages(pages)
	first := pages[0]
	merged := make([]feed.Comment, 0, len(first.Comments)+1)
	merged = append(merged, cm)
	merged = append(merged, first.Comments...)
	out[0] = feed.CommentsPage{Comments: merged, NextCursor: first.NextCursor}
	return out
}

// RemoveComment drops the comment with the given ID from every page.
func RemoveComment(pages []feed.CommentsPage, id string) ([]feed.CommentsPage, bool) {
	removed := false
	out := cloneCommentPages(pages)
	for i := range out {
		keep := make([]feed.Comment, 0, len(out[i].Comments))
		for _, cm := range out[i].Comments {
			if cm.ID == id {
				removed = true
				continue
			}
			keep = append(keep, cm)
		}
		if len(keep) != len(out[i].Comments) {
			out[i] = feed.CommentsPage{Comments: keep, NextCursor: out[i].NextCursor}
		}
	}
	if !removed {
		return pages, false
	}
	return out, true
}

// FlattenComments projects comment pages into one sequence.
func FlattenComments(pages []feed.CommentsPage) []feed.Comment {
	n := 0
	for i := range pages {
		n += len(pages[i].Comments)
	}
	flat := make([]feed.Comment, 0, n)
	for i := range pages {
		flat = append(flat, pages[i].Comments...)
	}
	return flat
}

// CommentsExhausted reports whether the last fetched comment page said
// there is no more data upstream.
func CommentsExhausted(pages []feed.CommentsPage) bool {
	return len(pages) > 0 && pages[len(pages)-1].NextCursor == nil
}

func clonePages(pages []feed.PostsPage) []feed.PostsPage {
	out := make([]feed.PostsPage, len(pages))
	copy(out, pages)
	return out
}

func clonePostsPage(page feed.PostsPage) feed.PostsPage {
	posts := make([]feed.Post, len(page.Posts))
	copy(posts, page.Posts)
	return feed.PostsPage{Posts: posts, NextCursor: page.NextCursor}
}

func cloneCommentPages(pages []feed.CommentsPage) []feed.CommentsPage {
	out := make([]feed.CommentsPage, len(pages))
	copy(out, pages)
	return out
}
