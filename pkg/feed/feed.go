// Package feed contains the core domain types for the feed client.
package feed

import "time"

// Mode selects which feed endpoint a view reads from.
type Mode string

const (
	ModeGlobal      Mode = "global"
	ModeHome        Mode = "home"
	ModeUser        Mode = "user"
	ModePopularDay  Mode = "popular-day"
	ModePopularWeek Mode = "popular-week"
)

// AcceptsLiveInserts reports whether brand-new posts arriving on the push
// channel may be inserted into the first page. Home and popular feeds are
// composed server-side and must not be perturbed locally; unknown posts
// reach them through normal pagination instead.
func (m Mode) AcceptsLiveInserts() bool {
	return m == ModeGlobal || m == ModeUser
}

// ParseMode maps a mode name to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeGlobal, ModeHome, ModeUser, ModePopularDay, ModePopularWeek:
		return Mode(s), true
	default:
		return "", false
	}
}

// Selector identifies one feed view: a mode plus, for user feeds, the
// display name the view is scoped to.
type Selector struct {
	Mode Mode
	User string // display name, only meaningful for ModeUser
}

// Post is a single feed entry as returned by the API.
type Post struct {
	ID              string    `json:"id"`
	Author          string    `json:"author"`
	AuthorAvatarURL string    `json:"authorAvatarUrl,omitempty"`
	Content         string    `json:"content"`
	ImageURL        string    `json:"imageUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	LikeCount       int64     `json:"likeCount"`
	CommentCount    int64     `json:"commentCount"`
	LikedByMe       bool      `json:"likedByMe"`
}

// Comment is a single comment on a post. A comment created locally but
// not yet confirmed by the server carries a "temp-" prefixed ID.
type Comment struct {
	ID              string    `json:"id"`
	Author          string    `json:"author"`
	AuthorAvatarURL string    `json:"authorAvatarUrl,omitempty"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Cursor marks the last item of a fetched page. The createdAt value is
// kept as the raw string the server sent so it can be passed back
// verbatim in the next page request.
type Cursor struct {
	CreatedAt string `json:"createdAt"`
	ID        string `json:"id"`
}

// PostsPage is one fetched page of a feed. NextCursor is nil on the last
// page. Pages are treated as immutable once fetched; mutations produce
// replacement pages instead.
type PostsPage struct {
	Posts      []Post  `json:"posts"`
	NextCursor *Cursor `json:"nextCursor"`
}

// CommentsPage is one fetched page of a post's comments.
type CommentsPage struct {
	Comments   []Comment `json:"comments"`
	NextCursor *Cursor   `json:"nextCursor"`
}

// AuthUser is the minimal user record returned by the auth endpoints.
type AuthUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// LoginResponse is returned from login and register.
type LoginResponse struct {
	Token string   `json:"token"`
	User  AuthUser `json:"user"`
}

// Profile is a public user profile.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

// FollowStats describes follower counts for a profile page.
type FollowStats struct {
	DisplayName   string `json:"displayName"`
	AvatarURL     string `json:"avatarUrl,omitempty"`
	Followers     int64  `json:"followers"`
	Following     int64  `json:"following"`
	FollowingByMe bool   `json:"followingByMe"`
}

// UserSearchResult is a lightweight user record for search lists.
type UserSearchResult struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}
