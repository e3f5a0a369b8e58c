package store

import "time"

// Priority ranks a monitored account.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// DefaultCheckInterval is the poll interval in minutes for accounts that do not set one.
const DefaultCheckInterval = 15

// Account is a monitored source identity.
type Account struct {
	Username      string     `json:"username"`
	UserID        string     `json:"user_id"`
	Priority      Priority   `json:"priority"`
	CheckInterval int        `json:"check_interval"`
	Tags          []string   `json:"tags"`
	Notes         string     `json:"notes"`
	AddedAt       time.Time  `json:"added_at"`
	LastChecked   *time.Time `json:"last_checked"`
}

// Due reports whether the account's poll interval has elapsed since its last check.
func (a Account) Due(now time.Time) bool {
	if a.LastChecked == nil {
		return true
	}
	interval := a.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return !now.Before(a.LastChecked.Add(time.Duration(interval) * time.Minute))
}

// Author identifies who wrote a post.
type Author struct {
	Username  string `json:"username"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Followers *int   `json:"followers,omitempty"`
}

// Key is the identity used for author cool-down checks. Sources that do not
// expose a numeric id fall back to the handle.
func (a Author) Key() string {
	if a.UserID != "" {
		return a.UserID
	}
	return a.Username
}

// Post is a single piece of source content with engagement counters.
type Post struct {
	ID             string     `json:"id"`
	Author         Author     `json:"author"`
	Text           string     `json:"text"`
	CreatedAt      time.Time  `json:"created_at"`
	LikeCount      int        `json:"like_count"`
	RepostCount    int        `json:"retweet_count"`
	ReplyCount     int        `json:"reply_count"`
	ConversationID string     `json:"conversation_id"`
	TrendingScore  float64    `json:"trending_score"`
	DiscoveredAt   *time.Time `json:"discovered_at"`
}

// Ref returns the reference used to reply to the post.
func (p Post) Ref() PostRef {
	return PostRef{ID: p.ID, Username: p.Author.Username}
}

// PostRef addresses a post for publishing.
type PostRef struct {
	ID       string
	Username string
}

// URL returns the web address of the post. An unknown handle uses the
// handle-agnostic form.
func (r PostRef) URL() string {
	if r.Username == "" {
		return "https://x.com/i/status/" + r.ID
	}
	return "https://x.com/" + r.Username + "/status/" + r.ID
}

// Status is the lifecycle state of a comment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusPublished Status = "published"
)

// Statuses lists every status in lookup order.
var Statuses = []Status{StatusPending, StatusApproved, StatusRejected, StatusPublished}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Comment is a drafted reply to one post.
type Comment struct {
	ID          string     `json:"id"`
	PostID      string     `json:"tweet_id"`
	Content     string     `json:"content"`
	GeneratedAt time.Time  `json:"generated_at"`
	Status      Status     `json:"status"`
	SessionID   *string    `json:"session_id"`
	PublishedAt *time.Time `json:"published_at"`
	PostAuthor  *string    `json:"tweet_author"`
}

// Token returns the continuation token, or "" when the comment has none.
func (c Comment) Token() string {
	if c.SessionID == nil {
		return ""
	}
	return *c.SessionID
}
