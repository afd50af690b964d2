package store

import "time"

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Avatar       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRef is the display projection joined into feed payloads.
type UserRef struct {
	ID     string
	Name   string
	Avatar string
}

type Option struct {
	ID    string
	Title string
	Pros  []string
	Cons  []string
}

type Comment struct {
	ID        string
	UserID    string
	User      UserRef
	Text      string
	CreatedAt time.Time
}

type Decision struct {
	ID              string
	UserID          string
	Owner           UserRef
	Title           string
	Description     string
	Category        string
	ConfidenceLevel int
	Options         []Option
	ExpectedOutcome string
	ReviewDate      time.Time
	IsReviewed      bool
	ActualOutcome   string
	SuccessRating   *int
	LessonsLearned  string
	IsPublic        bool
	SeekingAdvice   bool
	Tags            []string
	PollEnabled     bool
	LikeUserIDs     []string
	Comments        []Comment
	VoteCounts      map[string]int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LikeCount and CommentCount are always derived from the authoritative
// lists so they cannot drift from the rows they summarize.
func (d Decision) LikeCount() int    { return len(d.LikeUserIDs) }
func (d Decision) CommentCount() int { return len(d.Comments) }

// FeedFilter describes one page of a feed query. Sort fields arrive
// already whitelisted by the feed layer; unknown values fall back to
// created_at here as a second line of defense.
type FeedFilter struct {
	OwnerID    string
	PublicOnly bool
	Category   string
	Reviewed   *bool
	DueBefore  *time.Time
	SortBy     string
	SortAsc    bool
	Offset     int
	Limit      int
}
