package feed

import (
	"time"

	"think/api/internal/store"
)

// The feed service owns the serialized page format; the app layer
// reuses these document shapes for single-decision responses so a
// decision renders identically inside and outside a cached page.

type UserDoc struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type OptionDoc struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Pros  []string `json:"pros"`
	Cons  []string `json:"cons"`
}

type CommentDoc struct {
	ID        string    `json:"id"`
	User      UserDoc   `json:"user"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type PollDoc struct {
	Enabled bool `json:"enabled"`
}

type DecisionDoc struct {
	ID              string         `json:"id"`
	User            UserDoc        `json:"user"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Category        string         `json:"category"`
	ConfidenceLevel int            `json:"confidenceLevel"`
	Options         []OptionDoc    `json:"options"`
	ExpectedOutcome string         `json:"expectedOutcome,omitempty"`
	ReviewDate      time.Time      `json:"reviewDate"`
	IsReviewed      bool           `json:"isReviewed"`
	ActualOutcome   string         `json:"actualOutcome,omitempty"`
	SuccessRating   *int           `json:"successRating,omitempty"`
	LessonsLearned  string         `json:"lessonsLearned,omitempty"`
	IsPublic        bool           `json:"isPublic"`
	SeekingAdvice   bool           `json:"seekingAdvice"`
	Tags            []string       `json:"tags"`
	Likes           []string       `json:"likes"`
	LikeCount       int            `json:"likeCount"`
	Comments        []CommentDoc   `json:"comments"`
	CommentCount    int            `json:"commentCount"`
	Poll            PollDoc        `json:"poll"`
	PollVoteCounts  map[string]int `json:"pollVoteCounts"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalPages int  `json:"totalPages"`
	TotalDocs  int  `json:"totalDocs"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

type pageData struct {
	Decisions  []DecisionDoc `json:"decisions"`
	Pagination Pagination    `json:"pagination"`
}

type envelope struct {
	Success bool     `json:"success"`
	Data    pageData `json:"data"`
}

// DecisionPayload projects a hydrated decision into its response
// shape. The counts are derived here, never read from storage.
func DecisionPayload(d store.Decision) DecisionDoc {
	options := make([]OptionDoc, 0, len(d.Options))
	for _, option := range d.Options {
		options = append(options, OptionDoc{
			ID:    option.ID,
			Title: option.Title,
			Pros:  emptyIfNil(option.Pros),
			Cons:  emptyIfNil(option.Cons),
		})
	}

	comments := make([]CommentDoc, 0, len(d.Comments))
	for _, comment := range d.Comments {
		comments = append(comments, CommentDoc{
			ID: comment.ID,
			User: UserDoc{
				ID:     comment.User.ID,
				Name:   comment.User.Name,
				Avatar: comment.User.Avatar,
			},
			Text:      comment.Text,
			CreatedAt: comment.CreatedAt,
		})
	}

	voteCounts := d.VoteCounts
	if voteCounts == nil {
		voteCounts = make(map[string]int, len(d.Options))
		for _, option := range d.Options {
			voteCounts[option.ID] = 0
		}
	}

	return DecisionDoc{
		ID: d.ID,
		User: UserDoc{
			ID:     d.Owner.ID,
			Name:   d.Owner.Name,
			Avatar: d.Owner.Avatar,
		},
		Title:           d.Title,
		Description:     d.Description,
		Category:        d.Category,
		ConfidenceLevel: d.ConfidenceLevel,
		Options:         options,
		ExpectedOutcome: d.ExpectedOutcome,
		ReviewDate:      d.ReviewDate,
		IsReviewed:      d.IsReviewed,
		ActualOutcome:   d.ActualOutcome,
		SuccessRating:   d.SuccessRating,
		LessonsLearned:  d.LessonsLearned,
		IsPublic:        d.IsPublic,
		SeekingAdvice:   d.SeekingAdvice,
		Tags:            emptyIfNil(d.Tags),
		Likes:           emptyIfNil(d.LikeUserIDs),
		LikeCount:       d.LikeCount(),
		Comments:        comments,
		CommentCount:    d.CommentCount(),
		Poll:            PollDoc{Enabled: d.PollEnabled},
		PollVoteCounts:  voteCounts,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// PaginationFor computes page metadata from a total row count.
func PaginationFor(page, limit, total int) Pagination {
	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
		TotalDocs:  total,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
