package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"think/api/internal/auth"
	"think/api/internal/feed"
	"think/api/internal/store"
)

const (
	maxTitleLen           = 100
	maxDescriptionLen     = 1000
	maxOptionTitleLen     = 100
	maxProConLen          = 200
	maxExpectedOutcomeLen = 500
	maxTagLen             = 30
	maxCommentLen         = 300
	minOptions            = 2
)

var validCategories = map[string]struct{}{
	"career":        {},
	"finance":       {},
	"health":        {},
	"personal":      {},
	"education":     {},
	"relationships": {},
	"other":         {},
}

type dataStore interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, user store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	InsertDecision(ctx context.Context, item store.Decision) error
	GetDecision(ctx context.Context, decisionID string) (store.Decision, error)
	UpdateDecision(ctx context.Context, item store.Decision, replaceOptions bool) error
	DeleteDecision(ctx context.Context, decisionID string) error
	ListFeedPage(ctx context.Context, filter store.FeedFilter) ([]store.Decision, int, error)
	ListDecisionsByOwner(ctx context.Context, ownerID string) ([]store.Decision, error)
	ToggleLike(ctx context.Context, decisionID, userID string) (bool, int, error)
	AddComment(ctx context.Context, decisionID string, comment store.Comment) (store.Comment, error)
	ListComments(ctx context.Context, decisionID string) ([]store.Comment, error)
	DeleteComment(ctx context.Context, decisionID, commentID string) error
	EnablePoll(ctx context.Context, decisionID string) error
	CastVote(ctx context.Context, decisionID, userID, optionID string) error
	VoteCounts(ctx context.Context, decisionID string) (map[string]int, error)
}

type Service struct {
	store      dataStore
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewService(dataStore dataStore, jwtSecret string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		store:      dataStore,
		jwtSecret:  []byte(jwtSecret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── Auth ──

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	ExpiresAt    time.Time
}

func (s *Service) Register(ctx context.Context, name, email, password string) (Session, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	var problems []string
	if name == "" || len(name) > 50 {
		problems = append(problems, "Name must be between 1 and 50 characters")
	}
	if !strings.Contains(email, "@") {
		problems = append(problems, "A valid email is required")
	}
	if len(password) < 6 {
		problems = append(problems, "Password must be at least 6 characters")
	}
	if len(problems) > 0 {
		return Session{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", problems)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			return Session{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		}
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates the refresh token: the presented token is revoked and
// a fresh pair is issued, so a token can only ever be redeemed once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	hash := auth.HashToken(refreshToken)
	user, err := s.store.LookupRefreshSession(ctx, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
		}
		return Session{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	if err := s.store.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, fmt.Errorf("revoke refresh session: %w", err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.store.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: claims.Subject, UserName: claims.Name}, nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	expiresAt := s.now().Add(s.accessTTL)
	token, err := auth.IssueToken(s.jwtSecret, user.ID, user.Name, uuid.NewString(), expiresAt)
	if err != nil {
		return Session{}, err
	}
	refreshToken, err := randomToken()
	if err != nil {
		return Session{}, err
	}
	if err := s.store.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user.ID, s.now().Add(s.refreshTTL)); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}
	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		UserName:     user.Name,
		ExpiresAt:    expiresAt,
	}, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ── Decisions ──

type OptionInput struct {
	Title string   `json:"title"`
	Pros  []string `json:"pros"`
	Cons  []string `json:"cons"`
}

type PollInput struct {
	Enabled bool `json:"enabled"`
}

type DecisionInput struct {
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Category        string        `json:"category"`
	ConfidenceLevel *int          `json:"confidenceLevel"`
	Options         []OptionInput `json:"options"`
	ExpectedOutcome string        `json:"expectedOutcome"`
	ReviewDate      time.Time     `json:"reviewDate"`
	IsPublic        bool          `json:"isPublic"`
	SeekingAdvice   bool          `json:"seekingAdvice"`
	Tags            []string      `json:"tags"`
	Poll            PollInput     `json:"poll"`
}

func (s *Service) CreateDecision(ctx context.Context, session Session, input DecisionInput) (feed.DecisionDoc, error) {
	var problems []string

	title := strings.TrimSpace(input.Title)
	if title == "" || len(title) > maxTitleLen {
		problems = append(problems, "Title must be between 1 and 100 characters")
	}
	description := strings.TrimSpace(input.Description)
	if description == "" || len(description) > maxDescriptionLen {
		problems = append(problems, "Description must be between 1 and 1000 characters")
	}
	if _, ok := validCategories[input.Category]; !ok {
		problems = append(problems, "Invalid category")
	}
	confidence := 50
	if input.ConfidenceLevel != nil {
		confidence = *input.ConfidenceLevel
		if confidence < 0 || confidence > 100 {
			problems = append(problems, "Confidence level must be between 0 and 100")
		}
	}
	if len(input.Options) < minOptions {
		problems = append(problems, "At least 2 options are required")
	}
	problems = append(problems, validateOptions(input.Options)...)
	if len(input.ExpectedOutcome) > maxExpectedOutcomeLen {
		problems = append(problems, "Expected outcome must be at most 500 characters")
	}
	if input.ReviewDate.IsZero() || !input.ReviewDate.After(s.now()) {
		problems = append(problems, "Review date must be in the future")
	}
	for _, tag := range input.Tags {
		if len(tag) > maxTagLen {
			problems = append(problems, "Tags must be at most 30 characters")
			break
		}
	}
	if len(problems) > 0 {
		return feed.DecisionDoc{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", problems)
	}

	options := make([]store.Option, 0, len(input.Options))
	for _, option := range input.Options {
		options = append(options, store.Option{
			ID:    uuid.NewString(),
			Title: strings.TrimSpace(option.Title),
			Pros:  option.Pros,
			Cons:  option.Cons,
		})
	}

	item := store.Decision{
		ID:              uuid.NewString(),
		UserID:          session.UserID,
		Title:           title,
		Description:     description,
		Category:        input.Category,
		ConfidenceLevel: confidence,
		Options:         options,
		ExpectedOutcome: strings.TrimSpace(input.ExpectedOutcome),
		ReviewDate:      input.ReviewDate,
		IsPublic:        input.IsPublic,
		SeekingAdvice:   input.SeekingAdvice,
		Tags:            input.Tags,
		PollEnabled:     input.Poll.Enabled && input.IsPublic,
	}
	if err := s.store.InsertDecision(ctx, item); err != nil {
		return feed.DecisionDoc{}, fmt.Errorf("insert decision: %w", err)
	}
	return s.loadDoc(ctx, item.ID)
}

func validateOptions(options []OptionInput) []string {
	var problems []string
	for _, option := range options {
		title := strings.TrimSpace(option.Title)
		if title == "" || len(title) > maxOptionTitleLen {
			problems = append(problems, "Option titles must be between 1 and 100 characters")
			break
		}
	}
	for _, option := range options {
		for _, entry := range append(append([]string{}, option.Pros...), option.Cons...) {
			if len(entry) > maxProConLen {
				return append(problems, "Pros and cons must be at most 200 characters")
			}
		}
	}
	return problems
}

func (s *Service) GetDecision(ctx context.Context, session Session, decisionID string) (feed.DecisionDoc, error) {
	item, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return feed.DecisionDoc{}, domainError(http.StatusNotFound, "NOT_FOUND", "Decision not found", nil)
		}
		return feed.DecisionDoc{}, fmt.Errorf("load decision: %w", err)
	}
	if !item.IsPublic && item.UserID != session.UserID {
		return feed.DecisionDoc{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized to view this decision", nil)
	}
	return feed.DecisionPayload(item), nil
}

type DecisionUpdate struct {
	Title           *string       `json:"title"`
	Description     *string       `json:"description"`
	Category        *string       `json:"category"`
	ConfidenceLevel *int          `json:"confidenceLevel"`
	Options         []OptionInput `json:"options"`
	ExpectedOutcome *string       `json:"expectedOutcome"`
	ReviewDate      *time.Time    `json:"reviewDate"`
	IsPublic        *bool         `json:"isPublic"`
	SeekingAdvice   *bool         `json:"seekingAdvice"`
	Tags            []string      `json:"tags"`
	IsReviewed      *bool         `json:"isReviewed"`
	ActualOutcome   *string       `json:"actualOutcome"`
	SuccessRating   *int          `json:"successRating"`
	LessonsLearned  *string       `json:"lessonsLearned"`
}

func (s *Service) UpdateDecision(ctx context.Context, session Session, decisionID string, update DecisionUpdate) (feed.DecisionDoc, error) {
	item, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return feed.DecisionDoc{}, domainError(http.StatusNotFound, "NOT_FOUND", "Decision not found", nil)
		}
		return feed.DecisionDoc{}, fmt.Errorf("load decision: %w", err)
	}
	if item.UserID != session.UserID {
		return feed.DecisionDoc{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized to update this decision", nil)
	}

	// Once a poll exists its options are frozen: votes reference option
	// rows, and swapping the ballot under voters would orphan them.
	if update.Options != nil && item.PollEnabled {
		return feed.DecisionDoc{}, domainError(http.StatusBadRequest, "POLL_LOCKED", "Cannot update options after poll is enabled", nil)
	}

	var problems []string
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" || len(title) > maxTitleLen {
			problems = append(problems, "Title must be between 1 and 100 characters")
		}
		item.Title = title
	}
	if update.Description != nil {
		description := strings.TrimSpace(*update.Description)
		if description == "" || len(description) > maxDescriptionLen {
			problems = append(problems, "Description must be between 1 and 1000 characters")
		}
		item.Description = description
	}
	if update.Category != nil {
		if _, ok := validCategories[*update.Category]; !ok {
			problems = append(problems, "Invalid category")
		}
		item.Category = *update.Category
	}
	if update.ConfidenceLevel != nil {
		if *update.ConfidenceLevel < 0 || *update.ConfidenceLevel > 100 {
			problems = append(problems, "Confidence level must be between 0 and 100")
		}
		item.ConfidenceLevel = *update.ConfidenceLevel
	}
	replaceOptions := false
	if update.Options != nil {
		if len(update.Options) < minOptions {
			problems = append(problems, "At least 2 options are required")
		}
		problems = append(problems, validateOptions(update.Options)...)
		options := make([]store.Option, 0, len(update.Options))
		for _, option := range update.Options {
			options = append(options, store.Option{
				ID:    uuid.NewString(),
				Title: strings.TrimSpace(option.Title),
				Pros:  option.Pros,
				Cons:  option.Cons,
			})
		}
		item.Options = options
		replaceOptions = true
	}
	if update.ExpectedOutcome != nil {
		if len(*update.ExpectedOutcome) > maxExpectedOutcomeLen {
			problems = append(problems, "Expected outcome must be at most 500 characters")
		}
		item.ExpectedOutcome = strings.TrimSpace(*update.ExpectedOutcome)
	}
	if update.ReviewDate != nil {
		item.ReviewDate = *update.ReviewDate
	}
	if update.IsPublic != nil {
		item.IsPublic = *update.IsPublic
	}
	if update.SeekingAdvice != nil {
		item.SeekingAdvice = *update.SeekingAdvice
	}
	if update.Tags != nil {
		for _, tag := range update.Tags {
			if len(tag) > maxTagLen {
				problems = append(problems, "Tags must be at most 30 characters")
				break
			}
		}
		item.Tags = update.Tags
	}
	if update.ActualOutcome != nil {
		item.ActualOutcome = strings.TrimSpace(*update.ActualOutcome)
	}
	if update.SuccessRating != nil {
		if *update.SuccessRating < 1 || *update.SuccessRating > 5 {
			problems = append(problems, "Success rating must be between 1 and 5")
		}
		item.SuccessRating = update.SuccessRating
	}
	if update.LessonsLearned != nil {
		item.LessonsLearned = strings.TrimSpace(*update.LessonsLearned)
	}

	// Reviewing is a one-way transition and requires the outcome fields
	// to land with it (or already be present).
	if update.IsReviewed != nil {
		if !*update.IsReviewed && item.IsReviewed {
			problems = append(problems, "Review cannot be undone")
		}
		if *update.IsReviewed {
			if item.ActualOutcome == "" {
				problems = append(problems, "Actual outcome is required to mark a decision reviewed")
			}
			if item.SuccessRating == nil {
				problems = append(problems, "Success rating is required to mark a decision reviewed")
			}
			item.IsReviewed = true
		}
	}

	if len(problems) > 0 {
		return feed.DecisionDoc{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", problems)
	}

	if err := s.store.UpdateDecision(ctx, item, replaceOptions); err != nil {
		return feed.DecisionDoc{}, fmt.Errorf("update decision: %w", err)
	}
	return s.loadDoc(ctx, item.ID)
}

func (s *Service) DeleteDecision(ctx context.Context, session Session, decisionID string) error {
	item, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Decision not found", nil)
		}
		return fmt.Errorf("load decision: %w", err)
	}
	if item.UserID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized to delete this decision", nil)
	}
	if err := s.store.DeleteDecision(ctx, decisionID); err != nil {
		return fmt.Errorf("delete decision: %w", err)
	}
	return nil
}

func (s *Service) loadDoc(ctx context.Context, decisionID string) (feed.DecisionDoc, error) {
	item, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return feed.DecisionDoc{}, fmt.Errorf("reload decision: %w", err)
	}
	return feed.DecisionPayload(item), nil
}

// ── Social ──

type LikeResult struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"likeCount"`
}

func (s *Service) ToggleLike(ctx context.Context, session Session, decisionID string) (LikeResult, error) {
	item, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LikeResult{}, domainError(http.StatusNotFound, "NOT_FOUND", "Decision not found", nil)
		}
		return LikeResult{}, fmt.Errorf("load decision: %w", err)
	}
	if !item.IsPublic && item.UserID != session.UserID {
		return LikeResult{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized to like this decision", nil)
	}
	liked, count, err := s.store.ToggleLike(ctx, decisionID, session.UserID)
	if err != nil {
		return LikeResult{}, fmt.Errorf("toggle like: %w", err)
	}
	return LikeResult{Liked: liked, LikeCount: count}, nil
}

func (s *Service) AddComment(ctx context.Context, session Session, decisionID, text string) (feed.CommentDoc, error) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > maxCommentLen {
		return feed.CommentDoc{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Comment must be between 1 and 300 characters", nil)
	}
	item, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return feed.CommentDoc{}, domainError(http.StatusNotFound, "NOT_FOUND", "Decision not found", nil)
		}
		return feed.CommentDoc{}, fmt.Errorf("load decision: %w", err)
	}
	if !item.IsPublic && item.UserID != session.UserID {
		return feed.CommentDoc{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized to comment on this decision", nil)
	}
	comment, err := s.store.AddComment(ctx, decisionID, store.Comment{
		ID:     uuid.NewString(),
		UserID: session.UserID,
		Text:   text,
	})
	if err != nil {
		return feed.CommentDoc{}, fmt.Errorf("add comment: %w", err)
	}
	return feed.CommentDoc{
		ID: comment.ID,
		User: feed.UserDoc{
			ID:     comment.User.ID,
			Name:   comment.User.Name,
			Avatar: comment.User.Avatar,
		},
		Text:      comment.Text,
		CreatedAt: comment.CreatedAt,
	}, nil
}

// DeleteComment is allowed for the comment author and the decision
// owner, nobody else.
func (s *Service) DeleteComment(ctx context.Context, session Session, decisionID, commentID string) error {
	item, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Decision not found", nil)
		}
		return fmt.Errorf("load decision: %w", err)
	}
	comments, err := s.store.ListComments(ctx, decisionID)
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}
	var target *store.Comment
	for i := range comments {
		if comments[i].ID == commentID {
			target = &comments[i]
			break
		}
	}
	if target == nil {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Comment not found", nil)
	}
	if target.UserID != session.UserID && item.UserID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized to delete this comment", nil)
	}
	if err := s.store.DeleteComment(ctx, decisionID, commentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Comment not found", nil)
		}
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// ── Polls ──

func (s *Service) EnablePoll(ctx context.Context, session Session, decisionID string) (feed.DecisionDoc, error) {
	item, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return feed.DecisionDoc{}, domainError(http.StatusNotFound, "NOT_FOUND", "Decision not found", nil)
		}
		return feed.DecisionDoc{}, fmt.Errorf("load decision: %w", err)
	}
	if item.UserID != session.UserID {
		return feed.DecisionDoc{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized to enable poll for this decision", nil)
	}
	if !item.IsPublic {
		return feed.DecisionDoc{}, domainError(http.StatusBadRequest, "POLL_NOT_PUBLIC", "Poll can only be enabled for public decisions", nil)
	}
	if item.PollEnabled {
		return feed.DecisionDoc{}, domainError(http.StatusBadRequest, "POLL_ALREADY_ENABLED", "Poll is already enabled", nil)
	}
	if err := s.store.EnablePoll(ctx, decisionID); err != nil {
		return feed.DecisionDoc{}, fmt.Errorf("enable poll: %w", err)
	}
	return s.loadDoc(ctx, decisionID)
}

type VoteResult struct {
	VoteCounts map[string]int `json:"voteCounts"`
	UserVote   string         `json:"userVote"`
}

func (s *Service) Vote(ctx context.Context, session Session, decisionID, optionID string) (VoteResult, error) {
	if strings.TrimSpace(optionID) == "" {
		return VoteResult{}, domainError(http.StatusBadRequest, "INVALID_OPTION", "Invalid option ID", nil)
	}
	item, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VoteResult{}, domainError(http.StatusNotFound, "NOT_FOUND", "Decision not found", nil)
		}
		return VoteResult{}, fmt.Errorf("load decision: %w", err)
	}
	if !item.IsPublic || !item.PollEnabled {
		return VoteResult{}, domainError(http.StatusForbidden, "POLL_UNAVAILABLE", "Poll is not enabled or decision is not public", nil)
	}
	valid := false
	for _, option := range item.Options {
		if option.ID == optionID {
			valid = true
			break
		}
	}
	if !valid {
		return VoteResult{}, domainError(http.StatusBadRequest, "INVALID_OPTION", "Invalid option ID", nil)
	}

	if err := s.store.CastVote(ctx, decisionID, session.UserID, optionID); err != nil {
		if errors.Is(err, store.ErrDuplicateVote) {
			return VoteResult{}, domainError(http.StatusBadRequest, "ALREADY_VOTED", "You have already voted", nil)
		}
		return VoteResult{}, fmt.Errorf("cast vote: %w", err)
	}

	counts, err := s.store.VoteCounts(ctx, decisionID)
	if err != nil {
		return VoteResult{}, fmt.Errorf("count votes: %w", err)
	}
	return VoteResult{VoteCounts: counts, UserVote: optionID}, nil
}

// ── Review queue ──

type PageDoc struct {
	Decisions  []feed.DecisionDoc `json:"decisions"`
	Pagination feed.Pagination    `json:"pagination"`
}

// ReviewQueue lists the caller's unreviewed decisions whose review date
// has passed, oldest due first. It bypasses the page cache: the queue
// is personal and must not show an already-reviewed decision.
func (s *Service) ReviewQueue(ctx context.Context, session Session, page, limit int) (PageDoc, error) {
	filter := feed.ReviewQueueFilter(session.UserID, s.now(), page, limit)
	items, total, err := s.store.ListFeedPage(ctx, filter)
	if err != nil {
		return PageDoc{}, fmt.Errorf("list review queue: %w", err)
	}
	docs := make([]feed.DecisionDoc, 0, len(items))
	for _, item := range items {
		docs = append(docs, feed.DecisionPayload(item))
	}
	return PageDoc{
		Decisions:  docs,
		Pagination: feed.PaginationFor(filter.Offset/filter.Limit+1, filter.Limit, total),
	}, nil
}

// UserDecisions lists one author's decisions through the same
// filter/sort/pagination grid as the owner feed. Strangers see only the
// author's public decisions; the author sees everything. Pages are not
// cached: the result depends on who is asking.
func (s *Service) UserDecisions(ctx context.Context, session Session, userID string, p feed.Params) (PageDoc, error) {
	filter := feed.UserFilter(userID, session.UserID == userID, p)
	items, total, err := s.store.ListFeedPage(ctx, filter)
	if err != nil {
		return PageDoc{}, fmt.Errorf("list user decisions: %w", err)
	}
	docs := make([]feed.DecisionDoc, 0, len(items))
	for _, item := range items {
		docs = append(docs, feed.DecisionPayload(item))
	}
	return PageDoc{
		Decisions:  docs,
		Pagination: feed.PaginationFor(p.Page, p.Limit, total),
	}, nil
}

// ── Analytics ──

type MonthlyCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

type Analytics struct {
	TotalDecisions               int                `json:"totalDecisions"`
	ReviewedDecisions            int                `json:"reviewedDecisions"`
	ReviewRate                   float64            `json:"reviewRate"`
	SuccessRate                  float64            `json:"successRate"`
	ConfidenceSuccessCorrelation float64            `json:"confidenceSuccessCorrelation"`
	CategoryStats                map[string]int     `json:"categoryStats"`
	SuccessByCategory            map[string]float64 `json:"successByCategory"`
	MonthlyData                  []MonthlyCount     `json:"monthlyData"`
}

func (s *Service) Analytics(ctx context.Context, session Session) (Analytics, error) {
	items, err := s.store.ListDecisionsByOwner(ctx, session.UserID)
	if err != nil {
		return Analytics{}, fmt.Errorf("list decisions: %w", err)
	}

	result := Analytics{
		CategoryStats:     make(map[string]int),
		SuccessByCategory: make(map[string]float64),
		MonthlyData:       []MonthlyCount{},
	}
	result.TotalDecisions = len(items)

	monthly := make(map[string]int)
	ratingSumByCategory := make(map[string]int)
	ratedByCategory := make(map[string]int)
	var successful, ratingSum, rated, confidenceSum int

	for _, item := range items {
		result.CategoryStats[item.Category]++
		monthly[item.CreatedAt.Format("2006-01")]++
		confidenceSum += item.ConfidenceLevel
		if !item.IsReviewed {
			continue
		}
		result.ReviewedDecisions++
		if item.SuccessRating == nil {
			continue
		}
		rating := *item.SuccessRating
		rated++
		ratingSum += rating
		if rating >= 4 {
			successful++
		}
		ratingSumByCategory[item.Category] += rating
		ratedByCategory[item.Category]++
	}

	if result.TotalDecisions > 0 {
		result.ReviewRate = float64(result.ReviewedDecisions) / float64(result.TotalDecisions) * 100
	}
	if result.ReviewedDecisions > 0 {
		result.SuccessRate = float64(successful) / float64(result.ReviewedDecisions) * 100
	}
	if rated > 0 && result.TotalDecisions > 0 {
		avgRating := float64(ratingSum) / float64(rated)
		avgConfidence := float64(confidenceSum) / float64(result.TotalDecisions)
		correlation := (avgRating / 5) * (avgConfidence / 100) * 100
		if correlation > 100 {
			correlation = 100
		}
		result.ConfidenceSuccessCorrelation = correlation
	}
	for category, sum := range ratingSumByCategory {
		result.SuccessByCategory[category] = float64(sum) / float64(ratedByCategory[category])
	}

	months := make([]string, 0, len(monthly))
	for month := range monthly {
		months = append(months, month)
	}
	sort.Strings(months)
	for _, month := range months {
		result.MonthlyData = append(result.MonthlyData, MonthlyCount{Month: month, Count: monthly[month]})
	}
	return result, nil
}
