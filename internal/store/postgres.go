package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrEmailExists   = errors.New("email already registered")
	ErrDuplicateVote = errors.New("duplicate vote")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Users ──

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, avatar)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Avatar)
	if isUniqueViolation(err) {
		return ErrEmailExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, avatar FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Avatar)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, avatar FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Avatar)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ── Refresh sessions ──

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.name, u.email, u.avatar
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Name, &user.Email, &user.Avatar)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// ── Decisions ──

func (s *PostgresStore) InsertDecision(ctx context.Context, item Decision) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert decision: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO decisions (
			id, user_id, title, description, category, confidence_level,
			expected_outcome, review_date, is_public, seeking_advice, tags, poll_enabled
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, item.ID, item.UserID, item.Title, item.Description, item.Category, item.ConfidenceLevel,
		item.ExpectedOutcome, item.ReviewDate, item.IsPublic, item.SeekingAdvice, tags, item.PollEnabled)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}

	if err := insertOptions(ctx, tx, item.ID, item.Options); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert decision: %w", err)
	}
	return nil
}

func insertOptions(ctx context.Context, tx *sql.Tx, decisionID string, options []Option) error {
	for position, option := range options {
		pros, err := json.Marshal(option.Pros)
		if err != nil {
			return fmt.Errorf("marshal pros: %w", err)
		}
		cons, err := json.Marshal(option.Cons)
		if err != nil {
			return fmt.Errorf("marshal cons: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO decision_options (id, decision_id, position, title, pros, cons)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, option.ID, decisionID, position, option.Title, pros, cons)
		if err != nil {
			return fmt.Errorf("insert option: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetDecision(ctx context.Context, decisionID string) (Decision, error) {
	items, err := s.queryDecisions(ctx, `WHERE d.id = $1`, []any{decisionID}, "d.created_at DESC", 0, 1)
	if err != nil {
		return Decision{}, err
	}
	if len(items) == 0 {
		return Decision{}, sql.ErrNoRows
	}
	return items[0], nil
}

// UpdateDecision persists the decision's scalar fields; when
// replaceOptions is set the option rows are rewritten in the same
// transaction. Callers must reject option replacement on enabled polls
// before getting here.
func (s *PostgresStore) UpdateDecision(ctx context.Context, item Decision, replaceOptions bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update decision: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE decisions SET
			title=$2, description=$3, category=$4, confidence_level=$5,
			expected_outcome=$6, review_date=$7, is_reviewed=$8, actual_outcome=$9,
			success_rating=$10, lessons_learned=$11, is_public=$12, seeking_advice=$13,
			tags=$14, poll_enabled=$15, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Description, item.Category, item.ConfidenceLevel,
		item.ExpectedOutcome, item.ReviewDate, item.IsReviewed, item.ActualOutcome,
		item.SuccessRating, item.LessonsLearned, item.IsPublic, item.SeekingAdvice,
		tags, item.PollEnabled)
	if err != nil {
		return fmt.Errorf("update decision: %w", err)
	}

	if replaceOptions {
		if _, err := tx.ExecContext(ctx, `DELETE FROM decision_options WHERE decision_id=$1`, item.ID); err != nil {
			return fmt.Errorf("delete options: %w", err)
		}
		if err := insertOptions(ctx, tx, item.ID, item.Options); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDecision(ctx context.Context, decisionID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE id=$1`, decisionID)
	if err != nil {
		return fmt.Errorf("delete decision: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete decision rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListDecisionsByOwner returns the owner's decisions without social
// hydration; analytics only needs the scalar fields.
func (s *PostgresStore) ListDecisionsByOwner(ctx context.Context, ownerID string) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, description, category, confidence_level,
			expected_outcome, review_date, is_reviewed, actual_outcome,
			success_rating, lessons_learned, is_public, seeking_advice, tags,
			poll_enabled, created_at, updated_at
		FROM decisions
		WHERE user_id=$1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list decisions by owner: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// ── Feed queries ──

var sortColumns = map[string]string{
	"createdAt":       "d.created_at",
	"updatedAt":       "d.updated_at",
	"reviewDate":      "d.review_date",
	"confidenceLevel": "d.confidence_level",
	"title":           "d.title",
	"likeCount":       "(SELECT COUNT(*) FROM decision_likes l WHERE l.decision_id = d.id)",
	"commentCount":    "(SELECT COUNT(*) FROM decision_comments c WHERE c.decision_id = d.id)",
}

// ListFeedPage returns one hydrated page plus the total row count for
// the filter.
func (s *PostgresStore) ListFeedPage(ctx context.Context, filter FeedFilter) ([]Decision, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.OwnerID != "" {
		where += " AND d.user_id = " + arg(filter.OwnerID)
	}
	if filter.PublicOnly {
		where += " AND d.is_public = TRUE"
	}
	if filter.Category != "" && filter.Category != "all" {
		where += " AND d.category = " + arg(filter.Category)
	}
	if filter.Reviewed != nil {
		where += " AND d.is_reviewed = " + arg(*filter.Reviewed)
	}
	if filter.DueBefore != nil {
		where += " AND d.review_date <= " + arg(*filter.DueBefore)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM decisions d " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count feed page: %w", err)
	}

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = "d.created_at"
	}
	direction := "DESC"
	if filter.SortAsc {
		direction = "ASC"
	}
	orderBy := column + " " + direction + ", d.id " + direction

	items, err := s.queryDecisions(ctx, where, args, orderBy, filter.Offset, filter.Limit)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *PostgresStore) queryDecisions(ctx context.Context, where string, args []any, orderBy string, offset, limit int) ([]Decision, error) {
	query := fmt.Sprintf(`
		SELECT d.id, d.user_id, d.title, d.description, d.category, d.confidence_level,
			d.expected_outcome, d.review_date, d.is_reviewed, d.actual_outcome,
			d.success_rating, d.lessons_learned, d.is_public, d.seeking_advice, d.tags,
			d.poll_enabled, d.created_at, d.updated_at
		FROM decisions d
		%s
		ORDER BY %s
		OFFSET $%d LIMIT $%d
	`, where, orderBy, len(args)+1, len(args)+2)
	args = append(args, offset, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	items, err := scanDecisions(rows)
	if err != nil {
		return nil, err
	}
	if err := s.hydrateDecisions(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func scanDecisions(rows *sql.Rows) ([]Decision, error) {
	items := make([]Decision, 0)
	for rows.Next() {
		var item Decision
		var tags []byte
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.Title, &item.Description, &item.Category,
			&item.ConfidenceLevel, &item.ExpectedOutcome, &item.ReviewDate,
			&item.IsReviewed, &item.ActualOutcome, &item.SuccessRating,
			&item.LessonsLearned, &item.IsPublic, &item.SeekingAdvice, &tags,
			&item.PollEnabled, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if err := json.Unmarshal(tags, &item.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return items, nil
}

// hydrateDecisions joins owners, options, comments (with author
// display fields), like identities, and per-option vote counts for one
// page of decisions.
func (s *PostgresStore) hydrateDecisions(ctx context.Context, items []Decision) error {
	if len(items) == 0 {
		return nil
	}

	ids := make([]string, 0, len(items))
	index := make(map[string]*Decision, len(items))
	for i := range items {
		items[i].Options = make([]Option, 0)
		items[i].Comments = make([]Comment, 0)
		items[i].LikeUserIDs = make([]string, 0)
		items[i].VoteCounts = make(map[string]int)
		ids = append(ids, items[i].ID)
		index[items[i].ID] = &items[i]
	}

	owners, err := s.db.QueryContext(ctx, `
		SELECT d.id, u.id, u.name, u.avatar
		FROM decisions d JOIN users u ON u.id = d.user_id
		WHERE d.id = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("load decision owners: %w", err)
	}
	defer owners.Close()
	for owners.Next() {
		var decisionID string
		var owner UserRef
		if err := owners.Scan(&decisionID, &owner.ID, &owner.Name, &owner.Avatar); err != nil {
			return fmt.Errorf("scan decision owner: %w", err)
		}
		if item := index[decisionID]; item != nil {
			item.Owner = owner
		}
	}
	if err := owners.Err(); err != nil {
		return fmt.Errorf("iterate decision owners: %w", err)
	}

	options, err := s.db.QueryContext(ctx, `
		SELECT decision_id, id, title, pros, cons
		FROM decision_options
		WHERE decision_id = ANY($1)
		ORDER BY decision_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("load options: %w", err)
	}
	defer options.Close()
	for options.Next() {
		var decisionID string
		var option Option
		var pros, cons []byte
		if err := options.Scan(&decisionID, &option.ID, &option.Title, &pros, &cons); err != nil {
			return fmt.Errorf("scan option: %w", err)
		}
		if err := json.Unmarshal(pros, &option.Pros); err != nil {
			return fmt.Errorf("unmarshal pros: %w", err)
		}
		if err := json.Unmarshal(cons, &option.Cons); err != nil {
			return fmt.Errorf("unmarshal cons: %w", err)
		}
		if item := index[decisionID]; item != nil {
			item.Options = append(item.Options, option)
			item.VoteCounts[option.ID] = 0
		}
	}
	if err := options.Err(); err != nil {
		return fmt.Errorf("iterate options: %w", err)
	}

	comments, err := s.db.QueryContext(ctx, `
		SELECT c.decision_id, c.id, c.user_id, u.name, u.avatar, c.body, c.created_at
		FROM decision_comments c JOIN users u ON u.id = c.user_id
		WHERE c.decision_id = ANY($1)
		ORDER BY c.decision_id, c.created_at
	`, ids)
	if err != nil {
		return fmt.Errorf("load comments: %w", err)
	}
	defer comments.Close()
	for comments.Next() {
		var decisionID string
		var comment Comment
		if err := comments.Scan(&decisionID, &comment.ID, &comment.UserID,
			&comment.User.Name, &comment.User.Avatar, &comment.Text, &comment.CreatedAt); err != nil {
			return fmt.Errorf("scan comment: %w", err)
		}
		comment.User.ID = comment.UserID
		if item := index[decisionID]; item != nil {
			item.Comments = append(item.Comments, comment)
		}
	}
	if err := comments.Err(); err != nil {
		return fmt.Errorf("iterate comments: %w", err)
	}

	likes, err := s.db.QueryContext(ctx, `
		SELECT decision_id, user_id
		FROM decision_likes
		WHERE decision_id = ANY($1)
		ORDER BY decision_id, created_at
	`, ids)
	if err != nil {
		return fmt.Errorf("load likes: %w", err)
	}
	defer likes.Close()
	for likes.Next() {
		var decisionID, userID string
		if err := likes.Scan(&decisionID, &userID); err != nil {
			return fmt.Errorf("scan like: %w", err)
		}
		if item := index[decisionID]; item != nil {
			item.LikeUserIDs = append(item.LikeUserIDs, userID)
		}
	}
	if err := likes.Err(); err != nil {
		return fmt.Errorf("iterate likes: %w", err)
	}

	votes, err := s.db.QueryContext(ctx, `
		SELECT decision_id, option_id, COUNT(*)
		FROM poll_votes
		WHERE decision_id = ANY($1)
		GROUP BY decision_id, option_id
	`, ids)
	if err != nil {
		return fmt.Errorf("load vote counts: %w", err)
	}
	defer votes.Close()
	for votes.Next() {
		var decisionID, optionID string
		var count int
		if err := votes.Scan(&decisionID, &optionID, &count); err != nil {
			return fmt.Errorf("scan vote count: %w", err)
		}
		if item := index[decisionID]; item != nil {
			item.VoteCounts[optionID] = count
		}
	}
	if err := votes.Err(); err != nil {
		return fmt.Errorf("iterate vote counts: %w", err)
	}

	return nil
}

// ── Likes and comments ──

// ToggleLike flips the caller's membership in the like set using
// single-row insert/delete so concurrent toggles on the same decision
// cannot lose updates.
func (s *PostgresStore) ToggleLike(ctx context.Context, decisionID, userID string) (bool, int, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_likes (decision_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (decision_id, user_id) DO NOTHING
	`, decisionID, userID)
	if err != nil {
		return false, 0, fmt.Errorf("insert like: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("insert like rows: %w", err)
	}

	liked := inserted > 0
	if !liked {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM decision_likes WHERE decision_id=$1 AND user_id=$2
		`, decisionID, userID); err != nil {
			return false, 0, fmt.Errorf("delete like: %w", err)
		}
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM decision_likes WHERE decision_id=$1
	`, decisionID).Scan(&count); err != nil {
		return false, 0, fmt.Errorf("count likes: %w", err)
	}
	return liked, count, nil
}

func (s *PostgresStore) AddComment(ctx context.Context, decisionID string, comment Comment) (Comment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO decision_comments (id, decision_id, user_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, comment.ID, decisionID, comment.UserID, comment.Text).Scan(&comment.CreatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}

	var author UserRef
	if err := s.db.QueryRowContext(ctx, `
		SELECT id, name, avatar FROM users WHERE id=$1
	`, comment.UserID).Scan(&author.ID, &author.Name, &author.Avatar); err != nil {
		return Comment{}, fmt.Errorf("load comment author: %w", err)
	}
	comment.User = author
	return comment, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, decisionID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, u.name, u.avatar, c.body, c.created_at
		FROM decision_comments c JOIN users u ON u.id = c.user_id
		WHERE c.decision_id=$1
		ORDER BY c.created_at
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		var comment Comment
		if err := rows.Scan(&comment.ID, &comment.UserID, &comment.User.Name,
			&comment.User.Avatar, &comment.Text, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comment.User.ID = comment.UserID
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return comments, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, decisionID, commentID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM decision_comments WHERE id=$1 AND decision_id=$2
	`, commentID, decisionID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete comment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ── Polls ──

func (s *PostgresStore) EnablePoll(ctx context.Context, decisionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE decisions SET poll_enabled=TRUE, updated_at=NOW() WHERE id=$1
	`, decisionID)
	if err != nil {
		return fmt.Errorf("enable poll: %w", err)
	}
	return nil
}

// CastVote inserts or overwrites the caller's vote in one statement;
// the (decision_id, user_id) primary key keeps concurrent submissions
// from ever producing two rows for the same user.
func (s *PostgresStore) CastVote(ctx context.Context, decisionID, userID, optionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO poll_votes (decision_id, user_id, option_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (decision_id, user_id)
		DO UPDATE SET option_id=EXCLUDED.option_id, updated_at=NOW()
	`, decisionID, userID, optionID)
	if isUniqueViolation(err) {
		return ErrDuplicateVote
	}
	if err != nil {
		return fmt.Errorf("cast vote: %w", err)
	}
	return nil
}

// VoteCounts scans the vote rows per option, zero-filling options with
// no votes.
func (s *PostgresStore) VoteCounts(ctx context.Context, decisionID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, COUNT(v.user_id)
		FROM decision_options o
		LEFT JOIN poll_votes v ON v.option_id = o.id AND v.decision_id = o.decision_id
		WHERE o.decision_id=$1
		GROUP BY o.id
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("count votes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var optionID string
		var count int
		if err := rows.Scan(&optionID, &count); err != nil {
			return nil, fmt.Errorf("scan vote count: %w", err)
		}
		counts[optionID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vote counts: %w", err)
	}
	return counts, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
