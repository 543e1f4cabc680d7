package agora

import (
	"database/sql"
	"time"
)

// A Comment is an answer to a question when it has no parent comment, or a
// reply to another comment otherwise. Nesting depth is unbounded.
type Comment struct {
	ID              string         `db:"id"`
	QuestionID      string         `db:"question_id"`
	ParentCommentID sql.NullString `db:"parent_comment_id"`
	AuthorID        string         `db:"author_id"`
	Body            string         `db:"body"`
	Score           int64          `db:"score"`
	Accepted        bool           `db:"accepted"`
	CreatedAt       time.Time      `db:"created_at"`
}

func NewComment(questionID string, parentCommentID sql.NullString, body string, authorID string) *Comment {
	return &Comment{
		QuestionID:      questionID,
		ParentCommentID: parentCommentID,
		Body:            body,
		AuthorID:        authorID,
		CreatedAt:       NowFunc(),
	}
}

// IsAnswer reports whether the comment is a top-level answer.
func (c *Comment) IsAnswer() bool {
	return !c.ParentCommentID.Valid || c.ParentCommentID.String == ""
}

func (c *Comment) parentKey() string {
	if c.IsAnswer() {
		return ""
	}
	return c.ParentCommentID.String
}

// Target returns the votable view of the comment.
func (c *Comment) Target() *Target {
	return &Target{
		ID:         c.ID,
		Kind:       KindComment,
		AuthorID:   c.AuthorID,
		QuestionID: c.QuestionID,
		Score:      c.Score,
	}
}

func (c *Comment) GetScore() int64 {
	return c.Score
}

func (c *Comment) Age() time.Time {
	return c.CreatedAt
}

// CommentPresenter is the JSON view of a comment and its replies.
type CommentPresenter struct {
	ID        string              `json:"id"`
	ParentID  string              `json:"parent_id,omitempty"`
	AuthorID  string              `json:"author_id"`
	Body      string              `json:"body"`
	Score     int64               `json:"score"`
	Accepted  bool                `json:"accepted"`
	CreatedAt time.Time           `json:"created_at"`
	Replies   []*CommentPresenter `json:"replies"`
}

func NewCommentPresenter(c *Comment) *CommentPresenter {
	return &CommentPresenter{
		ID:        c.ID,
		ParentID:  c.parentKey(),
		AuthorID:  c.AuthorID,
		Body:      c.Body,
		Score:     c.Score,
		Accepted:  c.Accepted,
		CreatedAt: c.CreatedAt,
		Replies:   []*CommentPresenter{},
	}
}
