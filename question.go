package agora

import (
	"database/sql"
	"time"
)

// TargetKind tells which kind of content a vote lands on.
type TargetKind string

const (
	KindQuestion TargetKind = "question"
	KindComment  TargetKind = "comment"
)

func (k TargetKind) Valid() bool {
	return k == KindQuestion || k == KindComment
}

// A Target is anything that can receive votes. For questions, QuestionID is the
// question's own id.
type Target struct {
	ID         string     `db:"id"`
	Kind       TargetKind `db:"kind"`
	AuthorID   string     `db:"author_id"`
	QuestionID string     `db:"question_id"`
	Score      int64      `db:"score"`
}

type Question struct {
	ID               string         `db:"id" json:"id"`
	AuthorID         string         `db:"author_id" json:"author_id"`
	Title            string         `db:"title" json:"title"`
	Body             string         `db:"body" json:"body"`
	Score            int64          `db:"score" json:"score"`
	AcceptedAnswerID sql.NullString `db:"accepted_answer_id" json:"-"`
	RepliesCount     int64          `db:"replies_count" json:"replies_count"`
	LastActivityAt   time.Time      `db:"last_activity_at" json:"last_activity_at"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

func NewQuestion(title string, body string, authorID string) *Question {
	now := NowFunc()
	return &Question{
		Title:          title,
		Body:           body,
		AuthorID:       authorID,
		LastActivityAt: now,
		CreatedAt:      now,
	}
}

// Target returns the votable view of the question.
func (q *Question) Target() *Target {
	return &Target{
		ID:         q.ID,
		Kind:       KindQuestion,
		AuthorID:   q.AuthorID,
		QuestionID: q.ID,
		Score:      q.Score,
	}
}

// HasAcceptedAnswer reports whether the question currently has an accepted answer.
func (q *Question) HasAcceptedAnswer() bool {
	return q.AcceptedAnswerID.Valid && q.AcceptedAnswerID.String != ""
}
