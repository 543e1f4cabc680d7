package agora

import (
	"context"
	"database/sql"
	"time"
)

// A Store persists content, users and the vote ledger. Every read and write
// happens inside WithTx: when fn returns an error nothing it did is kept.
type Store interface {
	Connect() error
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the set of operations available within a store transaction.
//
// Lookups of missing records return ErrTargetNotFound for questions and
// comments, ErrNotFound for users. FindVote returns nil, nil when the voter has
// no vote on the target. Writes that lose a race against another transaction
// return ErrConcurrentModification.
type Tx interface {
	UserLedger

	FindTarget(id string, kind TargetKind) (*Target, error)
	// ApplyScoreDelta atomically adds delta to the target's cached score and
	// returns the new score.
	ApplyScoreDelta(id string, kind TargetKind, delta int64) (int64, error)

	FindQuestion(id string) (*Question, error)
	// ListQuestionIDs returns every question id, oldest first.
	ListQuestionIDs() ([]string, error)
	InsertQuestion(q *Question) error
	SetAcceptedAnswer(questionID string, commentID sql.NullString) error
	// TouchQuestion adds repliesDelta to the replies count and records activity.
	TouchQuestion(questionID string, repliesDelta int64, at time.Time) error

	FindComment(id string) (*Comment, error)
	ListComments(questionID string) ([]*Comment, error)
	InsertComment(c *Comment) error
	SetCommentAccepted(id string, accepted bool) error
	DeleteComments(ids []string) error

	FindVote(voterID string, targetID string, kind TargetKind) (*Vote, error)
	ListVotes(targetID string, kind TargetKind) ([]*Vote, error)
	InsertVote(v *Vote) error
	// UpdateVoteDirection flips the vote from one direction to another. It
	// returns ErrConcurrentModification when the stored direction is not from.
	UpdateVoteDirection(id string, from Direction, to Direction) error
	DeleteVote(id string) error
	DeleteVotesOn(targetIDs []string, kind TargetKind) error

	InsertUser(u *User) error
	// TopUsers returns at most limit users with the highest metric, ties going
	// to the oldest account.
	TopUsers(by LeaderboardKind, limit int) ([]*User, error)
}
