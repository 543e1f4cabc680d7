package agora

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jhchabran/agora/metrics"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxRetries  = 3
	DefaultEventBuffer = 256
)

// EngineConfig holds the tunables of an Engine.
type EngineConfig struct {
	MaxRetries  int
	EventBuffer int
}

// Engine is the entry point for every action that changes votes, reputation
// or acceptance. Actions on the same question are serialized; actions on
// different questions run in parallel.
type Engine struct {
	store      Store
	reputation *Reputation
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	locks      *keyedMutex
	events     *dispatcher
	maxRetries int
}

type Option func(*Engine)

// WithReputation replaces the default point tables and badge thresholds.
func WithReputation(r *Reputation) Option {
	return func(e *Engine) { e.reputation = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(cfg *EngineConfig, store Store, notifier Notifier, logger zerolog.Logger, opts ...Option) *Engine {
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	buffer := cfg.EventBuffer
	if buffer < 1 {
		buffer = DefaultEventBuffer
	}

	e := &Engine{
		store:      store,
		reputation: NewReputation(),
		logger:     logger,
		locks:      newKeyedMutex(),
		maxRetries: maxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}

	if notifier == nil {
		notifier = NotifierFunc(func(context.Context, Event) error { return nil })
	}
	e.events = newDispatcher(notifier, buffer, logger.With().Str("component", "events").Logger(), e.metrics.ObserveDroppedEvent)

	return e
}

// Close waits for queued events to be delivered. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.events.close()
}

// Reputation returns the rules the engine applies.
func (e *Engine) Reputation() *Reputation {
	return e.reputation
}

// retry runs fn in a store transaction, starting over when the store reports a
// concurrent modification.
func (e *Engine) retry(ctx context.Context, action string, fn func(tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		err = e.store.WithTx(ctx, fn)
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		e.metrics.ObserveRetry(action)
		e.logger.Debug().Err(err).Str("action", action).Int("attempt", attempt).Msg("Concurrent modification, retrying")
	}

	return fmt.Errorf("%s: gave up after %d attempts: %w", action, e.maxRetries, err)
}

func (e *Engine) observeFailure(action string, err error) {
	reason := "internal"
	switch {
	case errors.Is(err, ErrSelfVote):
		reason = "self_vote"
	case errors.Is(err, ErrTargetNotFound), errors.Is(err, ErrNotFound):
		reason = "not_found"
	case errors.Is(err, ErrNotAuthorized):
		reason = "not_authorized"
	case errors.Is(err, ErrInvalidInput):
		reason = "invalid_input"
	case errors.Is(err, ErrConcurrentModification):
		reason = "concurrent_modification"
	}
	e.metrics.ObserveFailure(action, reason)
}

// questionOf resolves the question a target belongs to, which is the key
// actions are serialized on.
func (e *Engine) questionOf(ctx context.Context, targetID string, kind TargetKind) (string, error) {
	var questionID string
	err := e.retry(ctx, "resolve_question", func(tx Tx) error {
		target, err := tx.FindTarget(targetID, kind)
		if err != nil {
			return err
		}
		questionID = target.QuestionID
		return nil
	})
	return questionID, err
}

// CommentRequest asks to post an answer, or a reply when ParentID is set.
type CommentRequest struct {
	QuestionID string
	ParentID   string
	AuthorID   string
	Body       string
}

// CreateComment posts a new comment under a question.
func (e *Engine) CreateComment(ctx context.Context, req CommentRequest) (*Comment, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, fmt.Errorf("empty comment body: %w", ErrInvalidInput)
	}

	unlock := e.locks.Lock(req.QuestionID)
	defer unlock()

	var comment *Comment
	var recipient string
	err := e.retry(ctx, "create_comment", func(tx Tx) error {
		q, err := tx.FindQuestion(req.QuestionID)
		if err != nil {
			return err
		}
		if _, err := tx.FindUser(req.AuthorID); err != nil {
			return fmt.Errorf("author %s: %w", req.AuthorID, err)
		}

		parent := sql.NullString{}
		recipient = q.AuthorID
		if req.ParentID != "" {
			p, err := tx.FindComment(req.ParentID)
			if err != nil {
				return fmt.Errorf("parent comment: %w", err)
			}
			if p.QuestionID != q.ID {
				return fmt.Errorf("parent comment %s is not under question %s: %w", p.ID, q.ID, ErrTargetNotFound)
			}
			parent = sql.NullString{String: p.ID, Valid: true}
			recipient = p.AuthorID
		}

		comment = NewComment(q.ID, parent, body, req.AuthorID)
		if err := tx.InsertComment(comment); err != nil {
			return err
		}
		if err := tx.TouchQuestion(q.ID, 1, comment.CreatedAt); err != nil {
			return err
		}
		return tx.BumpUserCounters(req.AuthorID, UserCounters{Answers: 1})
	})
	if err != nil {
		e.observeFailure("create_comment", err)
		return nil, err
	}

	e.logger.Debug().Str("comment", comment.ID).Str("question", comment.QuestionID).Msg("Comment created")
	e.events.emit(Event{
		Type:        EventCommentCreated,
		TargetID:    comment.ID,
		TargetKind:  KindComment,
		QuestionID:  comment.QuestionID,
		ActorID:     comment.AuthorID,
		RecipientID: recipient,
		Excerpt:     Excerpt(comment.Body),
		At:          comment.CreatedAt,
	})

	return comment, nil
}

// DeleteComment removes a comment and all the replies below it, with their
// votes. Only the author may delete a comment. Reputation earned on the removed
// comments is kept. It returns the ids of the removed comments.
func (e *Engine) DeleteComment(ctx context.Context, commentID string, requesterID string) ([]string, error) {
	questionID, err := e.questionOf(ctx, commentID, KindComment)
	if err != nil {
		e.observeFailure("delete_comment", err)
		return nil, err
	}

	unlock := e.locks.Lock(questionID)
	defer unlock()

	var removed []string
	err = e.retry(ctx, "delete_comment", func(tx Tx) error {
		c, err := tx.FindComment(commentID)
		if err != nil {
			return err
		}
		if c.AuthorID != requesterID {
			return fmt.Errorf("user %s deleting comment %s: %w", requesterID, commentID, ErrNotAuthorized)
		}

		q, err := tx.FindQuestion(c.QuestionID)
		if err != nil {
			return err
		}
		comments, err := tx.ListComments(q.ID)
		if err != nil {
			return err
		}

		tree := NewCommentTree(q.ID, comments)
		removed, err = tree.Delete(commentID)
		if err != nil {
			return err
		}

		if err := e.releaseAcceptance(tx, q, removed); err != nil {
			return err
		}
		if err := tx.DeleteVotesOn(removed, KindComment); err != nil {
			return err
		}
		if err := tx.DeleteComments(removed); err != nil {
			return err
		}
		return tx.TouchQuestion(q.ID, -int64(len(removed)), NowFunc())
	})
	if err != nil {
		e.observeFailure("delete_comment", err)
		return nil, err
	}

	e.logger.Debug().Str("comment", commentID).Int("removed", len(removed)).Msg("Comment deleted")
	return removed, nil
}

// Question returns a question.
func (e *Engine) Question(ctx context.Context, id string) (*Question, error) {
	var q *Question
	err := e.store.WithTx(ctx, func(tx Tx) (err error) {
		q, err = tx.FindQuestion(id)
		return err
	})
	return q, err
}

// CommentTree loads the whole comment tree of a question.
func (e *Engine) CommentTree(ctx context.Context, questionID string) (*CommentTree, error) {
	_, tree, err := e.Thread(ctx, questionID)
	return tree, err
}

// Thread loads a question together with its comment tree, from the same
// transaction so the accepted answer agrees with the comments.
func (e *Engine) Thread(ctx context.Context, questionID string) (*Question, *CommentTree, error) {
	var q *Question
	var tree *CommentTree
	err := e.store.WithTx(ctx, func(tx Tx) error {
		var err error
		q, err = tx.FindQuestion(questionID)
		if err != nil {
			return err
		}
		comments, err := tx.ListComments(questionID)
		if err != nil {
			return err
		}
		tree = NewCommentTree(questionID, comments)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return q, tree, nil
}

// Leaderboard ranks the users with the highest reputation, or the most
// questions or answers. A limit of zero means the default size.
func (e *Engine) Leaderboard(ctx context.Context, by LeaderboardKind, limit int) ([]*Standing, error) {
	if by == "" {
		by = ByReputation
	}
	if !by.Valid() {
		return nil, fmt.Errorf("unknown leaderboard %q: %w", by, ErrInvalidInput)
	}
	switch {
	case limit < 0:
		return nil, fmt.Errorf("negative leaderboard size %d: %w", limit, ErrInvalidInput)
	case limit == 0:
		limit = DefaultLeaderboardSize
	case limit > MaxLeaderboardSize:
		limit = MaxLeaderboardSize
	}

	var users []*User
	err := e.store.WithTx(ctx, func(tx Tx) (err error) {
		users, err = tx.TopUsers(by, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	standings := make([]*Standing, len(users))
	for i, u := range users {
		standings[i] = &Standing{Rank: i + 1, User: u}
	}
	return standings, nil
}

// User returns a user with their reputation and badges.
func (e *Engine) User(ctx context.Context, id string) (*User, error) {
	var u *User
	err := e.store.WithTx(ctx, func(tx Tx) (err error) {
		u, err = tx.FindUser(id)
		return err
	})
	return u, err
}

// CreateUser registers a user. Accounts are owned by the authentication
// system, this only gives them a reputation record.
func (e *Engine) CreateUser(ctx context.Context, u *User) error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("empty user name: %w", ErrInvalidInput)
	}
	return e.store.WithTx(ctx, func(tx Tx) error {
		return tx.InsertUser(u)
	})
}

// CreateQuestion stores a new question and counts it for its author. Asking
// earns no reputation, only votes and acceptances do.
func (e *Engine) CreateQuestion(ctx context.Context, q *Question) error {
	if strings.TrimSpace(q.Title) == "" {
		return fmt.Errorf("empty question title: %w", ErrInvalidInput)
	}
	return e.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.FindUser(q.AuthorID); err != nil {
			return fmt.Errorf("author %s: %w", q.AuthorID, err)
		}
		if err := tx.InsertQuestion(q); err != nil {
			return err
		}
		return tx.BumpUserCounters(q.AuthorID, UserCounters{Questions: 1})
	})
}
