// Package sqlstore implements agora.Store on top of a SQL database. Postgres is
// reached through lib/pq ("postgres") or pgx ("pgx"), SQLite through the pure Go
// modernc driver ("sqlite").
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jhchabran/agora"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schemaSQL string

const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

const userColumns = `id, name, reputation,
	badge_gold AS "badges.gold", badge_silver AS "badges.silver", badge_bronze AS "badges.bronze",
	questions_count, answers_count, accepted_count, votes_received, created_at`

// A SQLStore is responsible of interacting with the storage layer using a SQL database.
type SQLStore struct {
	driver string
	dsn    string
	db     *sqlx.DB
}

var _ agora.Store = (*SQLStore)(nil)

// New returns a SQLStore for the given driver name and data source, such as
// "user=postgres dbname=agora sslmode=disable" or "file:agora.db".
func New(driver string, dsn string) *SQLStore {
	return &SQLStore{
		driver: driver,
		dsn:    dsn,
	}
}

// Connect establish a connection with the database using the address given at initialization.
func (s *SQLStore) Connect() error {
	switch s.driver {
	case DriverPostgres, DriverPgx, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", s.driver)
	}

	db, err := sqlx.Connect(s.driver, s.dsn)
	if err != nil {
		return err
	}

	if s.driver == DriverSQLite {
		// one writer at a time, the pragmas below stick to that connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		for _, pragma := range []string{
			"PRAGMA busy_timeout = 5000",
			"PRAGMA foreign_keys = ON",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return fmt.Errorf("failed to execute %q: %w", pragma, err)
			}
		}
	}

	s.db = db
	return nil
}

// DB returns the existing connection, making it suitable to perform requests not already supported by
// the store interface. If called while not connected, it will return nil.
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

// Migrate creates the tables if they do not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) WithTx(ctx context.Context, fn func(tx agora.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapError(err)
	}

	if err := fn(&tx{ctx: ctx, tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return mapError(err)
	}

	return mapError(sqlTx.Commit())
}

// mapError turns lost races into agora.ErrConcurrentModification: unique
// violations, serialization failures and deadlocks, or a busy database.
func mapError(err error) error {
	if err == nil || errors.Is(err, agora.ErrConcurrentModification) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == "23505" || pqErr.Code.Class() == "40") {
		return fmt.Errorf("%v: %w", err, agora.ErrConcurrentModification)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "23505" || strings.HasPrefix(pgErr.Code, "40")) {
		return fmt.Errorf("%v: %w", err, agora.ErrConcurrentModification)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%v: %w", err, agora.ErrConcurrentModification)
		}
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%v: %w", err, agora.ErrConcurrentModification)
		}
	}

	return err
}

type tx struct {
	ctx context.Context
	tx  *sqlx.Tx
}

func (t *tx) get(dest interface{}, query string, args ...interface{}) error {
	return t.tx.GetContext(t.ctx, dest, t.tx.Rebind(query), args...)
}

func (t *tx) selectAll(dest interface{}, query string, args ...interface{}) error {
	return t.tx.SelectContext(t.ctx, dest, t.tx.Rebind(query), args...)
}

func (t *tx) exec(query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(t.ctx, t.tx.Rebind(query), args...)
}

// execOne runs a statement that must touch exactly one row, returning notFound otherwise.
func (t *tx) execOne(notFound error, query string, args ...interface{}) error {
	res, err := t.exec(query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func table(kind agora.TargetKind) (string, error) {
	switch kind {
	case agora.KindQuestion:
		return "questions", nil
	case agora.KindComment:
		return "comments", nil
	}
	return "", fmt.Errorf("unknown target kind %q: %w", kind, agora.ErrInvalidInput)
}

func (t *tx) FindTarget(id string, kind agora.TargetKind) (*agora.Target, error) {
	switch kind {
	case agora.KindQuestion:
		q, err := t.FindQuestion(id)
		if err != nil {
			return nil, err
		}
		return q.Target(), nil
	case agora.KindComment:
		c, err := t.FindComment(id)
		if err != nil {
			return nil, err
		}
		return c.Target(), nil
	}
	return nil, fmt.Errorf("unknown target kind %q: %w", kind, agora.ErrInvalidInput)
}

func (t *tx) ApplyScoreDelta(id string, kind agora.TargetKind, delta int64) (int64, error) {
	tbl, err := table(kind)
	if err != nil {
		return 0, err
	}

	var score int64
	err = t.get(&score, "UPDATE "+tbl+" SET score = score + ? WHERE id = ? RETURNING score", delta, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s %s: %w", kind, id, agora.ErrTargetNotFound)
	}
	return score, mapError(err)
}

func (t *tx) FindQuestion(id string) (*agora.Question, error) {
	q := agora.Question{}
	err := t.get(&q, "SELECT * FROM questions WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("question %s: %w", id, agora.ErrTargetNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (t *tx) ListQuestionIDs() ([]string, error) {
	ids := []string{}
	err := t.selectAll(&ids, "SELECT id FROM questions ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (t *tx) InsertQuestion(q *agora.Question) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	_, err := t.exec("INSERT INTO questions (id, author_id, title, body, score, accepted_answer_id, replies_count, last_activity_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		q.ID, q.AuthorID, q.Title, q.Body, q.Score, q.AcceptedAnswerID, q.RepliesCount, q.LastActivityAt, q.CreatedAt,
	)
	return mapError(err)
}

func (t *tx) SetAcceptedAnswer(questionID string, commentID sql.NullString) error {
	return t.execOne(fmt.Errorf("question %s: %w", questionID, agora.ErrTargetNotFound),
		"UPDATE questions SET accepted_answer_id = ? WHERE id = ?", commentID, questionID)
}

func (t *tx) TouchQuestion(questionID string, repliesDelta int64, at time.Time) error {
	return t.execOne(fmt.Errorf("question %s: %w", questionID, agora.ErrTargetNotFound),
		"UPDATE questions SET replies_count = CASE WHEN replies_count + ? < 0 THEN 0 ELSE replies_count + ? END, last_activity_at = ? WHERE id = ?",
		repliesDelta, repliesDelta, at, questionID)
}

func (t *tx) FindComment(id string) (*agora.Comment, error) {
	c := agora.Comment{}
	err := t.get(&c, "SELECT * FROM comments WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("comment %s: %w", id, agora.ErrTargetNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *tx) ListComments(questionID string) ([]*agora.Comment, error) {
	comments := []*agora.Comment{}
	err := t.selectAll(&comments, "SELECT * FROM comments WHERE question_id = ? ORDER BY created_at, id", questionID)
	if err != nil {
		return nil, err
	}
	return comments, nil
}

func (t *tx) InsertComment(c *agora.Comment) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := t.exec("INSERT INTO comments (id, question_id, parent_comment_id, author_id, body, score, accepted, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.QuestionID, c.ParentCommentID, c.AuthorID, c.Body, c.Score, c.Accepted, c.CreatedAt,
	)
	return mapError(err)
}

func (t *tx) SetCommentAccepted(id string, accepted bool) error {
	return t.execOne(fmt.Errorf("comment %s: %w", id, agora.ErrTargetNotFound),
		"UPDATE comments SET accepted = ? WHERE id = ?", accepted, id)
}

func (t *tx) DeleteComments(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In("DELETE FROM comments WHERE id IN (?)", ids)
	if err != nil {
		return err
	}
	_, err = t.exec(query, args...)
	return mapError(err)
}

func (t *tx) FindVote(voterID string, targetID string, kind agora.TargetKind) (*agora.Vote, error) {
	v := agora.Vote{}
	err := t.get(&v, "SELECT * FROM votes WHERE voter_id = ? AND target_id = ? AND target_kind = ?", voterID, targetID, string(kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (t *tx) ListVotes(targetID string, kind agora.TargetKind) ([]*agora.Vote, error) {
	votes := []*agora.Vote{}
	err := t.selectAll(&votes, "SELECT * FROM votes WHERE target_id = ? AND target_kind = ? ORDER BY id", targetID, string(kind))
	if err != nil {
		return nil, err
	}
	return votes, nil
}

func (t *tx) InsertVote(v *agora.Vote) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	_, err := t.exec("INSERT INTO votes (id, voter_id, target_id, target_kind, direction, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		v.ID, v.VoterID, v.TargetID, string(v.TargetKind), string(v.Direction), v.CreatedAt,
	)
	return mapError(err)
}

func (t *tx) UpdateVoteDirection(id string, from agora.Direction, to agora.Direction) error {
	return t.execOne(fmt.Errorf("vote %s is no longer %s: %w", id, from, agora.ErrConcurrentModification),
		"UPDATE votes SET direction = ? WHERE id = ? AND direction = ?", string(to), id, string(from))
}

func (t *tx) DeleteVote(id string) error {
	return t.execOne(fmt.Errorf("vote %s vanished: %w", id, agora.ErrConcurrentModification),
		"DELETE FROM votes WHERE id = ?", id)
}

func (t *tx) DeleteVotesOn(targetIDs []string, kind agora.TargetKind) error {
	if len(targetIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In("DELETE FROM votes WHERE target_kind = ? AND target_id IN (?)", string(kind), targetIDs)
	if err != nil {
		return err
	}
	_, err = t.exec(query, args...)
	return mapError(err)
}

func (t *tx) FindUser(id string) (*agora.User, error) {
	u := agora.User{}
	err := t.get(&u, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, agora.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *tx) InsertUser(u *agora.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := t.exec("INSERT INTO users (id, name, reputation, badge_gold, badge_silver, badge_bronze, questions_count, answers_count, accepted_count, votes_received, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		u.ID, u.Name, u.Reputation, u.Badges.Gold, u.Badges.Silver, u.Badges.Bronze, u.QuestionsCount, u.AnswersCount, u.AcceptedCount, u.VotesReceived, u.CreatedAt,
	)
	return mapError(err)
}

var leaderboardColumns = map[agora.LeaderboardKind]string{
	agora.ByReputation: "reputation",
	agora.ByQuestions:  "questions_count",
	agora.ByAnswers:    "answers_count",
}

func (t *tx) TopUsers(by agora.LeaderboardKind, limit int) ([]*agora.User, error) {
	column, ok := leaderboardColumns[by]
	if !ok {
		return nil, fmt.Errorf("unknown leaderboard %q: %w", by, agora.ErrInvalidInput)
	}

	users := []*agora.User{}
	err := t.selectAll(&users, "SELECT "+userColumns+" FROM users ORDER BY "+column+" DESC, created_at, id LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (t *tx) ApplyReputationDelta(id string, delta int64) (int64, error) {
	var total int64
	err := t.get(&total, "UPDATE users SET reputation = CASE WHEN reputation + ? < 0 THEN 0 ELSE reputation + ? END WHERE id = ? RETURNING reputation", delta, delta, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user %s: %w", id, agora.ErrNotFound)
	}
	return total, mapError(err)
}

func (t *tx) UpdateBadges(id string, b agora.Badges) error {
	return t.execOne(fmt.Errorf("user %s: %w", id, agora.ErrNotFound),
		"UPDATE users SET badge_gold = ?, badge_silver = ?, badge_bronze = ? WHERE id = ?", b.Gold, b.Silver, b.Bronze, id)
}

func (t *tx) BumpUserCounters(id string, c agora.UserCounters) error {
	if c.IsZero() {
		return nil
	}
	return t.execOne(fmt.Errorf("user %s: %w", id, agora.ErrNotFound),
		"UPDATE users SET questions_count = questions_count + ?, answers_count = answers_count + ?, accepted_count = accepted_count + ?, votes_received = votes_received + ? WHERE id = ?",
		c.Questions, c.Answers, c.Accepted, c.VotesReceived, id)
}
