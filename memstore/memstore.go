// Package memstore is an in-memory agora.Store, used by tests and by the
// server when no database is configured.
package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jhchabran/agora"
)

type voteKey struct {
	voter  string
	target string
	kind   agora.TargetKind
}

type targetKey struct {
	id   string
	kind agora.TargetKind
}

type set map[string]struct{}

type state struct {
	questions map[string]agora.Question
	comments  map[string]agora.Comment
	votes     map[string]agora.Vote
	ledger    map[voteKey]string
	users     map[string]agora.User

	// indexes
	questionComments map[string]set
	targetVotes      map[targetKey]set

	// insertion order of comments, as CreatedAt may tie
	seq  map[string]int
	next int
}

func newState() *state {
	return &state{
		questions:        map[string]agora.Question{},
		comments:         map[string]agora.Comment{},
		votes:            map[string]agora.Vote{},
		ledger:           map[voteKey]string{},
		users:            map[string]agora.User{},
		questionComments: map[string]set{},
		targetVotes:      map[targetKey]set{},
		seq:              map[string]int{},
	}
}

// Store keeps everything in maps. Transactions run one at a time and write in
// place, keeping an undo log that is replayed when they fail.
type Store struct {
	mu        sync.Mutex
	data      *state
	conflicts int
}

var _ agora.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: newState()}
}

func (s *Store) Connect() error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

// InjectConflicts makes the next n transactions fail with
// agora.ErrConcurrentModification, as a contended database would.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

func (s *Store) WithTx(ctx context.Context, fn func(tx agora.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{data: s.data}
	committed := false
	defer func() {
		if !committed {
			t.rollback()
		}
	}()

	if err := fn(t); err != nil {
		return err
	}

	if s.conflicts > 0 {
		s.conflicts--
		return fmt.Errorf("injected conflict: %w", agora.ErrConcurrentModification)
	}

	committed = true
	return nil
}

type tx struct {
	data *state
	undo []func()
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// remember logs how to restore m[k] to what it is now.
func remember[K comparable, V any](t *tx, m map[K]V, k K) {
	prev, ok := m[k]
	t.undo = append(t.undo, func() {
		if ok {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}

func put[K comparable, V any](t *tx, m map[K]V, k K, v V) {
	remember(t, m, k)
	m[k] = v
}

func drop[K comparable, V any](t *tx, m map[K]V, k K) {
	if _, ok := m[k]; !ok {
		return
	}
	remember(t, m, k)
	delete(m, k)
}

// index adds id to the set stored under k, creating it when needed.
func index[K comparable](t *tx, m map[K]set, k K, id string) {
	ids, ok := m[k]
	if !ok {
		ids = set{}
		put(t, m, k, ids)
	}
	put(t, ids, id, struct{}{})
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
	switch kind {
	case agora.KindQuestion:
		q, ok := t.data.questions[id]
		if !ok {
			return 0, fmt.Errorf("question %s: %w", id, agora.ErrTargetNotFound)
		}
		q.Score += delta
		put(t, t.data.questions, id, q)
		return q.Score, nil
	case agora.KindComment:
		c, ok := t.data.comments[id]
		if !ok {
			return 0, fmt.Errorf("comment %s: %w", id, agora.ErrTargetNotFound)
		}
		c.Score += delta
		put(t, t.data.comments, id, c)
		return c.Score, nil
	}
	return 0, fmt.Errorf("unknown target kind %q: %w", kind, agora.ErrInvalidInput)
}

func (t *tx) FindQuestion(id string) (*agora.Question, error) {
	q, ok := t.data.questions[id]
	if !ok {
		return nil, fmt.Errorf("question %s: %w", id, agora.ErrTargetNotFound)
	}
	return &q, nil
}

func (t *tx) ListQuestionIDs() ([]string, error) {
	qs := make([]agora.Question, 0, len(t.data.questions))
	for _, q := range t.data.questions {
		qs = append(qs, q)
	}
	sort.Slice(qs, func(i, j int) bool {
		if qs[i].CreatedAt.Equal(qs[j].CreatedAt) {
			return qs[i].ID < qs[j].ID
		}
		return qs[i].CreatedAt.Before(qs[j].CreatedAt)
	})

	ids := make([]string, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	return ids, nil
}

func (t *tx) InsertQuestion(q *agora.Question) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if _, ok := t.data.questions[q.ID]; ok {
		return fmt.Errorf("question %s exists: %w", q.ID, agora.ErrConcurrentModification)
	}
	put(t, t.data.questions, q.ID, *q)
	return nil
}

func (t *tx) SetAcceptedAnswer(questionID string, commentID sql.NullString) error {
	q, ok := t.data.questions[questionID]
	if !ok {
		return fmt.Errorf("question %s: %w", questionID, agora.ErrTargetNotFound)
	}
	q.AcceptedAnswerID = commentID
	put(t, t.data.questions, questionID, q)
	return nil
}

func (t *tx) TouchQuestion(questionID string, repliesDelta int64, at time.Time) error {
	q, ok := t.data.questions[questionID]
	if !ok {
		return fmt.Errorf("question %s: %w", questionID, agora.ErrTargetNotFound)
	}
	q.RepliesCount += repliesDelta
	if q.RepliesCount < 0 {
		q.RepliesCount = 0
	}
	q.LastActivityAt = at
	put(t, t.data.questions, questionID, q)
	return nil
}

func (t *tx) FindComment(id string) (*agora.Comment, error) {
	c, ok := t.data.comments[id]
	if !ok {
		return nil, fmt.Errorf("comment %s: %w", id, agora.ErrTargetNotFound)
	}
	return &c, nil
}

// ListComments returns the comments of a question, oldest first.
func (t *tx) ListComments(questionID string) ([]*agora.Comment, error) {
	ids := t.data.questionComments[questionID]
	res := make([]*agora.Comment, 0, len(ids))
	for id := range ids {
		c := t.data.comments[id]
		res = append(res, &c)
	}
	sort.Slice(res, func(i, j int) bool {
		return t.data.seq[res[i].ID] < t.data.seq[res[j].ID]
	})
	return res, nil
}

func (t *tx) InsertComment(c *agora.Comment) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if _, ok := t.data.comments[c.ID]; ok {
		return fmt.Errorf("comment %s exists: %w", c.ID, agora.ErrConcurrentModification)
	}
	put(t, t.data.comments, c.ID, *c)
	index(t, t.data.questionComments, c.QuestionID, c.ID)

	next := t.data.next
	t.undo = append(t.undo, func() { t.data.next = next })
	t.data.next++
	put(t, t.data.seq, c.ID, t.data.next)
	return nil
}

func (t *tx) SetCommentAccepted(id string, accepted bool) error {
	c, ok := t.data.comments[id]
	if !ok {
		return fmt.Errorf("comment %s: %w", id, agora.ErrTargetNotFound)
	}
	c.Accepted = accepted
	put(t, t.data.comments, id, c)
	return nil
}

func (t *tx) DeleteComments(ids []string) error {
	for _, id := range ids {
		c, ok := t.data.comments[id]
		if !ok {
			continue
		}
		drop(t, t.data.comments, id)
		drop(t, t.data.seq, id)
		if siblings, ok := t.data.questionComments[c.QuestionID]; ok {
			drop(t, siblings, id)
		}
	}
	return nil
}

func (t *tx) FindVote(voterID string, targetID string, kind agora.TargetKind) (*agora.Vote, error) {
	id, ok := t.data.ledger[voteKey{voter: voterID, target: targetID, kind: kind}]
	if !ok {
		return nil, nil
	}
	v := t.data.votes[id]
	return &v, nil
}

func (t *tx) ListVotes(targetID string, kind agora.TargetKind) ([]*agora.Vote, error) {
	ids := t.data.targetVotes[targetKey{id: targetID, kind: kind}]
	res := make([]*agora.Vote, 0, len(ids))
	for id := range ids {
		v := t.data.votes[id]
		res = append(res, &v)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (t *tx) InsertVote(v *agora.Vote) error {
	key := voteKey{voter: v.VoterID, target: v.TargetID, kind: v.TargetKind}
	if _, ok := t.data.ledger[key]; ok {
		return fmt.Errorf("vote by %s on %s exists: %w", v.VoterID, v.TargetID, agora.ErrConcurrentModification)
	}
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	put(t, t.data.votes, v.ID, *v)
	put(t, t.data.ledger, key, v.ID)
	index(t, t.data.targetVotes, targetKey{id: v.TargetID, kind: v.TargetKind}, v.ID)
	return nil
}

// UpdateVoteDirection switches a vote from one direction to the other, failing
// when the vote is gone or no longer points in direction from.
func (t *tx) UpdateVoteDirection(id string, from agora.Direction, to agora.Direction) error {
	v, ok := t.data.votes[id]
	if !ok || v.Direction != from {
		return fmt.Errorf("vote %s is no longer %s: %w", id, from, agora.ErrConcurrentModification)
	}
	v.Direction = to
	put(t, t.data.votes, id, v)
	return nil
}

func (t *tx) DeleteVote(id string) error {
	if _, ok := t.data.votes[id]; !ok {
		return fmt.Errorf("vote %s: %w", id, agora.ErrConcurrentModification)
	}
	t.deleteVote(id)
	return nil
}

func (t *tx) deleteVote(id string) {
	v := t.data.votes[id]
	drop(t, t.data.votes, id)
	drop(t, t.data.ledger, voteKey{voter: v.VoterID, target: v.TargetID, kind: v.TargetKind})
	if ids, ok := t.data.targetVotes[targetKey{id: v.TargetID, kind: v.TargetKind}]; ok {
		drop(t, ids, id)
	}
}

func (t *tx) DeleteVotesOn(targetIDs []string, kind agora.TargetKind) error {
	for _, target := range targetIDs {
		ids := t.data.targetVotes[targetKey{id: target, kind: kind}]
		victims := make([]string, 0, len(ids))
		for id := range ids {
			victims = append(victims, id)
		}
		for _, id := range victims {
			t.deleteVote(id)
		}
	}
	return nil
}

func (t *tx) FindUser(id string) (*agora.User, error) {
	u, ok := t.data.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, agora.ErrNotFound)
	}
	return &u, nil
}

func (t *tx) InsertUser(u *agora.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if _, ok := t.data.users[u.ID]; ok {
		return fmt.Errorf("user %s exists: %w", u.ID, agora.ErrConcurrentModification)
	}
	put(t, t.data.users, u.ID, *u)
	return nil
}

// TopUsers sorts every user, ties going to the oldest account.
func (t *tx) TopUsers(by agora.LeaderboardKind, limit int) ([]*agora.User, error) {
	users := make([]*agora.User, 0, len(t.data.users))
	for _, u := range t.data.users {
		u := u
		users = append(users, &u)
	}

	sort.Slice(users, func(i, j int) bool {
		a, b := by.Value(users[i]), by.Value(users[j])
		if a != b {
			return a > b
		}
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})

	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (t *tx) ApplyReputationDelta(id string, delta int64) (int64, error) {
	u, ok := t.data.users[id]
	if !ok {
		return 0, fmt.Errorf("user %s: %w", id, agora.ErrNotFound)
	}
	u.Reputation = agora.ClampReputation(u.Reputation, delta)
	put(t, t.data.users, id, u)
	return u.Reputation, nil
}

func (t *tx) UpdateBadges(id string, b agora.Badges) error {
	u, ok := t.data.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, agora.ErrNotFound)
	}
	u.Badges = b
	put(t, t.data.users, id, u)
	return nil
}

func (t *tx) BumpUserCounters(id string, c agora.UserCounters) error {
	if c.IsZero() {
		return nil
	}
	u, ok := t.data.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, agora.ErrNotFound)
	}
	u.QuestionsCount += c.Questions
	u.AnswersCount += c.Answers
	u.AcceptedCount += c.Accepted
	u.VotesReceived += c.VotesReceived
	put(t, t.data.users, id, u)
	return nil
}
