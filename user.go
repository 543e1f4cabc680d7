package agora

import "time"

// Badges counts the tiers a user unlocked. Tiers are never revoked.
type Badges struct {
	Gold   int `db:"gold" json:"gold"`
	Silver int `db:"silver" json:"silver"`
	Bronze int `db:"bronze" json:"bronze"`
}

type User struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Reputation     int64     `db:"reputation" json:"reputation"`
	Badges         Badges    `db:"badges" json:"badges"`
	QuestionsCount int64     `db:"questions_count" json:"questions_count"`
	AnswersCount   int64     `db:"answers_count" json:"answers_count"`
	AcceptedCount  int64     `db:"accepted_count" json:"accepted_count"`
	VotesReceived  int64     `db:"votes_received" json:"votes_received"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

func NewUser(name string) *User {
	return &User{
		Name:      name,
		CreatedAt: NowFunc(),
	}
}

// UserCounters are increments applied to a user's activity counters.
type UserCounters struct {
	Questions     int64
	Answers       int64
	Accepted      int64
	VotesReceived int64
}

func (c UserCounters) IsZero() bool {
	return c == UserCounters{}
}

// LeaderboardKind names the metric users are ranked by.
type LeaderboardKind string

const (
	ByReputation LeaderboardKind = "reputation"
	ByQuestions  LeaderboardKind = "questions"
	ByAnswers    LeaderboardKind = "answers"
)

const (
	DefaultLeaderboardSize = 10
	MaxLeaderboardSize     = 100
)

func (k LeaderboardKind) Valid() bool {
	switch k {
	case ByReputation, ByQuestions, ByAnswers:
		return true
	}
	return false
}

// Value returns the metric of u that k ranks by.
func (k LeaderboardKind) Value(u *User) int64 {
	switch k {
	case ByQuestions:
		return u.QuestionsCount
	case ByAnswers:
		return u.AnswersCount
	}
	return u.Reputation
}

// Standing is a user's position on a leaderboard, starting at 1.
type Standing struct {
	Rank int   `json:"rank"`
	User *User `json:"user"`
}
