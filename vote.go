package agora

import (
	"fmt"
	"time"
)

// Direction is the direction of a vote.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == Up || d == Down
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Up {
		return Down
	}
	return Up
}

// A Vote is a ledger entry: which user cast which vote on which target.
// There is at most one Vote per (voter, target) pair.
type Vote struct {
	ID         string     `db:"id" json:"id"`
	VoterID    string     `db:"voter_id" json:"voter_id"`
	TargetID   string     `db:"target_id" json:"target_id"`
	TargetKind TargetKind `db:"target_kind" json:"target_kind"`
	Direction  Direction  `db:"direction" json:"direction"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

func NewVote(voterID string, target *Target, d Direction) *Vote {
	return &Vote{
		VoterID:    voterID,
		TargetID:   target.ID,
		TargetKind: target.Kind,
		Direction:  d,
		CreatedAt:  NowFunc(),
	}
}

// TransitionKind classifies what a single vote action did to the ledger.
type TransitionKind string

const (
	Added    TransitionKind = "added"
	Removed  TransitionKind = "removed"
	Switched TransitionKind = "switched"
)

// A Transition is the outcome of a vote action. From is only set for switches,
// To is the direction that was added, removed or switched to.
type Transition struct {
	Kind TransitionKind `json:"kind"`
	From Direction      `json:"from,omitempty"`
	To   Direction      `json:"to"`
}

func (t Transition) String() string {
	if t.Kind == Switched {
		return fmt.Sprintf("switched(%s->%s)", t.From, t.To)
	}
	return fmt.Sprintf("%s(%s)", t.Kind, t.To)
}

// Classify computes the transition produced by requesting a vote in direction d
// given the voter's existing ledger entry, which may be nil.
//
// Re-clicking the same direction retracts the vote.
func Classify(existing *Vote, d Direction) Transition {
	switch {
	case existing == nil:
		return Transition{Kind: Added, To: d}
	case existing.Direction == d:
		return Transition{Kind: Removed, To: d}
	default:
		return Transition{Kind: Switched, From: existing.Direction, To: d}
	}
}
