package agora

import "fmt"

// A PointTable holds the reputation points an author earns when a vote in
// each direction is added to their content. Removals and switches are derived
// from it.
type PointTable struct {
	Up   int64
	Down int64
}

func (p PointTable) points(d Direction) int64 {
	if d == Up {
		return p.Up
	}
	return p.Down
}

// Answers weigh roughly twice as much as questions.
var DefaultPoints = map[TargetKind]PointTable{
	KindQuestion: {Up: 5, Down: -2},
	KindComment:  {Up: 10, Down: -2},
}

const DefaultAcceptBonus int64 = 15

// BadgeThresholds are the reputation totals unlocking each tier.
type BadgeThresholds struct {
	Bronze int64
	Silver int64
	Gold   int64
}

var DefaultBadgeThresholds = BadgeThresholds{Bronze: 100, Silver: 500, Gold: 1000}

// Award returns b updated for a new reputation total. A tier is granted the
// first time the total reaches its threshold and is kept afterwards, whatever
// happens to the total.
func (t BadgeThresholds) Award(b Badges, total int64) Badges {
	if total >= t.Gold && b.Gold == 0 {
		b.Gold++
	}
	if total >= t.Silver && b.Silver == 0 {
		b.Silver++
	}
	if total >= t.Bronze && b.Bronze == 0 {
		b.Bronze++
	}
	return b
}

// ClampReputation applies delta to current without going below zero.
func ClampReputation(current int64, delta int64) int64 {
	if current+delta < 0 {
		return 0
	}
	return current + delta
}

// UserLedger is the part of a store transaction the reputation accumulator
// writes to.
type UserLedger interface {
	FindUser(id string) (*User, error)
	// ApplyReputationDelta atomically adds delta to the user's reputation,
	// clamped at zero, and returns the new total.
	ApplyReputationDelta(id string, delta int64) (int64, error)
	UpdateBadges(id string, b Badges) error
	BumpUserCounters(id string, c UserCounters) error
}

// Reputation translates vote transitions and acceptances into reputation
// changes. Nothing else writes reputation.
type Reputation struct {
	Points      map[TargetKind]PointTable
	AcceptBonus int64
	Badges      BadgeThresholds
}

func NewReputation() *Reputation {
	return &Reputation{
		Points:      DefaultPoints,
		AcceptBonus: DefaultAcceptBonus,
		Badges:      DefaultBadgeThresholds,
	}
}

// Delta returns the signed points the target author gets for t.
//
// A switch is removing the old vote then adding the new one, so only the base
// table has to be tuned.
func (r *Reputation) Delta(t Transition, kind TargetKind) int64 {
	table := r.Points[kind]
	switch t.Kind {
	case Added:
		return table.points(t.To)
	case Removed:
		return -table.points(t.To)
	case Switched:
		return -table.points(t.From) + table.points(t.To)
	}
	return 0
}

// ReputationDelta computes a delta against the default point tables.
func ReputationDelta(t Transition, kind TargetKind) int64 {
	return defaultReputation.Delta(t, kind)
}

var defaultReputation = NewReputation()

// ApplyTransition credits the author of a voted target and returns their new
// reputation total.
func (r *Reputation) ApplyTransition(tx UserLedger, authorID string, t Transition, kind TargetKind) (int64, error) {
	total, err := r.apply(tx, authorID, r.Delta(t, kind))
	if err != nil {
		return 0, err
	}

	err = tx.BumpUserCounters(authorID, UserCounters{VotesReceived: ScoreDelta(t)})
	if err != nil {
		return 0, fmt.Errorf("bump votes received: %w", err)
	}

	return total, nil
}

// AwardAcceptance credits the author of a newly accepted answer.
func (r *Reputation) AwardAcceptance(tx UserLedger, authorID string) (int64, error) {
	total, err := r.apply(tx, authorID, r.AcceptBonus)
	if err != nil {
		return 0, err
	}

	err = tx.BumpUserCounters(authorID, UserCounters{Accepted: 1})
	if err != nil {
		return 0, fmt.Errorf("bump accepted count: %w", err)
	}

	return total, nil
}

func (r *Reputation) apply(tx UserLedger, userID string, delta int64) (int64, error) {
	user, err := tx.FindUser(userID)
	if err != nil {
		return 0, fmt.Errorf("find user %s: %w", userID, err)
	}

	total, err := tx.ApplyReputationDelta(userID, delta)
	if err != nil {
		return 0, fmt.Errorf("apply reputation delta: %w", err)
	}

	badges := r.Badges.Award(user.Badges, total)
	if badges != user.Badges {
		if err := tx.UpdateBadges(userID, badges); err != nil {
			return 0, fmt.Errorf("update badges: %w", err)
		}
	}

	return total, nil
}
