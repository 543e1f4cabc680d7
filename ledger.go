package agora

import (
	"context"
	"fmt"
)

// VoteRequest is a user clicking the up or down arrow on a question or comment.
type VoteRequest struct {
	VoterID   string
	TargetID  string
	Kind      TargetKind
	Direction Direction
}

func (r VoteRequest) validate() error {
	if r.VoterID == "" || r.TargetID == "" {
		return fmt.Errorf("voter and target are required: %w", ErrInvalidInput)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown target kind %q: %w", r.Kind, ErrInvalidInput)
	}
	if !r.Direction.Valid() {
		return fmt.Errorf("unknown direction %q: %w", r.Direction, ErrInvalidInput)
	}
	return nil
}

// VoteResult is the aggregate view after a vote was applied.
type VoteResult struct {
	Transition       Transition `json:"transition"`
	Score            int64      `json:"score"`
	AuthorReputation int64      `json:"author_reputation"`
	// UserVote is the voter's vote after the transition, nil once retracted.
	UserVote *Vote `json:"user_vote"`
}

// Vote records a vote and moves the target score and its author's reputation
// accordingly. Voting twice in the same direction retracts the vote, voting in
// the other direction switches it.
func (e *Engine) Vote(ctx context.Context, req VoteRequest) (*VoteResult, error) {
	if err := req.validate(); err != nil {
		e.observeFailure("vote", err)
		return nil, err
	}

	questionID, err := e.questionOf(ctx, req.TargetID, req.Kind)
	if err != nil {
		e.observeFailure("vote", err)
		return nil, err
	}

	unlock := e.locks.Lock(questionID)
	defer unlock()

	var res *VoteResult
	var authorID string
	err = e.retry(ctx, "vote", func(tx Tx) error {
		target, err := tx.FindTarget(req.TargetID, req.Kind)
		if err != nil {
			return err
		}
		if target.AuthorID == req.VoterID {
			return ErrSelfVote
		}
		authorID = target.AuthorID

		existing, err := tx.FindVote(req.VoterID, target.ID, target.Kind)
		if err != nil {
			return err
		}

		t := Classify(existing, req.Direction)
		userVote, err := writeLedger(tx, existing, t, req.VoterID, target)
		if err != nil {
			return err
		}

		score, err := tx.ApplyScoreDelta(target.ID, target.Kind, ScoreDelta(t))
		if err != nil {
			return fmt.Errorf("apply score delta: %w", err)
		}

		reputation, err := e.reputation.ApplyTransition(tx, target.AuthorID, t, target.Kind)
		if err != nil {
			return err
		}

		res = &VoteResult{
			Transition:       t,
			Score:            score,
			AuthorReputation: reputation,
			UserVote:         userVote,
		}
		return nil
	})
	if err != nil {
		e.observeFailure("vote", err)
		return nil, err
	}

	e.metrics.ObserveVote(string(req.Kind), string(res.Transition.Kind))
	e.logger.Debug().
		Str("voter", req.VoterID).
		Str("target", req.TargetID).
		Str("transition", res.Transition.String()).
		Int64("score", res.Score).
		Msg("Vote applied")

	e.events.emit(Event{
		Type:        EventVoteCast,
		TargetID:    req.TargetID,
		TargetKind:  req.Kind,
		QuestionID:  questionID,
		ActorID:     req.VoterID,
		RecipientID: authorID,
		Transition:  res.Transition.String(),
		At:          NowFunc(),
	})

	return res, nil
}

// writeLedger inserts, deletes or flips the ledger entry for t and returns the
// entry as it stands afterwards.
func writeLedger(tx Tx, existing *Vote, t Transition, voterID string, target *Target) (*Vote, error) {
	switch t.Kind {
	case Added:
		v := NewVote(voterID, target, t.To)
		if err := tx.InsertVote(v); err != nil {
			return nil, fmt.Errorf("insert vote: %w", err)
		}
		return v, nil
	case Removed:
		if err := tx.DeleteVote(existing.ID); err != nil {
			return nil, fmt.Errorf("delete vote: %w", err)
		}
		return nil, nil
	case Switched:
		if err := tx.UpdateVoteDirection(existing.ID, existing.Direction, t.To); err != nil {
			return nil, fmt.Errorf("switch vote: %w", err)
		}
		v := *existing
		v.Direction = t.To
		return &v, nil
	}
	return nil, fmt.Errorf("unknown transition %s", t)
}

// CurrentVote returns the vote voterID holds on a target, or nil.
func (e *Engine) CurrentVote(ctx context.Context, voterID string, targetID string, kind TargetKind) (*Vote, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown target kind %q: %w", kind, ErrInvalidInput)
	}

	var v *Vote
	err := e.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.FindTarget(targetID, kind); err != nil {
			return err
		}
		var err error
		v, err = tx.FindVote(voterID, targetID, kind)
		return err
	})
	return v, err
}
