package agora

import (
	"context"
)

// A Drift is a target whose cached score disagrees with its ledger.
type Drift struct {
	TargetID   string     `json:"target_id"`
	TargetKind TargetKind `json:"target_kind"`
	QuestionID string     `json:"question_id"`
	Cached     int64      `json:"cached"`
	Recounted  int64      `json:"recounted"`
}

// Verify recounts the score of every question and comment from the vote
// ledger and reports the ones whose cached score drifted. It never repairs
// anything.
func (e *Engine) Verify(ctx context.Context) ([]Drift, error) {
	var ids []string
	err := e.store.WithTx(ctx, func(tx Tx) (err error) {
		ids, err = tx.ListQuestionIDs()
		return err
	})
	if err != nil {
		return nil, err
	}

	var drifts []Drift
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return drifts, err
		}

		found, err := e.verifyQuestion(ctx, id)
		if err != nil {
			return drifts, err
		}
		drifts = append(drifts, found...)
	}

	e.logger.Info().Int("questions", len(ids)).Int("drifts", len(drifts)).Msg("Verified scores")
	return drifts, nil
}

// verifyQuestion checks one question and its comments under the question lock,
// so that no vote lands between reading a score and its ledger.
func (e *Engine) verifyQuestion(ctx context.Context, questionID string) ([]Drift, error) {
	unlock := e.locks.Lock(questionID)
	defer unlock()

	var drifts []Drift
	err := e.store.WithTx(ctx, func(tx Tx) error {
		drifts = nil

		q, err := tx.FindQuestion(questionID)
		if err != nil {
			return err
		}
		targets := []*Target{q.Target()}

		comments, err := tx.ListComments(questionID)
		if err != nil {
			return err
		}
		for _, c := range comments {
			targets = append(targets, c.Target())
		}

		for _, t := range targets {
			votes, err := tx.ListVotes(t.ID, t.Kind)
			if err != nil {
				return err
			}
			if n := RecountScore(votes); n != t.Score {
				drifts = append(drifts, Drift{
					TargetID:   t.ID,
					TargetKind: t.Kind,
					QuestionID: questionID,
					Cached:     t.Score,
					Recounted:  n,
				})
			}
		}
		return nil
	})

	return drifts, err
}
