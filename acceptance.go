package agora

import (
	"context"
	"database/sql"
	"fmt"
)

// AcceptResult is the state of a question after an answer was accepted.
type AcceptResult struct {
	QuestionID string `json:"question_id"`
	AcceptedID string `json:"accepted_id"`
	// Previous is the answer that lost its accepted flag, if any.
	Previous         string `json:"previous,omitempty"`
	AuthorReputation int64  `json:"author_reputation"`
	// Changed is false when the answer was already the accepted one.
	Changed bool `json:"changed"`
}

// AcceptAnswer marks commentID as the accepted answer of questionID. Only the
// question author may accept. Reassigning the accepted answer keeps the bonus
// the previous author was awarded.
func (e *Engine) AcceptAnswer(ctx context.Context, questionID string, commentID string, requesterID string) (*AcceptResult, error) {
	unlock := e.locks.Lock(questionID)
	defer unlock()

	var res *AcceptResult
	var recipient, excerpt string
	err := e.retry(ctx, "accept", func(tx Tx) error {
		q, err := tx.FindQuestion(questionID)
		if err != nil {
			return err
		}
		if q.AuthorID != requesterID {
			return fmt.Errorf("user %s accepting on question %s: %w", requesterID, questionID, ErrNotAuthorized)
		}

		comments, err := tx.ListComments(q.ID)
		if err != nil {
			return err
		}
		tree := NewCommentTree(q.ID, comments)

		answer, err := tree.Find(commentID)
		if err != nil {
			return err
		}
		recipient, excerpt = answer.AuthorID, answer.Body

		if q.AcceptedAnswerID.String == commentID && answer.Accepted {
			user, err := tx.FindUser(answer.AuthorID)
			if err != nil {
				return err
			}
			res = &AcceptResult{QuestionID: q.ID, AcceptedID: commentID, AuthorReputation: user.Reputation}
			return nil
		}

		cleared, err := tree.AcceptOnly(commentID)
		if err != nil {
			return err
		}
		for _, id := range cleared {
			if err := tx.SetCommentAccepted(id, false); err != nil {
				return fmt.Errorf("clear accepted flag: %w", err)
			}
		}
		if err := tx.SetCommentAccepted(commentID, true); err != nil {
			return fmt.Errorf("set accepted flag: %w", err)
		}
		if err := tx.SetAcceptedAnswer(q.ID, sql.NullString{String: commentID, Valid: true}); err != nil {
			return fmt.Errorf("set accepted answer: %w", err)
		}

		reputation, err := e.reputation.AwardAcceptance(tx, answer.AuthorID)
		if err != nil {
			return err
		}

		res = &AcceptResult{
			QuestionID:       q.ID,
			AcceptedID:       commentID,
			Previous:         q.AcceptedAnswerID.String,
			AuthorReputation: reputation,
			Changed:          true,
		}
		return nil
	})
	if err != nil {
		e.observeFailure("accept", err)
		return nil, err
	}
	if !res.Changed {
		return res, nil
	}

	e.metrics.ObserveAcceptance()
	e.logger.Debug().Str("question", questionID).Str("accepted", commentID).Str("previous", res.Previous).Msg("Answer accepted")
	e.events.emit(Event{
		Type:        EventAnswerAccepted,
		TargetID:    commentID,
		TargetKind:  KindComment,
		QuestionID:  questionID,
		ActorID:     requesterID,
		RecipientID: recipient,
		Excerpt:     Excerpt(excerpt),
		At:          NowFunc(),
	})

	return res, nil
}

// releaseAcceptance clears the question's accepted answer when it is among the
// removed comments.
func (e *Engine) releaseAcceptance(tx Tx, q *Question, removed []string) error {
	if !q.HasAcceptedAnswer() {
		return nil
	}
	for _, id := range removed {
		if id == q.AcceptedAnswerID.String {
			return tx.SetAcceptedAnswer(q.ID, sql.NullString{})
		}
	}
	return nil
}
