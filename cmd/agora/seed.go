package main

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jhchabran/agora"
)

var users = []string{"tintin", "milou", "haddock", "castafiore", "tournesol"}
var lorem = `How far away is the nearest star cluster? Why do globular clusters hold together without a galaxy around them? Can a white dwarf go rogue and leave its system entirely. What would a dispassionate extraterrestrial observer make of our radio noise? How was the Tunguska event measured without instruments nearby. Is the carbon in our apple pies really made in the interiors of collapsing stars? Why does the sky look the same from the Sea of Tranquility. How many hydrogen atoms fit in a mote of dust suspended in a sunbeam?`

// breakLorem splits lorem into sentences short enough to be titles.
func breakLorem() []string {
	strs := regexp.MustCompile("[!?.] ").Split(lorem, -1)
	var res []string
	for _, s := range strs {
		r := strings.TrimSpace(s)
		if len(r) > 50 {
			idx := 0
			for i, ch := range r[50:] {
				if ch == ' ' {
					idx = i
					break
				}
			}

			r = r[0 : 50+idx]
		}
		res = append(res, r)
	}

	return res
}

// seed creates users who ask one question per sentence, answer each other,
// reply to the answers and vote on everything they did not write. Going
// through the engine keeps scores and reputation consistent with the ledger.
func seed(ctx context.Context, engine *agora.Engine) error {
	var people []*agora.User
	for _, name := range users {
		u := agora.NewUser(name)
		if err := engine.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("cannot create user %s: %w", name, err)
		}
		people = append(people, u)
	}

	strs := breakLorem()
	for i, title := range strs {
		asker := people[i%len(people)]
		q := agora.NewQuestion(title, strs[(i+1)%len(strs)], asker.ID)
		if err := engine.CreateQuestion(ctx, q); err != nil {
			return fmt.Errorf("cannot create question: %w", err)
		}

		var answers []*agora.Comment
		for j := 1; j <= 1+i%3; j++ {
			author := people[(i+j)%len(people)]
			answer, err := engine.CreateComment(ctx, agora.CommentRequest{
				QuestionID: q.ID,
				AuthorID:   author.ID,
				Body:       strs[(i+j)%len(strs)],
			})
			if err != nil {
				return fmt.Errorf("cannot create answer: %w", err)
			}
			answers = append(answers, answer)

			// add some replies
			for k := 0; k < j%3; k++ {
				_, err := engine.CreateComment(ctx, agora.CommentRequest{
					QuestionID: q.ID,
					ParentID:   answer.ID,
					AuthorID:   people[(i+j+k+1)%len(people)].ID,
					Body:       strs[k%len(strs)],
				})
				if err != nil {
					return fmt.Errorf("cannot create reply: %w", err)
				}
			}
		}

		for v, voter := range people {
			if voter.ID != asker.ID {
				if err := seedVote(ctx, engine, voter, q.ID, agora.KindQuestion, v); err != nil {
					return err
				}
			}
			for _, answer := range answers {
				if voter.ID == answer.AuthorID {
					continue
				}
				if err := seedVote(ctx, engine, voter, answer.ID, agora.KindComment, v+i); err != nil {
					return err
				}
			}
		}

		if i%2 == 0 {
			if _, err := engine.AcceptAnswer(ctx, q.ID, answers[0].ID, asker.ID); err != nil {
				return fmt.Errorf("cannot accept answer: %w", err)
			}
		}
	}

	return nil
}

// seedVote mostly upvotes, with one voter in three disagreeing.
func seedVote(ctx context.Context, engine *agora.Engine, voter *agora.User, targetID string, kind agora.TargetKind, n int) error {
	d := agora.Up
	if n%3 == 2 {
		d = agora.Down
	}

	_, err := engine.Vote(ctx, agora.VoteRequest{VoterID: voter.ID, TargetID: targetID, Kind: kind, Direction: d})
	if err != nil {
		return fmt.Errorf("cannot vote: %w", err)
	}
	return nil
}
