package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/jhchabran/agora"
	"github.com/rs/zerolog"
)

func newSQLiteStore(c *qt.C) *SQLStore {
	store := New(DriverSQLite, "file:"+filepath.Join(c.TempDir(), "agora.db"))
	c.Assert(store.Connect(), qt.IsNil)
	c.Assert(store.Migrate(context.Background()), qt.IsNil)
	c.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite(t *testing.T) {
	c := qt.New(t)

	c.Run("store", func(c *qt.C) {
		testStore(c, newSQLiteStore(c))
	})

	c.Run("engine", func(c *qt.C) {
		testEngine(c, newSQLiteStore(c))
	})

	c.Run("migrating twice is fine", func(c *qt.C) {
		store := newSQLiteStore(c)
		c.Assert(store.Migrate(context.Background()), qt.IsNil)
	})

	c.Run("unknown driver", func(c *qt.C) {
		store := New("oracle", "")
		c.Assert(store.Connect(), qt.ErrorMatches, `unsupported database driver "oracle"`)
	})
}

// testStore runs the store contract against a freshly migrated database.
func testStore(c *qt.C, store *SQLStore) {
	ctx := context.Background()

	alice := agora.NewUser("alice")
	bob := agora.NewUser("bob")
	q := agora.NewQuestion("title", "body", "")
	var answer, reply *agora.Comment

	err := store.WithTx(ctx, func(tx agora.Tx) error {
		c.Assert(tx.InsertUser(alice), qt.IsNil)
		c.Assert(tx.InsertUser(bob), qt.IsNil)
		q.AuthorID = alice.ID
		c.Assert(tx.InsertQuestion(q), qt.IsNil)

		answer = agora.NewComment(q.ID, sql.NullString{}, "answer", bob.ID)
		c.Assert(tx.InsertComment(answer), qt.IsNil)
		reply = agora.NewComment(q.ID, sql.NullString{String: answer.ID, Valid: true}, "reply", alice.ID)
		return tx.InsertComment(reply)
	})
	c.Assert(err, qt.IsNil)

	c.Run("reads back records", func(c *qt.C) {
		err := store.WithTx(ctx, func(tx agora.Tx) error {
			found, err := tx.FindQuestion(q.ID)
			c.Assert(err, qt.IsNil)
			c.Assert(found.Title, qt.Equals, "title")
			c.Assert(found.HasAcceptedAnswer(), qt.IsFalse)

			ids, err := tx.ListQuestionIDs()
			c.Assert(err, qt.IsNil)
			c.Assert(ids, qt.Contains, q.ID)

			target, err := tx.FindTarget(reply.ID, agora.KindComment)
			c.Assert(err, qt.IsNil)
			c.Assert(target.AuthorID, qt.Equals, alice.ID)
			c.Assert(target.QuestionID, qt.Equals, q.ID)

			comments, err := tx.ListComments(q.ID)
			c.Assert(err, qt.IsNil)
			c.Assert(comments, qt.HasLen, 2)

			tree := agora.NewCommentTree(q.ID, comments)
			author, err := tree.AuthorOf(reply.ID)
			c.Assert(err, qt.IsNil)
			c.Assert(author, qt.Equals, alice.ID)

			user, err := tx.FindUser(bob.ID)
			c.Assert(err, qt.IsNil)
			c.Assert(user.Name, qt.Equals, "bob")
			c.Assert(user.Badges, qt.Equals, agora.Badges{})
			return nil
		})
		c.Assert(err, qt.IsNil)
	})

	c.Run("missing records", func(c *qt.C) {
		err := store.WithTx(ctx, func(tx agora.Tx) error {
			_, err := tx.FindQuestion("missing")
			c.Assert(err, qt.ErrorIs, agora.ErrTargetNotFound)
			_, err = tx.FindComment("missing")
			c.Assert(err, qt.ErrorIs, agora.ErrTargetNotFound)
			_, err = tx.FindUser("missing")
			c.Assert(err, qt.ErrorIs, agora.ErrNotFound)
			_, err = tx.ApplyScoreDelta("missing", agora.KindQuestion, 1)
			c.Assert(err, qt.ErrorIs, agora.ErrTargetNotFound)
			_, err = tx.ApplyReputationDelta("missing", 1)
			c.Assert(err, qt.ErrorIs, agora.ErrNotFound)
			return nil
		})
		c.Assert(err, qt.IsNil)
	})

	c.Run("atomic counters", func(c *qt.C) {
		err := store.WithTx(ctx, func(tx agora.Tx) error {
			score, err := tx.ApplyScoreDelta(answer.ID, agora.KindComment, 2)
			c.Assert(err, qt.IsNil)
			c.Assert(score, qt.Equals, int64(2))
			score, err = tx.ApplyScoreDelta(answer.ID, agora.KindComment, -3)
			c.Assert(err, qt.IsNil)
			c.Assert(score, qt.Equals, int64(-1))

			total, err := tx.ApplyReputationDelta(bob.ID, 12)
			c.Assert(err, qt.IsNil)
			c.Assert(total, qt.Equals, int64(12))
			total, err = tx.ApplyReputationDelta(bob.ID, -20)
			c.Assert(err, qt.IsNil)
			c.Assert(total, qt.Equals, int64(0))

			c.Assert(tx.UpdateBadges(bob.ID, agora.Badges{Bronze: 1}), qt.IsNil)
			c.Assert(tx.BumpUserCounters(bob.ID, agora.UserCounters{Questions: 1, Answers: 2, Accepted: 1, VotesReceived: -1}), qt.IsNil)

			user, err := tx.FindUser(bob.ID)
			c.Assert(err, qt.IsNil)
			c.Assert(user.Badges, qt.Equals, agora.Badges{Bronze: 1})
			c.Assert(user.QuestionsCount, qt.Equals, int64(1))
			c.Assert(user.AnswersCount, qt.Equals, int64(2))
			c.Assert(user.AcceptedCount, qt.Equals, int64(1))
			c.Assert(user.VotesReceived, qt.Equals, int64(-1))
			return nil
		})
		c.Assert(err, qt.IsNil)
	})

	c.Run("leaderboards", func(c *qt.C) {
		err := store.WithTx(ctx, func(tx agora.Tx) error {
			_, err := tx.ApplyReputationDelta(alice.ID, 1000)
			c.Assert(err, qt.IsNil)
			c.Assert(tx.BumpUserCounters(alice.ID, agora.UserCounters{Questions: 50}), qt.IsNil)
			c.Assert(tx.BumpUserCounters(bob.ID, agora.UserCounters{Answers: 50}), qt.IsNil)

			top, err := tx.TopUsers(agora.ByReputation, 10)
			c.Assert(err, qt.IsNil)
			c.Assert(top, qt.HasLen, 2)
			c.Assert(top[0].ID, qt.Equals, alice.ID)
			c.Assert(top[0].Reputation >= 1000, qt.IsTrue)

			top, err = tx.TopUsers(agora.ByQuestions, 1)
			c.Assert(err, qt.IsNil)
			c.Assert(top, qt.HasLen, 1)
			c.Assert(top[0].ID, qt.Equals, alice.ID)

			top, err = tx.TopUsers(agora.ByAnswers, 1)
			c.Assert(err, qt.IsNil)
			c.Assert(top[0].ID, qt.Equals, bob.ID)

			_, err = tx.TopUsers("karma", 1)
			c.Assert(err, qt.ErrorIs, agora.ErrInvalidInput)
			return nil
		})
		c.Assert(err, qt.IsNil)
	})

	c.Run("rolls back on error", func(c *qt.C) {
		err := store.WithTx(ctx, func(tx agora.Tx) error {
			if _, err := tx.ApplyScoreDelta(q.ID, agora.KindQuestion, 10); err != nil {
				return err
			}
			return agora.ErrSelfVote
		})
		c.Assert(err, qt.ErrorIs, agora.ErrSelfVote)

		err = store.WithTx(ctx, func(tx agora.Tx) error {
			found, err := tx.FindQuestion(q.ID)
			c.Assert(err, qt.IsNil)
			c.Assert(found.Score, qt.Equals, int64(0))
			return nil
		})
		c.Assert(err, qt.IsNil)
	})

	c.Run("ledger", func(c *qt.C) {
		vote := agora.NewVote(alice.ID, answer.Target(), agora.Up)
		err := store.WithTx(ctx, func(tx agora.Tx) error {
			return tx.InsertVote(vote)
		})
		c.Assert(err, qt.IsNil)

		err = store.WithTx(ctx, func(tx agora.Tx) error {
			return tx.InsertVote(agora.NewVote(alice.ID, answer.Target(), agora.Down))
		})
		c.Assert(err, qt.ErrorIs, agora.ErrConcurrentModification)

		err = store.WithTx(ctx, func(tx agora.Tx) error {
			found, err := tx.FindVote(alice.ID, answer.ID, agora.KindComment)
			c.Assert(err, qt.IsNil)
			c.Assert(found.ID, qt.Equals, vote.ID)
			c.Assert(found.Direction, qt.Equals, agora.Up)
			c.Assert(found.TargetKind, qt.Equals, agora.KindComment)

			err = tx.UpdateVoteDirection(vote.ID, agora.Down, agora.Up)
			c.Assert(err, qt.ErrorIs, agora.ErrConcurrentModification)
			c.Assert(tx.UpdateVoteDirection(vote.ID, agora.Up, agora.Down), qt.IsNil)
			err = tx.UpdateVoteDirection(vote.ID, agora.Up, agora.Down)
			c.Assert(err, qt.ErrorIs, agora.ErrConcurrentModification)
			votes, err := tx.ListVotes(answer.ID, agora.KindComment)
			c.Assert(err, qt.IsNil)
			c.Assert(votes, qt.HasLen, 1)
			c.Assert(votes[0].Direction, qt.Equals, agora.Down)

			c.Assert(tx.DeleteVote(vote.ID), qt.IsNil)
			c.Assert(tx.DeleteVote(vote.ID), qt.ErrorIs, agora.ErrConcurrentModification)

			none, err := tx.FindVote(alice.ID, answer.ID, agora.KindComment)
			c.Assert(err, qt.IsNil)
			c.Assert(none, qt.IsNil)
			return nil
		})
		c.Assert(err, qt.IsNil)
	})

	c.Run("acceptance and deletion", func(c *qt.C) {
		err := store.WithTx(ctx, func(tx agora.Tx) error {
			c.Assert(tx.SetCommentAccepted(answer.ID, true), qt.IsNil)
			c.Assert(tx.SetAcceptedAnswer(q.ID, sql.NullString{String: answer.ID, Valid: true}), qt.IsNil)
			c.Assert(tx.InsertVote(agora.NewVote(alice.ID, answer.Target(), agora.Up)), qt.IsNil)

			found, err := tx.FindQuestion(q.ID)
			c.Assert(err, qt.IsNil)
			c.Assert(found.AcceptedAnswerID.String, qt.Equals, answer.ID)
			comment, err := tx.FindComment(answer.ID)
			c.Assert(err, qt.IsNil)
			c.Assert(comment.Accepted, qt.IsTrue)

			ids := []string{answer.ID, reply.ID}
			c.Assert(tx.DeleteVotesOn(ids, agora.KindComment), qt.IsNil)
			c.Assert(tx.DeleteComments(ids), qt.IsNil)
			c.Assert(tx.SetAcceptedAnswer(q.ID, sql.NullString{}), qt.IsNil)
			c.Assert(tx.TouchQuestion(q.ID, -5, agora.NowFunc()), qt.IsNil)

			comments, err := tx.ListComments(q.ID)
			c.Assert(err, qt.IsNil)
			c.Assert(comments, qt.HasLen, 0)
			votes, err := tx.ListVotes(answer.ID, agora.KindComment)
			c.Assert(err, qt.IsNil)
			c.Assert(votes, qt.HasLen, 0)

			found, err = tx.FindQuestion(q.ID)
			c.Assert(err, qt.IsNil)
			c.Assert(found.HasAcceptedAnswer(), qt.IsFalse)
			c.Assert(found.RepliesCount, qt.Equals, int64(0))
			return nil
		})
		c.Assert(err, qt.IsNil)
	})
}

// testEngine drives the engine over the store, concurrently.
func testEngine(c *qt.C, store *SQLStore) {
	ctx := context.Background()
	engine := agora.NewEngine(&agora.EngineConfig{MaxRetries: 5}, store, nil, zerolog.Nop())
	c.Cleanup(engine.Close)

	author := agora.NewUser("author")
	author.Reputation = 1000
	c.Assert(engine.CreateUser(ctx, author), qt.IsNil)
	asker := agora.NewUser("asker")
	c.Assert(engine.CreateUser(ctx, asker), qt.IsNil)
	q := agora.NewQuestion("title", "body", asker.ID)
	c.Assert(engine.CreateQuestion(ctx, q), qt.IsNil)
	answer, err := engine.CreateComment(ctx, agora.CommentRequest{QuestionID: q.ID, AuthorID: author.ID, Body: "answer"})
	c.Assert(err, qt.IsNil)

	var voters []*agora.User
	for i := 0; i < 10; i++ {
		u := agora.NewUser(fmt.Sprintf("voter%d", i))
		c.Assert(engine.CreateUser(ctx, u), qt.IsNil)
		voters = append(voters, u)
	}

	var wg sync.WaitGroup
	for i, voter := range voters {
		d := agora.Up
		if i%2 == 0 {
			d = agora.Down
		}
		// the first voters switch, the others keep their first vote
		clicks := []agora.Direction{d}
		if i < 4 {
			clicks = append(clicks, d.Opposite())
		}

		wg.Add(1)
		go func(voter *agora.User, clicks []agora.Direction) {
			defer wg.Done()
			for _, d := range clicks {
				_, err := engine.Vote(ctx, agora.VoteRequest{VoterID: voter.ID, TargetID: answer.ID, Kind: agora.KindComment, Direction: d})
				c.Check(err, qt.IsNil)
			}
		}(voter, clicks)
	}
	wg.Wait()

	res, err := engine.AcceptAnswer(ctx, q.ID, answer.ID, asker.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Changed, qt.IsTrue)

	err = store.WithTx(ctx, func(tx agora.Tx) error {
		votes, err := tx.ListVotes(answer.ID, agora.KindComment)
		c.Assert(err, qt.IsNil)
		c.Assert(votes, qt.HasLen, 10)

		target, err := tx.FindTarget(answer.ID, agora.KindComment)
		c.Assert(err, qt.IsNil)
		c.Assert(target.Score, qt.Equals, agora.RecountScore(votes))
		// 0 and 2 switched to up, 1 and 3 to down: 5 up, 5 down
		c.Assert(target.Score, qt.Equals, int64(0))
		return nil
	})
	c.Assert(err, qt.IsNil)

	found, err := engine.User(ctx, author.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(found.Reputation, qt.Equals, int64(1000+5*10-5*2+15))
	c.Assert(found.Badges, qt.Equals, agora.Badges{Gold: 1, Silver: 1, Bronze: 1})
	c.Assert(found.AcceptedCount, qt.Equals, int64(1))

	tree, err := engine.CommentTree(ctx, q.ID)
	c.Assert(err, qt.IsNil)
	accepted, ok := tree.Accepted()
	c.Assert(ok, qt.IsTrue)
	c.Assert(accepted.ID, qt.Equals, answer.ID)

	drifts, err := engine.Verify(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(drifts, qt.HasLen, 0)
}
