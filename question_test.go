package agora

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewQuestion(t *testing.T) {
	r := require.New(t)

	var q *Question
	now, _ := time.Parse(time.RFC3339, "2020-01-01T12:00:00Z")
	nowF := func() time.Time { return now }

	withFakeNow(nowF, func() {
		q = NewQuestion("foo", "body", "alice")
	})
	r.Equal(now, q.CreatedAt)
	r.Equal(now, q.LastActivityAt)
	r.False(q.HasAcceptedAnswer())

	target := q.Target()
	r.Equal(KindQuestion, target.Kind)
	r.Equal(q.ID, target.QuestionID)
	r.Equal("alice", target.AuthorID)
}

func withFakeNow(nowFunc func() time.Time, f func()) {
	old := NowFunc
	NowFunc = nowFunc
	defer func() { NowFunc = old }()
	f()
}
