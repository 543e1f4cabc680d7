package agora

import (
	"database/sql"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func reply(id string, parent string, author string) *Comment {
	c := NewComment("q1", sql.NullString{String: parent, Valid: parent != ""}, "body", author)
	c.ID = id
	return c
}

// a
// ├── a1
// ├── a2
// │   ├── a21
// │   └── a22
// └── a3
// b
// └── b1
func sampleTree() *CommentTree {
	return NewCommentTree("q1", []*Comment{
		reply("a", "", "alice"),
		reply("a1", "a", "bob"),
		reply("a2", "a", "carol"),
		reply("a3", "a", "bob"),
		reply("a21", "a2", "dave"),
		reply("a22", "a2", "erin"),
		reply("b", "", "bob"),
		reply("b1", "b", "alice"),
	})
}

func TestNewCommentOK(t *testing.T) {
	comment := NewComment("q1", sql.NullString{String: "a", Valid: true}, "body", "alice")
	require.Equal(t, "a", comment.ParentCommentID.String)
	require.True(t, comment.ParentCommentID.Valid)
	require.False(t, comment.IsAnswer())
}

func TestNewCommentTree(t *testing.T) {
	r := require.New(t)

	tree := sampleTree()
	r.Equal(8, tree.Len())
	r.Equal([]string{"a", "b"}, tree.Roots())
	r.Equal([]string{"a1", "a2", "a3"}, tree.Children("a"))
	r.Equal([]string{"a21", "a22"}, tree.Children("a2"))

	// replies listed before their parent are linked all the same
	tree = NewCommentTree("q1", []*Comment{
		reply("x1", "x", "bob"),
		reply("x", "", "alice"),
	})
	r.Equal([]string{"x1"}, tree.Children("x"))

	// comments from other questions are ignored
	other := reply("y", "", "alice")
	other.QuestionID = "q2"
	tree = NewCommentTree("q1", []*Comment{reply("x", "", "alice"), other})
	r.Equal(1, tree.Len())
}

func TestCommentTreeFind(t *testing.T) {
	r := require.New(t)
	tree := sampleTree()

	author, err := tree.AuthorOf("a22")
	r.NoError(err)
	r.Equal("erin", author)

	_, err = tree.AuthorOf("nope")
	r.ErrorIs(err, ErrTargetNotFound)

	path, err := tree.Path("a21")
	r.NoError(err)
	ids := []string{}
	for _, c := range path {
		ids = append(ids, c.ID)
	}
	r.Equal([]string{"a", "a2", "a21"}, ids)

	var visited []string
	err = tree.ForEachInSubtree("a", func(c *Comment) error {
		visited = append(visited, c.ID)
		return nil
	})
	r.NoError(err)
	r.Equal([]string{"a", "a1", "a2", "a21", "a22", "a3"}, visited)
}

func TestCommentTreeDeepNesting(t *testing.T) {
	r := require.New(t)

	// deep enough to blow a recursive walk's budget in most languages
	const depth = 100000
	comments := make([]*Comment, 0, depth)
	parent := ""
	for i := 0; i < depth; i++ {
		id := strconv.Itoa(i)
		comments = append(comments, reply(id, parent, "alice"))
		parent = id
	}
	comments[depth-1].AuthorID = "bob"

	tree := NewCommentTree("q1", comments)
	author, err := tree.AuthorOf(strconv.Itoa(depth - 1))
	r.NoError(err)
	r.Equal("bob", author)

	removed, err := tree.Delete("1")
	r.NoError(err)
	r.Len(removed, depth-1)
	r.Equal(1, tree.Len())
}

func TestCommentTreeInsert(t *testing.T) {
	r := require.New(t)
	tree := sampleTree()

	r.NoError(tree.Insert(reply("a221", "a22", "bob")))
	r.Equal([]string{"a221"}, tree.Children("a22"))

	r.ErrorIs(tree.Insert(reply("a221", "a22", "bob")), ErrInvalidInput)
	r.ErrorIs(tree.Insert(reply("orphan", "missing", "bob")), ErrTargetNotFound)

	elsewhere := reply("z", "", "bob")
	elsewhere.QuestionID = "q2"
	r.ErrorIs(tree.Insert(elsewhere), ErrTargetNotFound)
}

func TestCommentTreeDelete(t *testing.T) {
	r := require.New(t)
	tree := sampleTree()

	removed, err := tree.Delete("a2")
	r.NoError(err)
	r.Equal([]string{"a2", "a21", "a22"}, removed)
	r.Equal([]string{"a1", "a3"}, tree.Children("a"))
	r.Equal(5, tree.Len())

	_, err = tree.Find("a21")
	r.ErrorIs(err, ErrTargetNotFound)

	_, err = tree.Delete("a2")
	r.ErrorIs(err, ErrTargetNotFound)

	removed, err = tree.Delete("b")
	r.NoError(err)
	r.Equal([]string{"b", "b1"}, removed)
	r.Equal([]string{"a"}, tree.Roots())
}

func TestCommentTreeAcceptOnly(t *testing.T) {
	r := require.New(t)
	tree := sampleTree()

	cleared, err := tree.AcceptOnly("a21")
	r.NoError(err)
	r.Empty(cleared)

	// a stale second flag gets cleared as well
	tree.nodes["b1"].Comment.Accepted = true
	cleared, err = tree.AcceptOnly("b")
	r.NoError(err)
	r.ElementsMatch([]string{"a21", "b1"}, cleared)

	accepted, ok := tree.Accepted()
	r.True(ok)
	r.Equal("b", accepted.ID)

	count := 0
	tree.walk(tree.Roots(), func(n *CommentNode) bool {
		if n.Comment.Accepted {
			count++
		}
		return true
	})
	r.Equal(1, count)

	_, err = tree.AcceptOnly("nope")
	r.ErrorIs(err, ErrTargetNotFound)
	_, ok = tree.Accepted()
	r.True(ok, "a failed accept leaves the current one alone")
}

func TestCommentTreePresenters(t *testing.T) {
	r := require.New(t)

	now, _ := time.Parse(time.RFC3339, "2020-01-01T12:00:00Z")
	var tree *CommentTree
	withFakeNow(func() time.Time { return now }, func() {
		tree = sampleTree()
	})
	tree.nodes["a3"].Comment.Score = 5
	tree.nodes["b"].Comment.Accepted = true

	ps := tree.Presenters(now)
	r.Len(ps, 2)
	r.Equal("b", ps[0].ID, "accepted answer comes first")
	r.Equal("b1", ps[0].Replies[0].ID)
	r.Equal("a", ps[1].ID)
	r.Equal("a3", ps[1].Replies[0].ID, "best scored reply comes first")
	r.Equal("a1", ps[1].Replies[1].ID)
	r.Equal("a2", ps[1].Replies[2].ID)
	r.Equal("a21", ps[1].Replies[2].Replies[0].ID)
	r.Equal("a22", ps[1].Replies[2].Replies[1].ID)
	r.Empty(ps[1].Replies[0].Replies)
}
