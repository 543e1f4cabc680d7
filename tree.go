package agora

import (
	"fmt"
	"sort"
	"time"

	"github.com/jhchabran/agora/ranking"
)

// A CommentNode is a comment in a CommentTree, with the ids of its direct replies.
type CommentNode struct {
	Comment *Comment
	Replies []string
}

// CommentTree holds every comment of a question. Nodes live in an arena indexed
// by id, and an index maps each parent id to its children, top-level answers
// being stored under the empty key. Traversals use an explicit stack so depth
// is only bounded by memory.
type CommentTree struct {
	QuestionID string
	nodes      map[string]*CommentNode
	children   map[string][]string
}

func NewCommentTree(questionID string, comments []*Comment) *CommentTree {
	t := &CommentTree{
		QuestionID: questionID,
		nodes:      make(map[string]*CommentNode, len(comments)),
		children:   map[string][]string{},
	}

	for _, c := range comments {
		if c.QuestionID != questionID {
			continue
		}
		t.nodes[c.ID] = &CommentNode{Comment: c, Replies: []string{}}
	}

	// second pass, so replies listed before their parent are still linked
	for _, c := range comments {
		if c.QuestionID != questionID {
			continue
		}
		t.link(c)
	}

	return t
}

func (t *CommentTree) link(c *Comment) {
	key := c.parentKey()
	t.children[key] = append(t.children[key], c.ID)
	if parent, ok := t.nodes[key]; ok {
		parent.Replies = append(parent.Replies, c.ID)
	}
}

// Insert adds a comment to the tree. Replies must point to a parent that is
// already in the tree.
func (t *CommentTree) Insert(c *Comment) error {
	if c.QuestionID != t.QuestionID {
		return fmt.Errorf("comment belongs to question %s, not %s: %w", c.QuestionID, t.QuestionID, ErrTargetNotFound)
	}
	if _, ok := t.nodes[c.ID]; ok {
		return fmt.Errorf("comment %s already exists: %w", c.ID, ErrInvalidInput)
	}
	if !c.IsAnswer() {
		if _, err := t.Find(c.ParentCommentID.String); err != nil {
			return fmt.Errorf("parent comment %s: %w", c.ParentCommentID.String, err)
		}
	}

	t.nodes[c.ID] = &CommentNode{Comment: c, Replies: []string{}}
	t.link(c)
	return nil
}

// Len returns the number of comments reachable from the question.
func (t *CommentTree) Len() int {
	n := 0
	t.walk(t.Roots(), func(*CommentNode) bool { n++; return true })
	return n
}

// Roots returns the ids of the top-level answers.
func (t *CommentTree) Roots() []string {
	return t.children[""]
}

// Children returns the ids of the direct replies to id.
func (t *CommentTree) Children(id string) []string {
	return t.children[id]
}

// walk runs a depth-first traversal from the given ids, in order, until fn
// returns false.
func (t *CommentTree) walk(from []string, fn func(*CommentNode) bool) {
	stack := make([]string, 0, len(from))
	for i := len(from) - 1; i >= 0; i-- {
		stack = append(stack, from[i])
	}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, ok := t.nodes[id]
		if !ok {
			continue
		}
		if !fn(node) {
			return
		}

		kids := t.children[id]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
}

// Find searches the tree depth-first, starting at the top-level answers, and
// returns the first comment with the given id.
func (t *CommentTree) Find(id string) (*Comment, error) {
	var found *Comment
	t.walk(t.Roots(), func(n *CommentNode) bool {
		if n.Comment.ID == id {
			found = n.Comment
			return false
		}
		return true
	})

	if found == nil {
		return nil, fmt.Errorf("comment %s in question %s: %w", id, t.QuestionID, ErrTargetNotFound)
	}
	return found, nil
}

// AuthorOf returns the author of the comment with the given id, however deep
// it is nested.
func (t *CommentTree) AuthorOf(id string) (string, error) {
	c, err := t.Find(id)
	if err != nil {
		return "", err
	}
	return c.AuthorID, nil
}

// Path returns the comments leading from a top-level answer down to id, both included.
func (t *CommentTree) Path(id string) ([]*Comment, error) {
	c, err := t.Find(id)
	if err != nil {
		return nil, err
	}

	path := []*Comment{c}
	for !c.IsAnswer() {
		parent, ok := t.nodes[c.ParentCommentID.String]
		if !ok {
			return nil, fmt.Errorf("broken parent link on %s: %w", c.ID, ErrTargetNotFound)
		}
		c = parent.Comment
		path = append(path, c)
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// ForEachInSubtree calls fn on id and all its descendants, parents before
// children. It stops at the first error.
func (t *CommentTree) ForEachInSubtree(id string, fn func(*Comment) error) error {
	if _, err := t.Find(id); err != nil {
		return err
	}

	var ferr error
	t.walk([]string{id}, func(n *CommentNode) bool {
		ferr = fn(n.Comment)
		return ferr == nil
	})
	return ferr
}

// Delete removes id and all its descendants and returns their ids.
func (t *CommentTree) Delete(id string) ([]string, error) {
	c, err := t.Find(id)
	if err != nil {
		return nil, err
	}

	var removed []string
	t.walk([]string{id}, func(n *CommentNode) bool {
		removed = append(removed, n.Comment.ID)
		return true
	})

	for _, rid := range removed {
		delete(t.nodes, rid)
		delete(t.children, rid)
	}

	key := c.parentKey()
	t.children[key] = without(t.children[key], id)
	if parent, ok := t.nodes[key]; ok {
		parent.Replies = without(parent.Replies, id)
	}

	return removed, nil
}

func without(ids []string, id string) []string {
	res := ids[:0]
	for _, i := range ids {
		if i != id {
			res = append(res, i)
		}
	}
	return res
}

// Accepted returns the accepted comment, if any.
func (t *CommentTree) Accepted() (*Comment, bool) {
	var found *Comment
	t.walk(t.Roots(), func(n *CommentNode) bool {
		if n.Comment.Accepted {
			found = n.Comment
			return false
		}
		return true
	})
	return found, found != nil
}

// AcceptOnly clears the accepted flag on every comment of the tree, then sets it
// on id. It returns the ids that were accepted before and no longer are.
func (t *CommentTree) AcceptOnly(id string) ([]string, error) {
	target, err := t.Find(id)
	if err != nil {
		return nil, err
	}

	var cleared []string
	t.walk(t.Roots(), func(n *CommentNode) bool {
		if n.Comment.Accepted && n.Comment.ID != id {
			cleared = append(cleared, n.Comment.ID)
		}
		n.Comment.Accepted = false
		return true
	})
	target.Accepted = true

	return cleared, nil
}

// Presenters returns the tree ready to be served: the accepted answer first,
// then comments ordered by rank at the given time.
func (t *CommentTree) Presenters(now time.Time) []*CommentPresenter {
	presenters := make(map[string]*CommentPresenter, len(t.nodes))
	var order []string
	t.walk(t.Roots(), func(n *CommentNode) bool {
		presenters[n.Comment.ID] = NewCommentPresenter(n.Comment)
		order = append(order, n.Comment.ID)
		return true
	})

	for _, id := range order {
		p := presenters[id]
		for _, kid := range t.sorted(t.children[id], now) {
			p.Replies = append(p.Replies, presenters[kid])
		}
	}

	roots := []*CommentPresenter{}
	for _, id := range t.sorted(t.Roots(), now) {
		roots = append(roots, presenters[id])
	}
	return roots
}

func (t *CommentTree) sorted(ids []string, now time.Time) []string {
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := t.nodes[id]; ok {
			res = append(res, id)
		}
	}

	sort.SliceStable(res, func(i, j int) bool {
		a, b := t.nodes[res[i]].Comment, t.nodes[res[j]].Comment
		if a.Accepted != b.Accepted {
			return a.Accepted
		}
		return ranking.Rank(a, ranking.DefaultGravity, ranking.DefaultTimebase, now) >
			ranking.Rank(b, ranking.DefaultGravity, ranking.DefaultTimebase, now)
	})
	return res
}
