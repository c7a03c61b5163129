package comment

// Node is a comment in a display thread. Only top-level nodes carry
// replies; threads are one level deep.
type Node struct {
	Comment
	Replies []*Node `json:"replies"`
}

// BuildTree turns the flat, store-ordered rows of one note into a thread.
//
// Top-level comments keep their input order, and so do the replies under
// each of them. A reply whose parent is not among the top-level rows is
// dropped. The input is not modified.
func BuildTree(comments []*Comment) []*Node {
	roots := make([]*Node, 0, len(comments))
	replies := make(map[string][]*Node)

	for _, c := range comments {
		if c == nil {
			continue
		}
		n := &Node{Comment: *c, Replies: []*Node{}}
		if c.IsReply() {
			replies[c.ParentCommentID] = append(replies[c.ParentCommentID], n)
			continue
		}
		roots = append(roots, n)
	}

	for _, n := range roots {
		if r, ok := replies[n.ID]; ok {
			n.Replies = r
			// A repeated top-level id must not share one reply slice.
			delete(replies, n.ID)
		}
	}

	return roots
}

// Count returns how many comments a thread holds, replies included.
func Count(nodes []*Node) int {
	n := 0
	for _, node := range nodes {
		n += 1 + len(node.Replies)
	}
	return n
}

// Clone returns a deep copy of a thread.
func Clone(nodes []*Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		cp := &Node{Comment: n.Comment, Replies: Clone(n.Replies)}
		out = append(out, cp)
	}
	return out
}
