package leaderboard

import (
	"math/rand/v2"

	"github.com/okian/putmeon/internal/domain/model"
)

// Treap ordered so in-order traversal yields the leaderboard: score DESC,
// then the earlier entry first, then id.

type node struct {
	entry model.HistoryEntry
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less reports whether a ranks before b.
func less(a, b model.HistoryEntry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.ID < b.ID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, e model.HistoryEntry) *node {
	if n == nil {
		return &node{entry: e, prio: rand.Uint64(), size: 1}
	}
	if less(e, n.entry) {
		n.left = insert(n.left, e)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, e)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func remove(n *node, e model.HistoryEntry) *node {
	if n == nil {
		return nil
	}
	switch {
	case n.entry.ID == e.ID:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = remove(n.right, e)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, e)
		}
	case less(e, n.entry):
		n.left = remove(n.left, e)
	default:
		n.right = remove(n.right, e)
	}
	fix(n)
	return n
}

// collect appends up to limit entries in rank order. limit < 0 collects all.
func collect(n *node, limit int, out *[]model.HistoryEntry) {
	if n == nil || (limit >= 0 && len(*out) >= limit) {
		return
	}
	collect(n.left, limit, out)
	if limit < 0 || len(*out) < limit {
		*out = append(*out, n.entry)
	}
	collect(n.right, limit, out)
}
