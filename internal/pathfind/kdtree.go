// Package pathfind implements the geometric fallback path planner: a
// bidirectional RRT over the static obstacle set with a waypoint reservoir
// cache, path simplification and corner cutting.
package pathfind

import "github.com/banshee-field/fieldwork/internal/geo"

// Node is a tree node. Nodes record whether they were inserted while still
// inside an obstacle, which switches the extension rule to the
// obstacle-relative coverage check.
type Node struct {
	pos        geo.Vector2
	inObstacle bool

	// previous is the RRT predecessor used for path traversal; left/right
	// are the KD-tree children split alternately by axis.
	previous *Node
	left     *Node
	right    *Node
}

// KdTree is a 2-D tree rooted at a fixed position, splitting by x on even
// depths and y on odd depths.
type KdTree struct {
	root *Node
}

// NewKdTree creates a tree containing only the root position.
func NewKdTree(pos geo.Vector2, inObstacle bool) *KdTree {
	return &KdTree{root: &Node{pos: pos, inObstacle: inObstacle}}
}

// Insert adds a position below the tree structure and links it to the given
// RRT predecessor.
func (t *KdTree) Insert(pos geo.Vector2, inObstacle bool, previous *Node) *Node {
	node := &Node{pos: pos, inObstacle: inObstacle, previous: previous}

	current := t.root
	depth := 0
	for {
		var next **Node
		if depth%2 == 0 {
			if pos.X < current.pos.X {
				next = &current.left
			} else {
				next = &current.right
			}
		} else {
			if pos.Y < current.pos.Y {
				next = &current.left
			} else {
				next = &current.right
			}
		}
		if *next == nil {
			*next = node
			return node
		}
		current = *next
		depth++
	}
}

// Nearest returns the node closest to pos.
func (t *KdTree) Nearest(pos geo.Vector2) *Node {
	best := t.root
	bestDistSq := t.root.pos.DistanceSq(pos)
	t.nearest(t.root, pos, 0, &best, &bestDistSq)
	return best
}

func (t *KdTree) nearest(node *Node, pos geo.Vector2, depth int, best **Node, bestDistSq *float64) {
	if node == nil {
		return
	}
	if d := node.pos.DistanceSq(pos); d < *bestDistSq {
		*bestDistSq = d
		*best = node
	}

	var diff float64
	if depth%2 == 0 {
		diff = pos.X - node.pos.X
	} else {
		diff = pos.Y - node.pos.Y
	}
	near, far := node.left, node.right
	if diff >= 0 {
		near, far = node.right, node.left
	}
	t.nearest(near, pos, depth+1, best, bestDistSq)
	if diff*diff < *bestDistSq {
		t.nearest(far, pos, depth+1, best, bestDistSq)
	}
}

// Position returns the node's position.
func (t *KdTree) Position(node *Node) geo.Vector2 { return node.pos }

// InObstacle reports whether the node was inserted while inside an obstacle.
func (t *KdTree) InObstacle(node *Node) bool { return node.inObstacle }

// Previous returns the RRT predecessor of the node, nil for the root.
func (t *KdTree) Previous(node *Node) *Node { return node.previous }
