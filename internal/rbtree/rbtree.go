// Package rbtree implements an intrusive red-black multiset. Nodes are
// embedded in caller structs and ordered by a caller-supplied comparator.
// Equal-keyed nodes are chained together as peers rather than occupying
// distinct tree positions, so erasing one of a run of duplicates never
// touches the tree's shape (matches the portable reimplementation called
// for in the original's side/color bitfield over pointer-bit-stealing).
package rbtree

type color uint8

const (
	red color = iota
	black
)

// Node is embedded in any struct stored in a Tree.
type Node struct {
	parent, left, right *Node
	// peer chain: nodes with an equal key form a ring via next/prev.
	// Exactly one node in the ring (the "anchor") is ever linked into
	// the tree itself; the rest hang off it.
	nextPeer, prevPeer *Node
	anchor             bool
	col                color
}

// Peers reports whether n has any chained duplicates.
func (n *Node) Peers() bool {
	return n.nextPeer != n
}

// Tree is an intrusive multiset ordered by Less. The zero value is an
// empty tree ready to use, provided Less is set before first use.
type Tree struct {
	root *Node
	size int
	// Less reports whether a orders before b. Must be set before use.
	Less func(a, b *Node) bool
}

// Len returns the number of anchors linked into the tree shape (peer
// chains collapse to one tree position each); Count returns the true
// element count including peers.
func (t *Tree) Len() int { return t.size }

// Count returns the total number of nodes, including chained peers.
func (t *Tree) Count() int {
	n := 0
	t.Do(func(anchor *Node) {
		n++
		for p := anchor.nextPeer; p != anchor; p = p.nextPeer {
			n++
		}
	})
	return n
}

func sideOf(n *Node) int {
	if n.parent != nil && n.parent.left == n {
		return 0
	}
	return 1
}

func childPtr(p *Node, side int) **Node {
	if side == 0 {
		return &p.left
	}
	return &p.right
}

// rotate performs a rotation around x in the given direction: side==0
// rotates left (x's right child becomes the new subtree root), side==1
// rotates right.
func (t *Tree) rotate(x *Node, side int) {
	var y *Node
	if side == 0 {
		y = x.right
		x.right = y.left
		if y.left != nil {
			y.left.parent = x
		}
	} else {
		y = x.left
		x.left = y.right
		if y.right != nil {
			y.right.parent = x
		}
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x.parent.left == x {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	if side == 0 {
		y.left = x
	} else {
		y.right = x
	}
	x.parent = y
}

func isRed(n *Node) bool {
	return n != nil && n.col == red
}

// Insert links n into the tree. If a node with an equal key already
// exists, n is chained onto that node's peer ring instead of occupying a
// new tree position.
func (t *Tree) Insert(n *Node) {
	n.left, n.right, n.parent = nil, nil, nil
	n.nextPeer, n.prevPeer = n, n
	n.anchor = true

	if t.root == nil {
		n.col = black
		t.root = n
		t.size++
		return
	}

	cur := t.root
	var parent *Node
	side := 0
	for cur != nil {
		parent = cur
		switch {
		case t.Less(n, cur):
			side = 0
			cur = cur.left
		case t.Less(cur, n):
			side = 1
			cur = cur.right
		default:
			// equal key: chain as a peer, don't touch the tree shape.
			t.linkPeer(cur, n)
			return
		}
	}

	n.col = red
	n.parent = parent
	*childPtr(parent, side) = n
	t.size++
	t.fixupInsert(n)
}

func (t *Tree) linkPeer(anchor, n *Node) {
	n.anchor = false
	n.nextPeer = anchor.nextPeer
	n.prevPeer = anchor
	anchor.nextPeer.prevPeer = n
	anchor.nextPeer = n
}

func (t *Tree) fixupInsert(z *Node) {
	for z.parent != nil && z.parent.col == red {
		gp := z.parent.parent
		if gp == nil {
			break
		}
		if z.parent == gp.left {
			u := gp.right
			if isRed(u) {
				z.parent.col = black
				u.col = black
				gp.col = red
				z = gp
				continue
			}
			if z == z.parent.right {
				z = z.parent
				t.rotate(z, 0)
			}
			z.parent.col = black
			gp.col = red
			t.rotate(gp, 1)
		} else {
			u := gp.left
			if isRed(u) {
				z.parent.col = black
				u.col = black
				gp.col = red
				z = gp
				continue
			}
			if z == z.parent.left {
				z = z.parent
				t.rotate(z, 1)
			}
			z.parent.col = black
			gp.col = red
			t.rotate(gp, 0)
		}
	}
	t.root.col = black
}

// Erase unlinks n, whether it is a tree anchor or a chained peer.
func (t *Tree) Erase(n *Node) {
	if !n.anchor {
		n.prevPeer.nextPeer = n.nextPeer
		n.nextPeer.prevPeer = n.prevPeer
		n.nextPeer, n.prevPeer = n, n
		return
	}
	if n.nextPeer != n {
		// promote the next peer into the anchor's tree position.
		succ := n.nextPeer
		succ.anchor = true
		succ.prevPeer = n.prevPeer
		n.prevPeer.nextPeer = succ
		t.replaceInTree(n, succ)
		n.nextPeer, n.prevPeer = n, n
		return
	}
	t.deleteNode(n)
	t.size--
}

// replaceInTree swaps old for succ at old's exact tree position, without
// touching tree shape or color (succ inherits old's children/parent/color).
func (t *Tree) replaceInTree(old, succ *Node) {
	succ.left, succ.right, succ.parent, succ.col = old.left, old.right, old.parent, old.col
	if old.left != nil {
		old.left.parent = succ
	}
	if old.right != nil {
		old.right.parent = succ
	}
	if old.parent == nil {
		t.root = succ
	} else if old.parent.left == old {
		old.parent.left = succ
	} else {
		old.parent.right = succ
	}
	old.left, old.right, old.parent = nil, nil, nil
}

func minimum(n *Node) *Node {
	for n.left != nil {
		n = n.left
	}
	return n
}

func (t *Tree) deleteNode(z *Node) {
	y := z
	yOrigColor := y.col
	var x, xParent *Node

	if z.left == nil {
		x = z.right
		xParent = z.parent
		t.transplant(z, z.right)
	} else if z.right == nil {
		x = z.left
		xParent = z.parent
		t.transplant(z, z.left)
	} else {
		y = minimum(z.right)
		yOrigColor = y.col
		x = y.right
		if y.parent == z {
			xParent = y
		} else {
			xParent = y.parent
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.col = z.col
	}
	z.left, z.right, z.parent = nil, nil, nil

	if yOrigColor == black {
		t.fixupDelete(x, xParent)
	}
}

func (t *Tree) transplant(u, v *Node) {
	if u.parent == nil {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

func (t *Tree) fixupDelete(x, parent *Node) {
	for x != t.root && !isRed(x) {
		if parent == nil {
			break
		}
		if x == parent.left {
			w := parent.right
			if isRed(w) {
				w.col = black
				parent.col = red
				t.rotate(parent, 0)
				w = parent.right
			}
			if !isRed(w.left) && !isRed(w.right) {
				w.col = red
				x = parent
				parent = x.parent
				continue
			}
			if !isRed(w.right) {
				if w.left != nil {
					w.left.col = black
				}
				w.col = red
				t.rotate(w, 1)
				w = parent.right
			}
			w.col = parent.col
			parent.col = black
			if w.right != nil {
				w.right.col = black
			}
			t.rotate(parent, 0)
			x = t.root
		} else {
			w := parent.left
			if isRed(w) {
				w.col = black
				parent.col = red
				t.rotate(parent, 1)
				w = parent.left
			}
			if !isRed(w.right) && !isRed(w.left) {
				w.col = red
				x = parent
				parent = x.parent
				continue
			}
			if !isRed(w.left) {
				if w.right != nil {
					w.right.col = black
				}
				w.col = red
				t.rotate(w, 0)
				w = parent.left
			}
			w.col = parent.col
			parent.col = black
			if w.left != nil {
				w.left.col = black
			}
			t.rotate(parent, 1)
			x = t.root
		}
	}
	if x != nil {
		x.col = black
	}
}

// LowerBound returns the leftmost anchor not ordered before key (i.e. the
// first node n such that !Less(n, key) in comparator terms), or nil.
func (t *Tree) LowerBound(key *Node) *Node {
	var result *Node
	cur := t.root
	for cur != nil {
		if t.Less(cur, key) {
			cur = cur.right
		} else {
			result = cur
			cur = cur.left
		}
	}
	return result
}

// UpperBound returns the leftmost anchor ordered strictly after key, or nil.
func (t *Tree) UpperBound(key *Node) *Node {
	var result *Node
	cur := t.root
	for cur != nil {
		if t.Less(key, cur) {
			result = cur
			cur = cur.left
		} else {
			cur = cur.right
		}
	}
	return result
}

// Find returns an anchor with a key equal to key, or nil.
func (t *Tree) Find(key *Node) *Node {
	n := t.LowerBound(key)
	if n == nil || t.Less(key, n) {
		return nil
	}
	return n
}

// Minimum returns the tree's smallest anchor, or nil if empty.
func (t *Tree) Minimum() *Node {
	if t.root == nil {
		return nil
	}
	return minimum(t.root)
}

// Successor returns the tree anchor immediately after n in sorted order.
func (t *Tree) Successor(n *Node) *Node {
	if n.right != nil {
		return minimum(n.right)
	}
	p := n.parent
	for p != nil && n == p.right {
		n = p
		p = p.parent
	}
	return p
}

// Do walks every anchor in the tree in ascending order.
func (t *Tree) Do(fn func(*Node)) {
	for n := t.Minimum(); n != nil; n = t.Successor(n) {
		fn(n)
	}
}
