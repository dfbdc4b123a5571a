// Package list implements an intrusive doubly-linked list. Callers embed
// Node in the struct they want to chain and link/unlink it directly,
// rather than allocating separate list cells.
package list

// Node is embedded in any struct that participates in an intrusive list.
// Its zero value is an unlinked node.
type Node struct {
	prev, next *Node
}

// Reset clears n so it reports as unlinked.
func (n *Node) Reset() {
	n.prev = nil
	n.next = nil
}

// Linked reports whether n is currently part of a list.
func (n *Node) Linked() bool {
	return n.next != nil
}

// Next returns the node following n. At the tail it returns the list's
// sentinel root, not nil (nil only for an unlinked node).
func (n *Node) Next() *Node { return n.next }

// Prev returns the node preceding n. At the head it returns the list's
// sentinel root, not nil (nil only for an unlinked node).
func (n *Node) Prev() *Node { return n.prev }

// List is an intrusive doubly-linked list with sentinel head/tail links.
// The zero value is an empty, ready-to-use list.
type List struct {
	root Node // root.next = first, root.prev = last
}

func (l *List) init() {
	if l.root.next == nil {
		l.root.next = &l.root
		l.root.prev = &l.root
	}
}

// Empty reports whether the list has no elements.
func (l *List) Empty() bool {
	l.init()
	return l.root.next == &l.root
}

// Front returns the first node, or nil if the list is empty.
func (l *List) Front() *Node {
	l.init()
	if l.root.next == &l.root {
		return nil
	}
	return l.root.next
}

// Back returns the last node, or nil if the list is empty.
func (l *List) Back() *Node {
	l.init()
	if l.root.prev == &l.root {
		return nil
	}
	return l.root.prev
}

// PushFront links n as the new head of the list.
func (l *List) PushFront(n *Node) {
	l.init()
	l.insertAfter(n, &l.root)
}

// PushBack links n as the new tail of the list.
func (l *List) PushBack(n *Node) {
	l.init()
	l.insertAfter(n, l.root.prev)
}

// InsertAfter links n immediately after at, which must already be in the list.
func (l *List) InsertAfter(n, at *Node) {
	l.init()
	l.insertAfter(n, at)
}

func (l *List) insertAfter(n, at *Node) {
	n.prev = at
	n.next = at.next
	at.next.prev = n
	at.next = n
}

// Remove unlinks n from whatever list it's in. It is a no-op on an
// already-unlinked node.
func Remove(n *Node) {
	if n.next == nil {
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.Reset()
}

// PopFront unlinks and returns the first node, or nil if empty.
func (l *List) PopFront() *Node {
	n := l.Front()
	if n != nil {
		Remove(n)
	}
	return n
}

// PopBack unlinks and returns the last node, or nil if empty.
func (l *List) PopBack() *Node {
	n := l.Back()
	if n != nil {
		Remove(n)
	}
	return n
}

// end is the sentinel returned by iteration to mark "no more nodes"; callers
// compare against it rather than nil when walking via l.root directly.
func (l *List) end() *Node { return &l.root }

// Do walks the list from front to back, calling fn for every node. fn must
// not unlink nodes other than the one it is called with.
func (l *List) Do(fn func(*Node)) {
	l.init()
	for n := l.root.next; n != l.end(); {
		next := n.next
		fn(n)
		n = next
	}
}
