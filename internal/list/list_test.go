package list

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Node
	id int
}

func TestList_PushFrontPopFront(t *testing.T) {
	var l List
	require.True(t, l.Empty())

	a, b, c := &item{id: 1}, &item{id: 2}, &item{id: 3}
	l.PushFront(&a.Node)
	l.PushFront(&b.Node)
	l.PushFront(&c.Node)

	byNode := map[*Node]int{&a.Node: a.id, &b.Node: b.id, &c.Node: c.id}
	var order []int
	l.Do(func(n *Node) {
		order = append(order, byNode[n])
	})
	assert.Equal(t, []int{3, 2, 1}, order)

	front := l.PopFront()
	assert.Equal(t, &c.Node, front)
	assert.False(t, c.Linked())
}

func TestList_Remove(t *testing.T) {
	var l List
	a, b, c := &item{id: 1}, &item{id: 2}, &item{id: 3}
	l.PushBack(&a.Node)
	l.PushBack(&b.Node)
	l.PushBack(&c.Node)

	Remove(&b.Node)
	assert.False(t, b.Linked())

	byNode := map[*Node]int{&a.Node: a.id, &b.Node: b.id, &c.Node: c.id}
	var ids []int
	l.Do(func(n *Node) {
		ids = append(ids, byNode[n])
	})
	assert.Equal(t, []int{1, 3}, ids)

	Remove(&b.Node) // no-op on already-unlinked node
}

func TestList_EmptyPopIsNil(t *testing.T) {
	var l List
	assert.Nil(t, l.PopFront())
	assert.Nil(t, l.PopBack())
}
