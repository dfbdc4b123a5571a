package rbtree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Node
	key int
}

func newTree() (*Tree, map[*Node]*item) {
	reg := make(map[*Node]*item)
	tr := &Tree{}
	tr.Less = func(a, b *Node) bool {
		return reg[a].key < reg[b].key
	}
	return tr, reg
}

func insert(tr *Tree, reg map[*Node]*item, key int) *item {
	it := &item{key: key}
	reg[&it.Node] = it
	tr.Insert(&it.Node)
	return it
}

func TestTree_InsertFindOrdering(t *testing.T) {
	tr, reg := newTree()
	keys := []int{50, 20, 70, 10, 30, 60, 80, 5}
	for _, k := range keys {
		insert(tr, reg, k)
	}
	require.Equal(t, len(keys), tr.Len())

	var sorted []int
	tr.Do(func(n *Node) { sorted = append(sorted, reg[n].key) })
	assert.Equal(t, []int{5, 10, 20, 30, 50, 60, 70, 80}, sorted)

	found := tr.Find(&(&item{key: 30}).Node)
	require.NotNil(t, found)
	assert.Equal(t, 30, reg[found].key)
}

func TestTree_DuplicateKeysChainAsPeers(t *testing.T) {
	tr, reg := newTree()
	a := insert(tr, reg, 10)
	b := insert(tr, reg, 10)
	c := insert(tr, reg, 10)

	assert.Equal(t, 1, tr.Len(), "equal keys collapse to one tree position")
	assert.Equal(t, 3, tr.Count())

	tr.Erase(&b.Node)
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, 2, tr.Count())

	tr.Erase(&a.Node)
	tr.Erase(&c.Node)
	assert.Equal(t, 0, tr.Len())
}

func TestTree_LowerUpperBound(t *testing.T) {
	tr, reg := newTree()
	for _, k := range []int{10, 20, 30, 40} {
		insert(tr, reg, k)
	}

	lb := tr.LowerBound(&(&item{key: 25}).Node)
	require.NotNil(t, lb)
	assert.Equal(t, 30, reg[lb].key)

	ub := tr.UpperBound(&(&item{key: 20}).Node)
	require.NotNil(t, ub)
	assert.Equal(t, 30, reg[ub].key)

	assert.Nil(t, tr.UpperBound(&(&item{key: 40}).Node))
}

func TestTree_RandomInsertEraseStaysSorted(t *testing.T) {
	tr, reg := newTree()
	r := rand.New(rand.NewSource(1))
	var nodes []*Node
	for i := 0; i < 200; i++ {
		it := insert(tr, reg, r.Intn(1000))
		nodes = append(nodes, &it.Node)
	}

	r.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
	for _, n := range nodes[:100] {
		tr.Erase(n)
	}

	var last = -1
	tr.Do(func(n *Node) {
		k := reg[n].key
		assert.GreaterOrEqual(t, k, last)
		last = k
	})
}
