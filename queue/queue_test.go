package queue

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var distances = []float32{0.4, 9, 0.001, 0.0534, 0.234, 2.03, 2.042, 2.532, 1.0009, 0.329, 0.193, 0.999, 0.020391, 2.0991, 1.203, 10.03, 1.039, 1.0008, 5.029, 0.789}

func TestMaxOrder(t *testing.T) {
	q := NewMax()

	for i, d := range distances {
		heap.Push(q, &Item{Node: uint32(i), Distance: d})
	}

	top := q.Top()
	require.NotNil(t, top)
	assert.Equal(t, float32(10.03), top.Distance)
	assert.Equal(t, uint32(15), top.Node)
	assert.Equal(t, len(distances), q.Len())

	// Prune down to the 10 closest.
	for q.Len() > 10 {
		heap.Pop(q)
	}
	assert.Equal(t, 10, q.Len())
	assert.Equal(t, float32(1.0008), q.Top().Distance)

	for q.Len() > 1 {
		heap.Pop(q)
	}
	assert.Equal(t, float32(0.001), q.Top().Distance)
	assert.Equal(t, uint32(2), q.Top().Node)
}

func TestMinOrder(t *testing.T) {
	q := NewMin()

	for i, d := range distances {
		heap.Push(q, &Item{Node: uint32(i), Distance: d})
	}

	prev := float32(-1)
	for q.Len() > 0 {
		item, _ := heap.Pop(q).(*Item)
		require.GreaterOrEqual(t, item.Distance, prev)
		prev = item.Distance
	}
}

func TestTieBreakByNode(t *testing.T) {
	q := NewMin()
	heap.Push(q, &Item{Node: 7, Distance: 1})
	heap.Push(q, &Item{Node: 3, Distance: 1})
	heap.Push(q, &Item{Node: 5, Distance: 1})

	assert.Equal(t, uint32(3), q.Top().Node)
}

func TestPopEmpty(t *testing.T) {
	q := NewMin()
	assert.Nil(t, q.Pop())
	assert.Nil(t, q.Top())
}
