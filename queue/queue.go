// Package queue provides the distance-ordered priority queues used by the
// graph index during construction and search.
package queue

import "container/heap"

// Compile time check to ensure Distance satisfies the heap interface.
var _ heap.Interface = (*Distance)(nil)

// Item is a single candidate: a node identifier ranked by its distance to
// some query vector.
type Item struct {
	Node     uint32  // Node is the internal id of the candidate.
	Distance float32 // Distance is the priority of the item in the queue.
	index    int     // maintained by heap.Interface methods
}

// Distance implements heap.Interface over candidate items.
//
// With Max=false the queue is a min-heap (closest candidate on top), with
// Max=true a max-heap (farthest on top). Search keeps a max-heap of the best
// ef results so the worst result is cheap to evict.
type Distance struct {
	Max   bool
	Items []*Item
}

// NewMin returns an initialized min-heap.
func NewMin() *Distance {
	d := &Distance{Max: false}
	heap.Init(d)
	return d
}

// NewMax returns an initialized max-heap.
func NewMax() *Distance {
	d := &Distance{Max: true}
	heap.Init(d)
	return d
}

// Len returns the number of queued items.
func (d *Distance) Len() int { return len(d.Items) }

// Less orders by distance; equal distances fall back to insertion id so the
// ordering is deterministic.
func (d *Distance) Less(i, j int) bool {
	a, b := d.Items[i], d.Items[j]
	if a.Distance == b.Distance {
		if d.Max {
			return a.Node > b.Node
		}
		return a.Node < b.Node
	}
	if d.Max {
		return a.Distance > b.Distance
	}
	return a.Distance < b.Distance
}

// Swap swaps the elements with indexes i and j.
func (d *Distance) Swap(i, j int) {
	d.Items[i], d.Items[j] = d.Items[j], d.Items[i]
	d.Items[i].index, d.Items[j].index = i, j
}

// Push adds x to the queue.
func (d *Distance) Push(x any) {
	item, _ := x.(*Item)
	item.index = len(d.Items)
	d.Items = append(d.Items, item)
}

// Pop removes and returns the top element.
func (d *Distance) Pop() any {
	old := d.Items
	n := len(old)
	if n == 0 {
		return nil
	}
	item := old[n-1]
	old[n-1] = nil // avoid holding the reference
	item.index = -1
	d.Items = old[:n-1]
	return item
}

// Top returns the top element without removing it.
func (d *Distance) Top() *Item {
	if len(d.Items) == 0 {
		return nil
	}
	return d.Items[0]
}
