// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate nearest neighbour search over fixed-dimension float32 vectors.
//
// The graph does not support true removal; Delete marks a node in a roaring
// tombstone bitmap and Search filters tombstoned nodes from its results.
// Callers are expected to rebuild the graph from live vectors once the
// tombstone ratio becomes wasteful.
package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/ragkit/docdex/metric"
	"github.com/ragkit/docdex/queue"
)

// DimensionMismatchError reports an insert or query vector whose length does
// not match the index dimension.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// NodeNotFoundError reports an id that is not a live node.
type NodeNotFoundError struct {
	ID uint32
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("node %d not found", e.ID)
}

// Node is a single element of the graph.
type Node struct {
	Connections [][]uint32 // per-layer links to other nodes
	Vector      []float32
	Layer       int    // highest layer the node appears in
	ID          uint32 // insertion-ordered identifier
}

// Options configures graph construction and search.
type Options struct {
	// M is the number of established connections per element per layer.
	// The range 12-48 works for most embedding workloads; the bottom layer
	// allows 2*M.
	M int

	// EFConstruction is the size of the dynamic candidate list while
	// inserting. Larger values build a better graph at higher insert cost.
	EFConstruction int

	// EFSearch is the default candidate list size for Search when the caller
	// passes ef <= 0. Must be >= k for good recall.
	EFSearch int

	// Heuristic selects the neighbour-selection heuristic from the HNSW
	// paper instead of plain nearest-M. It usually improves recall on
	// clustered data.
	Heuristic bool

	// Distance is the distance function. Defaults to metric.SquaredL2.
	Distance metric.DistanceFunc
}

// DefaultOptions are the options used when New receives no overrides.
var DefaultOptions = Options{
	M:              16,
	EFConstruction: 200,
	EFSearch:       50,
	Heuristic:      true,
	Distance:       metric.SquaredL2,
}

// Index is an HNSW graph. It is safe for concurrent use.
type Index struct {
	dimension int
	mmax      int     // max connections per element per layer
	mmax0     int     // max connections on layer 0
	ml        float64 // normalization factor for level generation
	ep        uint32  // entry point
	maxLevel  int

	nodes   []*Node
	deleted *roaring.Bitmap

	opts Options

	mu sync.Mutex
}

// New creates an empty index for vectors of the given dimension.
func New(dimension int, optFns ...func(o *Options)) *Index {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		// M == 1 would make the level normalization 1/log(M) divide by zero.
		opts.M = 2
	}
	if opts.Distance == nil {
		opts.Distance = metric.SquaredL2
	}

	deleted := roaring.New()
	deleted.Add(0) // entry sentinel, never a result

	return &Index{
		dimension: dimension,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ml:        1 / math.Log(float64(opts.M)),
		nodes: []*Node{{
			ID:          0,
			Layer:       0,
			Vector:      make([]float32, dimension),
			Connections: make([][]uint32, 1),
		}},
		deleted: deleted,
		opts:    opts,
	}
}

// Dimension returns the configured vector dimension.
func (h *Index) Dimension() int { return h.dimension }

// Options returns the options the index was built with.
func (h *Index) Options() Options { return h.opts }

// SetEFSearch updates the default search candidate list size.
func (h *Index) SetEFSearch(ef int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ef > 0 {
		h.opts.EFSearch = ef
	}
}

// Len returns the number of live (inserted and not deleted) vectors.
func (h *Index) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.nodes) - int(h.deleted.GetCardinality())
}

// Vector returns the stored vector for a live node id.
func (h *Index) Vector(id uint32) ([]float32, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if int(id) >= len(h.nodes) || h.deleted.Contains(id) {
		return nil, false
	}
	return h.nodes[id].Vector, true
}

// Insert adds a vector and returns its id. Ids are assigned in insertion
// order starting at 1.
func (h *Index) Insert(v []float32) (uint32, error) {
	if len(v) != h.dimension {
		return 0, &DimensionMismatchError{Expected: h.dimension, Actual: len(v)}
	}

	// Copy so later caller mutation cannot corrupt the graph.
	vec := make([]float32, len(v))
	copy(vec, v)

	h.mu.Lock()
	defer h.mu.Unlock()

	id := uint32(len(h.nodes))
	layer := int(math.Floor(-math.Log(rand.Float64()) * h.ml)) //nolint:gosec

	node := &Node{
		ID:          id,
		Vector:      vec,
		Layer:       layer,
		Connections: make([][]uint32, layer+1),
	}

	// Greedy descent through the layers above the new node's top layer.
	currObj, currDist, err := h.greedyDescend(vec, layer)
	if err != nil {
		return 0, err
	}

	for level := min(layer, h.maxLevel); level >= 0; level-- {
		top := queue.NewMax()
		if err := h.searchLayer(vec, &queue.Item{Node: currObj, Distance: currDist}, top, h.opts.EFConstruction, level, nil); err != nil {
			return 0, err
		}

		if h.opts.Heuristic {
			h.selectNeighboursHeuristic(top, h.opts.M)
		} else {
			h.selectNeighboursSimple(top, h.opts.M)
		}

		node.Connections[level] = make([]uint32, top.Len())
		for i := top.Len() - 1; i >= 0; i-- {
			candidate, _ := heap.Pop(top).(*queue.Item)
			node.Connections[level][i] = candidate.Node
		}
	}

	h.nodes = append(h.nodes, node)

	// Back-link the neighbours, making the node reachable.
	for level := min(layer, h.maxLevel); level >= 0; level-- {
		for _, neighbour := range node.Connections[level] {
			h.link(neighbour, node.ID, level)
		}
	}

	if layer > h.maxLevel {
		h.ep = node.ID
		h.maxLevel = layer
	}

	return id, nil
}

// Delete tombstones a node. The vector stays in the graph for routing until
// the index is rebuilt.
func (h *Index) Delete(id uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id == 0 || int(id) >= len(h.nodes) || h.deleted.Contains(id) {
		return &NodeNotFoundError{ID: id}
	}
	h.deleted.Add(id)
	return nil
}

// TombstoneCount returns the number of tombstoned vectors, excluding the
// internal sentinel.
func (h *Index) TombstoneCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int(h.deleted.GetCardinality()) - 1
}

// Result is a single search hit.
type Result struct {
	ID       uint32
	Distance float32
}

// Search returns the k nearest live vectors to q, ascending by distance with
// ties broken by insertion order. Fewer than k results are returned when the
// index holds fewer live vectors. ef <= 0 uses Options.EFSearch.
func (h *Index) Search(q []float32, k int, ef int) ([]Result, error) {
	if len(q) != h.dimension {
		return nil, &DimensionMismatchError{Expected: h.dimension, Actual: len(q)}
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if ef <= 0 {
		ef = h.opts.EFSearch
	}
	if ef < k {
		ef = k
	}

	currObj := h.nodes[h.ep]
	curr, currDist, err := h.descendToLayerZero(q, currObj)
	if err != nil {
		return nil, err
	}

	top := queue.NewMax()
	if err := h.searchLayer(q, &queue.Item{Node: curr, Distance: currDist}, top, ef, 0, h.deleted); err != nil {
		return nil, err
	}

	for top.Len() > k {
		heap.Pop(top)
	}

	// Drain the max-heap into ascending order.
	results := make([]Result, top.Len())
	for i := top.Len() - 1; i >= 0; i-- {
		item, _ := heap.Pop(top).(*queue.Item)
		results[i] = Result{ID: item.Node, Distance: item.Distance}
	}

	return results, nil
}

// greedyDescend walks from the entry point down to targetLayer+1, following
// strictly improving links.
func (h *Index) greedyDescend(v []float32, targetLayer int) (uint32, float32, error) {
	currObj := h.nodes[h.ep]

	currDist, err := h.opts.Distance(currObj.Vector, v)
	if err != nil {
		return 0, 0, err
	}

	for level := currObj.Layer; level > targetLayer; level-- {
		changed := true
		for changed {
			changed = false

			if level >= len(currObj.Connections) {
				continue
			}
			for _, id := range currObj.Connections[level] {
				next := h.nodes[id]
				nextDist, err := h.opts.Distance(next.Vector, v)
				if err != nil {
					return 0, 0, err
				}
				if nextDist < currDist {
					currObj = next
					currDist = nextDist
					changed = true
				}
			}
		}
	}

	return currObj.ID, currDist, nil
}

// descendToLayerZero finds the best entry into layer 0 for a query.
func (h *Index) descendToLayerZero(q []float32, currObj *Node) (uint32, float32, error) {
	currDist, err := h.opts.Distance(q, currObj.Vector)
	if err != nil {
		return 0, 0, err
	}

	for level := h.maxLevel; level > 0; level-- {
		scan := true
		for scan {
			scan = false

			if level >= len(currObj.Connections) {
				continue
			}
			for _, id := range currObj.Connections[level] {
				dist, err := h.opts.Distance(h.nodes[id].Vector, q)
				if err != nil {
					return 0, 0, err
				}
				if dist < currDist {
					currObj = h.nodes[id]
					currDist = dist
					scan = true
				}
			}
		}
	}

	return currObj.ID, currDist, nil
}

// searchLayer performs the beam search within one layer. Tombstoned nodes in
// skip are traversed for routing but never surface in top.
func (h *Index) searchLayer(q []float32, ep *queue.Item, top *queue.Distance, ef int, level int, skip *roaring.Bitmap) error {
	visited := roaring.New()
	visited.Add(ep.Node)

	candidates := queue.NewMin()
	heap.Push(candidates, &queue.Item{Node: ep.Node, Distance: ep.Distance})

	if skip == nil || !skip.Contains(ep.Node) {
		heap.Push(top, &queue.Item{Node: ep.Node, Distance: ep.Distance})
	}

	for candidates.Len() > 0 {
		candidate, _ := heap.Pop(candidates).(*queue.Item)

		if top.Len() >= ef && candidate.Distance > top.Top().Distance {
			break
		}

		node := h.nodes[candidate.Node]
		if level >= len(node.Connections) {
			continue
		}

		for _, n := range node.Connections[level] {
			if visited.Contains(n) {
				continue
			}
			visited.Add(n)

			distance, err := h.opts.Distance(q, h.nodes[n].Vector)
			if err != nil {
				return err
			}

			if top.Len() < ef || distance < top.Top().Distance {
				heap.Push(candidates, &queue.Item{Node: n, Distance: distance})
				if skip == nil || !skip.Contains(n) {
					heap.Push(top, &queue.Item{Node: n, Distance: distance})
					if top.Len() > ef {
						heap.Pop(top)
					}
				}
			}
		}
	}

	return nil
}

// link connects first -> second at the given level, pruning back to the
// connection budget when the neighbour list overflows.
func (h *Index) link(first, second uint32, level int) {
	maxConnections := h.mmax
	if level == 0 {
		maxConnections = h.mmax0
	}

	node := h.nodes[first]
	if level >= len(node.Connections) {
		return
	}
	node.Connections[level] = append(node.Connections[level], second)

	if len(node.Connections[level]) <= maxConnections {
		return
	}

	top := queue.NewMax()
	for _, id := range node.Connections[level] {
		distance, err := h.opts.Distance(node.Vector, h.nodes[id].Vector)
		if err != nil {
			// Stored vectors always share the index dimension.
			continue
		}
		heap.Push(top, &queue.Item{Node: id, Distance: distance})
	}

	if h.opts.Heuristic {
		h.selectNeighboursHeuristic(top, maxConnections)
	} else {
		h.selectNeighboursSimple(top, maxConnections)
	}

	if top.Len() < maxConnections {
		maxConnections = top.Len()
	}
	node.Connections[level] = make([]uint32, maxConnections)
	for i := maxConnections - 1; i >= 0; i-- {
		item, _ := heap.Pop(top).(*queue.Item)
		node.Connections[level][i] = item.Node
	}
}

// selectNeighboursSimple keeps the M closest candidates.
func (h *Index) selectNeighboursSimple(top *queue.Distance, m int) {
	for top.Len() > m {
		heap.Pop(top)
	}
}

// selectNeighboursHeuristic keeps candidates that are closer to the base
// vector than to any already kept candidate, falling back to discarded ones
// when fewer than M survive. See the HNSW paper, algorithm 4.
func (h *Index) selectNeighboursHeuristic(top *queue.Distance, m int) {
	if top.Len() <= m {
		return
	}

	// Re-order candidates closest-first.
	byDistance := queue.NewMin()
	for top.Len() > 0 {
		item, _ := heap.Pop(top).(*queue.Item)
		heap.Push(byDistance, item)
	}

	kept := make([]*queue.Item, 0, m)
	discarded := queue.NewMin()

	for byDistance.Len() > 0 && len(kept) < m {
		item, _ := heap.Pop(byDistance).(*queue.Item)

		hit := true
		for _, keep := range kept {
			distance, err := h.opts.Distance(h.nodes[keep.Node].Vector, h.nodes[item.Node].Vector)
			if err == nil && distance < item.Distance {
				hit = false
				break
			}
		}

		if hit {
			kept = append(kept, item)
		} else {
			heap.Push(discarded, item)
		}
	}

	for len(kept) < m && discarded.Len() > 0 {
		item, _ := heap.Pop(discarded).(*queue.Item)
		kept = append(kept, item)
	}

	for _, item := range kept {
		heap.Push(top, item)
	}
}
