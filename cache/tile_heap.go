package cache

import (
	"container/heap"

	"github.com/drummonds/pdftiles/tile"
)

type heapEntry struct {
	tile  *tile.Tile
	index int
}

// tileHeap is a max-heap on Order: the root is the least important tile.
type tileHeap []*heapEntry

func (h tileHeap) Len() int           { return len(h) }
func (h tileHeap) Less(i, j int) bool { return h[i].tile.Order > h[j].tile.Order }
func (h tileHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *tileHeap) Push(x any) {
	e := x.(*heapEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *tileHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// generation is a heap plus a key index so lookups and arbitrary removals stay cheap.
type generation struct {
	heap  tileHeap
	index map[tile.Key]*heapEntry
}

func newGeneration() *generation {
	return &generation{index: make(map[tile.Key]*heapEntry)}
}

func (g *generation) Len() int { return len(g.heap) }

func (g *generation) get(k tile.Key) *tile.Tile {
	if e, ok := g.index[k]; ok {
		return e.tile
	}
	return nil
}

func (g *generation) push(t *tile.Tile) {
	e := &heapEntry{tile: t}
	heap.Push(&g.heap, e)
	g.index[t.Key] = e
}

func (g *generation) remove(k tile.Key) *tile.Tile {
	e, ok := g.index[k]
	if !ok {
		return nil
	}
	heap.Remove(&g.heap, e.index)
	delete(g.index, k)
	return e.tile
}

// popLeastImportant removes the tile with the largest order
func (g *generation) popLeastImportant() *tile.Tile {
	if len(g.heap) == 0 {
		return nil
	}
	e := heap.Pop(&g.heap).(*heapEntry)
	delete(g.index, e.tile.Key)
	return e.tile
}

func (g *generation) each(fn func(*tile.Tile) bool) bool {
	for _, e := range g.heap {
		if !fn(e.tile) {
			return false
		}
	}
	return true
}

func (g *generation) reset() {
	g.heap = nil
	g.index = make(map[tile.Key]*heapEntry)
}
