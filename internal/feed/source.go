// Package feed merges per-symbol, per-kind event streams into the single
// time-ordered sequence consumed by the event loop.
package feed

import (
	"container/heap"
	stderrors "errors"

	"github.com/yanun0323/errors"

	"quant/internal/schema"
)

var ErrUnsortedStream = stderrors.New("stream is not time-sorted")

type cursor struct {
	events []schema.Event
	pos    int
	idx    int // registration order, final tie break
}

func (c *cursor) head() schema.Event {
	return c.events[c.pos]
}

type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	a, b := h[i].head(), h[j].head()
	if a.Before(b) {
		return true
	}
	if b.Before(a) {
		return false
	}
	return h[i].idx < h[j].idx
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*cursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Source is a k-way merge over already-sorted streams. The emitted order is
// deterministic: (timestamp, variant priority, symbol id), with stream
// registration order breaking exact ties. Each emitted event is stamped with
// a monotone sequence number.
type Source struct {
	heap cursorHeap
	seq  uint64
}

// NewSource validates and registers the streams. Every stream must be sorted
// by non-decreasing timestamp.
func NewSource(streams ...[]schema.Event) (*Source, error) {
	s := &Source{}
	for i, events := range streams {
		if len(events) == 0 {
			continue
		}
		for j := 1; j < len(events); j++ {
			if events[j].Ts.Before(events[j-1].Ts) {
				return nil, errors.Wrapf(ErrUnsortedStream, "stream %d index %d", i, j)
			}
		}
		s.heap = append(s.heap, &cursor{events: events, idx: i})
	}
	heap.Init(&s.heap)
	return s, nil
}

// Next returns the next event in the total order, or false when exhausted.
func (s *Source) Next() (schema.Event, bool) {
	if len(s.heap) == 0 {
		return schema.Event{}, false
	}
	top := s.heap[0]
	evt := top.head()
	top.pos++
	if top.pos >= len(top.events) {
		heap.Pop(&s.heap)
	} else {
		heap.Fix(&s.heap, 0)
	}
	s.seq++
	evt.Seq = s.seq
	return evt, true
}

// Peek returns the next event without consuming it.
func (s *Source) Peek() (schema.Event, bool) {
	if len(s.heap) == 0 {
		return schema.Event{}, false
	}
	return s.heap[0].head(), true
}
