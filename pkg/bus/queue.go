package bus

import (
	"container/heap"

	"github.com/docsieve/docsieve/pkg/signal"
)

// queuedSignal is one signal waiting in a channel queue.
type queuedSignal struct {
	sig *signal.Signal
	seq int64
	// index is maintained by heap.Interface methods.
	index int
}

// signalHeap orders queued signals by priority, then by enqueue sequence so
// that equal-priority signals dispatch in publish order.
type signalHeap []*queuedSignal

func (h signalHeap) Len() int { return len(h) }

func (h signalHeap) Less(i, j int) bool {
	if h[i].sig.Priority != h[j].sig.Priority {
		return h[i].sig.Priority > h[j].sig.Priority
	}
	return h[i].seq < h[j].seq
}

func (h signalHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *signalHeap) Push(x any) {
	item := x.(*queuedSignal)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *signalHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// signalQueue is a bounded priority queue of signals. It is not safe for
// concurrent use; the owning Channel serializes access under its own lock.
type signalQueue struct {
	heap signalHeap
	seq  int64
}

func newSignalQueue() *signalQueue {
	return &signalQueue{heap: make(signalHeap, 0)}
}

// Len returns the number of queued signals.
func (q *signalQueue) Len() int {
	return q.heap.Len()
}

// Push adds a signal to the queue.
func (q *signalQueue) Push(sig *signal.Signal) {
	item := &queuedSignal{sig: sig, seq: q.seq}
	q.seq++
	heap.Push(&q.heap, item)
}

// Pop removes and returns the highest-priority, oldest signal, or nil if
// the queue is empty.
func (q *signalQueue) Pop() *signal.Signal {
	if q.heap.Len() == 0 {
		return nil
	}
	item := heap.Pop(&q.heap).(*queuedSignal)
	return item.sig
}

// DisplaceOldestLow removes and returns the oldest low-priority signal, or
// nil if none is queued. Used when a high-priority enqueue must claim a
// slot on a saturated channel.
func (q *signalQueue) DisplaceOldestLow() *signal.Signal {
	oldest := -1
	for i, item := range q.heap {
		if item.sig.Priority != signal.PriorityLow {
			continue
		}
		if oldest == -1 || item.seq < q.heap[oldest].seq {
			oldest = i
		}
	}
	if oldest == -1 {
		return nil
	}
	item := heap.Remove(&q.heap, oldest).(*queuedSignal)
	return item.sig
}
