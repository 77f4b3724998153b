package clip

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrQueueClosed reports an enqueue after Close.
var ErrQueueClosed = errors.New("clip queue closed")

type queuedRequest struct {
	req *Request
	seq uint64
}

// Copied from container/heap - https://golang.org/pkg/container/heap/
// Why make copy? Just want to avoid type conversion

type requestHeap []*queuedRequest

func (h requestHeap) Len() int { return len(h) }
func (h requestHeap) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority > h[j].req.Priority
	}
	// FIFO among equal priorities.
	return h[i].seq < h[j].seq
}
func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push pushes the element x onto the heap.
// The complexity is O(log n) where n = h.Len().
func (h *requestHeap) Push(x *queuedRequest) {
	*h = append(*h, x)
	h.up(h.Len() - 1)
}

// Pop removes and returns the highest-priority element from the heap.
// The complexity is O(log n) where n = h.Len().
func (h *requestHeap) Pop() *queuedRequest {
	n := h.Len() - 1
	h.Swap(0, n)
	h.down(0, n)
	heapSize := len(*h)
	lastNode := (*h)[heapSize-1]
	*h = (*h)[0 : heapSize-1]
	return lastNode
}

func (h requestHeap) up(j int) {
	for {
		i := (j - 1) / 2
		if i == j || !h.Less(j, i) {
			break
		}
		h.Swap(i, j)
		j = i
	}
}

func (h requestHeap) down(i0, n int) bool {
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1
		if j2 := j1 + 1; j2 < n && h.Less(j2, j1) {
			j = j2
		}
		if !h.Less(j, i) {
			break
		}
		h.Swap(i, j)
		i = j
	}
	return i > i0
}

// Queue is a blocking priority queue of clip requests. Critical requests are
// served before high, high before medium; equal priorities drain in arrival
// order.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heap    requestHeap
	nextSeq uint64
	closed  bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a request. Fails once the queue is closed.
func (q *Queue) Enqueue(req *Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.heap.Push(&queuedRequest{req: req, seq: q.nextSeq})
	q.nextSeq++
	q.cond.Signal()
	return nil
}

// Dequeue blocks until a request is available or the queue is closed and
// drained. The second return is false only in the latter case.
func (q *Queue) Dequeue() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.heap) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.heap) == 0 {
		return nil, false
	}
	return q.heap.Pop().req, true
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Close stops accepting requests and wakes blocked consumers. Requests
// already queued can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
