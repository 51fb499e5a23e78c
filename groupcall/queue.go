package groupcall

import (
	"sync"

	"github.com/Connect-Club/connectclub-calls-client/conference"
)

type renegotiation struct {
	conference *conference.Conference
	// answer marks the relay's answer to our own offer, applied without a
	// local answer of ours.
	answer bool
	done   chan error
}

func (r *renegotiation) finish(err error) {
	if r.done != nil {
		r.done <- err
	}
}

// renegotiationQueue is a FIFO of conference snapshots. It is drained by a
// single consumer.
type renegotiationQueue struct {
	mu    sync.Mutex
	items []*renegotiation
}

func (q *renegotiationQueue) push(item *renegotiation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

func (q *renegotiationQueue) pop() *renegotiation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item
}

func (q *renegotiationQueue) clear() []*renegotiation {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *renegotiationQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
