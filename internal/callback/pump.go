package callback

import (
	"sync"
	"time"

	"github.com/Connect-Club/connectclub-calls-client/internal/task"
	"github.com/sirupsen/logrus"
)

// Pump invokes posted callbacks one after another on a single goroutine, in
// the order they were posted. Callbacks still buffered on Close are run
// before the pump exits.
type Pump struct {
	log       *logrus.Entry
	ch        chan func()
	closeCh   chan task.Signal
	doneCh    chan task.Signal
	closeOnce sync.Once
}

func NewPump(log *logrus.Entry, size int) *Pump {
	p := &Pump{
		log:     log,
		ch:      make(chan func(), size),
		closeCh: make(chan task.Signal),
		doneCh:  make(chan task.Signal),
	}
	go func() {
		defer close(p.doneCh)
		for {
			select {
			case <-p.closeCh:
				p.drain()
				return
			case fn := <-p.ch:
				p.call(fn)
			}
		}
	}()
	return p
}

func (p *Pump) drain() {
	for {
		select {
		case fn := <-p.ch:
			p.call(fn)
		default:
			return
		}
	}
}

func (p *Pump) call(fn func()) {
	p.log.Trace("⤵")
	defer p.log.Trace("⤴")
	fn()
}

// Post queues fn. It reports false when the pump is already closed.
func (p *Pump) Post(fn func()) bool {
	select {
	case <-p.closeCh:
		return false
	default:
	}
	select {
	case <-p.closeCh:
		return false
	case p.ch <- fn:
		return true
	}
}

func (p *Pump) Close(timeout time.Duration) error {
	p.closeOnce.Do(func() {
		close(p.closeCh)
	})
	select {
	case <-p.doneCh:
		return nil
	case <-time.After(timeout):
		return task.TimeoutError
	}
}
