package task

import (
	"context"
	"errors"
	"time"
)

var TimeoutError = errors.New("timeout")

// Signal is the payload of wake-up channels.
type Signal struct{}

// Task runs fn on its own goroutine, one call at a time. With allowSchedule a
// Run issued while fn is executing is remembered and served afterwards;
// several such Runs collapse into one.
type Task struct {
	done   chan Signal
	tasks  chan Signal
	cancel context.CancelFunc
}

func Create(fn func(ctx context.Context), sleepDuration time.Duration, allowSchedule bool) *Task {
	ctx, cancel := context.WithCancel(context.Background())

	signalChanSize := 0
	if allowSchedule {
		signalChanSize = 1
	}

	task := &Task{
		done:   make(chan Signal),
		tasks:  make(chan Signal, signalChanSize),
		cancel: cancel,
	}
	go func() {
		defer close(task.done)
	cycle:
		for {
			select {
			case <-ctx.Done():
				break cycle
			case <-task.tasks:
				fn(ctx)
			}

			if sleepDuration <= 0 {
				continue
			}
			select {
			case <-ctx.Done():
				break cycle
			case <-time.After(sleepDuration):
			}
		}
	}()
	return task
}

// CreatePeriodic calls fn every interval until the task is stopped.
func CreatePeriodic(fn func(ctx context.Context), interval time.Duration) *Task {
	ctx, cancel := context.WithCancel(context.Background())

	task := &Task{
		done:   make(chan Signal),
		tasks:  make(chan Signal, 1),
		cancel: cancel,
	}
	go func() {
		defer close(task.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			case <-task.tasks:
				fn(ctx)
			}
		}
	}()
	return task
}

func (task *Task) Run() {
	select {
	case task.tasks <- Signal{}:
	default:
	}
}

func (task *Task) Stop(timeout time.Duration) error {
	task.cancel()
	task.drain()

	select {
	case <-task.done:
		return nil
	case <-time.After(timeout):
		return TimeoutError
	}
}

// drain drops a pending Run so a stopped task does not fire once more.
func (task *Task) drain() {
	for {
		select {
		case _, ok := <-task.tasks:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
