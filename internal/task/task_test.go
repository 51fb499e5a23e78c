package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCollapsesScheduledCalls(t *testing.T) {
	var calls int32
	release := make(chan Signal)
	started := make(chan Signal, 10)
	task := Create(func(ctx context.Context) {
		started <- Signal{}
		atomic.AddInt32(&calls, 1)
		<-release
	}, 0, true)

	task.Run()
	<-started
	task.Run()
	task.Run()
	task.Run()
	close(release)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.NoError(t, task.Stop(time.Second))
}

func TestPeriodic(t *testing.T) {
	var calls int32
	task := CreatePeriodic(func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
	}, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 3
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, task.Stop(time.Second))

	stopped := atomic.LoadInt32(&calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&calls))
}
