//go:build linux

package paclient

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestWorkerThreadRetiredAfterStop(t *testing.T) {
	ml := NewMainloop()
	var workerTid int
	ml.OnThreadStart = func() { workerTid = unix.Gettid() }

	require.NoError(t, ml.Start())
	require.NoError(t, ml.Flush())
	ml.Stop()
	require.NotZero(t, workerTid)

	// Hold many threads at once, so that a returned worker thread would be picked up by one of them.
	const goroutines = 32
	tids := make([]int, goroutines)
	release := make(chan struct{})
	var started, finished sync.WaitGroup
	started.Add(goroutines)
	finished.Add(goroutines)
	for i := range goroutines {
		go func() {
			defer finished.Done()
			runtime.LockOSThread()
			tids[i] = unix.Gettid()
			started.Done()
			<-release
		}()
	}
	started.Wait()
	close(release)
	finished.Wait()

	for _, tid := range tids {
		assert.NotEqual(t, workerTid, tid, "worker thread was reused after Stop")
	}
}

func TestWorkerWithoutHookRunsOnLockedThread(t *testing.T) {
	ml := startedMainloop(t)

	tids := make(chan int, 2)
	for range 2 {
		ml.Defer(func() { tids <- unix.Gettid() })
		require.NoError(t, ml.Flush())
	}
	assert.Equal(t, <-tids, <-tids)
}
