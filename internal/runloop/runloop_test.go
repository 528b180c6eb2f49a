package runloop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoop_Post_RunsInOrder(t *testing.T) {
	loop := New(nil)
	loop.Start()
	defer loop.Stop()

	var got []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 1; i <= 3; i++ {
		i := i
		require.True(t, loop.Post(func() {
			got = append(got, i)
			wg.Done()
		}))
	}
	wg.Wait()
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestLoop_Call_WaitsForCompletion(t *testing.T) {
	loop := New(nil)
	loop.Start()
	defer loop.Stop()

	ran := false
	require.True(t, loop.Call(func() {
		time.Sleep(10 * time.Millisecond)
		ran = true
	}))
	require.True(t, ran)
}

func TestLoop_Call_AfterStop_ReturnsFalse(t *testing.T) {
	loop := New(nil)
	loop.Start()
	loop.Stop()

	require.False(t, loop.Call(func() {
		t.Fatal("must not run after stop")
	}))
	require.False(t, loop.Post(func() {}))
}

func TestLoop_SerializesConcurrentWork(t *testing.T) {
	loop := New(nil)
	loop.Start()
	defer loop.Stop()

	// Unsynchronized counter: correct final value proves the loop is the
	// only writer.
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.Call(func() { counter++ })
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
}

func TestLoop_AfterFunc_FiresOnLoop(t *testing.T) {
	loop := New(nil)
	loop.Start()
	defer loop.Stop()

	fired := make(chan struct{})
	loop.AfterFunc(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestLoop_AfterFunc_CancelPreventsRun(t *testing.T) {
	loop := New(nil)
	loop.Start()
	defer loop.Stop()

	token := loop.AfterFunc(10*time.Millisecond, func() {
		t.Error("cancelled timer must not run")
	})
	token.Cancel()
	require.True(t, token.Cancelled())

	time.Sleep(30 * time.Millisecond)
}

func TestLoop_AfterFunc_CancelAfterFire_SuppressesQueuedRun(t *testing.T) {
	loop := New(nil)
	loop.Start()
	defer loop.Stop()

	ran := make(chan struct{}, 1)
	var token *Token

	// Hold the loop busy so the fired timer sits queued, then cancel
	// before the queue drains.
	release := make(chan struct{})
	loop.Post(func() { <-release })
	token = loop.AfterFunc(time.Millisecond, func() { ran <- struct{}{} })

	time.Sleep(20 * time.Millisecond)
	token.Cancel()
	close(release)

	select {
	case <-ran:
		t.Fatal("timer ran despite cancellation after fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestToken_NilCancel_IsSafe(t *testing.T) {
	var token *Token
	token.Cancel()
	require.True(t, token.Cancelled())
}
