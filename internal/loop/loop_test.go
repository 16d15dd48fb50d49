package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_ProcessEventsRunsInOrderOnCaller(t *testing.T) {
	l := New("test")

	var got []int
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Post(func() { got = append(got, i) }))
	}
	assert.True(t, l.HasPendingEvents())

	assert.Equal(t, 5, l.ProcessEvents())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.False(t, l.HasPendingEvents())
}

func TestLoop_TasksPostedByTasksRunInSameDrain(t *testing.T) {
	l := New("test")

	var got []string
	require.NoError(t, l.Post(func() {
		got = append(got, "outer")
		_ = l.Post(func() { got = append(got, "inner") })
	}))

	assert.Equal(t, 2, l.ProcessEvents())
	assert.Equal(t, []string{"outer", "inner"}, got)
}

func TestLoop_ConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	l := New("test")

	const producers, perProducer = 4, 250
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = l.Post(func() {})
			}
		}()
	}

	seen := make([][]int, producers)
	var seenMu sync.Mutex
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = l.Post(func() {
					seenMu.Lock()
					seen[p] = append(seen[p], i)
					seenMu.Unlock()
				})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2*producers*perProducer, l.ProcessEvents())
	for p := 0; p < producers; p++ {
		require.Len(t, seen[p], perProducer)
		for i, v := range seen[p] {
			assert.Equal(t, i, v)
		}
	}
}

func TestLoop_RunDrainsUntilCancelled(t *testing.T) {
	l := New("test")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	ran := make(chan struct{})
	require.NoError(t, l.Post(func() { close(ran) }))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestLoop_WaitReturnsWhenPosted(t *testing.T) {
	l := New("test")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = l.Post(func() {})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx))
	assert.Equal(t, 1, l.ProcessEvents())
}

func TestLoop_CloseRejectsPosts(t *testing.T) {
	l := New("test")
	require.NoError(t, l.Post(func() {}))
	l.Close()

	assert.ErrorIs(t, l.Post(func() {}), ErrClosed)
	assert.Equal(t, 1, l.ProcessEvents(), "queued work survives Close")
}

func TestLoop_PanickingTaskIsRecovered(t *testing.T) {
	l := New("test")

	after := false
	require.NoError(t, l.Post(func() { panic("boom") }))
	require.NoError(t, l.Post(func() { after = true }))

	assert.NotPanics(t, func() { l.ProcessEvents() })
	assert.True(t, after)
}
