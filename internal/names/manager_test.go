package names

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/namefeed/internal/loop"
)

// slowStore blocks every call until release is closed.
type slowStore struct {
	*MemoryStore
	release chan struct{}
}

func (s *slowStore) Store(ctx context.Context, name string) error {
	<-s.release
	return s.MemoryStore.Store(ctx, name)
}

type failingStore struct{}

func (failingStore) Store(context.Context, string) error { return errors.New("disk full") }
func (failingStore) RetrieveAll(context.Context) ([]string, error) {
	return nil, errors.New("disk full")
}

func stopManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
}

func TestManager_StoreNameDoesNotBlock(t *testing.T) {
	store := &slowStore{MemoryStore: NewMemoryStore(), release: make(chan struct{})}
	m := NewManager(store)

	start := time.Now()
	require.NoError(t, m.StoreName("Ryan"))
	require.NoError(t, m.StoreName("Meg"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Zero(t, store.Len())

	close(store.release)
	assert.Eventually(t, func() bool { return store.Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	stopManager(t, m)
}

func TestManager_RequestAllRepliesOnConsumer(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	defer stopManager(t, m)

	require.NoError(t, m.StoreName("Ryan"))
	require.NoError(t, m.StoreName("Meg"))

	consumer := loop.New("consumer")
	var got []string
	replied := false
	require.NoError(t, m.RequestAll(consumer, func(names []string, err error) {
		require.NoError(t, err)
		got = names
		replied = true
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, consumer.Wait(ctx))
	assert.False(t, replied, "reply runs only when the consumer drains")

	consumer.ProcessEvents()
	assert.True(t, replied)
	assert.Equal(t, []string{"Ryan", "Meg"}, got, "requests run in order")
}

func TestManager_RequestAllReportsErrors(t *testing.T) {
	m := NewManager(failingStore{})
	defer stopManager(t, m)

	consumer := loop.New("consumer")
	var gotErr error
	require.NoError(t, m.RequestAll(consumer, func(_ []string, err error) { gotErr = err }))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, consumer.Wait(ctx))
	consumer.ProcessEvents()
	assert.EqualError(t, gotErr, "disk full")
}

func TestManager_StopRunsQueuedRequests(t *testing.T) {
	store := &slowStore{MemoryStore: NewMemoryStore(), release: make(chan struct{})}
	m := NewManager(store)

	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, m.StoreName(n))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, m.Stop(ctx))
	}()

	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	assert.Equal(t, 3, store.Len())
	assert.ErrorIs(t, m.StoreName("late"), ErrStopped)
	assert.ErrorIs(t, m.RequestAll(loop.New("c"), func([]string, error) {}), ErrStopped)
	assert.ErrorIs(t, m.Flush(context.Background()), ErrStopped)
}

func TestManager_StopTimeout(t *testing.T) {
	store := &slowStore{MemoryStore: NewMemoryStore(), release: make(chan struct{})}
	defer close(store.release)
	m := NewManager(store)
	require.NoError(t, m.StoreName("stuck"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Stop(ctx), context.DeadlineExceeded)
}

func TestManager_Flush(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	defer stopManager(t, m)

	for i := 0; i < 50; i++ {
		require.NoError(t, m.StoreName("n"))
	}
	require.NoError(t, m.Flush(context.Background()))
	assert.Equal(t, 50, store.Len())
}
