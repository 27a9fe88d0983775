package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOAndClose(t *testing.T) {
	tx, rx := New[int]()
	for i := 0; i < 5; i++ {
		require.True(t, tx.Send(i))
	}
	tx.Release()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		v, err := rx.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	_, err := rx.Recv(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = rx.Recv(ctx)
	assert.ErrorIs(t, err, ErrClosed, "closure must be sticky")
}

func TestQueue_CloneKeepsQueueOpen(t *testing.T) {
	tx, rx := New[string]()
	tx2 := tx.Clone()
	tx.Release()
	tx.Release() // idempotent

	_, st := rx.TryRecv()
	assert.Equal(t, Empty, st)

	assert.False(t, tx.Send("dropped"), "released handle must discard")
	assert.True(t, tx2.Send("kept"))
	tx2.Release()

	v, st := rx.TryRecv()
	assert.Equal(t, Ready, st)
	assert.Equal(t, "kept", v)
	_, st = rx.TryRecv()
	assert.Equal(t, Closed, st)

	late := tx2.Clone()
	assert.False(t, late.Send("late"), "clone of a closed queue discards")
}

func TestQueue_RecvWakesOnSend(t *testing.T) {
	tx, rx := New[int]()
	got := make(chan int, 1)
	go func() {
		v, err := rx.Recv(context.Background())
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	tx.Send(42)

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never woke up")
	}
}

func TestQueue_RecvCancelled(t *testing.T) {
	_, rx := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := rx.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_ReceiverCloseDiscards(t *testing.T) {
	tx, rx := New[int]()
	tx.Send(1)
	tx.Send(2)
	rx.Close()

	assert.False(t, tx.Send(3))
	_, err := rx.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	st := rx.Stats()
	assert.Equal(t, uint64(2), st.Enqueued)
	assert.Equal(t, uint64(3), st.Discarded)
}

func TestQueue_ConcurrentProducersPreserveOrder(t *testing.T) {
	const producers = 8
	const perProducer = 500

	type item struct{ producer, seq int }
	tx, rx := New[item]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		h := tx.Clone()
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			defer h.Release()
			for i := 0; i < perProducer; i++ {
				h.Send(item{p, i})
			}
		}(p)
	}
	tx.Release()

	next := make([]int, producers)
	total := 0
	for {
		it, err := rx.Recv(context.Background())
		if err != nil {
			require.ErrorIs(t, err, ErrClosed)
			break
		}
		require.Equal(t, next[it.producer], it.seq, "producer %d out of order", it.producer)
		next[it.producer]++
		total++
	}
	wg.Wait()
	assert.Equal(t, producers*perProducer, total)
}

func TestQueue_BoundedBlocksUntilRoom(t *testing.T) {
	tx, rx := NewBounded[int](1)
	require.True(t, tx.Send(1))

	sent := make(chan bool, 1)
	go func() { sent <- tx.Send(2) }()

	select {
	case <-sent:
		t.Fatal("send on a full bounded queue must wait")
	case <-time.After(30 * time.Millisecond):
	}

	v, err := rx.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	select {
	case ok := <-sent:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked sender was not released")
	}
	assert.Equal(t, 1, rx.Len())
}

func TestQueue_BoundedReleasedByReceiverClose(t *testing.T) {
	tx, rx := NewBounded[int](1)
	tx.Send(1)

	sent := make(chan bool, 1)
	go func() { sent <- tx.Send(2) }()
	time.Sleep(20 * time.Millisecond)
	rx.Close()

	select {
	case ok := <-sent:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked sender was not released by receiver close")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "empty", Empty.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestQueue_OnDepthTracksBacklog(t *testing.T) {
	tx, rx := New[int]()
	tx.Send(1)

	var mu sync.Mutex
	depth := 0
	rx.OnDepth(func(delta int) {
		mu.Lock()
		depth += delta
		mu.Unlock()
	})
	current := func() int {
		mu.Lock()
		defer mu.Unlock()
		return depth
	}
	assert.Equal(t, 1, current(), "existing backlog is reported on install")

	tx.Send(2)
	tx.Send(3)
	assert.Equal(t, 3, current())

	_, err := rx.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, current())

	rx.Close()
	assert.Zero(t, current(), "discarded items leave the backlog")
	tx.Send(4)
	assert.Zero(t, current())
}
