package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	got      []Report
	inFlight atomic.Int32
	overlap  atomic.Bool
	delay    time.Duration
	fail     func(Report) error
}

func (s *recordingSink) PublishDiagnostics(_ context.Context, r Report) error {
	if s.inFlight.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inFlight.Add(-1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.got = append(s.got, r)
	s.mu.Unlock()
	if s.fail != nil {
		return s.fail(r)
	}
	return nil
}

func (s *recordingSink) uris() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.got))
	for i, r := range s.got {
		out[i] = r.URI
	}
	return out
}

func runRelay(t *testing.T, sink Sink, opts ...Option) (*Publisher, <-chan error) {
	t.Helper()
	relay, pub := NewRelay(sink, opts...)
	errCh := make(chan error, 1)
	go func() { errCh <- relay.Run(context.Background()) }()
	return pub, errCh
}

func waitRelay(t *testing.T, errCh <-chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelay_SingleProducerOrder(t *testing.T) {
	gate := make(chan struct{})
	sink := &recordingSink{}
	pub, errCh := runRelay(t, SinkFunc(func(ctx context.Context, r Report) error {
		<-gate
		return sink.PublishDiagnostics(ctx, r)
	}))

	// The sink is blocked; publishing must still complete.
	for i := 0; i < 20; i++ {
		pub.Publish(Report{URI: fmt.Sprintf("file:///%02d.ttl", i)})
	}
	pub.Release()
	close(gate)
	waitRelay(t, errCh)

	want := make([]string, 20)
	for i := range want {
		want[i] = fmt.Sprintf("file:///%02d.ttl", i)
	}
	assert.Equal(t, want, sink.uris())
	assert.False(t, sink.overlap.Load(), "sink calls overlapped")
}

func TestRelay_SinkAwaitedOneAtATime(t *testing.T) {
	sink := &recordingSink{delay: 2 * time.Millisecond}
	pub, errCh := runRelay(t, sink, WithName("diag-serial"))
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		pp := pub.Clone()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer pp.Release()
			for i := 0; i < 5; i++ {
				pp.Publish(Report{URI: "x"})
			}
		}()
	}
	pub.Release()
	wg.Wait()
	waitRelay(t, errCh)
	assert.Len(t, sink.uris(), 20)
	assert.False(t, sink.overlap.Load())
}

func TestRelay_ConcurrentProducersNoLossNoDuplication(t *testing.T) {
	const producers = 6
	const each = 300

	sink := &recordingSink{}
	pub, errCh := runRelay(t, sink)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pp := pub.Clone()
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			defer pp.Release()
			for i := 0; i < each; i++ {
				pp.Publish(Report{URI: fmt.Sprintf("p%d", p), Findings: []Finding{{Message: fmt.Sprint(i)}}})
			}
		}(p)
	}
	pub.Release()
	wg.Wait()
	waitRelay(t, errCh)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.got, producers*each)

	// Per-producer order survives the merge.
	next := map[string]int{}
	for _, r := range sink.got {
		require.Len(t, r.Findings, 1)
		assert.Equal(t, fmt.Sprint(next[r.URI]), r.Findings[0].Message, "producer %s", r.URI)
		next[r.URI]++
	}
	for p := 0; p < producers; p++ {
		assert.Equal(t, each, next[fmt.Sprintf("p%d", p)])
	}
	assert.False(t, sink.overlap.Load())
}

func TestRelay_SinkFailureIsNotRetried(t *testing.T) {
	sink := &recordingSink{fail: func(r Report) error {
		if r.URI == "b" {
			return errors.New("client went away")
		}
		return nil
	}}
	pub, errCh := runRelay(t, sink)
	for _, uri := range []string{"a", "b", "c"} {
		pub.Publish(Report{URI: uri})
	}
	pub.Release()
	waitRelay(t, errCh)

	assert.Equal(t, []string{"a", "b", "c"}, sink.uris())
}

func TestRelay_EmptyFindingsStillDelivered(t *testing.T) {
	var got []Report
	var mu sync.Mutex
	pub, errCh := runRelay(t, SinkFunc(func(_ context.Context, r Report) error {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
		return nil
	}))
	v := int32(3)
	pub.Publish(Report{URI: "file:///a.ttl", Version: &v})
	pub.Release()
	waitRelay(t, errCh)

	require.Len(t, got, 1)
	assert.Empty(t, got[0].Findings)
	require.NotNil(t, got[0].Version)
	assert.Equal(t, int32(3), *got[0].Version)
}

func TestRelay_PublishAfterStopIsDropped(t *testing.T) {
	sink := &recordingSink{}
	relay, pub := NewRelay(sink)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, relay.Run(ctx), context.Canceled)
	assert.ErrorIs(t, relay.Run(context.Background()), ErrAlreadyRunning)

	pub.Publish(Report{URI: "late"})
	pub.Release()
	assert.Empty(t, sink.uris())
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "error", SeverityError.String())
	assert.Equal(t, "hint", SeverityHint.String())
	assert.Equal(t, "unknown", Severity(0).String())
}
