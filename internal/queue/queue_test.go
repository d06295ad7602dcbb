package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openmined/photoqueue/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

var errNetwork = errors.New("connection reset by peer")

type outcome struct {
	result *transport.Result
	err    error
}

type call struct {
	req      *transport.Request
	ctx      context.Context
	progress transport.ProgressFunc
	outcome  chan outcome
}

func (c *call) succeed(token string) {
	c.outcome <- outcome{result: &transport.Result{Token: token}}
}

func (c *call) fail(err error) {
	c.outcome <- outcome{err: err}
}

// scriptedTransport blocks every Send until the test resolves the call.
type scriptedTransport struct {
	calls     chan *call
	active    atomic.Int32
	maxActive atomic.Int32
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{calls: make(chan *call, 128)}
}

func (s *scriptedTransport) Send(ctx context.Context, req *transport.Request, progress transport.ProgressFunc) (*transport.Result, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	c := &call{req: req, ctx: ctx, progress: progress, outcome: make(chan outcome, 1)}
	s.calls <- c

	select {
	case o := <-c.outcome:
		return o.result, o.err
	case <-ctx.Done():
		return nil, transport.Aborted(ctx.Err())
	}
}

func (s *scriptedTransport) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-s.calls:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a transport call")
		return nil
	}
}

func (s *scriptedTransport) nextN(t *testing.T, n int) map[int]*call {
	t.Helper()
	calls := make(map[int]*call, n)
	for range n {
		c := s.next(t)
		calls[c.req.Sequence] = c
	}
	return calls
}

func (s *scriptedTransport) expectIdle(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case c := <-s.calls:
		t.Fatalf("unexpected transport call for sequence %d", c.req.Sequence)
	case <-time.After(d):
	}
}

func newTestQueue(t *testing.T, tr transport.Transport, mutate func(*Config)) *Queue {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 10 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	q, err := New(tr, cfg)
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q
}

func payloads(n int) []any {
	p := make([]any, n)
	for i := range p {
		p[i] = i
	}
	return p
}

func waitStatus(t *testing.T, q *Queue, id string, status Status) Item {
	t.Helper()
	var item Item
	require.Eventually(t, func() bool {
		var ok bool
		item, ok = q.Get(id)
		return ok && item.Status == status
	}, waitTimeout, time.Millisecond, "item %s never reached %s", id, status)
	return item
}

func TestNew_InvalidConfig(t *testing.T) {
	tr := newScriptedTransport()

	_, err := New(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(tr, Config{MaxConcurrent: 0})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(tr, Config{MaxConcurrent: 1, MaxRetries: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	q, err := New(tr, Config{MaxConcurrent: 1})
	require.NoError(t, err)
	defer q.Close()
	assert.NotEmpty(t, q.BatchID())
}

func TestAddToQueue_EnqueueIdentity(t *testing.T) {
	q := newTestQueue(t, newScriptedTransport(), nil)

	first, err := q.AddToQueue("a")
	require.NoError(t, err)
	require.Len(t, first, 1)

	before := q.Stats().Total
	items, err := q.AddToQueue("p1", "p2", "p3")
	require.NoError(t, err)
	require.Len(t, items, 3)

	seen := map[string]bool{first[0].ID: true}
	for i, item := range items {
		assert.False(t, seen[item.ID], "duplicate id %s", item.ID)
		seen[item.ID] = true
		assert.Equal(t, StatusPending, item.Status)
		assert.Zero(t, item.Progress)
		assert.Zero(t, item.RetryCount)
		assert.Equal(t, first[0].Sequence+1+i, item.Sequence)
	}
	assert.Equal(t, "p2", items[1].Payload)
	assert.Equal(t, before+3, q.Stats().Total)
	assert.False(t, q.Running(), "adding must not start transfers")
}

func TestStartUploads_EmptyQueueIsNoop(t *testing.T) {
	q := newTestQueue(t, newScriptedTransport(), nil)
	q.StartUploads()
	assert.False(t, q.Running())
	q.ResumeAll()
	assert.False(t, q.Running())
}

func TestScheduler_FillsSlotsAndPromotes(t *testing.T) {
	tr := newScriptedTransport()
	q := newTestQueue(t, tr, func(c *Config) { c.MaxConcurrent = 3 })

	items, err := q.AddToQueue(payloads(5)...)
	require.NoError(t, err)
	q.StartUploads()

	stats := q.Stats()
	assert.Equal(t, 3, stats.Uploading)
	assert.Equal(t, 2, stats.Pending)

	calls := tr.nextN(t, 3)
	require.Contains(t, calls, 0)
	require.Contains(t, calls, 1)
	require.Contains(t, calls, 2)

	calls[0].succeed("img-0")
	done := waitStatus(t, q, items[0].ID, StatusSuccess)
	assert.Equal(t, "img-0", done.ResultToken)
	assert.Equal(t, 100.0, done.Progress)
	assert.Empty(t, done.Error)

	promoted := tr.next(t)
	assert.Equal(t, 3, promoted.req.Sequence, "oldest pending item goes first")

	stats = q.Stats()
	assert.Equal(t, 3, stats.Uploading)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Completed)
}

func TestScheduler_FIFOAdmission(t *testing.T) {
	tr := newScriptedTransport()
	q := newTestQueue(t, tr, func(c *Config) { c.MaxConcurrent = 1 })

	_, err := q.AddToQueue(payloads(4)...)
	require.NoError(t, err)
	q.StartUploads()

	for want := range 4 {
		c := tr.next(t)
		assert.Equal(t, want, c.req.Sequence)
		assert.Equal(t, q.BatchID(), c.req.BatchID)
		c.succeed("ok")
	}
	require.NoError(t, q.Wait(context.Background()))
}

func TestScheduler_BoundedConcurrency(t *testing.T) {
	const maxConcurrent = 3
	var active, peak atomic.Int32
	tr := transport.Func(func(ctx context.Context, req *transport.Request, progress transport.ProgressFunc) (*transport.Result, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Duration(req.Sequence%4) * time.Millisecond)
		if req.Sequence%5 == 0 {
			return nil, transport.Permanent(errors.New("rejected"))
		}
		return &transport.Result{Token: "ok"}, nil
	})

	var completions atomic.Int32
	q := newTestQueue(t, tr, func(c *Config) {
		c.MaxConcurrent = maxConcurrent
		c.OnBatchComplete = func(Stats) { completions.Add(1) }
	})

	_, err := q.AddToQueue(payloads(40)...)
	require.NoError(t, err)

	q.StartUploads()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	assert.LessOrEqual(t, peak.Load(), int32(maxConcurrent))
	stats := q.Stats()
	assert.Equal(t, 32, stats.Completed)
	assert.Equal(t, 8, stats.Failed)
	assert.Zero(t, stats.Pending+stats.Uploading)
	assert.Eventually(t, func() bool { return completions.Load() == 1 }, waitTimeout, time.Millisecond)
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	tr := newScriptedTransport()
	q := newTestQueue(t, tr, func(c *Config) { c.MaxRetries = 3 })

	items, err := q.AddToQueue("photo")
	require.NoError(t, err)
	q.StartUploads()

	tr.next(t).fail(errNetwork)
	tr.next(t).fail(errNetwork)
	tr.next(t).succeed("img-1")

	item := waitStatus(t, q, items[0].ID, StatusSuccess)
	assert.Equal(t, 2, item.RetryCount)
	assert.Equal(t, "img-1", item.ResultToken)
	assert.Empty(t, item.Error)
}

func TestRetry_BoundThenManualRetryIsNoop(t *testing.T) {
	tr := newScriptedTransport()
	var failures atomic.Int32
	q := newTestQueue(t, tr, func(c *Config) {
		c.MaxRetries = 3
		c.OnItemError = func(Item) { failures.Add(1) }
	})

	items, err := q.AddToQueue("photo")
	require.NoError(t, err)
	q.StartUploads()

	for range 3 {
		tr.next(t).fail(errNetwork)
	}

	item := waitStatus(t, q, items[0].ID, StatusError)
	require.Eventually(t, func() bool {
		item, _ = q.Get(items[0].ID)
		return item.RetryCount == 3
	}, waitTimeout, time.Millisecond)
	assert.Equal(t, errNetwork.Error(), item.Error)
	assert.Empty(t, item.ResultToken)

	assert.False(t, q.RetryItem(items[0].ID))
	after, _ := q.Get(items[0].ID)
	assert.Equal(t, StatusError, after.Status)
	assert.Equal(t, 3, after.RetryCount)

	tr.expectIdle(t, 30*time.Millisecond)
	assert.Eventually(t, func() bool { return failures.Load() == 3 }, waitTimeout, time.Millisecond)
}

func TestRetry_PermanentSkipsAutoRetry(t *testing.T) {
	tr := newScriptedTransport()
	q := newTestQueue(t, tr, nil)

	items, err := q.AddToQueue("photo")
	require.NoError(t, err)
	q.StartUploads()

	tr.next(t).fail(transport.Permanent(errors.New("unsupported media type")))
	item := waitStatus(t, q, items[0].ID, StatusError)
	assert.Equal(t, 1, item.RetryCount)
	tr.expectIdle(t, 30*time.Millisecond)

	require.NoError(t, q.Wait(context.Background()))
	assert.False(t, q.Running())
	assert.True(t, q.RetryItem(items[0].ID))
	assert.True(t, q.Running(), "a manual retry restarts a drained queue")

	tr.next(t).succeed("img")
	item = waitStatus(t, q, items[0].ID, StatusSuccess)
	assert.Equal(t, 1, item.RetryCount)
}

func TestPauseItem_RoutesToPausedNotError(t *testing.T) {
	tr := newScriptedTransport()
	q := newTestQueue(t, tr, func(c *Config) { c.MaxConcurrent = 1 })

	items, err := q.AddToQueue("a", "b")
	require.NoError(t, err)
	q.StartUploads()

	first := tr.next(t)
	first.progress(40, 100)
	require.Eventually(t, func() bool {
		item, _ := q.Get(items[0].ID)
		return item.Progress == 40
	}, waitTimeout, time.Millisecond)

	require.True(t, q.PauseItem(items[0].ID))
	assert.False(t, q.PauseItem(items[0].ID), "pausing twice is a no-op")

	paused, _ := q.Get(items[0].ID)
	assert.Equal(t, StatusPaused, paused.Status)
	assert.Zero(t, paused.Speed)
	assert.Zero(t, paused.RetryCount)

	// the freed slot goes to the next pending item
	second := tr.next(t)
	assert.Equal(t, 1, second.req.Sequence)
	<-first.ctx.Done()

	second.succeed("b")
	waitStatus(t, q, items[1].ID, StatusSuccess)

	// the paused item keeps the batch open
	assert.True(t, q.Running())

	require.True(t, q.ResumeItem(items[0].ID))
	resumed := tr.next(t)
	assert.Equal(t, 0, resumed.req.Sequence)
	item, _ := q.Get(items[0].ID)
	assert.Equal(t, StatusUploading, item.Status)
	assert.Zero(t, item.Progress)

	resumed.succeed("a")
	waitStatus(t, q, items[0].ID, StatusSuccess)
	require.NoError(t, q.Wait(context.Background()))
}

func TestPauseAll_LeavesPendingAndStopsDispatch(t *testing.T) {
	tr := newScriptedTransport()
	q := newTestQueue(t, tr, func(c *Config) { c.MaxConcurrent = 3 })

	items, err := q.AddToQueue(payloads(5)...)
	require.NoError(t, err)
	q.StartUploads()
	calls := tr.nextN(t, 3)

	assert.Equal(t, 3, q.PauseAll())
	assert.False(t, q.Running())

	stats := q.Stats()
	assert.Equal(t, 3, stats.Paused)
	assert.Equal(t, 2, stats.Pending)
	assert.Zero(t, stats.Uploading)
	for _, c := range calls {
		<-c.ctx.Done()
	}
	tr.expectIdle(t, 30*time.Millisecond)
	require.NoError(t, q.Wait(context.Background()))

	q.ResumeAll()
	resumed := tr.nextN(t, 2)
	assert.Contains(t, resumed, 3)
	assert.Contains(t, resumed, 4)
	for i := range 3 {
		item, _ := q.Get(items[i].ID)
		assert.Equal(t, StatusPaused, item.Status, "resumeAll does not touch paused items")
	}
}

func TestResumeItem_AfterPauseAllRestartsDispatch(t *testing.T) {
	tr := newScriptedTransport()
	q := newTestQueue(t, tr, func(c *Config) { c.MaxConcurrent = 1 })

	items, err := q.AddToQueue("a", "b")
	require.NoError(t, err)
	q.StartUploads()
	first := tr.next(t)

	assert.Equal(t, 1, q.PauseAll())
	<-first.ctx.Done()
	tr.expectIdle(t, 30*time.Millisecond)

	require.True(t, q.ResumeItem(items[0].ID))
	assert.True(t, q.Running())

	resumed := tr.next(t)
	assert.Equal(t, 0, resumed.req.Sequence)
	resumed.succeed("a")

	second := tr.next(t)
	assert.Equal(t, 1, second.req.Sequence)
	second.succeed("b")

	require.NoError(t, q.Wait(context.Background()))
	assert.Equal(t, 2, q.Stats().Completed)
}

func TestRemoveFromQueue_CancelsAndDropsScheduledRetry(t *testing.T) {
	tr := newScriptedTransport()
	q := newTestQueue(t, tr, func(c *Config) {
		c.BaseDelay = 50 * time.Millisecond
		c.MaxDelay = 0
	})

	items, err := q.AddToQueue("a", "b")
	require.NoError(t, err)
	q.StartUploads()
	calls := tr.nextN(t, 2)

	// in-flight removal
	require.True(t, q.RemoveFromQueue(items[1].ID))
	<-calls[1].ctx.Done()
	_, ok := q.Get(items[1].ID)
	assert.False(t, ok)

	// removal while an automatic retry is scheduled
	calls[0].fail(errNetwork)
	item := waitStatus(t, q, items[0].ID, StatusError)
	assert.False(t, item.NextRetryAt.IsZero())
	require.True(t, q.RemoveFromQueue(items[0].ID))
	assert.False(t, q.RemoveFromQueue(items[0].ID))
	assert.False(t, q.RemoveFromQueue("missing"))

	tr.expectIdle(t, 120*time.Millisecond)
	assert.Zero(t, q.Stats().Total)
}

func TestClearCompleted_KeepsOrder(t *testing.T) {
	tr := newScriptedTransport()
	q := newTestQueue(t, tr, func(c *Config) {
		c.MaxConcurrent = 5
		c.MaxRetries = 0
	})

	items, err := q.AddToQueue(payloads(5)...)
	require.NoError(t, err)
	q.StartUploads()
	calls := tr.nextN(t, 5)

	calls[0].succeed("0")
	calls[1].fail(errNetwork)
	calls[2].succeed("2")
	require.True(t, q.CancelItem(items[3].ID))
	calls[4].succeed("4")
	require.NoError(t, q.Wait(context.Background()))

	assert.Equal(t, 3, q.ClearCompleted())
	remaining := q.Items()
	require.Len(t, remaining, 2)
	assert.Equal(t, items[1].ID, remaining[0].ID)
	assert.Equal(t, StatusError, remaining[0].Status)
	assert.Equal(t, items[3].ID, remaining[1].ID)
	assert.Equal(t, StatusCancelled, remaining[1].Status)
	assert.Zero(t, q.ClearCompleted())
}

func TestDrainCompletion_FiresOncePerDrain(t *testing.T) {
	tr := newScriptedTransport()

	var mu sync.Mutex
	var drains []Stats
	q := newTestQueue(t, tr, func(c *Config) {
		c.MaxConcurrent = 2
		c.MaxRetries = 1
		c.OnBatchComplete = func(s Stats) {
			mu.Lock()
			drains = append(drains, s)
			mu.Unlock()
		}
	})

	_, err := q.AddToQueue(payloads(5)...)
	require.NoError(t, err)
	q.StartUploads()

	for range 5 {
		c := tr.next(t)
		if c.req.Sequence == 2 {
			c.fail(errNetwork)
			continue
		}
		c.succeed("ok")
	}
	require.NoError(t, q.Wait(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(drains) == 1
	}, waitTimeout, time.Millisecond)
	tr.expectIdle(t, 20*time.Millisecond)

	mu.Lock()
	s := drains[0]
	mu.Unlock()
	assert.Zero(t, s.Pending+s.Uploading)
	assert.Equal(t, 4, s.Completed)
	assert.Equal(t, 1, s.Failed)
	assert.False(t, s.Running)

	// a second batch on the same queue drains again
	_, err = q.AddToQueue("late")
	require.NoError(t, err)
	q.StartUploads()
	tr.next(t).succeed("late")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(drains) == 2
	}, waitTimeout, time.Millisecond)
}

func TestProgress_TracksBytesSpeedAndETA(t *testing.T) {
	tr := newScriptedTransport()
	q := newTestQueue(t, tr, nil)

	items, err := q.AddToQueue("photo")
	require.NoError(t, err)
	q.StartUploads()

	c := tr.next(t)
	time.Sleep(5 * time.Millisecond)
	c.progress(250, 1000)
	time.Sleep(5 * time.Millisecond)
	c.progress(500, 1000)
	c.progress(400, 1000) // out of order updates never move progress back

	require.Eventually(t, func() bool {
		item, _ := q.Get(items[0].ID)
		return item.BytesSent == 500
	}, waitTimeout, time.Millisecond)

	item, _ := q.Get(items[0].ID)
	assert.Equal(t, 50.0, item.Progress)
	assert.Equal(t, int64(1000), item.BytesTotal)
	assert.Greater(t, item.Speed, 0.0)
	assert.Greater(t, item.TimeRemaining, time.Duration(0))

	stats := q.Stats()
	assert.Equal(t, item.Speed, stats.TotalSpeed)
	assert.Equal(t, 50.0, stats.ByteProgress)
	assert.Zero(t, stats.OverallProgress)

	c.succeed("done")
	item = waitStatus(t, q, items[0].ID, StatusSuccess)
	assert.Zero(t, item.Speed)
	assert.Zero(t, item.TimeRemaining)
	assert.Equal(t, int64(1000), item.BytesSent)
}

func TestCancelItem(t *testing.T) {
	tr := newScriptedTransport()
	q := newTestQueue(t, tr, func(c *Config) { c.MaxConcurrent = 1 })

	items, err := q.AddToQueue("a", "b")
	require.NoError(t, err)
	q.StartUploads()
	first := tr.next(t)

	require.True(t, q.CancelItem(items[1].ID), "pending item")
	require.True(t, q.CancelItem(items[0].ID), "uploading item")
	<-first.ctx.Done()
	assert.False(t, q.CancelItem(items[0].ID))

	for _, it := range q.Items() {
		assert.Equal(t, StatusCancelled, it.Status)
	}
	require.NoError(t, q.Wait(context.Background()))
	tr.expectIdle(t, 20*time.Millisecond)
	assert.False(t, q.RetryItem(items[0].ID), "cancelled items are not retried")
}

func TestTransportAbortWithoutPauseIsCancelled(t *testing.T) {
	tr := transport.Func(func(ctx context.Context, req *transport.Request, progress transport.ProgressFunc) (*transport.Result, error) {
		return nil, transport.Aborted(errors.New("stream closed by peer"))
	})
	q := newTestQueue(t, tr, nil)

	items, err := q.AddToQueue("a")
	require.NoError(t, err)
	q.StartUploads()

	item := waitStatus(t, q, items[0].ID, StatusCancelled)
	assert.Zero(t, item.RetryCount)
	assert.Empty(t, item.Error)
	assert.Zero(t, q.Stats().Failed)
}

func TestTransportPanicIsPermanentError(t *testing.T) {
	tr := transport.Func(func(ctx context.Context, req *transport.Request, progress transport.ProgressFunc) (*transport.Result, error) {
		panic("unexpected payload")
	})
	q := newTestQueue(t, tr, nil)

	items, err := q.AddToQueue(struct{}{})
	require.NoError(t, err)
	q.StartUploads()

	item := waitStatus(t, q, items[0].ID, StatusError)
	assert.Contains(t, item.Error, "transport panic")
	assert.Equal(t, 1, item.RetryCount)
}

func TestClose_CancelsInflight(t *testing.T) {
	tr := newScriptedTransport()
	cfg := DefaultConfig()
	q, err := New(tr, cfg)
	require.NoError(t, err)

	sub := q.Subscribe()
	_, err = q.AddToQueue("a")
	require.NoError(t, err)
	q.StartUploads()
	c := tr.next(t)

	q.Close()
	<-c.ctx.Done()

	_, err = q.AddToQueue("b")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, q.Wait(context.Background()), ErrClosed)
	assert.Nil(t, q.Items())
	q.Close()

	for range sub {
		// drained until closed
	}
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	tr := newScriptedTransport()
	q := newTestQueue(t, tr, nil)

	sub := q.Subscribe()
	items, err := q.AddToQueue("a")
	require.NoError(t, err)

	select {
	case ev := <-sub:
		assert.Equal(t, EventItemAdded, ev.Type)
		assert.Equal(t, items[0].ID, ev.Item.ID)
	case <-time.After(waitTimeout):
		t.Fatal("no event")
	}

	q.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)
}
