package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/openmined/photoqueue/internal/transport"
)

// speedSmoothing weights the newest sample of the moving average speed.
const speedSmoothing = 0.3

type progressMsg struct {
	id      string
	attempt uint64
	sent    int64
	total   int64
	at      time.Time
}

type resultMsg struct {
	id      string
	attempt uint64
	result  *transport.Result
	err     error
}

type retryMsg struct {
	id  string
	gen uint64
}

// schedule fills free slots with Pending items in sequence order and detects the drain.
func (q *Queue) schedule() {
	if !q.running {
		return
	}

	active := q.count(StatusUploading)
	slots := q.cfg.MaxConcurrent - active
	for _, e := range q.entries {
		if slots <= 0 {
			break
		}
		if e.item.Status == StatusPending {
			q.dispatch(e)
			slots--
		}
	}

	if len(q.entries) > 0 && q.drained() {
		q.setRunning(false)
		stats := q.computeStats()
		q.log.Info("queue drained", "completed", stats.Completed, "failed", stats.Failed, "cancelled", stats.Cancelled)
		q.broadcast(&Event{Type: EventBatchComplete, Stats: &stats, Time: time.Now()})
		if cb := q.cfg.OnBatchComplete; cb != nil {
			q.notify.push(func() { cb(stats) })
		}
	}
}

// drained reports whether nothing can move without caller action. Paused items and
// items waiting for an automatic retry keep the batch open.
func (q *Queue) drained() bool {
	for _, e := range q.entries {
		switch e.item.Status {
		case StatusPending, StatusUploading, StatusPaused:
			return false
		}
		if e.retryTimer != nil {
			return false
		}
	}
	return true
}

func (q *Queue) count(status Status) int {
	n := 0
	for _, e := range q.entries {
		if e.item.Status == status {
			n++
		}
	}
	return n
}

func (q *Queue) dispatch(e *entry) {
	ctx, cancel := context.WithCancel(q.ctx)
	e.attempt++
	e.cancel = cancel

	now := time.Now()
	e.item.Status = StatusUploading
	e.item.Progress = 0
	e.item.BytesSent = 0
	e.item.StartedAt = now
	e.item.CompletedAt = time.Time{}
	e.lastSample = now
	e.lastBytes = 0
	q.publish(EventItemUpdated, e)

	req := &transport.Request{
		Payload:  e.item.Payload,
		BatchID:  q.cfg.BatchID,
		Sequence: e.item.Sequence,
	}

	q.log.Debug("queue dispatch", "id", e.item.ID, "sequence", e.item.Sequence, "attempt", e.attempt)

	q.transfers.Add(1)
	go q.transfer(ctx, e.item.ID, e.attempt, req)
}

// transfer runs one transport call and reports back to the loop.
func (q *Queue) transfer(ctx context.Context, id string, attempt uint64, req *transport.Request) {
	defer q.transfers.Done()

	progress := func(sent, total int64) {
		q.post(&progressMsg{id: id, attempt: attempt, sent: sent, total: total, at: time.Now()})
	}

	result, err := q.send(ctx, req, progress)
	if err != nil {
		err = transport.CheckAborted(ctx, err)
	} else if result == nil {
		result = &transport.Result{}
	}
	q.post(&resultMsg{id: id, attempt: attempt, result: result, err: err})
}

func (q *Queue) send(ctx context.Context, req *transport.Request, progress transport.ProgressFunc) (result *transport.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = transport.Permanent(fmt.Errorf("transport panic: %v", r))
		}
	}()
	return q.transport.Send(ctx, req, progress)
}

func (q *Queue) handleEvent(ev any) {
	switch msg := ev.(type) {
	case *progressMsg:
		q.onProgress(msg)
	case *resultMsg:
		q.onResult(msg)
	case *retryMsg:
		q.onRetry(msg)
	}
}

func (q *Queue) current(id string, attempt uint64) (*entry, bool) {
	e, ok := q.byID[id]
	if !ok || e.attempt != attempt || e.item.Status != StatusUploading {
		return nil, false
	}
	return e, true
}

func (q *Queue) onProgress(msg *progressMsg) {
	e, ok := q.current(msg.id, msg.attempt)
	if !ok {
		return
	}

	if msg.total > 0 {
		e.item.BytesTotal = msg.total
	}
	if msg.sent > e.item.BytesSent {
		e.item.BytesSent = msg.sent
	}
	if e.item.BytesTotal > 0 {
		progress := min(float64(e.item.BytesSent)/float64(e.item.BytesTotal)*100.0, 100.0)
		if progress > e.item.Progress {
			e.item.Progress = progress
		}
	}

	if elapsed := msg.at.Sub(e.lastSample).Seconds(); elapsed > 0 && e.item.BytesSent > e.lastBytes {
		sample := float64(e.item.BytesSent-e.lastBytes) / elapsed
		if e.item.Speed == 0 {
			e.item.Speed = sample
		} else {
			e.item.Speed = speedSmoothing*sample + (1-speedSmoothing)*e.item.Speed
		}
		e.lastSample = msg.at
		e.lastBytes = e.item.BytesSent
	}

	if e.item.Speed > 0 && e.item.BytesTotal > e.item.BytesSent {
		remaining := float64(e.item.BytesTotal - e.item.BytesSent)
		e.item.TimeRemaining = time.Duration(remaining / e.item.Speed * float64(time.Second))
	} else {
		e.item.TimeRemaining = 0
	}

	q.publish(EventItemProgress, e)
}

func (q *Queue) onResult(msg *resultMsg) {
	e, ok := q.current(msg.id, msg.attempt)
	if !ok {
		q.log.Debug("queue stale result", "id", msg.id, "attempt", msg.attempt)
		return
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}

	switch {
	case msg.err == nil:
		e.item.ResultToken = msg.result.Token
		e.item.Progress = 100
		if e.item.BytesTotal > 0 {
			e.item.BytesSent = e.item.BytesTotal
		}
		q.settle(e, StatusSuccess)
		q.log.Info("queue success", "id", e.item.ID, "sequence", e.item.Sequence, "token", e.item.ResultToken)
		if cb := q.cfg.OnItemSuccess; cb != nil {
			item := e.item
			q.notify.push(func() { cb(item) })
		}

	case transport.IsAborted(msg.err):
		q.settle(e, StatusCancelled)
		q.log.Info("queue cancelled", "id", e.item.ID)

	default:
		e.item.RetryCount++
		e.item.Error = msg.err.Error()
		if q.policy.ShouldRetry(e.item.RetryCount, msg.err) {
			q.scheduleRetry(e)
		}
		q.settle(e, StatusError)

		q.log.Warn("queue error", "id", e.item.ID, "retryCount", e.item.RetryCount, "maxRetries", q.cfg.MaxRetries,
			"autoRetry", e.retryTimer != nil, "error", msg.err)
		if cb := q.cfg.OnItemError; cb != nil {
			item := e.item
			q.notify.push(func() { cb(item) })
		}
	}
}

func (q *Queue) scheduleRetry(e *entry) {
	delay := q.policy.Delay(e.item.RetryCount)
	e.retryGen++
	gen, id := e.retryGen, e.item.ID
	e.item.NextRetryAt = time.Now().Add(delay)
	e.retryTimer = time.AfterFunc(delay, func() {
		q.post(&retryMsg{id: id, gen: gen})
	})
}

func (q *Queue) onRetry(msg *retryMsg) {
	e, ok := q.byID[msg.id]
	if !ok || e.retryGen != msg.gen || e.retryTimer == nil {
		return
	}
	e.retryTimer = nil
	if e.item.Status != StatusError {
		return
	}
	q.resetToPending(e)
	q.log.Info("queue auto retry", "id", e.item.ID, "retryCount", e.item.RetryCount)
}
