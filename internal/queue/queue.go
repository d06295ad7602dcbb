package queue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/photoqueue/internal/transport"
)

// Queue orchestrates a batch of transfers. A single goroutine owns all item state;
// control operations and transport callbacks reach it as messages.
type Queue struct {
	cfg       Config
	transport transport.Transport
	policy    RetryPolicy
	log       *slog.Logger

	// owned by the loop goroutine
	entries []*entry
	byID    map[string]*entry
	nextSeq int
	running bool
	idle    chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	cmds      chan *command
	events    chan any
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	transfers sync.WaitGroup

	notify     *notifier
	subs       []chan *Event
	subsClosed bool
	subsMu     sync.RWMutex
}

type command struct {
	fn   func()
	done chan struct{}
}

type entry struct {
	item       Item
	attempt    uint64
	cancel     context.CancelFunc
	retryTimer *time.Timer
	retryGen   uint64
	lastSample time.Time
	lastBytes  int64
}

// New creates a queue bound to a transport and starts its loop.
func New(t transport.Transport, cfg Config) (*Queue, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BatchID == "" {
		cfg.BatchID = uuid.NewString()
	}
	if cfg.AssumedItemSize == 0 {
		cfg.AssumedItemSize = DefaultAssumedItemSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:       cfg,
		transport: t,
		policy: RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BaseDelay,
			MaxDelay:   cfg.MaxDelay,
			Jitter:     cfg.Jitter,
		},
		log:     logger.With("batch", cfg.BatchID),
		byID:    make(map[string]*entry),
		idle:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan *command),
		events:  make(chan any),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		notify:  newNotifier(),
	}
	close(q.idle) // not running yet

	go q.run()
	return q, nil
}

// BatchID returns the batch identifier handed to the transport.
func (q *Queue) BatchID() string {
	return q.cfg.BatchID
}

// Close cancels every in-flight transfer, waits for the transports to return and
// stops the queue. Pending callbacks are still delivered.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.quit)
		<-q.stopped
		q.transfers.Wait()
		q.notify.close()
		q.closeSubscribers()
	})
}

func (q *Queue) run() {
	defer close(q.stopped)
	for {
		select {
		case cmd := <-q.cmds:
			cmd.fn()
			q.schedule()
			close(cmd.done)
		case ev := <-q.events:
			q.handleEvent(ev)
			q.schedule()
		case <-q.quit:
			q.shutdown()
			return
		}
	}
}

// exec runs fn on the loop goroutine followed by a scheduler pass.
func (q *Queue) exec(fn func()) bool {
	cmd := &command{fn: fn, done: make(chan struct{})}
	select {
	case q.cmds <- cmd:
	case <-q.stopped:
		return false
	}
	<-cmd.done
	return true
}

// post delivers a message from a transfer goroutine or timer to the loop.
func (q *Queue) post(msg any) {
	select {
	case q.events <- msg:
	case <-q.quit:
	}
}

func (q *Queue) shutdown() {
	for _, e := range q.entries {
		q.stopRetry(e)
		if e.item.Status == StatusUploading {
			q.abort(e)
			q.settle(e, StatusCancelled)
		}
	}
	q.cancel()
	q.setRunning(false)
	q.log.Debug("queue closed", "items", len(q.entries))
}

// ===================================================================================================
// Control surface

// AddToQueue creates one Pending item per payload, appended in input order.
// It does not start transfers by itself.
func (q *Queue) AddToQueue(payloads ...any) ([]Item, error) {
	var added []Item
	ok := q.exec(func() {
		now := time.Now()
		added = make([]Item, 0, len(payloads))
		for _, payload := range payloads {
			e := &entry{
				item: Item{
					ID:        uuid.NewString(),
					Payload:   payload,
					Sequence:  q.nextSeq,
					Status:    StatusPending,
					CreatedAt: now,
				},
			}
			q.nextSeq++
			q.entries = append(q.entries, e)
			q.byID[e.item.ID] = e
			added = append(added, e.item)
			q.publish(EventItemAdded, e)
		}
		q.log.Debug("queue add", "count", len(payloads), "total", len(q.entries))
	})
	if !ok {
		return nil, ErrClosed
	}
	return added, nil
}

// StartUploads marks the queue running and fills the free slots. No-op on an empty queue.
func (q *Queue) StartUploads() {
	q.exec(func() {
		if len(q.entries) == 0 {
			return
		}
		q.log.Info("queue start", "items", len(q.entries), "maxConcurrent", q.cfg.MaxConcurrent)
		q.setRunning(true)
	})
}

// PauseAll cancels every uploading item into Paused and stops dispatching.
// Pending items stay Pending. Returns the number of items paused.
func (q *Queue) PauseAll() int {
	var paused int
	q.exec(func() {
		for _, e := range q.entries {
			if e.item.Status == StatusUploading {
				q.pause(e)
				paused++
			}
		}
		q.setRunning(false)
		q.log.Info("queue pause all", "paused", paused)
	})
	return paused
}

// ResumeAll resumes dispatching. Paused items must be resumed individually.
func (q *Queue) ResumeAll() {
	q.exec(func() {
		if len(q.entries) == 0 {
			return
		}
		q.log.Info("queue resume all")
		q.setRunning(true)
	})
}

// PauseItem cancels an uploading item into Paused. Reports whether it changed.
func (q *Queue) PauseItem(id string) bool {
	var changed bool
	q.exec(func() {
		e, ok := q.byID[id]
		if !ok || e.item.Status != StatusUploading {
			return
		}
		q.pause(e)
		changed = true
	})
	return changed
}

// ResumeItem moves a Paused item back to Pending and resumes dispatching.
func (q *Queue) ResumeItem(id string) bool {
	var changed bool
	q.exec(func() {
		e, ok := q.byID[id]
		if !ok || e.item.Status != StatusPaused {
			return
		}
		q.resetToPending(e)
		q.setRunning(true)
		changed = true
	})
	return changed
}

// RetryItem moves an Error item back to Pending while it is under the retry cap
// and resumes dispatching, so a drained batch picks it up again.
func (q *Queue) RetryItem(id string) bool {
	var changed bool
	q.exec(func() {
		e, ok := q.byID[id]
		if !ok || e.item.Status != StatusError || !q.policy.CanRetry(e.item.RetryCount) {
			return
		}
		q.stopRetry(e)
		q.resetToPending(e)
		q.setRunning(true)
		q.log.Info("queue retry", "id", id, "retryCount", e.item.RetryCount)
		changed = true
	})
	return changed
}

// CancelItem stops an uploading, pending or paused item and keeps it as Cancelled.
func (q *Queue) CancelItem(id string) bool {
	var changed bool
	q.exec(func() {
		e, ok := q.byID[id]
		if !ok {
			return
		}
		switch e.item.Status {
		case StatusUploading:
			q.abort(e)
		case StatusPending, StatusPaused:
		default:
			return
		}
		q.settle(e, StatusCancelled)
		changed = true
	})
	return changed
}

// RemoveFromQueue cancels any in-flight transfer and deletes the item.
func (q *Queue) RemoveFromQueue(id string) bool {
	var removed bool
	q.exec(func() {
		e, ok := q.byID[id]
		if !ok {
			return
		}
		if e.item.Status == StatusUploading {
			q.abort(e)
		}
		q.stopRetry(e)
		q.delete(e)
		q.log.Debug("queue remove", "id", id)
		removed = true
	})
	return removed
}

// ClearCompleted deletes every Success item and returns how many were removed.
func (q *Queue) ClearCompleted() int {
	var cleared int
	q.exec(func() {
		for _, e := range slices.Clone(q.entries) {
			if e.item.Status == StatusSuccess {
				q.delete(e)
				cleared++
			}
		}
	})
	return cleared
}

// Get returns a snapshot of one item.
func (q *Queue) Get(id string) (Item, bool) {
	var item Item
	var found bool
	q.exec(func() {
		if e, ok := q.byID[id]; ok {
			item, found = e.item, true
		}
	})
	return item, found
}

// Items returns snapshots of all items in sequence order.
func (q *Queue) Items() []Item {
	var items []Item
	q.exec(func() {
		items = make([]Item, 0, len(q.entries))
		for _, e := range q.entries {
			items = append(items, e.item)
		}
	})
	return items
}

// Stats computes the batch counters from the current items.
func (q *Queue) Stats() Stats {
	var stats Stats
	q.exec(func() {
		stats = q.computeStats()
	})
	return stats
}

// Running reports whether the scheduler is dispatching.
func (q *Queue) Running() bool {
	var running bool
	q.exec(func() {
		running = q.running
	})
	return running
}

// Wait blocks until the queue stops running, either because the batch drained
// or because it was paused, or until ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	var idle chan struct{}
	if !q.exec(func() { idle = q.idle }) {
		return ErrClosed
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ===================================================================================================
// state helpers, loop goroutine only

func (q *Queue) setRunning(running bool) {
	if q.running == running {
		return
	}
	q.running = running
	if running {
		q.idle = make(chan struct{})
	} else {
		close(q.idle)
	}
}

func (q *Queue) pause(e *entry) {
	q.abort(e)
	e.item.Status = StatusPaused
	q.clearRate(e)
	q.publish(EventItemUpdated, e)
	q.log.Info("queue pause", "id", e.item.ID, "progress", e.item.Progress)
}

// abort fires the cancellation handle of the current attempt. Results from that
// attempt are ignored afterwards.
func (q *Queue) abort(e *entry) {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.attempt++
}

func (q *Queue) resetToPending(e *entry) {
	e.item.Status = StatusPending
	e.item.Error = ""
	e.item.Progress = 0
	e.item.BytesSent = 0
	e.item.NextRetryAt = time.Time{}
	q.clearRate(e)
	q.publish(EventItemUpdated, e)
}

func (q *Queue) settle(e *entry, status Status) {
	e.item.Status = status
	e.item.CompletedAt = time.Now()
	if status != StatusError {
		e.item.Error = ""
	}
	q.clearRate(e)
	q.publish(EventItemUpdated, e)
}

func (q *Queue) clearRate(e *entry) {
	e.item.Speed = 0
	e.item.TimeRemaining = 0
	e.lastBytes = 0
	e.lastSample = time.Time{}
}

func (q *Queue) stopRetry(e *entry) {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.retryGen++
	e.item.NextRetryAt = time.Time{}
}

func (q *Queue) delete(e *entry) {
	delete(q.byID, e.item.ID)
	if i := slices.Index(q.entries, e); i >= 0 {
		q.entries = slices.Delete(q.entries, i, i+1)
	}
	q.publish(EventItemRemoved, e)
}

func (q *Queue) publish(typ EventType, e *entry) {
	item := e.item
	q.broadcast(&Event{Type: typ, Item: &item, Time: time.Now()})
}
