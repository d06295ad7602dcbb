package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/openmined/photoqueue/internal/transport"
	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 16*time.Second, p.Delay(5))
	assert.Equal(t, 30*time.Second, p.Delay(6))
	assert.Equal(t, 30*time.Second, p.Delay(200))
}

func TestRetryPolicy_DelayUncapped(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Millisecond}
	assert.Equal(t, 8*time.Millisecond, p.Delay(4))
	assert.Positive(t, p.Delay(100))

	// doubling 2^62 would wrap negative
	p = RetryPolicy{BaseDelay: time.Duration(1 << 62)}
	assert.Equal(t, time.Duration(1 << 62), p.Delay(3))
}

func TestRetryPolicy_Jitter(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: true}
	for range 50 {
		d := p.Delay(2)
		assert.GreaterOrEqual(t, d, 1500*time.Millisecond)
		assert.LessOrEqual(t, d, 2500*time.Millisecond)
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2}
	transient := errors.New("timeout")

	assert.True(t, p.ShouldRetry(1, transient))
	assert.False(t, p.ShouldRetry(2, transient))
	assert.False(t, p.ShouldRetry(1, transport.Permanent(transient)))
	assert.False(t, p.ShouldRetry(1, transport.ErrInvalidPayload))

	assert.False(t, RetryPolicy{}.CanRetry(0), "zero retries disables retry")
}

func TestComputeStats(t *testing.T) {
	q := &Queue{cfg: Config{AssumedItemSize: 100}}
	add := func(item Item) {
		q.entries = append(q.entries, &entry{item: item})
	}
	add(Item{Status: StatusSuccess, BytesSent: 200, BytesTotal: 200})
	add(Item{Status: StatusUploading, BytesSent: 50, BytesTotal: 200, Speed: 10})
	add(Item{Status: StatusUploading, BytesSent: 0, Speed: 15})
	add(Item{Status: StatusPending})
	add(Item{Status: StatusPending})
	add(Item{Status: StatusError})
	add(Item{Status: StatusPaused, BytesSent: 20, BytesTotal: 200})
	add(Item{Status: StatusCancelled})

	stats := q.computeStats()
	assert.Equal(t, 8, stats.Total)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.Uploading)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Paused)
	assert.Equal(t, 1, stats.Cancelled)
	assert.Equal(t, 12.5, stats.OverallProgress)
	assert.Equal(t, 25.0, stats.TotalSpeed)
	assert.Equal(t, int64(250), stats.BytesSent)
	assert.Equal(t, int64(600), stats.BytesTotal)

	// 150 in flight plus two pending at the 200 byte average, over 25 B/s
	assert.Equal(t, 22*time.Second, stats.EstimatedTimeRemaining)
}

func TestComputeStats_NoSpeedNoETA(t *testing.T) {
	q := &Queue{cfg: Config{AssumedItemSize: DefaultAssumedItemSize}}
	q.entries = append(q.entries, &entry{item: Item{Status: StatusPending}})

	stats := q.computeStats()
	assert.Zero(t, stats.EstimatedTimeRemaining)
	assert.Zero(t, stats.OverallProgress)
	assert.Zero(t, stats.ByteProgress)
}
