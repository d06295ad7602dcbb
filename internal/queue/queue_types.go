package queue

import (
	"errors"
	"log/slog"
	"time"
)

var (
	ErrClosed        = errors.New("queue: closed")
	ErrInvalidConfig = errors.New("queue: invalid config")
)

// Status is the lifecycle state of an Item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusPaused    Status = "paused"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Item is a snapshot of one enqueued transfer.
type Item struct {
	ID            string        `json:"id"`
	Payload       any           `json:"-"`
	Sequence      int           `json:"sequence"`
	Status        Status        `json:"status"`
	Progress      float64       `json:"progress"`
	Speed         float64       `json:"speed,omitempty"`         // bytes per second, only while uploading
	TimeRemaining time.Duration `json:"timeRemaining,omitempty"` // only while uploading
	RetryCount    int           `json:"retryCount"`
	Error         string        `json:"error,omitempty"`
	ResultToken   string        `json:"resultToken,omitempty"`
	BytesSent     int64         `json:"bytesSent"`
	BytesTotal    int64         `json:"bytesTotal"`
	CreatedAt     time.Time     `json:"createdAt"`
	StartedAt     time.Time     `json:"startedAt"`
	CompletedAt   time.Time     `json:"completedAt"`
	NextRetryAt   time.Time     `json:"nextRetryAt"`
}

// Stats are batch level counters derived from the current queue contents.
// Paused and Cancelled items are not part of Completed, Failed, Uploading or Pending.
type Stats struct {
	Total                  int           `json:"total"`
	Completed              int           `json:"completed"`
	Failed                 int           `json:"failed"`
	Uploading              int           `json:"uploading"`
	Pending                int           `json:"pending"`
	Paused                 int           `json:"paused"`
	Cancelled              int           `json:"cancelled"`
	OverallProgress        float64       `json:"overallProgress"`
	TotalSpeed             float64       `json:"totalSpeed"`
	EstimatedTimeRemaining time.Duration `json:"estimatedTimeRemaining"`
	BytesSent              int64         `json:"bytesSent"`
	BytesTotal             int64         `json:"bytesTotal"`
	ByteProgress           float64       `json:"byteProgress"`
	Running                bool          `json:"running"`
}

// EventType identifies a queue change published to subscribers.
type EventType string

const (
	EventItemAdded     EventType = "item_added"
	EventItemUpdated   EventType = "item_updated"
	EventItemProgress  EventType = "item_progress"
	EventItemRemoved   EventType = "item_removed"
	EventBatchComplete EventType = "batch_complete"
)

// Event is broadcast to subscribers after the queue state changes.
type Event struct {
	Type  EventType `json:"type"`
	Item  *Item     `json:"item,omitempty"`
	Stats *Stats    `json:"stats,omitempty"`
	Time  time.Time `json:"time"`
}

const (
	DefaultMaxConcurrent   = 3
	DefaultMaxRetries      = 3
	DefaultBaseDelay       = 1 * time.Second
	DefaultMaxDelay        = 30 * time.Second
	DefaultAssumedItemSize = int64(4 * 1024 * 1024)
)

// Config controls admission, retries and callbacks of a Queue.
type Config struct {
	MaxConcurrent int
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration // zero means no cap
	Jitter        bool

	// BatchID is passed to the transport with every item. Generated when empty.
	BatchID string

	// AssumedItemSize is used by the ETA estimate for items whose size is not known yet.
	AssumedItemSize int64

	Logger *slog.Logger

	// Callbacks run on a dedicated goroutine in the order the changes happened.
	// They may call back into the queue but must not call Close.
	OnItemSuccess   func(Item)
	OnItemError     func(Item)
	OnBatchComplete func(Stats)
}

// DefaultConfig returns a Config with the package defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   DefaultMaxConcurrent,
		MaxRetries:      DefaultMaxRetries,
		BaseDelay:       DefaultBaseDelay,
		MaxDelay:        DefaultMaxDelay,
		AssumedItemSize: DefaultAssumedItemSize,
	}
}

func (c *Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return errors.Join(ErrInvalidConfig, errors.New("max concurrent must be at least 1"))
	}
	if c.MaxRetries < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("max retries must not be negative"))
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("retry delays must not be negative"))
	}
	if c.AssumedItemSize < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("assumed item size must not be negative"))
	}
	return nil
}
