package transport

import (
	"errors"
	"io"
	"time"
)

const DefaultProgressInterval = 200 * time.Millisecond

// ProgressReader is a wrapper around an io.Reader that tracks the number of bytes read
// and triggers a callback with the running total.
type ProgressReader struct {
	reader           io.Reader
	bytesRead        int64
	totalSize        int64
	callback         ProgressFunc
	interval         time.Duration
	lastCallbackTime time.Time
}

// NewProgressReader wraps r. The callback fires at most once per interval and always
// on EOF. A zero interval reports every read.
func NewProgressReader(r io.Reader, totalSize int64, interval time.Duration, callback ProgressFunc) *ProgressReader {
	return &ProgressReader{
		reader:    r,
		totalSize: totalSize,
		callback:  callback,
		interval:  interval,
	}
}

// Read implements io.Reader.
func (pr *ProgressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.bytesRead += int64(n)
	}

	if pr.callback != nil {
		now := time.Now()
		if now.Sub(pr.lastCallbackTime) >= pr.interval || err == io.EOF {
			pr.callback(pr.bytesRead, pr.totalSize)
			pr.lastCallbackTime = now
		}
	}

	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (pr *ProgressReader) BytesRead() int64 {
	return pr.bytesRead
}

// Seek repositions the wrapped reader and the byte counter. It fails when the
// wrapped reader cannot seek.
func (pr *ProgressReader) Seek(offset int64, whence int) (int64, error) {
	s, ok := pr.reader.(io.Seeker)
	if !ok {
		return 0, errors.New("transport: reader is not seekable")
	}
	pos, err := s.Seek(offset, whence)
	if err == nil {
		pr.bytesRead = pos
	}
	return pos, err
}
