package queue

import "time"

// computeStats derives the counters from the entries on every call rather than
// maintaining them incrementally.
func (q *Queue) computeStats() Stats {
	stats := Stats{
		Total:   len(q.entries),
		Running: q.running,
	}

	var knownSizes, knownCount int64
	var inflightRemaining int64

	for _, e := range q.entries {
		item := &e.item
		switch item.Status {
		case StatusSuccess:
			stats.Completed++
			stats.BytesSent += item.BytesTotal
		case StatusError:
			stats.Failed++
		case StatusUploading:
			stats.Uploading++
			stats.TotalSpeed += item.Speed
			stats.BytesSent += item.BytesSent
			if item.BytesTotal > item.BytesSent {
				inflightRemaining += item.BytesTotal - item.BytesSent
			}
		case StatusPending:
			stats.Pending++
		case StatusPaused:
			stats.Paused++
		case StatusCancelled:
			stats.Cancelled++
		}

		if item.BytesTotal > 0 {
			stats.BytesTotal += item.BytesTotal
			knownSizes += item.BytesTotal
			knownCount++
		}
	}

	if stats.Total > 0 {
		stats.OverallProgress = float64(stats.Completed) / float64(stats.Total) * 100.0
	}
	if stats.BytesTotal > 0 {
		stats.ByteProgress = min(float64(stats.BytesSent)/float64(stats.BytesTotal)*100.0, 100.0)
	}

	// unstarted items have no known size, assume the running average
	avgSize := q.cfg.AssumedItemSize
	if knownCount > 0 {
		avgSize = knownSizes / knownCount
	}
	if stats.TotalSpeed > 0 {
		remaining := float64(inflightRemaining) + float64(stats.Pending)*float64(avgSize)
		stats.EstimatedTimeRemaining = time.Duration(remaining / stats.TotalSpeed * float64(time.Second))
	}

	return stats
}
