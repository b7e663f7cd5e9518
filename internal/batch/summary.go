package batch

import (
	"math"
	"time"
)

// Summary is the aggregate view of one batch, recomputed on demand from the
// current job states.
type Summary struct {
	BatchID  string         `json:"batchId"`
	Status   BatchStatus    `json:"status"`
	Counts   map[Status]int `json:"counts"`
	Total    int            `json:"total"`
	Progress float64        `json:"progress"` // mean of job progress, 0-100

	// EstimatedRemaining is nil until at least one job has completed.
	EstimatedRemaining *time.Duration `json:"estimatedRemaining,omitempty"`

	TotalVariants int           `json:"totalVariants"`
	TotalFindings int           `json:"totalFindings"`
	AvgDuration   time.Duration `json:"avgDuration"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Summary computes the batch's aggregate statistics.
func (p *Processor) Summary(batchID string) (*Summary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.batches[batchID]
	if !ok {
		return nil, false
	}

	s := &Summary{
		BatchID: b.id,
		Status:  b.status,
		Counts:  make(map[Status]int),
		Total:   len(b.jobIDs),
		Elapsed: time.Since(b.createdAt),
	}

	progressSum := 0
	remaining := 0
	for _, id := range b.jobIDs {
		job := p.jobs[id]
		s.Counts[job.Status]++
		progressSum += job.Progress
		if !job.Status.Terminal() {
			remaining++
		}
		if job.Result != nil {
			s.TotalVariants += job.Result.Variants
			s.TotalFindings += job.Result.Findings
		}
	}
	if s.Total > 0 {
		s.Progress = float64(progressSum) / float64(s.Total)
	}

	if len(b.durations) > 0 {
		var sum time.Duration
		for _, d := range b.durations {
			sum += d
		}
		s.AvgDuration = sum / time.Duration(len(b.durations))

		// ceil(remaining / concurrency) waves of average duration.
		waves := int(math.Ceil(float64(remaining) / float64(p.cfg.Concurrency)))
		eta := time.Duration(waves) * s.AvgDuration
		s.EstimatedRemaining = &eta
	}

	return s, true
}
