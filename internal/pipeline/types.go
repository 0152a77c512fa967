package pipeline

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/andresuchdata/history-extracts/internal/domain"
)

// RunStatus is the state of an extraction run or of one config job.
type RunStatus string

const (
	StatusPending    RunStatus = "pending"
	StatusProcessing RunStatus = "processing"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
	StatusSkipped    RunStatus = "skipped"
)

// ExtractionRun tracks one pass over a new snapshot.
type ExtractionRun struct {
	ID           string       `json:"id"`
	Stamp        string       `json:"stamp"`
	RemoteName   string       `json:"remote_name"`
	OutputDir    string       `json:"output_dir"`
	Status       RunStatus    `json:"status"`
	Jobs         []*ConfigJob `json:"jobs"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// ConfigJob tracks the splitter invocation for a single config file.
type ConfigJob struct {
	Config       string        `json:"config"`
	Status       RunStatus     `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// NewExtractionRun starts a run record for snap with a fresh ULID.
func NewExtractionRun(snap domain.Snapshot, outputDir string) *ExtractionRun {
	now := time.Now().UTC()
	return &ExtractionRun{
		ID:         ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Stamp:      snap.Stamp,
		RemoteName: snap.RemoteName,
		OutputDir:  outputDir,
		Status:     StatusProcessing,
		StartedAt:  now,
	}
}

// Counts tallies the jobs by status.
func (r *ExtractionRun) Counts() map[RunStatus]int {
	out := make(map[RunStatus]int, 4)
	for _, j := range r.Jobs {
		out[j.Status]++
	}
	return out
}

func (r *ExtractionRun) finish(status RunStatus, err error) {
	now := time.Now().UTC()
	r.Status = status
	r.CompletedAt = &now
	if err != nil {
		r.ErrorMessage = err.Error()
	}
}
