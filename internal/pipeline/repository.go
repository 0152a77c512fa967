package pipeline

import "context"

// RunRecorder persists run history. Recording is best effort: the
// orchestrator logs recorder errors and carries on.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *ExtractionRun) error
	UpdateRun(ctx context.Context, run *ExtractionRun) error
}

type noopRecorder struct{}

// NoopRecorder discards run history.
func NoopRecorder() RunRecorder { return noopRecorder{} }

func (noopRecorder) CreateRun(context.Context, *ExtractionRun) error { return nil }
func (noopRecorder) UpdateRun(context.Context, *ExtractionRun) error { return nil }
