package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// SplitRequest is one splitter invocation.
type SplitRequest struct {
	// Input is the snapshot alias path.
	Input string
	// Config is the config file handed to the splitter.
	Config string
	// Dir is the working directory of the invocation (the dated run dir).
	Dir string
}

// Partitioner cuts one config's extracts out of the snapshot.
type Partitioner interface {
	Split(ctx context.Context, req SplitRequest) error
}

// CommandPartitioner runs the external splitter binary as
// `<tool> <input> <config>` with its working directory set per invocation.
// Both of its output streams go to the caller's error stream.
type CommandPartitioner struct {
	tool   string
	stderr io.Writer
}

func NewCommandPartitioner(tool string, stderr io.Writer) *CommandPartitioner {
	if stderr == nil {
		stderr = os.Stderr
	}
	return &CommandPartitioner{tool: tool, stderr: stderr}
}

func (p *CommandPartitioner) Split(ctx context.Context, req SplitRequest) error {
	cmd := exec.CommandContext(ctx, p.tool, req.Input, req.Config)
	cmd.Dir = req.Dir
	cmd.Stdout = p.stderr
	cmd.Stderr = p.stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", p.tool, ctx.Err())
		}
		return fmt.Errorf("%s: %w", p.tool, err)
	}
	return nil
}

var _ Partitioner = (*CommandPartitioner)(nil)
