package reconcile

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcInfo is one row of the OS process table.
type ProcInfo struct {
	PID        int
	Args       []string
	CreateTime time.Time
}

// ProcessTable lists and probes OS processes.
type ProcessTable interface {
	List(ctx context.Context) ([]ProcInfo, error)
	Exists(ctx context.Context, pid int) (bool, error)
}

// GopsutilTable reads the live process table.
type GopsutilTable struct{}

// List returns every process whose command line can be read. Processes that
// vanish or deny access while being listed are skipped.
func (GopsutilTable) List(ctx context.Context) ([]ProcInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProcInfo, 0, len(procs))
	for _, p := range procs {
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || len(args) == 0 {
			continue
		}
		info := ProcInfo{PID: int(p.Pid), Args: args}
		if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
			info.CreateTime = time.UnixMilli(ms)
		}
		out = append(out, info)
	}
	return out, nil
}

// Exists reports whether pid is present in the process table.
func (GopsutilTable) Exists(ctx context.Context, pid int) (bool, error) {
	return process.PidExistsWithContext(ctx, int32(pid)) //nolint:gosec // pids fit in int32
}
