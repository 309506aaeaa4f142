// Package resource supplies system utilization readings for engine selection
// and run monitoring.
package resource

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Probe reports current system memory utilization as a percentage.
type Probe interface {
	MemoryPercent(ctx context.Context) (float64, error)
}

// CPUTimer reports cumulative CPU time consumed by the current process.
type CPUTimer interface {
	CPUTime(ctx context.Context) (time.Duration, error)
}

// SystemProbe reads utilization from the host via gopsutil.
type SystemProbe struct {
	proc *process.Process
}

// NewSystemProbe creates a probe bound to the current process.
func NewSystemProbe() (*SystemProbe, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrProbeUnavailable, err)
	}
	return &SystemProbe{proc: proc}, nil
}

// MemoryPercent returns used virtual memory as a percentage of total.
func (p *SystemProbe) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrProbeUnavailable, err)
	}
	return vm.UsedPercent, nil
}

// CPUTime returns user plus system CPU time of the process.
func (p *SystemProbe) CPUTime(ctx context.Context) (time.Duration, error) {
	times, err := p.proc.TimesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrProbeUnavailable, err)
	}
	return time.Duration((times.User + times.System) * float64(time.Second)), nil
}

// StaticProbe returns a fixed reading. A non-nil Err is returned instead.
type StaticProbe struct {
	Percent float64
	Err     error
}

func (s StaticProbe) MemoryPercent(context.Context) (float64, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	return s.Percent, nil
}
