package resource

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Usage is the resource footprint of one monitored call
type Usage struct {
	Wall           time.Duration
	PeakMemory     uint64  // peak heap growth over the starting heap, bytes
	CPUUtilization float64 // process CPU time over wall time, percent of all cores
}

// Monitor samples heap usage while a function runs.
type Monitor struct {
	interval time.Duration
	cpu      CPUTimer
}

// NewMonitor creates a monitor. cpu may be nil, in which case CPU
// utilization is reported as 0.
func NewMonitor(interval time.Duration, cpu CPUTimer) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &Monitor{interval: interval, cpu: cpu}
}

// Track runs fn and reports its wall time, peak heap delta and CPU utilization.
func (m *Monitor) Track(ctx context.Context, fn func() error) (Usage, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	baseline := ms.HeapAlloc

	var cpuStart time.Duration
	cpuOK := false
	if m.cpu != nil {
		if t, err := m.cpu.CPUTime(ctx); err == nil {
			cpuStart, cpuOK = t, true
		}
	}

	var (
		mu   sync.Mutex
		peak = baseline
		stop = make(chan struct{})
		wg   sync.WaitGroup
	)
	sample := func() {
		var s runtime.MemStats
		runtime.ReadMemStats(&s)
		mu.Lock()
		if s.HeapAlloc > peak {
			peak = s.HeapAlloc
		}
		mu.Unlock()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				sample()
			}
		}
	}()

	start := time.Now()
	err := fn()
	wall := time.Since(start)

	close(stop)
	wg.Wait()
	sample()

	usage := Usage{Wall: wall}
	if peak > baseline {
		usage.PeakMemory = peak - baseline
	}

	if cpuOK && wall > 0 {
		if t, cerr := m.cpu.CPUTime(ctx); cerr == nil {
			used := float64(t - cpuStart)
			usage.CPUUtilization = used / (float64(wall) * float64(runtime.NumCPU())) * 100
		}
	}

	return usage, err
}
