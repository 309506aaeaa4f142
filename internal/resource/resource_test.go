package resource_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCPU struct {
	calls int
	step  time.Duration
}

func (f *fakeCPU) CPUTime(context.Context) (time.Duration, error) {
	f.calls++
	return time.Duration(f.calls) * f.step, nil
}

func TestStaticProbe(t *testing.T) {
	pct, err := resource.StaticProbe{Percent: 42}.MemoryPercent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42.0, pct)

	boom := errors.New("boom")
	_, err = resource.StaticProbe{Err: boom}.MemoryPercent(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestMonitorTracksHeapGrowth(t *testing.T) {
	m := resource.NewMonitor(time.Millisecond, nil)

	var keep [][]byte
	usage, err := m.Track(context.Background(), func() error {
		for i := 0; i < 16; i++ {
			keep = append(keep, make([]byte, 1<<20))
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, keep)

	assert.Greater(t, usage.Wall, time.Duration(0))
	assert.Greater(t, usage.PeakMemory, uint64(0))
	assert.Equal(t, 0.0, usage.CPUUtilization)
}

func TestMonitorReportsCPUAndError(t *testing.T) {
	cpu := &fakeCPU{step: time.Millisecond}
	m := resource.NewMonitor(time.Millisecond, cpu)
	boom := errors.New("boom")

	usage, err := m.Track(context.Background(), func() error {
		time.Sleep(5 * time.Millisecond)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, cpu.calls)
	assert.Greater(t, usage.CPUUtilization, 0.0)
}

func TestSystemProbe(t *testing.T) {
	probe, err := resource.NewSystemProbe()
	if err != nil {
		t.Skipf("system probe unavailable: %v", err)
	}

	pct, err := probe.MemoryPercent(context.Background())
	if err != nil {
		t.Skipf("memory reading unavailable: %v", err)
	}
	assert.GreaterOrEqual(t, pct, 0.0)
	assert.LessOrEqual(t, pct, 100.0)
}
