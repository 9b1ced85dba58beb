package metrics

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// WorkerSample is a point-in-time resource reading of the worker.
type WorkerSample struct {
	PID        int32
	CPUPercent float64
	MemoryRSS  uint64
	NumThreads int32
}

// ReadWorker samples CPU, memory and thread count for pid.
func ReadWorker(pid int) (WorkerSample, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return WorkerSample{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return WorkerSample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	s := WorkerSample{PID: int32(pid), MemoryRSS: mem.RSS}
	// best effort; some platforms deny these for foreign processes
	if cpu, err := proc.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	}
	if n, err := proc.NumThreads(); err == nil {
		s.NumThreads = n
	}
	return s, nil
}

// ObserveWorker stores a sample in the worker resource gauges.
func (r *Recorder) ObserveWorker(name string, s WorkerSample) {
	if r == nil {
		return
	}
	r.residentMemory.WithLabelValues(name).Set(float64(s.MemoryRSS))
	r.cpuPercent.WithLabelValues(name).Set(s.CPUPercent)
	r.threads.WithLabelValues(name).Set(float64(s.NumThreads))
}

// ClearWorker drops resource series once the worker is gone.
func (r *Recorder) ClearWorker(name string) {
	if r == nil {
		return
	}
	r.residentMemory.DeleteLabelValues(name)
	r.cpuPercent.DeleteLabelValues(name)
	r.threads.DeleteLabelValues(name)
}
