// Package metrics records supervisor outcomes on a private Prometheus
// registry and publishes them as a node_exporter textfile. Every command is a
// short-lived process, so all series are gauges describing the latest run.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hedgectl"

// Recorder is safe to use as a nil pointer; every method then no-ops.
type Recorder struct {
	reg      *prometheus.Registry
	textfile string

	workerUp       *prometheus.GaugeVec
	lastOperation  *prometheus.GaugeVec
	opDuration     *prometheus.GaugeVec
	forcedStop     *prometheus.GaugeVec
	staleCleanup   *prometheus.GaugeVec
	residentMemory *prometheus.GaugeVec
	cpuPercent     *prometheus.GaugeVec
	threads        *prometheus.GaugeVec
}

// New builds a Recorder. textfile is where Flush writes; empty disables
// writing but metrics can still be gathered from Registry.
func New(textfile string) *Recorder {
	r := &Recorder{
		reg:      prometheus.NewRegistry(),
		textfile: textfile,
		workerUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "worker", Name: "up",
			Help: "1 if the worker was running when the command finished.",
		}, []string{"name"}),
		lastOperation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "operation", Name: "last_timestamp_seconds",
			Help: "Unix time the last command completed, by operation and result.",
		}, []string{"name", "op", "result"}),
		opDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "operation", Name: "duration_seconds",
			Help: "Wall time of the last command.",
		}, []string{"name", "op"}),
		forcedStop: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "worker", Name: "forced_stop",
			Help: "1 if the last stop had to force-kill the worker.",
		}, []string{"name"}),
		staleCleanup: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "state", Name: "stale_cleanup",
			Help: "1 if the last command removed a stale state file.",
		}, []string{"name"}),
		residentMemory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "worker", Name: "resident_memory_bytes",
			Help: "Resident set size of the worker process.",
		}, []string{"name"}),
		cpuPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "worker", Name: "cpu_percent",
			Help: "CPU usage of the worker since it started.",
		}, []string{"name"}),
		threads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "worker", Name: "threads",
			Help: "Thread count of the worker process.",
		}, []string{"name"}),
	}
	r.reg.MustRegister(r.workerUp, r.lastOperation, r.opDuration, r.forcedStop,
		r.staleCleanup, r.residentMemory, r.cpuPercent, r.threads)
	return r
}

// Registry exposes the underlying registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

func (r *Recorder) SetWorkerUp(name string, up bool) {
	if r == nil {
		return
	}
	r.workerUp.WithLabelValues(name).Set(boolGauge(up))
}

// ObserveOperation records when op finished, its result label and how long it took.
func (r *Recorder) ObserveOperation(name, op, result string, d time.Duration) {
	if r == nil {
		return
	}
	r.lastOperation.WithLabelValues(name, op, result).SetToCurrentTime()
	r.opDuration.WithLabelValues(name, op).Set(d.Seconds())
}

func (r *Recorder) SetForcedStop(name string, forced bool) {
	if r == nil {
		return
	}
	r.forcedStop.WithLabelValues(name).Set(boolGauge(forced))
}

func (r *Recorder) SetStaleCleanup(name string, cleaned bool) {
	if r == nil {
		return
	}
	r.staleCleanup.WithLabelValues(name).Set(boolGauge(cleaned))
}

// Flush writes all gathered series to the textfile. The write goes through a
// temporary file and rename so node_exporter never reads a partial file.
func (r *Recorder) Flush() error {
	if r == nil || r.textfile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.textfile), 0o755); err != nil {
		return fmt.Errorf("metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(r.textfile, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
