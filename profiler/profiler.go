// Package profiler provides coarse phase timing and memory accounting for
// the long stages of an experiment run (loading, spectrogram generation,
// training).
package profiler

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PhaseStats records the cost of one completed phase.
type PhaseStats struct {
	// Name identifies the phase.
	Name string
	// Duration is the wall-clock time of the phase.
	Duration time.Duration
	// AllocDelta is the change in cumulative heap allocation across the
	// phase. It only ever grows; it is a throughput signal, not a leak test.
	AllocDelta uint64
	// GCCycles is the number of collections that ran during the phase.
	GCCycles uint32
}

// Profiler collects phase statistics. The zero value is not usable; use New.
type Profiler struct {
	mu     sync.Mutex
	phases []PhaseStats
}

// New returns an empty profiler.
func New() *Profiler {
	return &Profiler{}
}

// Phase starts timing a named phase and returns the function that ends it.
//
// Arguments:
//   - name: The phase name used in the summary.
//
// Returns:
//   - A function to call when the phase completes.
func (p *Profiler) Phase(name string) func() {
	var before runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()

	return func() {
		var after runtime.MemStats
		runtime.ReadMemStats(&after)

		p.mu.Lock()
		defer p.mu.Unlock()
		p.phases = append(p.phases, PhaseStats{
			Name:       name,
			Duration:   time.Since(start),
			AllocDelta: after.TotalAlloc - before.TotalAlloc,
			GCCycles:   after.NumGC - before.NumGC,
		})
	}
}

// Phases returns a copy of the completed phase statistics in completion
// order.
func (p *Profiler) Phases() []PhaseStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PhaseStats, len(p.phases))
	copy(out, p.phases)
	return out
}

// LogSummary emits one structured line per completed phase.
func (p *Profiler) LogSummary(log *zap.SugaredLogger) {
	for _, ph := range p.Phases() {
		log.Infow("phase summary",
			"phase", ph.Name,
			"duration", ph.Duration.Truncate(time.Millisecond).String(),
			"allocated", formatBytes(ph.AllocDelta),
			"gc_cycles", ph.GCCycles)
	}
}

// formatBytes renders a byte count with a binary-prefix unit for the
// summary line.
func formatBytes(n uint64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	units := []string{"KiB", "MiB", "GiB", "TiB", "PiB"}
	v := float64(n)
	i := -1
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}
