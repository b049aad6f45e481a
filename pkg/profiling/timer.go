package profiling

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Stopper ends a timed span.
type Stopper interface {
	Stop()
}

// Profiler aggregates span durations by name.
type Profiler struct {
	mu      sync.Mutex
	enabled bool
	started time.Time
	totals  map[string]*stat
}

type stat struct {
	count int
	total time.Duration
	max   time.Duration
}

var defaultProfiler = &Profiler{}

// Enable turns on the global profiler.
func Enable() {
	defaultProfiler.Enable()
}

// Start begins a span on the global profiler; stop it with defer.
func Start(name string) Stopper {
	return defaultProfiler.Start(name)
}

// Summarize prints the global profiler's totals.
func Summarize(w io.Writer) {
	defaultProfiler.Summarize(w)
}

// Enable starts collecting. Spans started before Enable are not recorded.
func (p *Profiler) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		return
	}
	p.enabled = true
	p.started = time.Now()
	p.totals = make(map[string]*stat)
}

// Start begins a span called name.
func (p *Profiler) Start(name string) Stopper {
	p.mu.Lock()
	enabled := p.enabled
	p.mu.Unlock()
	if !enabled {
		return noopStopper{}
	}
	return &span{profiler: p, name: name, start: time.Now()}
}

func (p *Profiler) record(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.totals[name]
	if !ok {
		s = &stat{}
		p.totals[name] = s
	}
	s.count++
	s.total += d
	if d > s.max {
		s.max = d
	}
}

// Summarize writes one line per span name, slowest total first.
func (p *Profiler) Summarize(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}

	names := make([]string, 0, len(p.totals))
	for name := range p.totals {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := p.totals[names[i]], p.totals[names[j]]
		if a.total != b.total {
			return a.total > b.total
		}
		return names[i] < names[j]
	})

	elapsed := time.Since(p.started)
	fmt.Fprintln(w, "\n--- Timing Profile ---")
	for _, name := range names {
		s := p.totals[name]
		pct := 0.0
		if elapsed > 0 {
			pct = float64(s.total) / float64(elapsed) * 100
		}
		fmt.Fprintf(w, "- %s: %v total, %d calls, max %v (%.1f%%)\n",
			name, s.total.Round(100*time.Microsecond), s.count, s.max.Round(100*time.Microsecond), pct)
	}
	fmt.Fprintf(w, "- wall: %v\n", elapsed.Round(100*time.Microsecond))
	fmt.Fprintln(w, "--------------------")
}

type span struct {
	profiler *Profiler
	name     string
	start    time.Time
	once     sync.Once
}

func (s *span) Stop() {
	s.once.Do(func() {
		s.profiler.record(s.name, time.Since(s.start))
	})
}

type noopStopper struct{}

func (noopStopper) Stop() {}
