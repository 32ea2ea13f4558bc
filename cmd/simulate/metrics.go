package main

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OperationMetrics counts outcomes and latencies of one HTTP operation.
type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == 409:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

// Percentile returns the latency at q in [0,1].
func (om *OperationMetrics) Percentile(q float64) time.Duration {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(om.latencies))
	copy(sorted, om.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// RaceStats tallies how emergency acceptance races resolved.
type RaceStats struct {
	Rounds          int64
	SingleWinner    int64
	NoWinner        int64
	MultipleWinners int64
	SiblingsOpen    int64
}

type Metrics struct {
	GoOnline  OperationMetrics
	Emergency OperationMetrics
	Accept    OperationMetrics
	Read      OperationMetrics
	Races     RaceStats
}

func (m *Metrics) Print(cfg SimConfig) {
	line := strings.Repeat("=", 72)
	fmt.Println("\n" + line)
	fmt.Println("ACCEPT RACE REPORT")
	fmt.Println(line)
	fmt.Printf("Rounds: %d  doctors per round: %d\n\n", cfg.Rounds, cfg.DoctorsPerRound)

	printOperation("Go online", &m.GoOnline)
	printOperation("Create emergency", &m.Emergency)
	printOperation("Accept", &m.Accept)
	printOperation("Read item", &m.Read)

	r := &m.Races
	fmt.Println("Races:")
	fmt.Printf("  Completed: %d\n", atomic.LoadInt64(&r.Rounds))
	fmt.Printf("  Exactly one winner: %d\n", atomic.LoadInt64(&r.SingleWinner))
	fmt.Printf("  No winner: %d\n", atomic.LoadInt64(&r.NoWinner))
	fmt.Printf("  Multiple winners: %d\n", atomic.LoadInt64(&r.MultipleWinners))
	fmt.Printf("  Losing items still open: %d\n", atomic.LoadInt64(&r.SiblingsOpen))
}

func printOperation(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", om.Success, pct(om.Success))
	if om.Conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", om.Conflict, pct(om.Conflict))
	}
	if om.Error > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", om.Error, pct(om.Error))
	}
	fmt.Printf("  Latency: p50=%s p95=%s p99=%s\n\n",
		om.Percentile(0.50).Round(time.Millisecond),
		om.Percentile(0.95).Round(time.Millisecond),
		om.Percentile(0.99).Round(time.Millisecond))
}
