package observability

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects turn counters, per-phase latency and a bounded window of
// turn durations.
type Metrics struct {
	mu sync.Mutex

	turnTotal    atomic.Int64
	turnFailed   atomic.Int64
	turnCanceled atomic.Int64
	streamTokens atomic.Int64

	failuresByCode map[string]int64
	phases         map[string]*phaseMetrics

	durations    []time.Duration
	maxDurations int
}

type phaseMetrics struct {
	count   int64
	totalMs int64
}

// NewMetrics creates a new metrics collector keeping the last maxDurations
// turn durations.
func NewMetrics(maxDurations int) *Metrics {
	if maxDurations <= 0 {
		maxDurations = 1000
	}
	return &Metrics{
		failuresByCode: make(map[string]int64),
		phases:         make(map[string]*phaseMetrics),
		durations:      make([]time.Duration, 0, maxDurations),
		maxDurations:   maxDurations,
	}
}

// RecordTurn records a started turn.
func (m *Metrics) RecordTurn() {
	m.turnTotal.Add(1)
}

// RecordFailure records a failed turn by error code.
func (m *Metrics) RecordFailure(code string) {
	m.turnFailed.Add(1)
	m.mu.Lock()
	m.failuresByCode[code]++
	m.mu.Unlock()
}

// RecordCanceled records a turn abandoned by its caller.
func (m *Metrics) RecordCanceled() {
	m.turnCanceled.Add(1)
}

// RecordDuration records a completed turn duration.
func (m *Metrics) RecordDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.durations) >= m.maxDurations {
		m.durations = m.durations[1:]
	}
	m.durations = append(m.durations, d)
}

// RecordPhase records the latency of one pipeline phase.
func (m *Metrics) RecordPhase(phase string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm, ok := m.phases[phase]
	if !ok {
		pm = &phaseMetrics{}
		m.phases[phase] = pm
	}
	pm.count++
	pm.totalMs += d.Milliseconds()
}

// RecordStreamToken records a streamed token.
func (m *Metrics) RecordStreamToken() {
	m.streamTokens.Add(1)
}

// Snapshot is a point-in-time copy of the metrics.
type Snapshot struct {
	TurnTotal      int64            `json:"turn_total"`
	TurnFailed     int64            `json:"turn_failed"`
	TurnCanceled   int64            `json:"turn_canceled"`
	StreamTokens   int64            `json:"stream_tokens"`
	FailuresByCode map[string]int64 `json:"failures_by_code"`
	PhaseAvgMs     map[string]int64 `json:"phase_avg_ms"`
	P50Ms          int64            `json:"p50_ms"`
	P95Ms          int64            `json:"p95_ms"`
}

// Snapshot returns the current metrics.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		TurnTotal:      m.turnTotal.Load(),
		TurnFailed:     m.turnFailed.Load(),
		TurnCanceled:   m.turnCanceled.Load(),
		StreamTokens:   m.streamTokens.Load(),
		FailuresByCode: make(map[string]int64, len(m.failuresByCode)),
		PhaseAvgMs:     make(map[string]int64, len(m.phases)),
	}
	for code, n := range m.failuresByCode {
		s.FailuresByCode[code] = n
	}
	for phase, pm := range m.phases {
		if pm.count > 0 {
			s.PhaseAvgMs[phase] = pm.totalMs / pm.count
		}
	}

	if len(m.durations) > 0 {
		sorted := make([]time.Duration, len(m.durations))
		copy(sorted, m.durations)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		s.P50Ms = percentile(sorted, 0.50).Milliseconds()
		s.P95Ms = percentile(sorted, 0.95).Milliseconds()
	}
	return s
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// Reset resets all metrics.
func (m *Metrics) Reset() {
	m.turnTotal.Store(0)
	m.turnFailed.Store(0)
	m.turnCanceled.Store(0)
	m.streamTokens.Store(0)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.failuresByCode = make(map[string]int64)
	m.phases = make(map[string]*phaseMetrics)
	m.durations = m.durations[:0]
}
