package observability

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/croakml/guard/command"
)

// Metrics is an in-process execution counter set. It costs one atomic
// add per event, so it stays on even when OpenTelemetry is off.
type Metrics struct {
	programStats    map[string]*ProgramStats
	totalDuration   int64
	minDuration     int64
	timedOut        int64
	notAllowed      int64
	rateLimited     int64
	spawnFailed     int64
	nonZeroExit     int64
	durationCount   int64
	totalExecutions int64
	maxDuration     int64
	succeeded       int64
	mu              sync.RWMutex
}

// ProgramStats contains per-program statistics.
type ProgramStats struct {
	LastExecutionAt time.Time
	Program         string
	LastOutcome     string
	TotalExecutions int64
	Succeeded       int64
	Failed          int64
	TotalDuration   int64
	AvgDuration     int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		programStats: make(map[string]*ProgramStats),
		minDuration:  -1,
	}
}

// Record records one execution result.
func (m *Metrics) Record(result *command.Result) {
	atomic.AddInt64(&m.totalExecutions, 1)

	switch result.Kind {
	case command.FailureNone:
		atomic.AddInt64(&m.succeeded, 1)
	case command.FailureTimedOut:
		atomic.AddInt64(&m.timedOut, 1)
	case command.FailureNonZeroExit:
		atomic.AddInt64(&m.nonZeroExit, 1)
	case command.FailureSpawnFailed:
		atomic.AddInt64(&m.spawnFailed, 1)
	case command.FailureNotAllowed:
		atomic.AddInt64(&m.notAllowed, 1)
		for _, v := range result.Violations {
			if v.Code == command.CodeRateLimited {
				atomic.AddInt64(&m.rateLimited, 1)
				break
			}
		}
	}

	if result.Started {
		duration := result.Duration.Nanoseconds()
		atomic.AddInt64(&m.totalDuration, duration)
		atomic.AddInt64(&m.durationCount, 1)

		for {
			old := atomic.LoadInt64(&m.minDuration)
			if old >= 0 && duration >= old {
				break
			}
			if atomic.CompareAndSwapInt64(&m.minDuration, old, duration) {
				break
			}
		}

		for {
			old := atomic.LoadInt64(&m.maxDuration)
			if duration <= old {
				break
			}
			if atomic.CompareAndSwapInt64(&m.maxDuration, old, duration) {
				break
			}
		}
	}

	m.updateProgramStats(result)
}

func (m *Metrics) updateProgramStats(result *command.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.programStats[result.Program]
	if !ok {
		stats = &ProgramStats{Program: result.Program}
		m.programStats[result.Program] = stats
	}

	stats.TotalExecutions++
	stats.TotalDuration += result.Duration.Nanoseconds()
	stats.AvgDuration = stats.TotalDuration / stats.TotalExecutions
	stats.LastExecutionAt = time.Now()
	stats.LastOutcome = result.Kind.String()

	if result.Success() {
		stats.Succeeded++
	} else {
		stats.Failed++
	}
}

// Snapshot returns a point-in-time copy of current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalExecutions: atomic.LoadInt64(&m.totalExecutions),
		Succeeded:       atomic.LoadInt64(&m.succeeded),
		NotAllowed:      atomic.LoadInt64(&m.notAllowed),
		RateLimited:     atomic.LoadInt64(&m.rateLimited),
		TimedOut:        atomic.LoadInt64(&m.timedOut),
		NonZeroExit:     atomic.LoadInt64(&m.nonZeroExit),
		SpawnFailed:     atomic.LoadInt64(&m.spawnFailed),
		AvgDuration:     m.avgDuration(),
		MinDuration:     time.Duration(atomic.LoadInt64(&m.minDuration)),
		MaxDuration:     time.Duration(atomic.LoadInt64(&m.maxDuration)),
		ProgramStats:    m.getProgramStats(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	ProgramStats    map[string]*ProgramStats
	TotalExecutions int64
	Succeeded       int64
	NotAllowed      int64
	RateLimited     int64
	TimedOut        int64
	NonZeroExit     int64
	SpawnFailed     int64
	AvgDuration     time.Duration
	MinDuration     time.Duration
	MaxDuration     time.Duration
}

// SuccessRate returns the success rate as a percentage.
func (s MetricsSnapshot) SuccessRate() float64 {
	if s.TotalExecutions == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.TotalExecutions) * 100
}

// DenialRate returns the share of requests refused before spawning.
func (s MetricsSnapshot) DenialRate() float64 {
	if s.TotalExecutions == 0 {
		return 0
	}
	return float64(s.NotAllowed) / float64(s.TotalExecutions) * 100
}

func (m *Metrics) avgDuration() time.Duration {
	count := atomic.LoadInt64(&m.durationCount)
	if count == 0 {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&m.totalDuration) / count)
}

func (m *Metrics) getProgramStats() map[string]*ProgramStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*ProgramStats, len(m.programStats))
	for k, v := range m.programStats {
		copied := *v
		result[k] = &copied
	}
	return result
}

// Reset resets all metrics.
func (m *Metrics) Reset() {
	atomic.StoreInt64(&m.totalExecutions, 0)
	atomic.StoreInt64(&m.succeeded, 0)
	atomic.StoreInt64(&m.notAllowed, 0)
	atomic.StoreInt64(&m.rateLimited, 0)
	atomic.StoreInt64(&m.timedOut, 0)
	atomic.StoreInt64(&m.nonZeroExit, 0)
	atomic.StoreInt64(&m.spawnFailed, 0)
	atomic.StoreInt64(&m.totalDuration, 0)
	atomic.StoreInt64(&m.durationCount, 0)
	atomic.StoreInt64(&m.minDuration, -1)
	atomic.StoreInt64(&m.maxDuration, 0)

	m.mu.Lock()
	m.programStats = make(map[string]*ProgramStats)
	m.mu.Unlock()
}
