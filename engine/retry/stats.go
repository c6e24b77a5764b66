package retry

import "time"

// Stats is an atomic snapshot of retry activity since startup.
type Stats struct {
	TotalRetries    int           `json:"total_retries"`
	TotalSuccesses  int           `json:"total_successes"`
	AverageDelay    time.Duration `json:"average_delay"`
	MaxDelay        time.Duration `json:"max_delay"`
	MostRetriedType string        `json:"most_retried_type"`
	// SuccessRate is successes over retried actions, 0..1.
	SuccessRate float64 `json:"success_rate"`
}

// statsAccumulator is guarded by the manager's mutex.
type statsAccumulator struct {
	retries    int
	successes  int
	totalDelay time.Duration
	maxDelay   time.Duration
	byType     map[string]int
}

func (s *statsAccumulator) recordRetry(actionType string, delay time.Duration) {
	if s.byType == nil {
		s.byType = make(map[string]int)
	}
	s.retries++
	s.totalDelay += delay
	if delay > s.maxDelay {
		s.maxDelay = delay
	}
	s.byType[actionType]++
}

func (s *statsAccumulator) recordSuccess() {
	s.successes++
}

// Stats returns a snapshot of the accumulated retry statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Stats{
		TotalRetries:   m.stats.retries,
		TotalSuccesses: m.stats.successes,
		MaxDelay:       m.stats.maxDelay,
	}
	if m.stats.retries > 0 {
		out.AverageDelay = m.stats.totalDelay / time.Duration(m.stats.retries)
		out.SuccessRate = float64(m.stats.successes) / float64(m.stats.retries)
	}
	most := 0
	for t, n := range m.stats.byType {
		if n > most || (n == most && t < out.MostRetriedType) {
			most = n
			out.MostRetriedType = t
		}
	}
	return out
}
