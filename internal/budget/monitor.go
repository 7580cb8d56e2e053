package budget

import (
	"fmt"
	"sync"
	"time"
)

// Monitor tracks the depleting research budget and wall time of one run.
type Monitor struct {
	policy    Policy
	remaining float64
	spent     []float64
	startTime time.Time
	now       func() time.Time
	mu        sync.Mutex
}

// NewMonitor starts tracking usage against policy.
func NewMonitor(policy Policy) *Monitor {
	return &Monitor{
		policy:    policy,
		remaining: policy.InitialBudget,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Spend decrements the budget by cost and returns what is left. The result may
// go negative; enforcement happens at routing time.
func (m *Monitor) Spend(cost float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining -= cost
	m.spent = append(m.spent, cost)
	return m.remaining
}

// Remaining returns the current budget.
func (m *Monitor) Remaining() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining
}

// Check returns ErrExceeded when the budget is gone.
func (m *Monitor) Check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy.Exhausted(m.remaining) {
		return ErrExceeded{
			Kind:  KindBudget,
			Usage: fmt.Sprintf("%.2f", m.policy.InitialBudget-m.remaining),
			Limit: fmt.Sprintf("%.2f", m.policy.InitialBudget),
		}
	}
	return nil
}

// CheckTime verifies elapsed time against the configured limit.
func (m *Monitor) CheckTime() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy.MaxDuration <= 0 {
		return nil
	}
	elapsed := m.now().Sub(m.startTime)
	if elapsed > m.policy.MaxDuration {
		return ErrExceeded{
			Kind:  KindTime,
			Usage: elapsed.String(),
			Limit: m.policy.MaxDuration.String(),
		}
	}
	return nil
}

// Usage returns the accumulated spend.
func (m *Monitor) Usage() (spent float64, decisions int, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.spent {
		spent += c
	}
	return spent, len(m.spent), m.now().Sub(m.startTime)
}

// Policy returns the limits the monitor enforces.
func (m *Monitor) Policy() Policy {
	return m.policy
}
