package budget

import (
	"fmt"
	"sync"
	"time"
)

// Monitor tracks tool-call usage against configured limits during one turn.
type Monitor struct {
	config    Config
	toolCalls int64
	startTime time.Time
	mu        sync.Mutex
}

// NewMonitor clones the provided config and starts tracking usage.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{
		config:    cfg.Clone(),
		startTime: time.Now(),
	}
}

// AddToolCall records one tool execution, returning an error if the cap is breached.
func (m *Monitor) AddToolCall() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCalls++
	if m.config.MaxToolCalls != nil && *m.config.MaxToolCalls > 0 && m.toolCalls > *m.config.MaxToolCalls {
		return ErrExceeded{
			Kind:  "tool_calls",
			Usage: fmt.Sprintf("%d calls", m.toolCalls),
			Limit: fmt.Sprintf("%d calls", *m.config.MaxToolCalls),
		}
	}
	return nil
}

// CheckTime verifies elapsed time against the configured limit.
func (m *Monitor) CheckTime() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.MaxTimeSeconds == nil || *m.config.MaxTimeSeconds <= 0 {
		return nil
	}
	elapsed := time.Since(m.startTime)
	limit := time.Duration(*m.config.MaxTimeSeconds) * time.Second
	if elapsed > limit {
		return ErrExceeded{
			Kind:  "time",
			Usage: elapsed.String(),
			Limit: limit.String(),
		}
	}
	return nil
}

// Usage returns the accumulated metrics.
func (m *Monitor) Usage() (toolCalls int64, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toolCalls, time.Since(m.startTime)
}

// Config returns a clone of the underlying budget config.
func (m *Monitor) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.Clone()
}
