package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"sprintpilot/internal/logging"
)

// callMetrics accumulates per-stage timings for one orchestration call.
// One instance is constructed per call and discarded at its end; nothing
// here is shared across requests.
type callMetrics struct {
	start  time.Time
	stages []stageTiming
}

type stageTiming struct {
	name    string
	elapsed time.Duration
}

func newCallMetrics() *callMetrics {
	return &callMetrics{start: time.Now()}
}

// measure runs fn, recording its duration under name.
func (m *callMetrics) measure(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.stages = append(m.stages, stageTiming{name: name, elapsed: time.Since(start)})
	return err
}

// total returns elapsed time since the call started.
func (m *callMetrics) total() time.Duration {
	return time.Since(m.start)
}

// log emits one summary line for the call.
func (m *callMetrics) log(sessionID string) {
	var parts []string
	for _, s := range m.stages {
		parts = append(parts, fmt.Sprintf("%s=%s", s.name, s.elapsed.Round(time.Millisecond)))
	}
	logging.OrchestratorDebug("Session %s pipeline %s total=%s",
		sessionID, strings.Join(parts, " "), m.total().Round(time.Millisecond))
}
