package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Evaluation timestamps are kept at 100ms granularity so scheduler jitter
// does not push a run past its timeout.
const runGranularity = 100 * time.Millisecond

// Manager evaluates every automation targeting one output and applies the
// collision policy:
//
//	no rule fires                    nil
//	one rule fires                   its value
//	several fire with equal values   that value
//	several fire with differing ones nil
//
// All public methods are thread-safe.
type Manager struct {
	outputID int64
	repo     Repository
	logger   Logger

	mu        sync.Mutex
	rules     []*Rule
	lastRunAt *time.Time
	last      Evaluation
}

// NewManager creates a manager for outputID.
func NewManager(outputID int64, repo Repository) *Manager {
	return &Manager{
		outputID: outputID,
		repo:     repo,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Load replaces the manager's rules with those stored for the output.
func (m *Manager) Load(ctx context.Context) error {
	rules, err := m.repo.LoadAutomationsFor(ctx, m.outputID)
	if err != nil {
		return fmt.Errorf("loading automations for output %d: %w", m.outputID, err)
	}

	loaded := make([]*Rule, 0, len(rules))
	for i := range rules {
		r := rules[i]
		conds, err := m.repo.LoadConditionsFor(ctx, r.ID)
		if err != nil {
			return fmt.Errorf("loading conditions for automation %d: %w", r.ID, err)
		}
		r.Conditions = conds

		if err := ValidateRule(&r); err != nil {
			// Kept: malformed conditions evaluate to false.
			m.logger.Warn("automation has invalid configuration",
				"output_id", m.outputID,
				"automation_id", r.ID,
				"error", err,
			)
		}
		loaded = append(loaded, r.DeepCopy())
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].ID < loaded[j].ID })

	m.mu.Lock()
	m.rules = loaded
	m.mu.Unlock()

	m.logger.Debug("automations loaded", "output_id", m.outputID, "count", len(loaded))
	return nil
}

// Rules returns deep copies of the loaded rules ordered by ID.
func (m *Manager) Rules() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r.DeepCopy())
	}
	return out
}

// LastEvaluation returns the most recent evaluation result.
func (m *Manager) LastEvaluation() Evaluation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyEvaluation(m.last)
}

// Evaluate runs every rule against env.
//
// When the previous run was less than timeout ago the previous result is
// returned without evaluating. Fired rules have their last run time recorded.
func (m *Manager) Evaluate(ctx context.Context, env Env, timeout time.Duration) Evaluation {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.runnable(env.Now, timeout) {
		return copyEvaluation(m.last)
	}
	runAt := env.Now.Truncate(runGranularity).Add(-runGranularity)
	m.lastRunAt = &runAt

	var fired []*Rule
	for _, r := range m.rules {
		if r.Evaluate(env) {
			fired = append(fired, r)
		}
	}

	for _, r := range fired {
		now := env.Now
		r.LastRunAt = &now
		if err := m.repo.RecordRun(ctx, r.ID, now); err != nil {
			m.logger.Error("recording automation run failed",
				"output_id", m.outputID,
				"automation_id", r.ID,
				"error", err,
			)
		}
	}

	m.last = resolve(fired)
	if len(fired) > 1 && m.last.Value == nil {
		m.logger.Debug("automation collision, no value applied",
			"output_id", m.outputID,
			"automations", m.last.Names,
		)
	}
	return copyEvaluation(m.last)
}

// runnable rounds now up to the run granularity before comparing.
func (m *Manager) runnable(now time.Time, timeout time.Duration) bool {
	if m.lastRunAt == nil {
		return true
	}
	ceil := now.Truncate(runGranularity)
	if ceil.Before(now) {
		ceil = ceil.Add(runGranularity)
	}
	return !m.lastRunAt.Add(timeout).After(ceil)
}

// resolve applies the collision policy to the rules that fired.
func resolve(fired []*Rule) Evaluation {
	ev := Evaluation{Names: make([]string, 0, len(fired))}
	for _, r := range fired {
		ev.Names = append(ev.Names, r.Name)
	}
	if len(fired) == 0 {
		return ev
	}

	value := fired[0].Value
	for _, r := range fired[1:] {
		if r.Value != value {
			return ev
		}
	}
	ev.Value = &value
	return ev
}

func copyEvaluation(ev Evaluation) Evaluation {
	out := Evaluation{Names: append([]string{}, ev.Names...)}
	if ev.Value != nil {
		v := *ev.Value
		out.Value = &v
	}
	return out
}
