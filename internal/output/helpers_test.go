package output

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ─── Test Doubles ───────────────────────────────────────────────────────────

// mockRepository is an in-memory Repository with error injection.
type mockRepository struct {
	mu      sync.Mutex
	outputs []Config
	subs    []Subcontroller
	states  map[int64][]State
	failOn  string
}

func newMockRepository(outputs ...Config) *mockRepository {
	return &mockRepository{outputs: outputs, states: make(map[int64][]State)}
}

func (m *mockRepository) LoadOutputs(_ context.Context) ([]Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "outputs" {
		return nil, errors.New("mock outputs failure")
	}
	return append([]Config{}, m.outputs...), nil
}

func (m *mockRepository) LoadSubcontrollers(_ context.Context) ([]Subcontroller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Subcontroller{}, m.subs...), nil
}

func (m *mockRepository) AppendState(_ context.Context, id int64, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "append" {
		return errors.New("mock append failure")
	}
	m.states[id] = append(m.states[id], st)
	return nil
}

func (m *mockRepository) LoadHistoricalStates(_ context.Context, id int64, since time.Time, limit int) ([]State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "history" {
		return nil, errors.New("mock history failure")
	}
	var out []State
	for _, st := range m.states[id] {
		if !st.LogTime.Before(since) {
			out = append(out, st)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *mockRepository) LastState(_ context.Context, id int64) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.states[id]
	if len(s) == 0 {
		return State{}, false, nil
	}
	return s[len(s)-1], true, nil
}

func (m *mockRepository) setOutputs(cfgs ...Config) {
	m.mu.Lock()
	m.outputs = cfgs
	m.mu.Unlock()
}

func (m *mockRepository) stateCount(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states[id])
}

// recordDriver records every transmitted command.
type recordDriver struct {
	mu     sync.Mutex
	cmds   []Command
	failOn bool
}

func (d *recordDriver) Transmit(_ context.Context, cmd Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn {
		return errors.New("mock transmit failure")
	}
	d.cmds = append(d.cmds, cmd)
	return nil
}

func (d *recordDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cmds)
}

func (d *recordDriver) last() Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.cmds) == 0 {
		return Command{}
	}
	return d.cmds[len(d.cmds)-1]
}

// memKV is an in-memory KV keeping values as-is.
type memKV struct {
	mu   sync.Mutex
	data map[string]Snapshot
}

var errMemNotFound = errors.New("mem: not found")

func newMemKV() *memKV { return &memKV{data: make(map[string]Snapshot)} }

func (m *memKV) Put(bucket, key string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[bucket+"/"+key] = v.(Snapshot)
	return nil
}

func (m *memKV) Get(bucket, key string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[bucket+"/"+key]
	if !ok {
		return errMemNotFound
	}
	*v.(*Snapshot) = s
	return nil
}

func (m *memKV) Delete(bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, bucket+"/"+key)
	return nil
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ─── Fixtures ───────────────────────────────────────────────────────────────

// base is a Wednesday noon.
var base = time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)

func testSettings() Settings {
	return Settings{
		MaxCacheSize:  100,
		CacheLookback: time.Hour,
		ChartLimit:    12,
		ChartInterval: 5 * time.Minute,
	}
}

func testDeps(repo Repository, c *clock) Deps {
	return Deps{Repo: repo, Now: c.Now}
}

func pwmConfig(id int64, name string) Config {
	return Config{ID: id, Model: ModelPCA9685, Address: "0x40", Pin: "0", Name: name, IsPwm: true}
}

func newTestOutput(cfg Config) (*Output, *recordDriver, *mockRepository, *clock) {
	repo := newMockRepository(cfg)
	c := newClock(base)
	d := &recordDriver{}
	return New(cfg, d, testSettings(), testDeps(repo, c)), d, repo, c
}

func int64Ptr(v int64) *int64 { return &v }
