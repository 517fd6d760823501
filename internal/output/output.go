package output

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Ipswich/sproot-sub000/internal/automation"
	"github.com/Ipswich/sproot-sub000/internal/chart"
)

// Output is one controllable output: a PWM channel, a smart plug outlet or
// a group of outputs.
//
// It keeps the manual and automatic states, the history cache and chart,
// and the automation manager of the output. Hardware is reached through its
// Driver only when the state is executed.
//
// All public methods are thread-safe. Executions are serialised per output.
type Output struct {
	execMu sync.Mutex // serialises Execute

	mu            sync.RWMutex
	cfg           Config
	subcontroller *Subcontroller
	state         *StateStore
	lastSent      *int
	disposed      bool

	driver      Driver
	group       *Group
	history     *HistoryCache
	chart       *ChartAggregator
	automations *automation.Manager

	settings Settings
	deps     Deps
}

// New creates an output. Call Initialize to restore persisted state.
func New(cfg Config, driver Driver, settings Settings, deps Deps) *Output {
	deps = deps.withDefaults()
	cfg = cfg.Normalize()
	now := deps.Now()

	o := &Output{
		cfg:      cfg,
		state:    NewStateStore(now),
		driver:   driver,
		history:  NewHistoryCache(settings.MaxCacheSize),
		chart:    NewChartAggregator(chart.SeriesInfo{Name: cfg.Name, Color: cfg.Color}, settings.ChartLimit, settings.ChartInterval, now),
		settings: settings,
		deps:     deps,
	}
	if deps.Automations != nil {
		o.automations = automation.NewManager(cfg.ID, deps.Automations)
		o.automations.SetLogger(deps.Logger)
	}
	return o
}

// newGroupOutput creates a group output driven by its own Group.
func newGroupOutput(cfg Config, settings Settings, deps Deps) *Output {
	cfg.IsPwm = false
	o := New(cfg, nil, settings, deps)
	o.group = newGroup(o)
	o.driver = o.group
	return o
}

// ─── Accessors ──────────────────────────────────────────────────────────────

// ID returns the output ID.
func (o *Output) ID() int64 { return o.cfg.ID }

// Config returns a copy of the output configuration.
func (o *Output) Config() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// Subcontroller returns the subcontroller the output is bound to, if any.
func (o *Output) Subcontroller() *Subcontroller {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.subcontroller == nil {
		return nil
	}
	s := *o.subcontroller
	return &s
}

// Group returns the member set of a group output, nil otherwise.
func (o *Output) Group() *Group { return o.group }

// Value returns the active value.
func (o *Output) Value() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Value()
}

// ControlMode returns the active control mode.
func (o *Output) ControlMode() ControlMode {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Mode()
}

// State returns the active state.
func (o *Output) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st := o.state.Active()
	st.ControlMode = o.state.Mode()
	return st
}

// Snapshot returns a read-only view of the output.
func (o *Output) Snapshot() Info {
	o.mu.RLock()
	info := Info{
		Config:      o.cfg,
		Value:       o.state.Value(),
		ControlMode: o.state.Mode(),
		Manual:      o.state.Manual(),
		Automatic:   o.state.Automatic(),
	}
	o.mu.RUnlock()

	if o.group != nil {
		info.Members = o.group.MemberIDs()
	}
	return info
}

// ─── State ──────────────────────────────────────────────────────────────────

// SetState writes st into the sub-state selected by mode. The value is
// clamped to 0-100. Hardware is not touched; call Execute. A group copies
// st onto each member.
func (o *Output) SetState(ctx context.Context, st State, mode ControlMode) error {
	if err := o.setOwnState(st, mode); err != nil {
		return err
	}
	if o.group != nil {
		o.group.setState(ctx, st, mode)
	}
	return nil
}

// setOwnState writes st into this output's sub-state only.
func (o *Output) setOwnState(st State, mode ControlMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidControlMode, mode)
	}
	if st.LogTime.IsZero() {
		st.LogTime = o.deps.Now()
	}

	o.mu.Lock()
	o.state.Set(st, mode)
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.saveSnapshot(snap)
	return nil
}

// UpdateControlMode switches the active sub-state, executing it when the
// active value changed.
func (o *Output) UpdateControlMode(ctx context.Context, mode ControlMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidControlMode, mode)
	}

	o.mu.Lock()
	before := o.state.Value()
	o.state.SetMode(mode)
	after := o.state.Value()
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.saveSnapshot(snap)
	o.deps.Logger.Info("output control mode changed", "output_id", o.cfg.ID, "control_mode", mode)

	if o.group != nil {
		o.group.setControlMode(ctx, mode)
	}
	if before != after {
		return o.Execute(ctx, false)
	}
	return nil
}

// SetAndExecuteState sets st on the sub-state named by st.ControlMode
// (manual when empty) and executes the active state.
func (o *Output) SetAndExecuteState(ctx context.Context, st State) error {
	mode := st.ControlMode
	if mode == "" {
		mode = ControlModeManual
	}
	if err := o.SetState(ctx, st, mode); err != nil {
		return err
	}
	return o.Execute(ctx, false)
}

// Execute transmits the active state. Values a non-PWM output cannot take
// and values outside 0-100 are rejected without transmitting. Unless force
// is set, a value equal to the last transmitted one is skipped.
func (o *Output) Execute(ctx context.Context, force bool) error {
	return o.execute(ctx, force, false)
}

func (o *Output) execute(ctx context.Context, force, tick bool) error {
	o.execMu.Lock()
	defer o.execMu.Unlock()

	o.mu.RLock()
	active := o.state.Active()
	active.ControlMode = o.state.Mode()
	cfg := o.cfg
	last := o.lastSent
	disposed := o.disposed
	o.mu.RUnlock()

	if disposed {
		return nil
	}
	if err := ValidateValue(active.Value, cfg.IsPwm); err != nil {
		o.deps.Logger.Warn("rejected output state", "output_id", cfg.ID, "value", active.Value, "error", err)
		return err
	}
	if !force && last != nil && *last == active.Value {
		return nil
	}

	cmd := Command{
		State:    active,
		Fraction: Fraction(active.Value, cfg.IsInvertedPwm),
		Force:    force,
		Tick:     tick,
	}
	if err := o.driver.Transmit(ctx, cmd); err != nil {
		o.deps.Logger.Error("transmitting output state", "output_id", cfg.ID, "value", active.Value, "error", err)
		if errors.Is(err, ErrTransmitFailed) {
			return err
		}
		return fmt.Errorf("%w: output %d: %w", ErrTransmitFailed, cfg.ID, err)
	}

	v := active.Value
	o.mu.Lock()
	o.lastSent = &v
	o.mu.Unlock()

	o.deps.Logger.Debug("executed output state", "output_id", cfg.ID, "value", v, "control_mode", active.ControlMode)
	return nil
}

// ─── Data Stores ────────────────────────────────────────────────────────────

// UpdateDataStores records the active state in the history cache, feeds
// the chart and persists the state. Persistence failures are logged.
func (o *Output) UpdateDataStores(ctx context.Context) {
	now := o.deps.Now()

	o.mu.Lock()
	entry := o.state.Active()
	entry.ControlMode = o.state.Mode()
	entry.LogTime = now
	o.history.Add(entry)
	if o.chart.Record(entry, o.history.All, now) {
		o.deps.Logger.Debug("updated output chart", "output_id", o.cfg.ID)
	}
	name := o.cfg.Name
	o.mu.Unlock()

	if err := o.deps.Repo.AppendState(ctx, o.cfg.ID, entry); err != nil {
		o.deps.Logger.Error("persisting output state", "output_id", o.cfg.ID, "error", err)
	}
	if o.deps.Telemetry != nil {
		o.deps.Telemetry.WriteOutputState(o.cfg.ID, name, entry.Value, string(entry.ControlMode), entry.LogTime)
	}
	if o.deps.Publisher != nil {
		if err := o.deps.Publisher.PublishState(o.cfg.ID, entry); err != nil {
			o.deps.Logger.Warn("publishing output state", "output_id", o.cfg.ID, "error", err)
		}
	}
}

// RunAutomations evaluates the output's automations and writes the result
// into the automatic sub-state. No value (nothing fired, or a collision)
// becomes 0. A group keeps the result to itself; members run their own
// automations.
func (o *Output) RunAutomations(ctx context.Context, env automation.Env) automation.Evaluation {
	if o.automations == nil {
		return automation.Evaluation{Names: []string{}}
	}

	ev := o.automations.Evaluate(ctx, env, o.Config().Timeout())
	value := 0
	if ev.Value != nil {
		value = *ev.Value
	}
	if err := o.setOwnState(State{Value: value, LogTime: env.Now}, ControlModeAutomatic); err != nil {
		o.deps.Logger.Error("applying automation result", "output_id", o.cfg.ID, "error", err)
	}
	return ev
}

// LoadAutomations (re)loads the output's automation rules.
func (o *Output) LoadAutomations(ctx context.Context) error {
	if o.automations == nil {
		return nil
	}
	return o.automations.Load(ctx)
}

// LoadCache seeds the history cache from storage over the configured
// lookback window.
func (o *Output) LoadCache(ctx context.Context) error {
	since := o.deps.Now().Add(-o.settings.CacheLookback)
	states, err := o.deps.Repo.LoadHistoricalStates(ctx, o.cfg.ID, since, o.settings.MaxCacheSize)
	if err != nil {
		return fmt.Errorf("loading cached states for output %d: %w", o.cfg.ID, err)
	}
	o.history.Load(states)
	o.deps.Logger.Info("loaded cached states", "output_id", o.cfg.ID, "count", o.history.Len())
	return nil
}

// LoadChart rebuilds the chart from the history cache.
func (o *Output) LoadChart() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chart.Load(o.history.All(), o.deps.Now())
}

// CachedStates returns up to limit cached states starting at offset.
// A limit below one returns everything from offset.
func (o *Output) CachedStates(offset, limit int) []State {
	return o.history.Page(offset, limit)
}

// CachedReadings returns the newest n cached states as readings.
func (o *Output) CachedReadings(n int) []automation.Reading {
	return o.history.Readings(n)
}

// ChartData returns the output's chart series and presentation.
func (o *Output) ChartData() (chart.Series, chart.SeriesInfo) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.chart.Series(), o.chart.Info()
}

// lastChartPoint returns the newest chart point.
func (o *Output) lastChartPoint() (chart.Point, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.chart.Last()
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Initialize restores the last state, loads the history cache, chart and
// automations. A manual last state is restored in manual mode. The snapshot
// store is consulted before the state history.
func (o *Output) Initialize(ctx context.Context) error {
	o.restoreState(ctx)

	if err := o.LoadCache(ctx); err != nil {
		o.deps.Logger.Error("loading output cache", "output_id", o.cfg.ID, "error", err)
	}
	o.LoadChart()

	if err := o.LoadAutomations(ctx); err != nil {
		return fmt.Errorf("loading automations for output %d: %w", o.cfg.ID, err)
	}
	return nil
}

func (o *Output) restoreState(ctx context.Context) {
	if o.deps.Snapshots != nil {
		snap, err := o.deps.Snapshots.Load(o.cfg.ID)
		switch {
		case err == nil:
			o.mu.Lock()
			o.state.Set(snap.Manual, ControlModeManual)
			o.state.Set(snap.Automatic, ControlModeAutomatic)
			o.state.SetMode(snap.ControlMode)
			o.mu.Unlock()
			return
		case !errors.Is(err, ErrSnapshotNotFound):
			o.deps.Logger.Warn("loading output snapshot", "output_id", o.cfg.ID, "error", err)
		}
	}

	last, ok, err := o.deps.Repo.LastState(ctx, o.cfg.ID)
	if err != nil {
		o.deps.Logger.Warn("loading last output state", "output_id", o.cfg.ID, "error", err)
		return
	}
	if ok && last.ControlMode == ControlModeManual {
		o.mu.Lock()
		o.state.Set(last, ControlModeManual)
		o.state.SetMode(ControlModeManual)
		o.mu.Unlock()
	}
}

// Dispose drives the output to 0 and stops further executions.
func (o *Output) Dispose(ctx context.Context) error {
	o.execMu.Lock()
	defer o.execMu.Unlock()

	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return nil
	}
	o.disposed = true
	cfg := o.cfg
	o.mu.Unlock()

	if o.group != nil {
		o.group.clear()
		return nil
	}

	off := State{Value: 0, ControlMode: o.ControlMode(), LogTime: o.deps.Now()}
	err := o.driver.Transmit(ctx, Command{State: off, Fraction: Fraction(0, cfg.IsInvertedPwm), Force: true})
	if err != nil {
		return fmt.Errorf("%w: disposing output %d: %w", ErrTransmitFailed, cfg.ID, err)
	}
	return nil
}

// retire stops further executions without touching hardware. Used when the
// device behind the output is gone.
func (o *Output) retire() {
	o.execMu.Lock()
	defer o.execMu.Unlock()
	o.mu.Lock()
	o.disposed = true
	o.mu.Unlock()
}

// Disposed reports whether Dispose has been called.
func (o *Output) Disposed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.disposed
}

// ─── Reconfiguration ────────────────────────────────────────────────────────

// Update applies changed mutable settings of cfg. It reports whether
// anything changed. Name and colour changes refresh the chart series.
func (o *Output) Update(cfg Config) bool {
	cfg = cfg.Normalize()
	now := o.deps.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	changed := false
	if o.cfg.Name != cfg.Name || o.cfg.Color != cfg.Color {
		o.cfg.Name, o.cfg.Color = cfg.Name, cfg.Color
		o.chart.SetInfo(chart.SeriesInfo{Name: cfg.Name, Color: cfg.Color}, o.history.All(), now)
		changed = true
	}
	if o.group == nil && (o.cfg.IsPwm != cfg.IsPwm || o.cfg.IsInvertedPwm != cfg.IsInvertedPwm) {
		o.cfg.IsPwm, o.cfg.IsInvertedPwm = cfg.IsPwm, cfg.IsInvertedPwm
		o.lastSent = nil
		changed = true
	}
	if o.cfg.AutomationTimeout != cfg.AutomationTimeout {
		o.cfg.AutomationTimeout = cfg.AutomationTimeout
		changed = true
	}
	if !equalIDPtr(o.cfg.SubcontrollerID, cfg.SubcontrollerID) {
		o.cfg.SubcontrollerID = cfg.SubcontrollerID
		changed = true
	}
	if !equalIDPtr(o.cfg.ParentGroupID, cfg.ParentGroupID) {
		o.cfg.ParentGroupID = cfg.ParentGroupID
		changed = true
	}
	return changed
}

// setSubcontroller binds the output to sub. It reports whether the binding changed.
func (o *Output) setSubcontroller(sub Subcontroller) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subcontroller != nil && *o.subcontroller == sub {
		return false
	}
	o.subcontroller = &sub
	return true
}

// setPwm is used by groups when membership changes. Losing PWM re-rounds
// both sub-states to 0 or 100.
func (o *Output) setPwm(isPwm bool) (changed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cfg.IsPwm == isPwm {
		return false
	}
	o.cfg.IsPwm = isPwm
	if !isPwm {
		o.cfg.IsInvertedPwm = false
		o.state.roundBinary()
	}
	return true
}

func (o *Output) snapshotLocked() Snapshot {
	return Snapshot{
		Manual:      o.state.Manual(),
		Automatic:   o.state.Automatic(),
		ControlMode: o.state.Mode(),
		SavedAt:     o.deps.Now(),
	}
}

func (o *Output) saveSnapshot(snap Snapshot) {
	if o.deps.Snapshots == nil {
		return
	}
	if err := o.deps.Snapshots.Save(o.cfg.ID, snap); err != nil {
		o.deps.Logger.Warn("saving output snapshot", "output_id", o.cfg.ID, "error", err)
	}
}

func equalIDPtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
