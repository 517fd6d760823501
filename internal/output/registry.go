package output

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ipswich/sproot-sub000/internal/automation"
	"github.com/Ipswich/sproot-sub000/internal/chart"
)

// Schedule sets how often Run drives the registry.
type Schedule struct {
	// Tick records states in caches, charts and storage.
	Tick time.Duration

	// Automation evaluates automations and executes outputs.
	Automation time.Duration

	// Reconcile reloads outputs from storage. Zero disables it.
	Reconcile time.Duration
}

// Registry owns every output, keeps them in sync with storage and drives
// the periodic work.
//
// Per-output work fans out across goroutines; one output failing does not
// affect the others. Reconcile is single-flight.
//
// All public methods are thread-safe.
type Registry struct {
	repo      Repository
	settings  Settings
	deps      Deps
	families  map[Model]FamilyManager
	sensors   automation.SensorReadings
	aggregate *AggregateChart

	mu      sync.RWMutex
	outputs map[int64]*Output
	owners  map[int64]FamilyManager // nil for groups

	isUpdating atomic.Bool
}

// NewRegistry creates a registry building outputs through families.
func NewRegistry(settings Settings, deps Deps, families ...FamilyManager) *Registry {
	deps = deps.withDefaults()
	r := &Registry{
		repo:      deps.Repo,
		settings:  settings,
		deps:      deps,
		families:  make(map[Model]FamilyManager, len(families)),
		aggregate: NewAggregateChart(settings.ChartLimit, settings.ChartInterval, deps.Now()),
		outputs:   make(map[int64]*Output),
		owners:    make(map[int64]FamilyManager),
	}
	for _, f := range families {
		r.families[f.Model()] = f
		if n, ok := f.(LostOutputsNotifier); ok {
			n.OnOutputsLost(r.dropOutputs)
		}
	}
	return r
}

// SetSensors sets the sensor readings automations evaluate against.
func (r *Registry) SetSensors(s automation.SensorReadings) {
	r.sensors = s
}

// ─── Lookups ────────────────────────────────────────────────────────────────

// Outputs returns a view of every output ordered by ID.
func (r *Registry) Outputs() []Info {
	outs := r.snapshotOutputs()
	infos := make([]Info, 0, len(outs))
	for _, o := range outs {
		infos = append(infos, o.Snapshot())
	}
	return infos
}

// Output returns the output with id.
func (r *Registry) Output(id int64) (*Output, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.outputs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrOutputNotFound, id)
	}
	return o, nil
}

// Len returns the number of outputs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outputs)
}

// ─── Manual Control ─────────────────────────────────────────────────────────

// SetControlMode switches the control mode of an output.
func (r *Registry) SetControlMode(ctx context.Context, id int64, mode ControlMode) error {
	o, err := r.Output(id)
	if err != nil {
		return err
	}
	return o.UpdateControlMode(ctx, mode)
}

// SetManualValue sets and executes the manual value of an output.
func (r *Registry) SetManualValue(ctx context.Context, id int64, value int) error {
	o, err := r.Output(id)
	if err != nil {
		return err
	}
	if value < 0 || value > 100 {
		return fmt.Errorf("%w: %d is outside 0-100", ErrInvalidValue, value)
	}
	return o.SetAndExecuteState(ctx, State{Value: value, ControlMode: ControlModeManual, LogTime: r.deps.Now()})
}

// ChartData returns the aggregate chart. latestOnly returns the newest
// point only.
func (r *Registry) ChartData(latestOnly bool) ChartView {
	return r.aggregate.View(latestOnly)
}

// AvailableResources lists devices or pins of a model's family.
func (r *Registry) AvailableResources(model Model, address string, filterUsed bool) ([]Resource, error) {
	f, ok := r.families[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
	}
	return f.AvailableResources(address, filterUsed), nil
}

// ─── Periodic Work ──────────────────────────────────────────────────────────

// UpdateDataStores records every output's state and merges each output's
// newest chart point into the aggregate chart.
func (r *Registry) UpdateDataStores(ctx context.Context) {
	r.forEach(func(o *Output) error {
		o.UpdateDataStores(ctx)
		return nil
	})

	var points []chart.Point
	for _, o := range r.snapshotOutputs() {
		if p, ok := o.lastChartPoint(); ok {
			points = append(points, p)
		}
	}
	r.aggregate.Update(points)
}

// RunAutomations evaluates the automations of every output at now, group
// members included.
func (r *Registry) RunAutomations(ctx context.Context, now time.Time) {
	env := automation.Env{Now: now, Sensors: r.sensors, Outputs: r.ReadingsSnapshot()}
	r.forEach(func(o *Output) error {
		ev := o.RunAutomations(ctx, env)
		if len(ev.Names) > 1 && ev.Value == nil {
			r.deps.Logger.Debug("automation collision", "output_id", o.ID(), "automations", ev.Names)
		}
		return nil
	})
}

// ExecuteAll executes every output's active state.
func (r *Registry) ExecuteAll(ctx context.Context) {
	r.forEach(func(o *Output) error {
		return o.execute(ctx, false, true)
	})
}

// Run drives the registry until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, s Schedule) {
	tick := time.NewTicker(s.Tick)
	defer tick.Stop()
	auto := time.NewTicker(s.Automation)
	defer auto.Stop()

	var reconcile <-chan time.Time
	if s.Reconcile > 0 {
		t := time.NewTicker(s.Reconcile)
		defer t.Stop()
		reconcile = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			r.UpdateDataStores(ctx)
		case now := <-auto.C:
			r.RunAutomations(ctx, now)
			r.ExecuteAll(ctx)
		case <-reconcile:
			if err := r.Reconcile(ctx); err != nil {
				r.deps.Logger.Error("reconciling outputs", "error", err)
			}
		}
	}
}

// ReadingsSnapshot returns the outputs' cached states as seen at call time.
func (r *Registry) ReadingsSnapshot() ReadingsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(ReadingsSnapshot, len(r.outputs))
	for id, o := range r.outputs {
		snap[id] = o
	}
	return snap
}

// ReadingsSnapshot is a point-in-time set of outputs serving their cached
// states to output conditions.
type ReadingsSnapshot map[int64]*Output

var _ automation.OutputReadings = ReadingsSnapshot(nil)

// CachedReadings returns the newest n states of outputID, oldest first.
func (s ReadingsSnapshot) CachedReadings(outputID int64, n int) []automation.Reading {
	o, ok := s[outputID]
	if !ok {
		return nil
	}
	return o.CachedReadings(n)
}

// ─── Reconcile ──────────────────────────────────────────────────────────────

// Reconcile brings the registry in line with storage: new outputs are
// created, removed ones disposed and changed ones updated. Group
// membership follows ParentGroupID. A call while another is running is
// skipped.
func (r *Registry) Reconcile(ctx context.Context) error {
	if !r.isUpdating.CompareAndSwap(false, true) {
		r.deps.Logger.Warn("outputs already reconciling, skipping")
		return nil
	}
	defer r.isUpdating.Store(false)

	start := time.Now()
	cfgs, err := r.repo.LoadOutputs(ctx)
	if err != nil {
		return fmt.Errorf("loading outputs: %w", err)
	}
	subs, err := r.repo.LoadSubcontrollers(ctx)
	if err != nil {
		return fmt.Errorf("loading subcontrollers: %w", err)
	}

	changed := false
	for _, f := range r.families {
		if sf, ok := f.(*SubcontrollerFamily); ok {
			for _, id := range sf.SetSubcontrollers(subs) {
				r.deps.Logger.Info("output subcontroller updated", "output_id", id)
				changed = true
			}
		}
	}

	wanted := make(map[int64]Config, len(cfgs))
	for _, cfg := range cfgs {
		wanted[cfg.ID] = cfg
	}

	// Remove outputs gone from storage or whose binding changed.
	for _, o := range r.snapshotOutputs() {
		cfg, ok := wanted[o.ID()]
		if ok && !needsRebuild(o.Config(), cfg) {
			continue
		}
		r.removeOutput(ctx, o)
		changed = true
	}

	for _, cfg := range cfgs {
		if o, err := r.Output(cfg.ID); err == nil {
			if o.Update(cfg) {
				r.deps.Logger.Info("updated output", "output_id", cfg.ID, "model", cfg.Model)
				changed = true
			}
			continue
		}
		if err := r.createOutput(ctx, cfg); err != nil {
			r.deps.Logger.Error("creating output", "output_id", cfg.ID, "model", cfg.Model, "error", err)
			continue
		}
		changed = true
	}

	if r.syncGroups(ctx) {
		changed = true
	}
	if changed {
		r.rebuildChart()
	}

	r.deps.Logger.Debug("outputs reconciled", "count", r.Len(), "duration", time.Since(start))
	return nil
}

// needsRebuild reports whether an output must be recreated to apply cfg.
func needsRebuild(have, want Config) bool {
	if have.Model != want.Model || have.Address != want.Address || have.Pin != want.Pin {
		return true
	}
	return want.Model == ModelSubcontroller && !equalIDPtr(have.SubcontrollerID, want.SubcontrollerID)
}

func (r *Registry) createOutput(ctx context.Context, cfg Config) error {
	var (
		o     *Output
		owner FamilyManager
		err   error
	)
	if cfg.Model == ModelGroup {
		o = newGroupOutput(cfg, r.settings, r.deps)
		err = o.Initialize(ctx)
	} else {
		f, ok := r.families[cfg.Model]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnsupportedModel, cfg.Model)
		}
		owner = f
		o, err = f.CreateOutput(ctx, cfg)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.outputs[cfg.ID] = o
	r.owners[cfg.ID] = owner
	r.mu.Unlock()

	r.deps.Logger.Info("created output", "output_id", cfg.ID, "model", cfg.Model, "name", cfg.Name)
	return nil
}

func (r *Registry) removeOutput(ctx context.Context, o *Output) {
	r.mu.Lock()
	owner := r.owners[o.ID()]
	delete(r.outputs, o.ID())
	delete(r.owners, o.ID())
	r.mu.Unlock()

	r.leaveGroups(ctx, o.ID())

	var err error
	if owner != nil {
		err = owner.DisposeOutput(ctx, o)
	} else {
		err = o.Dispose(ctx)
	}
	if err != nil {
		r.deps.Logger.Error("disposing output", "output_id", o.ID(), "error", err)
	}
	r.deps.Logger.Info("removed output", "output_id", o.ID())
}

// dropOutputs forgets outputs a family has already retired.
func (r *Registry) dropOutputs(ids []int64) {
	r.mu.Lock()
	for _, id := range ids {
		delete(r.outputs, id)
		delete(r.owners, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.leaveGroups(context.Background(), id)
	}
	r.rebuildChart()
}

// syncGroups makes group membership match ParentGroupID. It reports
// whether any membership changed.
func (r *Registry) syncGroups(ctx context.Context) bool {
	outs := r.snapshotOutputs()
	changed := false

	for _, g := range outs {
		grp := g.Group()
		if grp == nil {
			continue
		}
		members := make(map[int64]bool)
		for _, id := range grp.MemberIDs() {
			members[id] = true
		}

		for _, o := range outs {
			parent := o.Config().ParentGroupID
			isChild := parent != nil && *parent == g.ID() && o.Group() == nil
			switch {
			case isChild && !members[o.ID()]:
				if err := grp.SetMember(ctx, o); err != nil {
					r.deps.Logger.Warn("adding group member", "group_id", g.ID(), "output_id", o.ID(), "error", err)
				}
				changed = true
			case !isChild && members[o.ID()]:
				grp.RemoveMember(ctx, o.ID())
				changed = true
			}
			delete(members, o.ID())
		}
		// Members no longer registered.
		for id := range members {
			grp.RemoveMember(ctx, id)
			changed = true
		}
	}
	return changed
}

func (r *Registry) leaveGroups(ctx context.Context, id int64) {
	for _, o := range r.snapshotOutputs() {
		if g := o.Group(); g != nil {
			g.RemoveMember(ctx, id)
		}
	}
}

func (r *Registry) rebuildChart() {
	outs := r.snapshotOutputs()
	series := make([]chart.Series, 0, len(outs))
	info := make([]chart.SeriesInfo, 0, len(outs))
	for _, o := range outs {
		s, i := o.ChartData()
		series = append(series, s)
		info = append(info, i)
	}
	r.aggregate.Rebuild(series, info, r.deps.Now())
	r.deps.Logger.Info("loaded aggregate output chart", "outputs", len(outs))
}

// ─── Shutdown ───────────────────────────────────────────────────────────────

// Close disposes every output and closes the families.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, o := range r.snapshotOutputs() {
		r.mu.RLock()
		owner := r.owners[o.ID()]
		r.mu.RUnlock()

		var err error
		if owner != nil {
			err = owner.DisposeOutput(ctx, o)
		} else {
			err = o.Dispose(ctx)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	r.mu.Lock()
	r.outputs = make(map[int64]*Output)
	r.owners = make(map[int64]FamilyManager)
	r.mu.Unlock()

	for _, f := range r.families {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s family: %w", f.Model(), err))
		}
	}
	return errors.Join(errs...)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// snapshotOutputs returns the registered outputs ordered by ID.
func (r *Registry) snapshotOutputs() []*Output {
	r.mu.RLock()
	outs := make([]*Output, 0, len(r.outputs))
	for _, o := range r.outputs {
		outs = append(outs, o)
	}
	r.mu.RUnlock()
	slices.SortFunc(outs, func(a, b *Output) int { return cmp.Compare(a.ID(), b.ID()) })
	return outs
}

// forEach runs fn for every output concurrently. Errors and panics are
// logged per output.
func (r *Registry) forEach(fn func(o *Output) error) {
	var wg sync.WaitGroup
	for _, o := range r.snapshotOutputs() {
		wg.Add(1)
		go func(o *Output) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.deps.Logger.Error("output task panic", "output_id", o.ID(), "panic", rec)
				}
			}()
			if err := fn(o); err != nil {
				r.deps.Logger.Warn("output task failed", "output_id", o.ID(), "error", err)
			}
		}(o)
	}
	wg.Wait()
}
