package output

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Group drives a group output. Members mirror the group's state and
// control mode, and executing the group executes every member.
//
// The group is PWM capable when any member is.
type Group struct {
	owner *Output

	mu      sync.RWMutex
	members map[int64]*Output
}

var _ Driver = (*Group)(nil)

func newGroup(owner *Output) *Group {
	return &Group{owner: owner, members: make(map[int64]*Output)}
}

// SetMember adds or replaces a member. The member immediately takes the
// group's active state and control mode and is executed.
func (g *Group) SetMember(ctx context.Context, m *Output) error {
	if m == nil {
		return errors.New("output: nil group member")
	}
	if m.ID() == g.owner.ID() || m.Group() != nil {
		return fmt.Errorf("output %d cannot be a member of group %d", m.ID(), g.owner.ID())
	}

	g.mu.Lock()
	g.members[m.ID()] = m
	pwm := g.anyPwmLocked()
	g.mu.Unlock()

	g.owner.setPwm(pwm)
	g.owner.deps.Logger.Info("group member set", "group_id", g.owner.ID(), "output_id", m.ID(), "is_pwm", pwm)

	st := g.owner.State()
	if err := m.SetState(ctx, st, st.ControlMode); err != nil {
		return err
	}
	if err := m.UpdateControlMode(ctx, st.ControlMode); err != nil && !errors.Is(err, ErrInvalidValue) {
		return err
	}
	if err := m.Execute(ctx, false); err != nil && !errors.Is(err, ErrInvalidValue) {
		return err
	}
	return nil
}

// RemoveMember drops a member. It reports whether id was a member.
func (g *Group) RemoveMember(_ context.Context, id int64) bool {
	g.mu.Lock()
	_, ok := g.members[id]
	delete(g.members, id)
	pwm := g.anyPwmLocked()
	g.mu.Unlock()

	if ok {
		g.owner.setPwm(pwm)
		g.owner.deps.Logger.Info("group member removed", "group_id", g.owner.ID(), "output_id", id, "is_pwm", pwm)
	}
	return ok
}

// Members returns the members ordered by ID.
func (g *Group) Members() []*Output {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Output, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *Output) int { return cmp.Compare(a.ID(), b.ID()) })
	return out
}

// MemberIDs returns the member IDs in ascending order.
func (g *Group) MemberIDs() []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]int64, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Transmit executes every member. Scheduler ticks in automatic mode skip
// members; they execute on their own tick.
func (g *Group) Transmit(ctx context.Context, cmd Command) error {
	if cmd.Tick && cmd.State.ControlMode == ControlModeAutomatic {
		return nil
	}
	return g.fanOut(func(m *Output) error {
		return m.Execute(ctx, cmd.Force)
	})
}

func (g *Group) setState(ctx context.Context, st State, mode ControlMode) {
	for _, m := range g.Members() {
		if err := m.SetState(ctx, st, mode); err != nil {
			g.owner.deps.Logger.Warn("setting group member state", "group_id", g.owner.ID(), "output_id", m.ID(), "error", err)
		}
	}
}

func (g *Group) setControlMode(ctx context.Context, mode ControlMode) {
	err := g.fanOut(func(m *Output) error {
		return m.UpdateControlMode(ctx, mode)
	})
	if err != nil {
		g.owner.deps.Logger.Warn("updating group member control mode", "group_id", g.owner.ID(), "error", err)
	}
}

func (g *Group) clear() {
	g.mu.Lock()
	g.members = make(map[int64]*Output)
	g.mu.Unlock()
}

// fanOut runs fn for every member concurrently and joins the errors.
func (g *Group) fanOut(fn func(m *Output) error) error {
	members := g.Members()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, m := range members {
		wg.Add(1)
		go func(m *Output) {
			defer wg.Done()
			if err := fn(m); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("member %d: %w", m.ID(), err))
				mu.Unlock()
			}
		}(m)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (g *Group) anyPwmLocked() bool {
	for _, m := range g.members {
		if m.Config().IsPwm {
			return true
		}
	}
	return false
}
