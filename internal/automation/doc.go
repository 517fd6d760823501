// Package automation computes the automatic-mode value of outputs from
// user-defined rules.
//
// A Rule carries a target value, an operator and a set of Conditions. Each
// condition belongs to one of three buckets (allOf, anyOf, oneOf); buckets are
// combined with their own combinator and the non-empty buckets are then
// joined by the rule's operator.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│                 Manager (manager.go)                   │
//	│  One per output, evaluates rules, collision policy     │
//	│  ┌──────────────┐    ┌──────────────┐                 │
//	│  │ Rule / Cond  │    │  Repository  │                 │
//	│  │ (rule.go,    │    │(repository.go)│                │
//	│  │ condition.go)│    └──────────────┘                 │
//	│  └──────────────┘                                     │
//	│        │                                              │
//	│        ▼                                              │
//	│  ┌──────────────────────────────────────────────┐    │
//	│  │  Evaluation                                   │    │
//	│  │  1. Skip if within the automation timeout     │    │
//	│  │  2. Evaluate each rule against an Env         │    │
//	│  │  3. Record run time of fired rules            │    │
//	│  │  4. Resolve: 0 → nil, equal values → value,   │    │
//	│  │     differing values → nil                    │    │
//	│  └──────────────────────────────────────────────┘    │
//	└───────────────────────────────────────────────────────┘
//
// # Condition Kinds
//
//   - sensor, output: compare cached readings against a threshold, optionally
//     over a lookback window
//   - time: always, exact minute, inclusive window or every N minutes
//   - weekday, month: bitmasks
//   - date_range: inclusive month/day window, wrapping the year end
//
// # Thread Safety
//
// Manager is safe for concurrent use. Rule and Condition are plain values.
//
// # Usage
//
//	repo := automation.NewSQLiteRepository(db.DB)
//	mgr := automation.NewManager(outputID, repo)
//	mgr.SetLogger(log)
//	if err := mgr.Load(ctx); err != nil {
//	    return err
//	}
//
//	ev := mgr.Evaluate(ctx, automation.Env{Now: time.Now(), Sensors: s, Outputs: o}, timeout)
package automation
