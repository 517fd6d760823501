// Package output provides the output registry of the Sproot controller.
//
// An Output is anything the controller can drive to a value between 0 and
// 100: a channel of a local PCA9685 board, a channel on a remote
// subcontroller, a smart plug outlet, or a group of other outputs. Each
// output keeps a manual and an automatic sub-state; the control mode
// selects which one is active and gets executed.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────────┐
//	│                         Registry (registry.go)                      │
//	│  • Reconcile with storage      • Tick: caches, charts, storage      │
//	│  • Group membership            • Automation pass, execution         │
//	│                                                                     │
//	│  ┌──────────────┐  ┌──────────────┐  ┌──────────────┐  ┌─────────┐ │
//	│  │ PCA9685      │  │ Subcontroller│  │ SmartPlug    │  │ Group   │ │
//	│  │ (I2C board)  │  │ (HTTP PUT)   │  │ (MQTT)       │  │(members)│ │
//	│  └──────┬───────┘  └──────┬───────┘  └──────┬───────┘  └────┬────┘ │
//	│         └─────────────────┴─── Driver ──────┴───────────────┘      │
//	│                               │                                    │
//	│                        ┌──────▼──────┐                             │
//	│                        │   Output    │ state, history, chart,      │
//	│                        │ (output.go) │ automation manager          │
//	│                        └─────────────┘                             │
//	└────────────────────────────────────────────────────────────────────┘
//
// Families (FamilyManager) own the pins of their devices in a
// ResourceTable; a pin is bound to at most one output. Network families
// retire outputs whose device goes offline and tell the registry.
//
// # Usage
//
//	repo := output.NewSQLiteRepository(db.DB)
//	deps := output.Deps{Repo: repo, Automations: automation.NewSQLiteRepository(db.DB), Logger: log}
//	reg := output.NewRegistry(settings, deps, output.NewPCA9685Family(opener, settings, deps))
//
//	if err := reg.Reconcile(ctx); err != nil {
//	    return err
//	}
//	go reg.Run(ctx, output.Schedule{Tick: time.Minute, Automation: time.Second})
//
// # Thread Safety
//
// Registry, Output, Group and the families are safe for concurrent use.
// Executions of one output are serialised.
package output
