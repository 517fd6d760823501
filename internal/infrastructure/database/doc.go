// Package database provides SQLite connectivity for the Sproot controller.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations loaded from an embedded filesystem
//   - Transaction helpers for multi-row writes
//
// The database holds the configuration tables that outputs and automations
// are reconciled from, plus the append-only output state history.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. Migrations are additive: new columns are NULLABLE or
// have DEFAULT values.
package database
