// Package database provides SQLite connectivity for the aircon bridge.
//
// The bridge stores one table, command_log, the audit trail of every change
// sent to a controller. This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations tracked in schema_migrations
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:       cfg.Database.Path,
//	    WALMode:    cfg.Database.WALMode,
//	    Migrations: migrations.FS,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql, and are additive-only.
package database
