// Package database provides SQLite connectivity for the AP Gateway's
// durable stores: the device inventory and the command queue.
//
// It manages the connection (WAL mode, single-writer pool, busy timeout),
// embedded schema migrations, and health checks. All queries use
// parameterised statements, and the database file is created with 0600
// permissions.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive-only: new columns are nullable or carry defaults,
// and every version ships an .up.sql and a .down.sql pair.
package database
