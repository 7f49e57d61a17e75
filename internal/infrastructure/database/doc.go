// Package database provides SQLite connectivity for rollcall.
//
// This package manages:
//   - Database connection with WAL mode for concurrent readers
//   - Schema migrations supplied as an fs.FS (see the migrations package)
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive. Each version has an .up.sql and a .down.sql.
// The attendance ledger table rejects UPDATE and DELETE at the schema level.
package database
