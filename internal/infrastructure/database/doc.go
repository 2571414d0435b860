// Package database provides SQLite connectivity for the Haier bridge.
//
// The database holds two kinds of state that must survive restarts: the
// per-device attribute model cache and the account's current token pair.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are forward-only YYYYMMDD_HHMMSS_name.up.sql files embedded in
// the binary by the migrations package.
package database
