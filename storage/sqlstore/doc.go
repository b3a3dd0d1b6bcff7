// Package sqlstore provides a relational storage backend built on GORM.
//
// Two drivers are registered: "sqlite" (pure Go, via glebarez/sqlite) for
// single-node deployments and tests, and "postgres" for shared state across
// replicas. The schema is migrated on Open.
//
//	store, err := sqlstore.Open(sqlstore.Config{
//	    Driver: sqlstore.DriverPostgres,
//	    DSN:    os.Getenv("OIDC_DATABASE_DSN"),
//	})
//
// Single use of authorization codes relies on a conditional UPDATE
// (used = false) and claiming a transaction relies on the DELETE row count,
// so both hold across processes sharing one database.
//
// Rows past their expiry stay in the tables until PurgeExpired removes them.
// RunCleanup calls it on an interval.
package sqlstore
