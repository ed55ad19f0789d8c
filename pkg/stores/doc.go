// Package stores provides the operation journal for pgfroyo.
// It is a SQLite database (WAL mode, embedded migrations) holding one row
// per CLI run and one row per lifecycle operation, so that "history" can
// show what was created, dropped or updated on each host and why it failed.
package stores
