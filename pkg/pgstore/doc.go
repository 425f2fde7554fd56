// Package pgstore persists billing state in PostgreSQL.
//
// Record writes run in a transaction that locks the row with SELECT ... FOR
// UPDATE, merges the update in Go and writes the full row back, so the
// previous snapshot returned to the reconciler is exactly what was replaced.
package pgstore
