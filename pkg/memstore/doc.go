// Package memstore keeps billing state in process memory.
// It backs local development (STORE_DRIVER=memory) and tests.
package memstore
