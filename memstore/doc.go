// Package memstore is an in-memory outbox store with transactional semantics.
//
// Business writes and outbox entries staged in a Transact call become visible together when
// the callback returns nil, or not at all. It is intended for tests, examples and single
// process deployments that do not need durability.
package memstore
