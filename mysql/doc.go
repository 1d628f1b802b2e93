// Package mysql provides a MySQL 8.0+ outbox store.
//
// Writers insert rows with Enqueue inside their own transaction, or let Transact capture the
// pending events of tracked entities right before the commit. The relay side uses:
//   - READ COMMITTED isolation (to avoid gap locks)
//   - SELECT ... FOR UPDATE SKIP LOCKED
//   - ORDER BY created_at, id (UUID v7 breaks ties in creation order)
//   - LIMIT for batching
//
// Rows are never deleted. Failed rows keep their retry count and last error and are
// dead-lettered once MaxRetries is reached. ListFailed and Requeue serve operators.
package mysql
