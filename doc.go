// Package outbox solves the dual-write problem with a transactional outbox.
//
// Typical flow:
//  1. Business code raises events on its entities (see Recorder) and tracks those entities in a Session.
//  2. Right before the unit of work commits, the Session captures the pending events as Entries which a
//     storage adapter inserts with the same transaction as the business mutation.
//  3. Optionally, right after the commit, a FastPath dispatches the captured events in-process.
//  4. A Relay polls a storage-specific Consumer, resolves every Record back to an Event through a
//     Registry and hands it to a Dispatcher (usually a Router). Successful records are marked processed,
//     failed ones get their retry count incremented and are retried on the next poll.
//
// Delivery is at-least-once: handlers must be idempotent.
//
// Storage adapters live in the mysql, gormstore and memstore packages.
package outbox
