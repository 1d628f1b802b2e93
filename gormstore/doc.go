// Package gormstore provides a GORM outbox store for PostgreSQL.
//
// Install the plugin with db.Use(store.Plugin()) and entities that embed outbox.Recorder have
// their pending events captured whenever GORM creates, updates or deletes them:
//   - inside Store.Transaction the entities are tracked and captured right before the commit,
//     and once it commits the events are handed to the configured fast path
//   - inside any other transaction, including GORM's default one, the outbox rows are inserted
//     right after the statement and are delivered by the relay
//
// A write of entities with pending events that no transaction covers, such as with
// SkipDefaultTransaction outside db.Transaction, fails with ErrTransactionRequired before it
// reaches the database.
//
// The relay side selects pending rows with FOR UPDATE SKIP LOCKED at READ COMMITTED.
package gormstore
