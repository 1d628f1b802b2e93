package gormstore

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"gorm.io/gorm"

	outbox "github.com/velmie/txoutbox"
)

const (
	pluginName      = "outbox"
	guardCallback   = "outbox:require_transaction"
	captureCallback = "outbox:capture"
	startedTxKey    = "gorm:started_transaction"
	beginCallback   = "gorm:begin_transaction"
	commitCallback  = "gorm:commit_or_rollback_transaction"
)

// Plugin captures the events of entities written through GORM.
type Plugin struct {
	store *Store
}

var _ gorm.Plugin = (*Plugin)(nil)

// Plugin returns the GORM plugin bound to the store.
func (s *Store) Plugin() *Plugin {
	return &Plugin{store: s}
}

// Name implements gorm.Plugin.
func (p *Plugin) Name() string {
	return pluginName
}

// Initialize registers the capture callbacks on db.
func (p *Plugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	return errors.Join(
		cb.Create().After(beginCallback).Before("gorm:create").Register(guardCallback, p.requireTransaction),
		cb.Update().After(beginCallback).Before("gorm:update").Register(guardCallback, p.requireTransaction),
		cb.Delete().After(beginCallback).Before("gorm:delete").Register(guardCallback, p.requireTransaction),
		cb.Create().After("gorm:after_create").Before(commitCallback).Register(captureCallback, p.capture),
		cb.Update().After("gorm:after_update").Before(commitCallback).Register(captureCallback, p.capture),
		cb.Delete().After("gorm:after_delete").Before(commitCallback).Register(captureCallback, p.capture),
	)
}

// requireTransaction rejects a write of entities with pending events before it reaches the
// database when no transaction would hold the business row and the outbox rows together.
func (p *Plugin) requireTransaction(db *gorm.DB) {
	if db.Error != nil || p.store.isOutboxTable(db.Statement.Table) {
		return
	}
	if _, ok := SessionFromContext(db.Statement.Context); ok || inTransaction(db) {
		return
	}
	if hasPendingEvents(collectSources(db.Statement.ReflectValue)) {
		_ = db.AddError(fmt.Errorf("%w: %s", ErrTransactionRequired, db.Statement.Table))
	}
}

func inTransaction(db *gorm.DB) bool {
	if _, started := db.InstanceGet(startedTxKey); started {
		return true
	}
	committer, ok := db.Statement.ConnPool.(gorm.TxCommitter)

	return ok && committer != nil
}

func hasPendingEvents(sources []outbox.EventSource) bool {
	for _, source := range sources {
		if len(source.PendingEvents()) > 0 {
			return true
		}
	}

	return false
}

// capture inserts the outbox rows of the written entities through the statement's transaction.
// Inside Store.Transaction the entities are only tracked: the session captures them right
// before the commit and runs the fast path after it.
func (p *Plugin) capture(db *gorm.DB) {
	if db.Error != nil || p.store.isOutboxTable(db.Statement.Table) {
		return
	}
	sources := collectSources(db.Statement.ReflectValue)
	if len(sources) == 0 {
		return
	}

	if session, ok := SessionFromContext(db.Statement.Context); ok {
		session.Track(sources...)
		return
	}

	captured, err := p.store.cfg.Capturer.Capture(sources...)
	if err != nil {
		_ = db.AddError(err)
		return
	}
	if len(captured) == 0 {
		return
	}
	if _, err := p.store.Enqueue(db.Session(&gorm.Session{NewDB: true}), outbox.Entries(captured)...); err != nil {
		_ = db.AddError(err)
	}
}

// GORM keeps only the last part of a schema-qualified table name in Statement.Table.
func (s *Store) isOutboxTable(name string) bool {
	if name == s.table {
		return true
	}
	if i := strings.LastIndexByte(s.table, '.'); i >= 0 {
		return name == s.table[i+1:]
	}

	return false
}

func collectSources(value reflect.Value) []outbox.EventSource {
	var sources []outbox.EventSource
	walkSources(value, &sources)

	return sources
}

func walkSources(value reflect.Value, sources *[]outbox.EventSource) {
	if !value.IsValid() {
		return
	}

	switch value.Kind() {
	case reflect.Pointer, reflect.Interface:
		if value.IsNil() {
			return
		}
		walkSources(value.Elem(), sources)
	case reflect.Slice, reflect.Array:
		for i := 0; i < value.Len(); i++ {
			walkSources(value.Index(i), sources)
		}
	case reflect.Struct:
		if value.CanAddr() {
			if source, ok := value.Addr().Interface().(outbox.EventSource); ok {
				*sources = append(*sources, source)
			}
			return
		}
		if source, ok := value.Interface().(outbox.EventSource); ok {
			*sources = append(*sources, source)
		}
	}
}
