package gormstore

import (
	"context"

	"gorm.io/gorm"

	outbox "github.com/velmie/txoutbox"
)

type sessionKey struct{}

func withSession(ctx context.Context, session *outbox.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFromContext returns the unit of work opened by Store.Transaction.
func SessionFromContext(ctx context.Context) (*outbox.Session, bool) {
	if ctx == nil {
		return nil, false
	}
	session, ok := ctx.Value(sessionKey{}).(*outbox.Session)

	return session, ok && session != nil
}

// Transaction runs fn in a GORM transaction. Entities written through tx, and any source
// tracked on the session from SessionFromContext(tx.Statement.Context), have their events
// captured and inserted right before the commit. After a successful commit the captured
// events are handed to the configured fast path.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	session := s.cfg.Capturer.NewSession(s.cfg.FastPath, s)

	err := s.db.WithContext(withSession(ctx, session)).Transaction(func(tx *gorm.DB) error {
		if err := fn(tx); err != nil {
			return err
		}

		entries, err := session.BeforeCommit()
		if err != nil {
			return err
		}
		_, err = s.Enqueue(tx, entries...)

		return err
	})
	if err != nil {
		return err
	}
	session.AfterCommit(ctx)

	return nil
}
