package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	outbox "github.com/velmie/txoutbox"
)

// TxFunc runs business statements inside tx. Entities passed to session.Track have their
// pending events captured and inserted with the same transaction right before it commits.
type TxFunc func(ctx context.Context, tx *sql.Tx, session *outbox.Session) error

// Transact runs fn in a transaction and commits business rows and outbox rows together.
// A capture or insert failure rolls everything back. After a successful commit the captured
// events are handed to the configured fast path.
func (s *Store) Transact(ctx context.Context, fn TxFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("outbox mysql: begin tx failed: %w", err)
	}

	session := s.cfg.Capturer.NewSession(s.cfg.FastPath, s)
	if err := s.runTx(ctx, tx, session, fn); err != nil {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("outbox mysql: rollback failed: %w", rollbackErr))
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("outbox mysql: commit failed: %w", err)
	}
	session.AfterCommit(ctx)

	return nil
}

func (s *Store) runTx(ctx context.Context, tx *sql.Tx, session *outbox.Session, fn TxFunc) error {
	defer func() {
		if rec := recover(); rec != nil {
			_ = tx.Rollback()
			panic(rec)
		}
	}()

	if err := fn(ctx, tx, session); err != nil {
		return err
	}

	entries, err := session.BeforeCommit()
	if err != nil {
		return err
	}
	if _, err := s.Enqueue(ctx, tx, entries...); err != nil {
		return err
	}

	return nil
}
