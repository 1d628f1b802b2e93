package gormstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlLog records what reached the database through recordingConnector.
type sqlLog struct {
	mu         sync.Mutex
	statements []string
	commits    int
	rollbacks  int
}

func (l *sqlLog) add(query string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statements = append(l.statements, query)
}

func (l *sqlLog) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, statement := range l.statements {
		if strings.HasPrefix(statement, prefix) {
			n++
		}
	}
	return n
}

func (l *sqlLog) txCounts() (commits, rollbacks int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commits, l.rollbacks
}

type recordingConnector struct {
	log *sqlLog
}

func (c recordingConnector) Connect(context.Context) (driver.Conn, error) {
	return &recordingConn{log: c.log}, nil
}

func (c recordingConnector) Driver() driver.Driver {
	return recordingDriver(c)
}

type recordingDriver struct {
	log *sqlLog
}

func (d recordingDriver) Open(string) (driver.Conn, error) {
	return &recordingConn{log: d.log}, nil
}

type recordingConn struct {
	log *sqlLog
}

func (c *recordingConn) Prepare(query string) (driver.Stmt, error) {
	return &recordingStmt{log: c.log, query: query}, nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) Begin() (driver.Tx, error) {
	return &recordingTx{log: c.log}, nil
}

func (c *recordingConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return &recordingTx{log: c.log}, nil
}

func (c *recordingConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.log.add(query)
	return driver.RowsAffected(1), nil
}

func (c *recordingConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.log.add(query)
	return emptyRows{}, nil
}

type recordingStmt struct {
	log   *sqlLog
	query string
}

func (s *recordingStmt) Close() error  { return nil }
func (s *recordingStmt) NumInput() int { return -1 }

func (s *recordingStmt) Exec([]driver.Value) (driver.Result, error) {
	s.log.add(s.query)
	return driver.RowsAffected(1), nil
}

func (s *recordingStmt) Query([]driver.Value) (driver.Rows, error) {
	s.log.add(s.query)
	return emptyRows{}, nil
}

type recordingTx struct {
	log *sqlLog
}

func (tx *recordingTx) Commit() error {
	tx.log.mu.Lock()
	defer tx.log.mu.Unlock()
	tx.log.commits++
	return nil
}

func (tx *recordingTx) Rollback() error {
	tx.log.mu.Lock()
	defer tx.log.mu.Unlock()
	tx.log.rollbacks++
	return nil
}

type emptyRows struct{}

func (emptyRows) Columns() []string         { return nil }
func (emptyRows) Close() error              { return nil }
func (emptyRows) Next([]driver.Value) error { return io.EOF }

// recordingDB opens GORM over a driver that accepts every statement and records it.
func recordingDB(t *testing.T, skipDefaultTransaction bool) (*gorm.DB, *sqlLog) {
	t.Helper()

	log := &sqlLog{}
	sqlDB := sql.OpenDB(recordingConnector{log: log})
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: skipDefaultTransaction,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)

	return db, log
}
