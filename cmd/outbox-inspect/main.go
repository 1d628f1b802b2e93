// Command outbox-inspect lists failed and dead-lettered outbox rows and requeues them.
//
// Rows are never deleted by the relay; an operator fixes the cause of a failure and then
// requeues the affected rows, which clears their retry count, last error and dead mark.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	outbox "github.com/velmie/txoutbox"
	"github.com/velmie/txoutbox/gormstore"
	"github.com/velmie/txoutbox/internal/config"
	"github.com/velmie/txoutbox/mysql"
)

const (
	exitUsage     = 2
	maxErrorWidth = 80
)

type options struct {
	driver   string
	dsn      string
	table    string
	limit    int
	deadOnly bool
	requeue  string
	timeout  time.Duration
}

type inspector interface {
	ListFailed(ctx context.Context, limit int, deadOnly bool) ([]outbox.Record, error)
	Requeue(ctx context.Context, ids []outbox.ID) (int64, error)
}

type mysqlInspector struct{ store *mysql.Store }

func (i mysqlInspector) ListFailed(ctx context.Context, limit int, deadOnly bool) ([]outbox.Record, error) {
	return i.store.ListFailed(ctx, mysql.ListOptions{Limit: limit, DeadOnly: deadOnly})
}

func (i mysqlInspector) Requeue(ctx context.Context, ids []outbox.ID) (int64, error) {
	return i.store.Requeue(ctx, ids)
}

type gormInspector struct{ store *gormstore.Store }

func (i gormInspector) ListFailed(ctx context.Context, limit int, deadOnly bool) ([]outbox.Record, error) {
	return i.store.ListFailed(ctx, gormstore.ListOptions{Limit: limit, DeadOnly: deadOnly})
}

func (i gormInspector) Requeue(ctx context.Context, ids []outbox.ID) (int64, error) {
	return i.store.Requeue(ctx, ids)
}

func main() {
	var opts options
	flag.StringVar(&opts.driver, "driver", config.DriverMySQL, "Store driver: mysql or postgres")
	flag.StringVar(&opts.dsn, "dsn", "", "Database DSN")
	flag.StringVar(&opts.table, "table", "outbox", "Outbox table name")
	flag.IntVar(&opts.limit, "limit", 50, "Max rows listed")
	flag.BoolVar(&opts.deadOnly, "dead", false, "List dead-lettered rows only")
	flag.StringVar(&opts.requeue, "requeue", "", "Comma separated record IDs to requeue")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall timeout")
	flag.Parse()

	if opts.dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required")
		flag.Usage()
		os.Exit(exitUsage)
	}
	ids, err := parseIDs(opts.requeue)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	insp, closeFn, err := open(opts)
	if err != nil {
		log.Print(err)
		os.Exit(1)
	}
	defer closeFn()

	if err := run(ctx, insp, opts, ids, os.Stdout); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func open(opts options) (inspector, func(), error) {
	switch opts.driver {
	case config.DriverMySQL:
		db, err := mysql.Open(opts.dsn)
		if err != nil {
			return nil, nil, err
		}
		store, err := mysql.NewStore(db, mysql.WithTable(opts.table))
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}

		return mysqlInspector{store: store}, func() { _ = db.Close() }, nil
	case config.DriverPostgres:
		db, err := gorm.Open(postgres.Open(opts.dsn), &gorm.Config{Logger: gormlogger.Discard})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		store, err := gormstore.NewStore(db, gormstore.WithTable(opts.table))
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}

		return gormInspector{store: store}, func() { _ = sqlDB.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", opts.driver)
	}
}

func run(ctx context.Context, insp inspector, opts options, ids []outbox.ID, out io.Writer) error {
	if len(ids) > 0 {
		changed, err := insp.Requeue(ctx, ids)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "requeued %d of %d records\n", changed, len(ids))

		return err
	}

	records, err := insp.ListFailed(ctx, opts.limit, opts.deadOnly)
	if err != nil {
		return err
	}

	return printRecords(out, records)
}

func parseIDs(value string) ([]outbox.ID, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	var ids []outbox.ID
	for _, part := range strings.Split(value, ",") {
		id, err := outbox.ParseID(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func printRecords(out io.Writer, records []outbox.Record) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tRETRIES\tCREATED\tLAST ERROR")
	for _, record := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			record.ID,
			record.TypeKey,
			record.Status(),
			record.RetryCount,
			record.CreatedAt.UTC().Format(time.RFC3339),
			shorten(record.LastError, maxErrorWidth),
		)
	}

	return w.Flush()
}

func shorten(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}

	return string(runes[:width-3]) + "..."
}
