// Package mysqlsync is a reference collection.Driver backed by a plain
// MySQL table: it has no binlog/CDC access, so it keeps a collection
// current by polling the table on an interval and diffing each poll
// against its own last-seen snapshot. It exists to demonstrate a real
// sync driver's shape end to end, not as a production replication path.
package mysqlsync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"tdbcore/internal/collection"
	"tdbcore/internal/core"
	"tdbcore/internal/dlog"
)

// Options configures a table-polling sync driver.
type Options struct {
	DSN string
	// Table is the unqualified table name to poll; it is interpolated
	// into the generated SQL rather than bound as a parameter, since
	// MySQL's protocol has no placeholder for an identifier. Callers must
	// never pass caller-controlled input here.
	Table string
	// IDColumn is the column whose value becomes each row's core.Key.
	IDColumn string
	// PollInterval is how often the table is re-polled after the initial
	// load. Defaults to 2s.
	PollInterval time.Duration
	Log          *dlog.Logger
}

// New returns a collection.Driver that polls opts.Table for changes. The
// returned Driver opens its own *sql.DB per driver instance (one per
// Collection restart) and closes it on cleanup.
func New(opts Options) collection.Driver {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = dlog.Nop()
	}

	return func(ctx context.Context, sc *collection.SyncContext) (func(), error) {
		db, err := sql.Open("mysql", opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("mysqlsync: open %s: %w", opts.Table, err)
		}
		if err := db.PingContext(ctx); err != nil {
			closeErr := db.Close()
			if closeErr != nil {
				return nil, fmt.Errorf("mysqlsync: ping %s: %w (close also failed: %v)", opts.Table, err, closeErr)
			}
			return nil, fmt.Errorf("mysqlsync: ping %s: %w", opts.Table, err)
		}

		columns, err := discoverColumns(ctx, db, opts.Table)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("mysqlsync: discover columns for %s: %w", opts.Table, err)
		}

		p := &poller{
			db:       db,
			table:    opts.Table,
			idColumn: opts.IDColumn,
			columns:  columns,
			log:      log,
			seen:     map[core.Key]core.Row{},
		}

		if err := p.pollInto(ctx, sc); err != nil {
			_ = db.Close()
			return nil, err
		}
		sc.MarkReady()

		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := p.pollInto(ctx, sc); err != nil {
						log.Error("mysqlsync: poll failed", zap.String("table", opts.Table), zap.Error(err))
					}
				}
			}
		}()

		cleanup := func() {
			close(stop)
			<-done
			_ = db.Close()
		}
		return cleanup, nil
	}
}

// discoverColumns reads opts.Table's column names from information_schema,
// in ordinal_position order.
func discoverColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position
	`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("mysqlsync: table %q has no columns or does not exist", table)
	}
	return cols, rows.Err()
}

// poller holds the last-seen snapshot a driver instance diffs each new
// poll against.
type poller struct {
	db       *sql.DB
	table    string
	idColumn string
	columns  []string
	log      *dlog.Logger

	seen map[core.Key]core.Row
}

// pollInto runs one SELECT * over the table, diffs it against p.seen, and
// reports the difference to sc as a single commit: inserts for new keys,
// updates for changed rows, deletes for keys no longer present.
func (p *poller) pollInto(ctx context.Context, sc *collection.SyncContext) error {
	current, err := p.scanTable(ctx)
	if err != nil {
		return err
	}

	sc.Begin()
	wrote := false
	for key, row := range current {
		prev, existed := p.seen[key]
		switch {
		case !existed:
			if err := sc.Write(collection.WriteOp{Type: core.Insert, Value: row}); err != nil {
				return err
			}
			wrote = true
		case !rowsEqual(prev, row):
			if err := sc.Write(collection.WriteOp{Type: core.Update, Value: row, PreviousValue: prev}); err != nil {
				return err
			}
			wrote = true
		}
	}
	for key, prev := range p.seen {
		if _, stillPresent := current[key]; !stillPresent {
			if err := sc.Write(collection.WriteOp{Type: core.Delete, Value: prev}); err != nil {
				return err
			}
			wrote = true
		}
	}
	p.seen = current
	if wrote {
		return sc.Commit()
	}
	return nil
}

func (p *poller) scanTable(ctx context.Context) (map[core.Key]core.Row, error) {
	query := "SELECT * FROM " + p.table
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := map[core.Key]core.Row{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := core.Row{}
		for i, col := range cols {
			row[col] = normalizeValue(vals[i])
		}

		idCol := p.idColumn
		if idCol == "" {
			idCol = "id"
		}
		key, err := core.NormalizeKey(row[idCol])
		if err != nil {
			return nil, fmt.Errorf("mysqlsync: row in %s has no usable %s column: %w", p.table, idCol, err)
		}
		out[key] = row
	}
	return out, rows.Err()
}

// normalizeValue converts a database/sql driver value (notably []byte for
// most textual and numeric MySQL types under the default scan) into a
// JSON-representable value core.Encode can marshal.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func rowsEqual(a, b core.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || av != bv {
			return false
		}
	}
	return true
}

