package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/cuemby/pindex/pkg/log"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("catalog: not found")
	// ErrClosed is returned for operations on a closed catalog
	ErrClosed = errors.New("catalog: closed")
)

// Catalog is the embedded SQLite-backed catalogue shared by all workers.
// Writes are serialized through a FIFO operation queue; reads outside a
// scoped transaction go straight to the connection pool.
type Catalog struct {
	db     *sql.DB
	ops    chan writeOp
	closed chan struct{}
	done   chan struct{}
}

type writeOp struct {
	fn   func() error
	done chan error
}

// Open opens (creating if needed) the catalogue at path. busyTimeout is
// clamped to [0, 60s] and applied as the SQLite busy handler wait. The
// database runs in WAL mode.
func Open(path string, busyTimeout time.Duration) (*Catalog, error) {
	if busyTimeout < 0 {
		busyTimeout = 0
	}
	if busyTimeout > 60*time.Second {
		busyTimeout = 60 * time.Second
	}

	// file: prefix is required by the ncruces/go-sqlite3 driver
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalogue: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to catalogue: %w", err)
	}

	c := &Catalog{
		db:     db,
		ops:    make(chan writeOp, 64),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.writer()

	return c, nil
}

// writer drains the FIFO queue. A failed or panicking op surfaces its error
// to the enqueuer only and never blocks the next op.
func (c *Catalog) writer() {
	defer close(c.done)
	for {
		select {
		case op := <-c.ops:
			op.done <- runSafe(op.fn)
		case <-c.closed:
			// Drain anything already queued before exiting.
			for {
				select {
				case op := <-c.ops:
					op.done <- runSafe(op.fn)
				default:
					return
				}
			}
		}
	}
}

func runSafe(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("catalog: write op panic: %v", r)
			logger := log.WithComponent("catalog")
			logger.Error().Interface("panic", r).Msg("write op panicked")
		}
	}()
	return fn()
}

// enqueue submits fn to the serialized writer and waits for it to finish.
func (c *Catalog) enqueue(ctx context.Context, fn func() error) error {
	op := writeOp{fn: fn, done: make(chan error, 1)}
	select {
	case c.ops <- op:
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the writer and closes the database.
func (c *Catalog) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
	}
	close(c.closed)
	<-c.done
	return c.db.Close()
}

// execer is the subset of sql.Tx / sql.DB the primitives need.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// exec runs a write statement: inside the active scoped transaction when one
// is present, otherwise serialized through the queue.
func (c *Catalog) exec(ctx context.Context, query string, args ...any) error {
	if st := txFromContext(ctx); st != nil {
		_, err := st.tx.ExecContext(ctx, query, args...)
		return err
	}
	return c.enqueue(ctx, func() error {
		_, err := c.db.ExecContext(ctx, query, args...)
		return err
	})
}

// reader returns the executor for reads: the scoped transaction when active
// (so reads see that transaction's snapshot), the pool otherwise.
func (c *Catalog) reader(ctx context.Context) execer {
	if st := txFromContext(ctx); st != nil {
		return st.tx
	}
	return c.db
}
