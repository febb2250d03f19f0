// Package sqlite is the embedded database behind the access layer: a single
// SQLite file holding JSON-encoded records of any number of record types.
//
// Work happens through a Handle, a dedicated connection bound to the
// execution context (Owner) that opened it. Every Handle method checks that
// it is called from that context. Committed writes are announced to
// Watch subscribers of the affected record types.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/localservice/pkg/types"
)

const (
	dirPermissions = 0o755

	// busyTimeout bounds how long a writer waits for the database lock.
	busyTimeout = 5 * time.Second

	pingTimeout = 5 * time.Second
)

// Owner is the execution context a Handle is confined to.
type Owner interface {
	// Confined reports whether the caller runs inside this context.
	Confined() bool
	Name() string
}

// Backend owns the database file and the handles opened on it.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	path     string
	logger   *slog.Logger

	live atomic.Int64

	watchMu  sync.Mutex
	watchers map[string]map[*watcher]struct{}

	// pollStop ends the change poller; pollDone closes when it has exited.
	pollStop chan struct{}
	pollDone chan struct{}
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger for attach, detach and handle events.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		logger:   slog.Default(),
		watchers: make(map[string]map[*watcher]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach opens (creating if needed) the database in config.DataDir.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}

	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, dirPermissions); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dataDir, types.DatabaseFileName)
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("verifying database connection: %w", err)
	}

	for _, stmt := range schemaDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	if config.WatchInterval > 0 {
		conn, err := db.Conn(ctx)
		if err != nil {
			db.Close()
			return fmt.Errorf("opening change poller: %w", err)
		}
		b.pollStop = make(chan struct{})
		b.pollDone = make(chan struct{})
		go b.pollChanges(conn, config.WatchInterval, b.pollStop, b.pollDone)
	}

	b.db = db
	b.path = path
	b.config = config
	b.attached = true

	b.logger.Info("database attached", "path", path)
	return nil
}

// dsn builds the modernc connection string. Every pooled connection gets
// the same pragmas; transactions take the write lock up front.
func dsn(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate",
		path, busyTimeout.Milliseconds())
}

// Detach closes the database and ends every Watch subscription.
// After Detach, handle operations return ErrDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	b.attached = false

	if b.pollStop != nil {
		close(b.pollStop)
		<-b.pollDone
		b.pollStop, b.pollDone = nil, nil
	}
	b.closeWatchers()

	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return fmt.Errorf("closing database: %w", err)
		}
		b.db = nil
	}

	b.logger.Info("database detached", "path", b.path, "live_handles", b.live.Load())
	return nil
}

// Attached reports whether the backend is attached.
func (b *Backend) Attached() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.attached
}

// Path returns the database file path of the current attachment.
func (b *Backend) Path() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.path
}

// RecordTypes returns the stored record type names with their record counts.
// It reads through the shared pool and needs no Handle.
func (b *Backend) RecordTypes(ctx context.Context) (map[string]int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrDetached
	}

	rows, err := b.db.QueryContext(ctx, `SELECT record_type, COUNT(*) FROM records GROUP BY record_type`)
	if err != nil {
		return nil, fmt.Errorf("listing record types: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scanning record type: %w", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}

// LiveHandles returns the number of handles opened and not yet closed.
func (b *Backend) LiveHandles() int { return int(b.live.Load()) }

// OpenHandle opens a handle confined to owner. It must be called from
// within owner.
func (b *Backend) OpenHandle(ctx context.Context, owner Owner) (*Handle, error) {
	if owner == nil || !owner.Confined() {
		return nil, types.ErrNotConfined
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrDetached
	}

	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening handle: %w", err)
	}

	h := &Handle{
		id:       newHandleID(),
		backend:  b,
		owner:    owner,
		conn:     conn,
		openedAt: time.Now(),
	}
	b.live.Add(1)
	b.logger.Debug("handle opened", "handle", h.id, "owner", owner.Name())
	return h, nil
}

// newHandleID generates a UUID v7 string.
func newHandleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// watcher is one Watch subscription.
type watcher struct {
	ch chan struct{}
}

// Watch subscribes to committed changes of recordType. The returned channel
// receives a value after each commit touching recordType; bursts coalesce
// into one pending signal. The channel is closed by cancel and by Detach.
func (b *Backend) Watch(recordType string) (<-chan struct{}, func(), error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, nil, types.ErrDetached
	}

	w := &watcher{ch: make(chan struct{}, 1)}

	b.watchMu.Lock()
	set, ok := b.watchers[recordType]
	if !ok {
		set = make(map[*watcher]struct{})
		b.watchers[recordType] = set
	}
	set[w] = struct{}{}
	b.watchMu.Unlock()

	cancel := func() {
		b.watchMu.Lock()
		defer b.watchMu.Unlock()
		if _, ok := b.watchers[recordType][w]; ok {
			delete(b.watchers[recordType], w)
			close(w.ch)
		}
	}
	return w.ch, cancel, nil
}

// notify signals the watchers of every record type in touched.
func (b *Backend) notify(touched map[string]struct{}) {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()

	for rt := range touched {
		for w := range b.watchers[rt] {
			select {
			case w.ch <- struct{}{}:
			default:
			}
		}
	}
}

// closeWatchers ends every subscription.
func (b *Backend) closeWatchers() {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()

	for rt, set := range b.watchers {
		for w := range set {
			close(w.ch)
		}
		delete(b.watchers, rt)
	}
}
