package sqlite

import (
	"context"
	"database/sql"
	"time"
)

// pollTimeout bounds one data_version read.
const pollTimeout = time.Second

// pollChanges reads PRAGMA data_version on its own connection every interval.
// The value moves whenever another connection, in this process or another,
// commits. Each move signals every watcher, since the pragma does not say
// which record types changed.
func (b *Backend) pollChanges(conn *sql.Conn, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer conn.Close()

	last, err := dataVersion(conn)
	if err != nil {
		b.logger.Warn("change poller stopped", "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		v, err := dataVersion(conn)
		if err != nil {
			b.logger.Warn("reading data version", "error", err)
			continue
		}
		if v != last {
			last = v
			b.notifyAll()
		}
	}
}

func dataVersion(conn *sql.Conn) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()

	var v int64
	err := conn.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// notifyAll signals every watcher of every record type.
func (b *Backend) notifyAll() {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()

	for _, set := range b.watchers {
		for w := range set {
			select {
			case w.ch <- struct{}{}:
			default:
			}
		}
	}
}
