package storage

import "context"

// EventStorage is a backend for log events. Events have a different access
// pattern from the rest of the data (high-volume appends, range counts), so
// they can live in a separate store. SQLiteStorage and ClickHouseStorage both
// implement it.
type EventStorage interface {
	Open() error
	Close() error
	Migrate() error
	Ping(ctx context.Context) error
	Events() EventRepository
}

var (
	_ EventStorage = (*SQLiteStorage)(nil)
	_ EventStorage = (*ClickHouseStorage)(nil)
)
