package health

import (
	"context"
	"errors"
)

// Pinger is implemented by the SQLite and ClickHouse stores and the Redis
// locker.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports a dependency healthy when its Ping succeeds.
type PingChecker struct {
	name   string
	pinger Pinger
}

// NewPingChecker creates a checker named name.
func NewPingChecker(name string, p Pinger) *PingChecker {
	return &PingChecker{name: name, pinger: p}
}

// NewSQLiteChecker checks the metadata database.
func NewSQLiteChecker(p Pinger) *PingChecker {
	return NewPingChecker("sqlite", p)
}

// NewClickHouseChecker checks the ClickHouse event store.
func NewClickHouseChecker(p Pinger) *PingChecker {
	return NewPingChecker("clickhouse", p)
}

// NewRedisChecker checks the Redis lock backend.
func NewRedisChecker(p Pinger) *PingChecker {
	return NewPingChecker("redis", p)
}

// Name returns the checker name.
func (c *PingChecker) Name() string {
	return c.name
}

// Check pings the dependency.
func (c *PingChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return errors.New(c.name + " not configured")
	}
	return c.pinger.Ping(ctx)
}

// FuncChecker adapts a function, such as a server's running flag.
type FuncChecker struct {
	name  string
	check func(ctx context.Context) error
}

// NewFuncChecker creates a checker from fn.
func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: fn}
}

// Name returns the checker name.
func (c *FuncChecker) Name() string {
	return c.name
}

// Check runs the function.
func (c *FuncChecker) Check(ctx context.Context) error {
	return c.check(ctx)
}
