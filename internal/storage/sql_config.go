package storage

import "time"

// Config selects and tunes a transcript store.
type Config struct {
	// Driver is "memory", "sqlite" or "postgres".
	Driver string

	// DSN is the database file path (sqlite) or connection string (postgres).
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns the in-memory store settings with default pooling.
func DefaultConfig() Config {
	return Config{
		Driver:          "memory",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}
