// Package coordinator defines the shared key-value contract every
// process-wide fact in this module is built on: port assignments, monitor
// run flags, and resource locks. Per Design Notes §9, the coordinator is
// injected into components rather than owned by them; its connection
// lifecycle belongs to the process entrypoint.
package coordinator

import "context"

// Store is the coordinator contract. Two backends implement it:
// boltstore (embedded, single-process) and redisstore (networked,
// multi-process) — callers depend on this interface only.
type Store interface {
	// Get fetches the raw value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value for key, unconditionally.
	Set(ctx context.Context, key string, value []byte) error
	// SetNX stores value for key only if it is absent; reports whether it
	// was stored. Used by the port map's coordinator-record check and by
	// lock acquisition.
	SetNX(ctx context.Context, key string, value []byte) (bool, error)
	// Delete removes key; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists every key with the given prefix, used by reset_all_ports
	// and by the monitor supervisor's coordinator scan.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Close releases the underlying connection.
	Close() error
}

// ErrNotFound is returned by Get when key is absent.
var ErrNotFound = storeNotFoundError{}

type storeNotFoundError struct{}

func (storeNotFoundError) Error() string { return "coordinator: key not found" }
