// Package config defines the typed option structs every LabBook component
// takes as constructor arguments. Loading these from a file or environment
// is an external collaborator's job (out of scope here); this package only
// shapes the options and supplies their documented defaults.
package config

import "time"

// DetailDBConfig controls C1's rotation and compression behavior.
type DetailDBConfig struct {
	LogfileLimit     int64 // soft cap, in bytes, before rotating to a new file number
	Compress         bool
	CompressMinBytes int64
}

// LockConfig controls C8's acquire/release semantics, shared by the LabBook
// lock and the port-map lock.
type LockConfig struct {
	Timeout     time.Duration // max wait to acquire
	Expire      time.Duration // lock lifetime; past it another acquirer may take the lock over (long holds are not logged)
	AutoRenewal bool          // extend the lock while held
	Strict      bool          // fail fast if the lock is found to have been lost
}

// CoreConfig holds process-wide LabBook placement settings.
type CoreConfig struct {
	TeamMode         bool
	WorkingDirectory string // base directory under which <user>/<owner>/labbooks/<name> trees live
}

// RemoteConfig names one configured git remote and its administrative
// service endpoint (used by the Workflow Engine's Provision operation).
type RemoteConfig struct {
	AdminServiceURL string
}

// GitConfig controls the Repository Adapter and Workflow Engine defaults.
type GitConfig struct {
	DefaultRemote string
	LFSEnabled    bool
	Remotes       map[string]RemoteConfig
}

// CoordinatorConfig selects and configures the coordinator Store backend.
type CoordinatorConfig struct {
	Backend  string // "bolt" or "redis"
	RedisURL string
	BoltPath string
}

// Config composes every component's typed options into one value, passed
// down from the process entrypoint the way Design Notes §9 prescribes:
// components receive their slice of Config, never a loose map.
type Config struct {
	DetailDB    DetailDBConfig
	Lock        LockConfig
	Core        CoreConfig
	Git         GitConfig
	Coordinator CoordinatorConfig
}

// Default returns the documented defaults: a 4 MB detail-log rotation
// threshold, a 50-slot port sweep (enforced in internal/portlock, not
// configurable here), and conservative lock timings.
func Default() Config {
	return Config{
		DetailDB: DetailDBConfig{
			LogfileLimit:     4 << 20,
			Compress:         false,
			CompressMinBytes: 1 << 10,
		},
		Lock: LockConfig{
			Timeout:     30 * time.Second,
			Expire:      5 * time.Minute,
			AutoRenewal: true,
			Strict:      true,
		},
		Core: CoreConfig{
			TeamMode:         false,
			WorkingDirectory: "~/gigantum",
		},
		Git: GitConfig{
			DefaultRemote: "origin",
			LFSEnabled:    false,
			Remotes:       map[string]RemoteConfig{},
		},
		Coordinator: CoordinatorConfig{
			Backend:  "bolt",
			BoltPath: "~/.labbook/coordinator.db",
		},
	}
}
