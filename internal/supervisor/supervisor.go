// Package supervisor implements C6, the Monitor Supervisor: per dev-env
// type, it reconciles the set of live kernels against the coordinator's
// recorded activity monitors, spawning monitors for new kernels and
// signaling cooperative shutdown for ones whose kernel is gone.
package supervisor

import (
	"context"
	"encoding/json"
	"strings"

	"gitmine.dev/labbook/internal/coordinator"
	"gitmine.dev/labbook/internal/labbookerr"
	"gitmine.dev/labbook/internal/obslog"
)

// KernelSession is one live kernel reported by a dev-env's API.
type KernelSession struct {
	KernelID string
}

// DevEnv is the slice of a dev-env's API the supervisor needs: the current
// set of live kernel sessions. Out of scope per SPEC_FULL.md §1 as the
// "environment-component fetcher" external collaborator; this module only
// consumes the interface.
type DevEnv interface {
	ListSessions(ctx context.Context) ([]KernelSession, error)
}

// MonitorDispatcher is the slice of C7 the supervisor needs: spawning a
// long-running monitor task per kernel.
type MonitorDispatcher interface {
	DispatchMonitor(ctx context.Context, devEnvKey, kernelID string) (jobKey string, err error)
	UnscheduleSupervisor(ctx context.Context, devEnvKey string) (found bool, err error)
}

// monitorRecord is the coordinator-hash value stored under each
// "<devenv-key>:activity_monitor:<kernel-id>" key.
type monitorRecord struct {
	KernelID string `json:"kernel_id"`
	JobKey   string `json:"job_key"`
	Run      bool   `json:"run"`
}

const monitorKeyInfix = ":activity_monitor:"

func monitorKey(devEnvKey, kernelID string) string {
	return devEnvKey + monitorKeyInfix + kernelID
}

// Supervisor reconciles one dev-env type's kernel sessions against the
// coordinator's recorded monitors on an interval driven by the caller.
type Supervisor struct {
	store      coordinator.Store
	devenv     DevEnv
	dispatcher MonitorDispatcher
	log        *obslog.Logger
}

// New constructs a Supervisor over an already-connected coordinator store.
func New(store coordinator.Store, devenv DevEnv, dispatcher MonitorDispatcher, log *obslog.Logger) *Supervisor {
	return &Supervisor{store: store, devenv: devenv, dispatcher: dispatcher, log: log}
}

// Tick runs one reconciliation pass for devEnvKey.
func (s *Supervisor) Tick(ctx context.Context, devEnvKey string) error {
	sessions, err := s.devenv.ListSessions(ctx)
	if err != nil {
		return labbookerr.New(labbookerr.KindInternal, "supervisor.Tick", "could not list kernel sessions", err)
	}

	live := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		live[sess.KernelID] = true
	}

	prefix := devEnvKey + monitorKeyInfix
	keys, err := s.store.Keys(ctx, prefix)
	if err != nil {
		return labbookerr.New(labbookerr.KindInternal, "supervisor.Tick", "could not list monitor keys", err)
	}

	tracked := make(map[string]bool, len(keys))
	for _, key := range keys {
		kernelID := strings.TrimPrefix(key, prefix)
		tracked[kernelID] = true

		if live[kernelID] {
			continue
		}

		if err := s.setRun(ctx, key, false); err != nil {
			return err
		}
		s.log.Infof("signaled shutdown for monitor of gone kernel %s", kernelID)
	}

	for kernelID := range live {
		if tracked[kernelID] {
			continue
		}

		jobKey, err := s.dispatcher.DispatchMonitor(ctx, devEnvKey, kernelID)
		if err != nil {
			return err
		}

		record := monitorRecord{KernelID: kernelID, JobKey: jobKey, Run: true}
		data, err := json.Marshal(record)
		if err != nil {
			return labbookerr.New(labbookerr.KindInternal, "supervisor.Tick", "could not marshal monitor record", err)
		}
		if err := s.store.Set(ctx, monitorKey(devEnvKey, kernelID), data); err != nil {
			return labbookerr.New(labbookerr.KindInternal, "supervisor.Tick", "could not record new monitor", err)
		}
		s.log.Infof("dispatched activity monitor %s for kernel %s", jobKey, kernelID)
	}

	return nil
}

func (s *Supervisor) setRun(ctx context.Context, key string, run bool) error {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		return labbookerr.New(labbookerr.KindInternal, "supervisor.setRun", "could not read monitor record", err)
	}
	var record monitorRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return labbookerr.New(labbookerr.KindIntegrity, "supervisor.setRun", "malformed monitor record", err)
	}
	record.Run = run
	updated, err := json.Marshal(record)
	if err != nil {
		return labbookerr.New(labbookerr.KindInternal, "supervisor.setRun", "could not marshal monitor record", err)
	}
	return s.store.Set(ctx, key, updated)
}

// Shutdown signals every monitor tracked under devEnvKey to stop and
// unschedules the supervisor's own recurring job.
func (s *Supervisor) Shutdown(ctx context.Context, devEnvKey string) error {
	prefix := devEnvKey + monitorKeyInfix
	keys, err := s.store.Keys(ctx, prefix)
	if err != nil {
		return labbookerr.New(labbookerr.KindInternal, "supervisor.Shutdown", "could not list monitor keys", err)
	}
	for _, key := range keys {
		if err := s.setRun(ctx, key, false); err != nil {
			return err
		}
	}

	found, err := s.dispatcher.UnscheduleSupervisor(ctx, devEnvKey)
	if err != nil {
		return err
	}
	s.log.Infof("unscheduled supervisor for %s (was scheduled: %v)", devEnvKey, found)
	return nil
}
