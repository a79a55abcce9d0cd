package portlock

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"gitmine.dev/labbook/internal/coordinator"
	"gitmine.dev/labbook/internal/labbookerr"
	"gitmine.dev/labbook/internal/obslog"
)

const (
	portMapLockKey  = "portmap"
	hostportPrefix  = "hostport:"
	labbookKeyInfix = "hostport:labbook:"
	maxPortSweep    = 50
)

// PortAssignment is the coordinator-recorded mapping for one LabBook.
type PortAssignment struct {
	Interface string `json:"interface"`
	Port      int    `json:"port"`
}

// PortManager allocates and releases host ports under the port-map lock,
// verifying candidates with both a coordinator record and a real TCP bind.
type PortManager struct {
	store coordinator.Store
	locks *Manager
	log   *obslog.Logger
}

// NewPortManager returns a PortManager over store, serializing allocation
// through locks.
func NewPortManager(store coordinator.Store, locks *Manager, log *obslog.Logger) *PortManager {
	return &PortManager{store: store, locks: locks, log: log}
}

func hostportKey(iface string, port int) string {
	return fmt.Sprintf("%s%s:%d", hostportPrefix, iface, port)
}

func labbookPortKey(labbookKey string) string {
	return labbookKeyInfix + labbookKey
}

// Allocate sweeps up to 50 consecutive ports starting at desiredPort on
// iface, taking the first one that is both unrecorded in the coordinator
// and bindable. Fails with labbookerr.KindConflict "NoPortsAvailable" if
// every candidate is rejected.
func (m *PortManager) Allocate(ctx context.Context, labbookKey, iface string, desiredPort int) (PortAssignment, error) {
	handle, err := m.locks.Acquire(ctx, portMapLockKey)
	if err != nil {
		return PortAssignment{}, err
	}
	defer handle.Release(ctx)

	for offset := 0; offset < maxPortSweep; offset++ {
		candidate := desiredPort + offset
		key := hostportKey(iface, candidate)

		if _, err := m.store.Get(ctx, key); err == nil {
			continue // recorded taken
		} else if err != coordinator.ErrNotFound {
			return PortAssignment{}, err
		}

		if !canBind(iface, candidate) {
			continue
		}

		assignment := PortAssignment{Interface: iface, Port: candidate}
		data, err := json.Marshal(assignment)
		if err != nil {
			return PortAssignment{}, err
		}
		if err := m.store.Set(ctx, key, []byte("taken")); err != nil {
			return PortAssignment{}, err
		}
		if err := m.store.Set(ctx, labbookPortKey(labbookKey), data); err != nil {
			return PortAssignment{}, err
		}
		return assignment, nil
	}

	return PortAssignment{}, labbookerr.New(labbookerr.KindConflict, "portlock.Allocate",
		fmt.Sprintf("NoPortsAvailable: no free port in [%d, %d] on %s", desiredPort, desiredPort+maxPortSweep-1, iface), nil)
}

func canBind(iface string, port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", iface, port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// Release verifies the assigned port is no longer bound, then deletes both
// coordinator records, labbook mapping first so the inverse hostport record
// never dangles without an owner.
func (m *PortManager) Release(ctx context.Context, labbookKey string) error {
	handle, err := m.locks.Acquire(ctx, portMapLockKey)
	if err != nil {
		return err
	}
	defer handle.Release(ctx)

	assignment, err := m.lookupLocked(ctx, labbookKey)
	if err != nil {
		return err
	}

	if !canBind(assignment.Interface, assignment.Port) {
		return labbookerr.New(labbookerr.KindConflict, "portlock.Release",
			fmt.Sprintf("port %s:%d is still bound", assignment.Interface, assignment.Port), nil)
	}

	if err := m.store.Delete(ctx, labbookPortKey(labbookKey)); err != nil {
		return err
	}
	return m.store.Delete(ctx, hostportKey(assignment.Interface, assignment.Port))
}

// Lookup returns the recorded port assignment for labbookKey, or
// labbookerr.KindNotFound "NotAssigned".
func (m *PortManager) Lookup(ctx context.Context, labbookKey string) (PortAssignment, error) {
	handle, err := m.locks.Acquire(ctx, portMapLockKey)
	if err != nil {
		return PortAssignment{}, err
	}
	defer handle.Release(ctx)
	return m.lookupLocked(ctx, labbookKey)
}

func (m *PortManager) lookupLocked(ctx context.Context, labbookKey string) (PortAssignment, error) {
	data, err := m.store.Get(ctx, labbookPortKey(labbookKey))
	if err == coordinator.ErrNotFound {
		return PortAssignment{}, labbookerr.New(labbookerr.KindNotFound, "portlock.Lookup",
			"NotAssigned: no port recorded for "+labbookKey, nil)
	}
	if err != nil {
		return PortAssignment{}, err
	}
	var assignment PortAssignment
	if err := json.Unmarshal(data, &assignment); err != nil {
		return PortAssignment{}, err
	}
	return assignment, nil
}

// ResetAllPorts removes every hostport:* coordinator key, recovering from a
// crash where ports were allocated but never released.
func (m *PortManager) ResetAllPorts(ctx context.Context) error {
	handle, err := m.locks.Acquire(ctx, portMapLockKey)
	if err != nil {
		return err
	}
	defer handle.Release(ctx)

	keys, err := m.store.Keys(ctx, hostportPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		// Skip nothing: labbook mappings and taken-markers share the prefix
		// and both must go on a reset sweep.
		if !strings.HasPrefix(key, hostportPrefix) {
			continue
		}
		if err := m.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
