package pipeline

import (
	"context"

	"gitmine.dev/labbook/internal/activitystore"
	"gitmine.dev/labbook/internal/labbook"
	"gitmine.dev/labbook/internal/labbookerr"
	"gitmine.dev/labbook/internal/obslog"
)

// State is the pipeline's two-state kernel-activity machine.
type State int

const (
	Idle State = iota
	Busy
)

// EventKind identifies a raw kernel event, the pipeline's input alphabet.
type EventKind string

const (
	EventStatus        EventKind = "status"
	EventExecuteInput  EventKind = "execute_input"
	EventExecuteResult EventKind = "execute_result"
	EventStream        EventKind = "stream"
	EventError         EventKind = "error"
	EventIgnored       EventKind = "ignored"
)

// Event is a single raw kernel event fed to the monitor.
type Event struct {
	Kind           EventKind
	ExecutionState string // "busy" | "idle", for EventStatus
	Code           string // for EventExecuteInput
	ExecutionCount int
	Results        []ResultData // for EventExecuteResult (one per mime-type payload)
	Text           string       // for EventStream
}

// Monitor is a single kernel's activity pipeline: the IDLE/BUSY state
// machine plus the buffer accumulated between a busy and its matching idle.
type Monitor struct {
	lb           *labbook.LabBook
	notebookPath string
	processors   []Processor
	log          *obslog.Logger

	state  State
	buffer CellData
}

// NewMonitor constructs a pipeline for notebookPath within lb, using the
// default processor chain.
func NewMonitor(lb *labbook.LabBook, notebookPath string, log *obslog.Logger) *Monitor {
	return &Monitor{lb: lb, notebookPath: notebookPath, processors: DefaultChain(), log: log, state: Idle}
}

// State returns the monitor's current IDLE/BUSY state.
func (m *Monitor) State() State { return m.state }

// HandleEvent feeds one raw kernel event to the monitor. It returns true
// when this event triggered a finalize that produced a committed activity
// record.
func (m *Monitor) HandleEvent(ctx context.Context, ev Event) (bool, error) {
	switch ev.Kind {
	case EventStatus:
		return m.handleStatus(ctx, ev)
	case EventExecuteInput:
		if m.state == Busy {
			if m.buffer.ExecutionCount != 0 && m.buffer.ExecutionCount != ev.ExecutionCount {
				m.log.Warnf("execution count mismatch: buffer has %d, event has %d", m.buffer.ExecutionCount, ev.ExecutionCount)
			}
			m.buffer.CodeInputs = append(m.buffer.CodeInputs, ev.Code)
			m.buffer.ExecutionCount = ev.ExecutionCount
		}
		return false, nil
	case EventExecuteResult:
		if m.state == Busy {
			m.buffer.Results = append(m.buffer.Results, ev.Results...)
		}
		return false, nil
	case EventStream:
		if m.state == Busy {
			m.buffer.Results = append(m.buffer.Results, ResultData{MimeType: "text/plain", Data: []byte(ev.Text)})
		}
		return false, nil
	case EventError:
		m.buffer.Errored = true
		return false, nil
	default:
		return false, nil
	}
}

func (m *Monitor) handleStatus(ctx context.Context, ev Event) (bool, error) {
	switch ev.ExecutionState {
	case "busy":
		m.state = Busy
		m.buffer = CellData{}
		return false, nil
	case "idle":
		if m.state != Busy {
			return false, nil
		}
		m.state = Idle
		return m.finalize(ctx)
	default:
		return false, nil
	}
}

// finalize runs the buffered cycle through the processor chain, commits any
// uncommitted working-tree changes, and commits the resulting activity
// record. It takes no lock of its own. It is a no-op
// (returns false, nil) if the buffer is empty, errored, or any processor
// signals Stop.
func (m *Monitor) finalize(ctx context.Context) (bool, error) {
	buffer := m.buffer
	m.buffer = CellData{}

	if buffer.Errored {
		return false, nil
	}
	if len(buffer.CodeInputs) == 0 && len(buffer.Results) == 0 {
		return false, nil
	}

	status, err := m.lb.Repo().Status(ctx)
	if err != nil {
		return false, err
	}

	record := activitystore.NewActivityRecord(activitystore.ActivityNote, "")
	meta := Metadata{NotebookPath: m.notebookPath}

	record, signal, err := Chain(ctx, m.processors, record, buffer, status, meta)
	if err != nil {
		return false, err
	}
	if signal == Stop {
		return false, nil
	}

	if len(status) > 0 {
		if err := m.lb.Repo().AddAll(ctx); err != nil {
			return false, err
		}
		if _, err := m.lb.Repo().Commit(ctx, "Auto-commit for activity journal"); err != nil {
			return false, err
		}
	}
	linkedCommit, err := m.lb.Repo().HeadCommit(ctx)
	if err != nil {
		return false, err
	}
	record.LinkedCommit = linkedCommit

	if record.Message == "" {
		return false, labbookerr.New(labbookerr.KindInternal, "pipeline.finalize", "no processor set a record message", nil)
	}

	if err := m.lb.Activity().CreateActivityRecord(record); err != nil {
		return false, err
	}
	return true, nil
}
