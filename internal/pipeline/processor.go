package pipeline

import (
	"context"

	"gitmine.dev/labbook/internal/activitystore"
	"gitmine.dev/labbook/internal/gitrepo"
)

// CellData is the aggregated per-cycle buffer accumulated between a
// status(busy) and the following status(idle): every execute_input code
// payload seen, in order, plus the results streamed or
// returned during the cycle.
type CellData struct {
	CodeInputs     []string
	Results        []ResultData
	ExecutionCount int
	Errored        bool
}

// ResultData is one execute_result or stream entry captured during a cycle.
type ResultData struct {
	MimeType string
	Data     []byte
	Metadata map[string]string // e.g. {"source": "display_data"}
}

// Metadata carries context a processor needs but that isn't part of the
// cell data or git status, such as the path of the notebook being executed.
type Metadata struct {
	NotebookPath string
}

// Processor consumes the in-progress record plus this cycle's cell data,
// git status, and metadata, and returns a possibly-mutated record together
// with a Signal controlling whether the chain continues.
type Processor interface {
	Process(ctx context.Context, record *activitystore.ActivityRecord, cell CellData, status []gitrepo.StatusEntry, meta Metadata) (*activitystore.ActivityRecord, Signal, error)
}

// Chain runs record through processors in order, stopping early (without
// error) if any processor returns Stop.
func Chain(ctx context.Context, processors []Processor, record *activitystore.ActivityRecord, cell CellData, status []gitrepo.StatusEntry, meta Metadata) (*activitystore.ActivityRecord, Signal, error) {
	for _, p := range processors {
		var signal Signal
		var err error
		record, signal, err = p.Process(ctx, record, cell, status, meta)
		if err != nil {
			return nil, Stop, err
		}
		if signal == Stop {
			return nil, Stop, nil
		}
	}
	return record, Continue, nil
}

// DefaultChain returns the five processors in the order spec.md §4.5 fixes:
// code capture, file-change detection, plaintext results, image results,
// and finally the catch-all visibility flag.
func DefaultChain() []Processor {
	return []Processor{
		&CodeExecutedProcessor{},
		&FileChangeProcessor{},
		&PlaintextResultProcessor{},
		&ImageExtractorProcessor{},
		&ShowBasicProcessor{},
	}
}
