package pipeline

import (
	"context"
	"fmt"
	"strings"

	"gitmine.dev/labbook/internal/activitystore"
	"gitmine.dev/labbook/internal/gitrepo"
)

const maxPlaintextBytes = 64000
const truncationMarker = "\n... [truncated]"
const shortResultThreshold = 280

var imageMimeTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/gif":  true,
	"image/bmp":  true,
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

// CodeExecutedProcessor emits one CODE_EXECUTED detail per non-empty code
// input captured this cycle, rendered as a markdown code block, and sets
// the record's headline message.
type CodeExecutedProcessor struct{}

func (p *CodeExecutedProcessor) Process(ctx context.Context, record *activitystore.ActivityRecord, cell CellData, status []gitrepo.StatusEntry, meta Metadata) (*activitystore.ActivityRecord, Signal, error) {
	nonEmpty := 0
	for i, code := range cell.CodeInputs {
		if strings.TrimSpace(code) == "" {
			continue
		}
		nonEmpty++
		detail := activitystore.NewActivityDetailRecord(activitystore.DetailCodeExecuted, max(255-i, 0))
		if err := detail.AddValue("text/markdown", fmt.Sprintf("```python\n%s\n```", code)); err != nil {
			return nil, Stop, err
		}
		record.AddDetailObject(detail)
	}

	if nonEmpty > 0 {
		record.Message = fmt.Sprintf("Executed %d %s in notebook %s", nonEmpty, pluralize(nonEmpty, "cell", "cells"), meta.NotebookPath)
		record.Type = activitystore.ActivityCode
	}

	return record, Continue, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// changeLabel classifies a status path into a (section, detail type, label)
// triple used to describe the change in a detail's markdown.
func changeLabel(path string) (section string, detailType activitystore.ActivityDetailType, label string) {
	switch {
	case strings.HasPrefix(path, "code/"):
		return "code", activitystore.DetailCode, "Code"
	case strings.HasPrefix(path, "input/"):
		return "input", activitystore.DetailInputData, "Input Data"
	case strings.HasPrefix(path, "output/"):
		return "output", activitystore.DetailOutputData, "Output Data"
	default:
		return "", activitystore.DetailEnvironment, "LabBook Root"
	}
}

func changeAction(entry gitrepo.StatusEntry, untracked bool) activitystore.DetailAction {
	switch {
	case untracked:
		return activitystore.ActionCreate
	case entry.Index == 'D' || entry.Work == 'D':
		return activitystore.ActionDelete
	case entry.Index == 'A':
		return activitystore.ActionCreate
	case entry.Index == 'M' || entry.Work == 'M':
		return activitystore.ActionEdit
	case entry.Index == 'R':
		return activitystore.ActionEdit
	default:
		return activitystore.ActionNoAction
	}
}

// FileChangeProcessor walks the git status captured for this cycle and
// emits one detail per changed path outside .git/.gigantum, describing the
// section it landed in and the inferred action.
type FileChangeProcessor struct{}

func (p *FileChangeProcessor) Process(ctx context.Context, record *activitystore.ActivityRecord, cell CellData, status []gitrepo.StatusEntry, meta Metadata) (*activitystore.ActivityRecord, Signal, error) {
	for _, entry := range status {
		if strings.Contains(entry.Path, ".git") || strings.Contains(entry.Path, ".gigantum") {
			continue
		}

		untracked := entry.Index == '?' && entry.Work == '?'
		_, detailType, label := changeLabel(entry.Path)
		action := changeAction(entry, untracked)

		detail := activitystore.NewActivityDetailRecord(detailType, 50)
		detail.Action = action
		detail.Show = false
		if err := detail.AddValue("text/markdown", fmt.Sprintf("%s: `%s` (%s)", label, entry.Path, action)); err != nil {
			return nil, Stop, err
		}
		record.AddDetailObject(detail)
	}
	return record, Continue, nil
}

// PlaintextResultProcessor saves up to 64,000 bytes of text/plain output
// per result, truncating with a marker beyond that. Results whose metadata
// marks them as display_data are skipped (the ImageExtractorProcessor
// handles those).
type PlaintextResultProcessor struct{}

func (p *PlaintextResultProcessor) Process(ctx context.Context, record *activitystore.ActivityRecord, cell CellData, status []gitrepo.StatusEntry, meta Metadata) (*activitystore.ActivityRecord, Signal, error) {
	for _, result := range cell.Results {
		if result.MimeType != "text/plain" {
			continue
		}
		if result.Metadata["source"] == "display_data" {
			continue
		}

		data := result.Data
		if len(data) > maxPlaintextBytes {
			data = append(data[:maxPlaintextBytes], []byte(truncationMarker)...)
		}

		detail := activitystore.NewActivityDetailRecord(activitystore.DetailResult, 100)
		detail.Show = len(data) < shortResultThreshold
		if err := detail.AddValue("text/plain", string(data)); err != nil {
			return nil, Stop, err
		}
		record.AddDetailObject(detail)
	}
	return record, Continue, nil
}

// ImageExtractorProcessor emits a shown RESULT detail for any recognized
// image MIME type and mentions the generated result in the headline message.
type ImageExtractorProcessor struct{}

func (p *ImageExtractorProcessor) Process(ctx context.Context, record *activitystore.ActivityRecord, cell CellData, status []gitrepo.StatusEntry, meta Metadata) (*activitystore.ActivityRecord, Signal, error) {
	found := false
	for _, result := range cell.Results {
		if !imageMimeTypes[result.MimeType] {
			continue
		}
		detail := activitystore.NewActivityDetailRecord(activitystore.DetailResult, 200)
		detail.Show = true
		if err := detail.AddValue(result.MimeType, string(result.Data)); err != nil {
			return nil, Stop, err
		}
		record.AddDetailObject(detail)
		found = true
	}

	if found {
		record.Message = strings.TrimRight(record.Message, ".") + " and generated a result"
	}
	return record, Continue, nil
}

// ShowBasicProcessor runs last and sets record.Show whenever any non-
// CODE_EXECUTED detail is itself flagged to show.
type ShowBasicProcessor struct{}

func (p *ShowBasicProcessor) Process(ctx context.Context, record *activitystore.ActivityRecord, cell CellData, status []gitrepo.StatusEntry, meta Metadata) (*activitystore.ActivityRecord, Signal, error) {
	for _, d := range record.DetailObjects() {
		if d.Type != activitystore.DetailCodeExecuted && d.Show {
			record.Show = true
			break
		}
	}
	return record, Continue, nil
}
