// Package activitystore implements C2: the structured journal layered over
// the Detail Store (C1) and the Repository Adapter's commit log (C3).
package activitystore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gitmine.dev/labbook/internal/labbookerr"
)

// ActivityType categorizes an Activity Record.
type ActivityType int

const (
	ActivityNote ActivityType = iota
	ActivityEnvironment
	ActivityCode
	ActivityInputData
	ActivityOutputData
	ActivityMilestone
	ActivityBranch
)

// ActivityDetailType categorizes an Activity Detail Record.
type ActivityDetailType int

const (
	DetailCodeExecuted ActivityDetailType = iota
	DetailResult
	DetailEnvironment
	DetailCode
	DetailInputData
	DetailOutputData
)

// DetailAction is the change kind a FileChangeProcessor infers for a
// detail, per spec.md's data model. It does not appear in the serialized
// commit-log line (type,show,importance,key); it exists for the pipeline's
// own message rendering.
type DetailAction string

const (
	ActionCreate   DetailAction = "create"
	ActionEdit     DetailAction = "edit"
	ActionDelete   DetailAction = "delete"
	ActionExecute  DetailAction = "execute"
	ActionNoAction DetailAction = "noaccess"
)

// ActivityDetailRecord is a single payload referenced from an Activity
// Record's serialized form by its Key, assigned by the Detail Store at
// write time.
type ActivityDetailRecord struct {
	Type       ActivityDetailType
	Show       bool
	Importance int
	Action     DetailAction
	Tags       []string
	Data       map[string]string // mime-type -> payload
	Key        string
	DataSize   int // tracked separately so compression decisions don't require re-marshaling Data
}

// NewActivityDetailRecord constructs a detail record defaulting Show to true,
// matching the original's default.
func NewActivityDetailRecord(t ActivityDetailType, importance int) *ActivityDetailRecord {
	return &ActivityDetailRecord{Type: t, Show: true, Importance: importance, Data: map[string]string{}}
}

// AddValue stores value under mime-type, refusing to overwrite an existing
// entry for the same type.
func (d *ActivityDetailRecord) AddValue(mimeType, value string) error {
	if _, exists := d.Data[mimeType]; exists {
		return labbookerr.New(labbookerr.KindValidation, "ActivityDetailRecord.AddValue", "duplicate MIME type "+mimeType, nil)
	}
	d.Data[mimeType] = value
	d.DataSize += len(value)
	return nil
}

// LogStr renders the detail-log-line grammar: type,show_int,importance,key.
func (d *ActivityDetailRecord) LogStr() (string, error) {
	if d.Key == "" {
		return "", labbookerr.New(labbookerr.KindValidation, "ActivityDetailRecord.LogStr", "key must be set before serialization", nil)
	}
	show := 0
	if d.Show {
		show = 1
	}
	return fmt.Sprintf("%d,%d,%d,%s", int(d.Type), show, d.Importance, d.Key), nil
}

// DetailFromLogStr parses one detail-log-line back into a record (without
// its Data payload, which lives in the Detail Store under Key).
func DetailFromLogStr(line string) (*ActivityDetailRecord, error) {
	parts := strings.SplitN(line, ",", 4)
	if len(parts) != 4 {
		return nil, labbookerr.New(labbookerr.KindIntegrity, "DetailFromLogStr", "malformed detail line: "+line, nil)
	}
	typeInt, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, labbookerr.New(labbookerr.KindIntegrity, "DetailFromLogStr", "malformed detail type", err)
	}
	importance, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, labbookerr.New(labbookerr.KindIntegrity, "DetailFromLogStr", "malformed importance", err)
	}
	return &ActivityDetailRecord{
		Type:       ActivityDetailType(typeInt),
		Show:       parts[1] == "1",
		Importance: importance,
		Key:        parts[3],
	}, nil
}

// detailRef pairs a detail object with the (type, show, importance) triple
// recorded at the time it was added, mirroring the original's
// detail_objects tuple list — so a later in-place replace (UpdateDetailObject)
// can overwrite the stored reference without touching sibling entries.
type detailRef struct {
	Type       ActivityDetailType
	Show       bool
	Importance int
	Detail     *ActivityDetailRecord
}

// ActivityRecord is a structured journal entry serialized into a commit
// message between the _GTM_ACTIVITY_START_/_GTM_ACTIVITY_END_ sentinels.
type ActivityRecord struct {
	Type         ActivityType
	Show         bool
	Message      string
	Importance   int
	Tags         []string
	LinkedCommit string // commit hash this record references; assigned a random id if unset at write time
	Commit       string // this record's own commit hash, set after create_activity_record

	detailObjects []detailRef
}

// NewActivityRecord constructs a record defaulting Show to true.
func NewActivityRecord(t ActivityType, message string) *ActivityRecord {
	return &ActivityRecord{Type: t, Show: true, Message: message}
}

// AddDetailObject appends a detail reference, mirroring the original's
// add_detail_object.
func (r *ActivityRecord) AddDetailObject(d *ActivityDetailRecord) {
	r.detailObjects = append(r.detailObjects, detailRef{Type: d.Type, Show: d.Show, Importance: d.Importance, Detail: d})
}

// DetailObjects returns the ordered detail references.
func (r *ActivityRecord) DetailObjects() []*ActivityDetailRecord {
	out := make([]*ActivityDetailRecord, len(r.detailObjects))
	for i, ref := range r.detailObjects {
		out[i] = ref.Detail
	}
	return out
}

// UpdateDetailObject replaces the detail reference at index in place. The
// original Python implementation used list.insert() here, which shifts every
// later entry down one slot instead of replacing — a bug this
// implementation corrects per SPEC_FULL.md §9.
func (r *ActivityRecord) UpdateDetailObject(d *ActivityDetailRecord, index int) error {
	if index < 0 || index >= len(r.detailObjects) {
		return labbookerr.New(labbookerr.KindValidation, "ActivityRecord.UpdateDetailObject", "index out of range", nil)
	}
	r.detailObjects[index] = detailRef{Type: d.Type, Show: d.Show, Importance: d.Importance, Detail: d}
	return nil
}

type recordMetadata struct {
	Show       bool   `json:"show"`
	Importance int    `json:"importance"`
	TypeName   string `json:"type_name"`
	TypeID     int    `json:"type_id"`
}

const (
	startSentinel = "_GTM_ACTIVITY_START_"
	endSentinel   = "_GTM_ACTIVITY_END_"
	lineSep       = "**\n"
)

// LogStr renders the exact commit-message grammar documented in
// SPEC_FULL.md §4.2 / spec.md §4.2 and §6.
func (r *ActivityRecord) LogStr() (string, error) {
	if r.Message == "" {
		return "", labbookerr.New(labbookerr.KindValidation, "ActivityRecord.LogStr", "message required when creating an activity record", nil)
	}

	meta := recordMetadata{Show: r.Show, Importance: r.Importance, TypeName: activityTypeName(r.Type), TypeID: int(r.Type)}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", labbookerr.New(labbookerr.KindInternal, "ActivityRecord.LogStr", "could not marshal metadata", err)
	}
	tagsJSON, err := json.Marshal(r.Tags)
	if err != nil {
		return "", labbookerr.New(labbookerr.KindInternal, "ActivityRecord.LogStr", "could not marshal tags", err)
	}

	var b strings.Builder
	b.WriteString(startSentinel + lineSep)
	b.WriteString("msg:" + r.Message + lineSep)
	b.WriteString("metadata:" + string(metaJSON) + lineSep)
	b.WriteString("tags:" + string(tagsJSON) + lineSep)
	b.WriteString("details:" + lineSep)
	for _, ref := range r.detailObjects {
		line, err := ref.Detail.LogStr()
		if err != nil {
			return "", err
		}
		b.WriteString(line + lineSep)
	}
	b.WriteString(endSentinel)

	return b.String(), nil
}

// ActivityRecordFromLogStr parses a commit message (already matched against
// the sentinel regex) back into an ActivityRecord, with commit attached from
// the git log entry it came from.
func ActivityRecordFromLogStr(logStr, commit string) (*ActivityRecord, error) {
	if !strings.HasPrefix(logStr, startSentinel) || !strings.HasSuffix(logStr, endSentinel) {
		return nil, labbookerr.New(labbookerr.KindIntegrity, "ActivityRecordFromLogStr", "malformed activity commit message", nil)
	}

	lines := strings.Split(logStr, lineSep)
	if len(lines) < 5 {
		return nil, labbookerr.New(labbookerr.KindIntegrity, "ActivityRecordFromLogStr", "truncated activity commit message", nil)
	}

	message := strings.TrimPrefix(lines[1], "msg:")

	var meta recordMetadata
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "metadata:")), &meta); err != nil {
		return nil, labbookerr.New(labbookerr.KindIntegrity, "ActivityRecordFromLogStr", "malformed metadata json", err)
	}

	var tags []string
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[3], "tags:")), &tags); err != nil {
		return nil, labbookerr.New(labbookerr.KindIntegrity, "ActivityRecordFromLogStr", "malformed tags json", err)
	}

	record := &ActivityRecord{
		Type:         ActivityType(meta.TypeID),
		Show:         meta.Show,
		Message:      message,
		Importance:   meta.Importance,
		Tags:         tags,
		LinkedCommit: commit,
		Commit:       commit,
	}

	for _, line := range lines[5:] {
		if line == endSentinel {
			break
		}
		detail, err := DetailFromLogStr(line)
		if err != nil {
			return nil, err
		}
		record.AddDetailObject(detail)
	}

	return record, nil
}

func activityTypeName(t ActivityType) string {
	switch t {
	case ActivityNote:
		return "NOTE"
	case ActivityEnvironment:
		return "ENVIRONMENT"
	case ActivityCode:
		return "CODE"
	case ActivityInputData:
		return "INPUT_DATA"
	case ActivityOutputData:
		return "OUTPUT_DATA"
	case ActivityMilestone:
		return "MILESTONE"
	case ActivityBranch:
		return "BRANCH"
	default:
		return "UNKNOWN"
	}
}
