package activitystore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"gitmine.dev/labbook/internal/detailstore"
	"gitmine.dev/labbook/internal/labbookerr"
	"gitmine.dev/labbook/internal/obslog"
)

const (
	maxNumTags   = 100
	maxTagLength = 256
)

// tagStripChars are removed from every tag as a basic level of sanitization
// -- not an allowlist, a strip, matching the original's str.translate call.
const tagStripChars = "`\\;"

// CommitLogEntry is one entry from the Repository Adapter's commit log,
// the substrate Activity Records are serialized into.
type CommitLogEntry struct {
	Commit      string
	Message     string
	CommittedOn time.Time
}

// RepoLog is the slice of the Repository Adapter (C3) the Activity Store
// needs: writing a commit carrying a serialized record, and reading back
// the commit log.
type RepoLog interface {
	CommitActivityRecord(message string) (commit string, committedOn time.Time, err error)
	LogEntry(commit string) (CommitLogEntry, error)
	LogEntries(afterExclusive string, maxCount int) ([]CommitLogEntry, error)
}

// writeOptions is the one-byte-prefixed envelope stored for each detail
// payload: a compression flag followed by the (possibly compressed) bytes.
// _encode_write_options / _decode_write_options in the original.
type writeOptions struct {
	Compressed bool
}

const (
	optionFlagPlain      byte = 0
	optionFlagCompressed byte = 1
)

func encodeWriteOptions(o writeOptions) byte {
	if o.Compressed {
		return optionFlagCompressed
	}
	return optionFlagPlain
}

func decodeWriteOptions(flag byte) writeOptions {
	return writeOptions{Compressed: flag == optionFlagCompressed}
}

// Store is the Activity Store (C2): a structured journal backed by the
// Detail Store for large payloads and the Repository Adapter's commit log
// for ordering and durability.
type Store struct {
	details          *detailstore.Store
	repo             RepoLog
	compressMinBytes int64
	log              *obslog.Logger
}

// New constructs an Activity Store over an already-open Detail Store and a
// repository log adapter. compressMinBytes is the threshold above which
// PutDetailRecord gzip-compresses the payload before handing it to the
// Detail Store.
func New(details *detailstore.Store, repo RepoLog, compressMinBytes int64, log *obslog.Logger) *Store {
	return &Store{details: details, repo: repo, compressMinBytes: compressMinBytes, log: log}
}

// sanitizeTags enforces the tag-count and tag-length limits, then strips
// backtick, backslash, and semicolon from every tag -- a basic level of
// sanitization, not an allowlist, matching the original's tag sanitizer.
func sanitizeTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return tags, nil
	}
	if len(tags) > maxNumTags {
		return nil, labbookerr.New(labbookerr.KindValidation, "activitystore.sanitizeTags", "too many tags", nil)
	}

	out := make([]string, len(tags))
	for i, t := range tags {
		if len(t) > maxTagLength {
			return nil, labbookerr.New(labbookerr.KindValidation, "activitystore.sanitizeTags", "tag exceeds max length: "+t, nil)
		}
		out[i] = strings.Map(func(r rune) rune {
			if strings.ContainsRune(tagStripChars, r) {
				return -1
			}
			return r
		}, strings.TrimSpace(t))
	}
	return out, nil
}

// newLinkedCommitID generates a fresh 32-char random hex id for an Activity
// Record whose linked_commit was left unset -- chosen shorter than a 40-char
// repository hash so the two spaces never collide.
func newLinkedCommitID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// PutDetailRecord assigns d a Detail Store key (compressing the payload
// first when it is at least compressMinBytes), in place, so the caller's
// in-memory record is ready to serialize.
func (s *Store) PutDetailRecord(d *ActivityDetailRecord) error {
	payload, err := json.Marshal(d.Data)
	if err != nil {
		return labbookerr.New(labbookerr.KindInternal, "activitystore.PutDetailRecord", "could not marshal detail payload", err)
	}

	opts := writeOptions{}
	body := payload
	if int64(len(payload)) >= s.compressMinBytes && s.compressMinBytes > 0 {
		compressed, err := gzipCompress(payload)
		if err != nil {
			return labbookerr.New(labbookerr.KindInternal, "activitystore.PutDetailRecord", "could not compress detail payload", err)
		}
		opts.Compressed = true
		body = compressed
	}

	framed := append([]byte{encodeWriteOptions(opts)}, body...)
	key, err := s.details.Put(framed)
	if err != nil {
		return err
	}
	d.Key = key
	return nil
}

// GetDetailRecord loads and decompresses the payload stored under key into
// a ActivityDetailRecord, filling in the type/show/importance already
// known from the commit-log line.
func (s *Store) GetDetailRecord(partial *ActivityDetailRecord) (*ActivityDetailRecord, error) {
	framed, err := s.details.Get(partial.Key)
	if err != nil {
		return nil, err
	}
	if len(framed) < detailstore.HeaderLen()+1 {
		return nil, labbookerr.New(labbookerr.KindIntegrity, "activitystore.GetDetailRecord", "truncated detail record", nil)
	}

	body := framed[detailstore.HeaderLen():]
	if len(body) < 1 {
		return nil, labbookerr.New(labbookerr.KindIntegrity, "activitystore.GetDetailRecord", "missing write-options byte", nil)
	}
	opts := decodeWriteOptions(body[0])
	payload := body[1:]

	if opts.Compressed {
		decompressed, err := gzipDecompress(payload)
		if err != nil {
			return nil, labbookerr.New(labbookerr.KindIntegrity, "activitystore.GetDetailRecord", "could not decompress detail payload", err)
		}
		payload = decompressed
	}

	var data map[string]string
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, labbookerr.New(labbookerr.KindIntegrity, "activitystore.GetDetailRecord", "malformed detail payload json", err)
	}

	out := *partial
	out.Data = data
	return &out, nil
}

// CreateActivityRecord validates tags, assigns Detail Store keys to every
// detail object that doesn't already have one, serializes the record, and
// commits it through the repository adapter.
func (s *Store) CreateActivityRecord(record *ActivityRecord) error {
	sanitized, err := sanitizeTags(record.Tags)
	if err != nil {
		return err
	}
	record.Tags = sanitized

	for _, d := range record.detailObjects {
		if d.Detail.Key == "" {
			if err := s.PutDetailRecord(d.Detail); err != nil {
				return err
			}
		}
	}

	logStr, err := record.LogStr()
	if err != nil {
		return err
	}

	commit, _, err := s.repo.CommitActivityRecord(logStr)
	if err != nil {
		return labbookerr.New(labbookerr.KindInternal, "activitystore.CreateActivityRecord", "could not commit activity record", err)
	}
	record.Commit = commit
	if record.LinkedCommit == "" {
		record.LinkedCommit = newLinkedCommitID()
	}

	s.log.Debugf("created activity record %s (%d details)", commit, len(record.detailObjects))
	return nil
}

// GetActivityRecord loads and parses the activity record stored in commit.
func (s *Store) GetActivityRecord(commit string) (*ActivityRecord, error) {
	entry, err := s.repo.LogEntry(commit)
	if err != nil {
		return nil, err
	}
	return ActivityRecordFromLogStr(entry.Message, entry.Commit)
}

// GetActivityRecords pages backward through the commit log starting after
// the given commit (exclusive), returning up to first records. It
// over-fetches from the repository log using the original's
// (first*2)+5 heuristic, since not every commit in the underlying log is
// an activity record — ordinary file-change commits are interleaved and
// must be skipped.
func (s *Store) GetActivityRecords(after string, first int) ([]*ActivityRecord, error) {
	if first <= 0 {
		return nil, labbookerr.New(labbookerr.KindValidation, "activitystore.GetActivityRecords", "first must be positive", nil)
	}

	maxCount := (first * 2) + 5
	entries, err := s.repo.LogEntries(after, maxCount)
	if err != nil {
		return nil, err
	}

	records := make([]*ActivityRecord, 0, first)
	for _, entry := range entries {
		record, err := ActivityRecordFromLogStr(entry.Message, entry.Commit)
		if err != nil {
			// Not every commit is an activity record; skip non-conforming ones.
			continue
		}
		records = append(records, record)
		if len(records) == first {
			break
		}
	}

	return records, nil
}
