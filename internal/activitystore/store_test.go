package activitystore

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitmine.dev/labbook/internal/detailstore"
	"gitmine.dev/labbook/internal/obslog"
)

// fakeRepo is an in-memory RepoLog standing in for the Repository Adapter,
// appending commits to a slice in creation order (newest last), matching
// how git log --reverse would be consumed here.
type fakeRepo struct {
	commits []CommitLogEntry
	seq     int
}

func (f *fakeRepo) CommitActivityRecord(message string) (string, time.Time, error) {
	f.seq++
	commit := fmt.Sprintf("commit-%04d", f.seq)
	entry := CommitLogEntry{Commit: commit, Message: message, CommittedOn: time.Unix(int64(f.seq), 0)}
	f.commits = append(f.commits, entry)
	return commit, entry.CommittedOn, nil
}

func (f *fakeRepo) LogEntry(commit string) (CommitLogEntry, error) {
	for _, e := range f.commits {
		if e.Commit == commit {
			return e, nil
		}
	}
	return CommitLogEntry{}, fmt.Errorf("commit not found: %s", commit)
}

// LogEntries returns up to maxCount entries strictly older (earlier in the
// slice) than afterExclusive, walking backward from it (or from the most
// recent commit when afterExclusive is empty) -- mirroring a `git log`
// traversal.
func (f *fakeRepo) LogEntries(afterExclusive string, maxCount int) ([]CommitLogEntry, error) {
	startIdx := len(f.commits)
	if afterExclusive != "" {
		for i, e := range f.commits {
			if e.Commit == afterExclusive {
				startIdx = i
				break
			}
		}
	}

	var out []CommitLogEntry
	for i := startIdx - 1; i >= 0 && len(out) < maxCount; i-- {
		out = append(out, f.commits[i])
	}
	return out, nil
}

func testLogger() *obslog.Logger {
	return obslog.Component(logrus.New(), "activitystore_test")
}

func newTestStore(t *testing.T, compressMinBytes int64) (*Store, *fakeRepo) {
	t.Helper()
	ds, err := detailstore.Open(t.TempDir(), "checkout-activitystore", 4<<20, testLogger())
	require.NoError(t, err)
	repo := &fakeRepo{}
	return New(ds, repo, compressMinBytes, testLogger()), repo
}

func TestCreateAndGetActivityRecordRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, 1<<20)

	record := NewActivityRecord(ActivityCode, "ran a cell")
	record.Tags = []string{"python", "plot"}
	record.Importance = 200

	detail := NewActivityDetailRecord(DetailCodeExecuted, 100)
	require.NoError(t, detail.AddValue("text/plain", "print('hi')"))
	record.AddDetailObject(detail)

	require.NoError(t, store.CreateActivityRecord(record))
	assert.NotEmpty(t, record.Commit)

	loaded, err := store.GetActivityRecord(record.Commit)
	require.NoError(t, err)
	assert.Equal(t, record.Message, loaded.Message)
	assert.Equal(t, record.Tags, loaded.Tags)
	assert.Equal(t, record.Importance, loaded.Importance)
	require.Len(t, loaded.DetailObjects(), 1)

	full, err := store.GetDetailRecord(loaded.DetailObjects()[0])
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", full.Data["text/plain"])
}

func TestCreateActivityRecordSanitizesTagsInsteadOfRejecting(t *testing.T) {
	store, _ := newTestStore(t, 1<<20)
	record := NewActivityRecord(ActivityNote, "tag sanitization test")
	record.Tags = []string{"Not Valid!", "a`b\\c;d"}
	require.NoError(t, store.CreateActivityRecord(record))
	assert.Equal(t, []string{"Not Valid!", "abcd"}, record.Tags)
}

func TestCreateActivityRecordRejectsTooManyTags(t *testing.T) {
	store, _ := newTestStore(t, 1<<20)
	record := NewActivityRecord(ActivityNote, "too many tags test")
	tags := make([]string, maxNumTags+1)
	for i := range tags {
		tags[i] = fmt.Sprintf("tag-%d", i)
	}
	record.Tags = tags
	require.Error(t, store.CreateActivityRecord(record))
}

func TestCreateActivityRecordAssignsFreshLinkedCommitWhenUnset(t *testing.T) {
	store, _ := newTestStore(t, 1<<20)
	record := NewActivityRecord(ActivityMilestone, "linked commit test")
	require.NoError(t, store.CreateActivityRecord(record))
	assert.Len(t, record.LinkedCommit, 32)
	assert.NotEqual(t, record.Commit, record.LinkedCommit)
}

func TestPutDetailRecordCompressesLargePayloads(t *testing.T) {
	store, _ := newTestStore(t, 16)
	detail := NewActivityDetailRecord(DetailResult, 50)
	require.NoError(t, detail.AddValue("text/plain", string(make([]byte, 1024))))

	require.NoError(t, store.PutDetailRecord(detail))
	loaded, err := store.GetDetailRecord(detail)
	require.NoError(t, err)
	assert.Len(t, loaded.Data["text/plain"], 1024)
}

func TestGetActivityRecordsPagesAndSkipsNonActivityCommits(t *testing.T) {
	store, repo := newTestStore(t, 1<<20)

	for i := 0; i < 3; i++ {
		record := NewActivityRecord(ActivityMilestone, fmt.Sprintf("milestone %d", i))
		require.NoError(t, store.CreateActivityRecord(record))
		// Interleave a plain file-change commit that isn't an activity record.
		repo.seq++
		repo.commits = append(repo.commits, CommitLogEntry{
			Commit:  fmt.Sprintf("plain-%d", repo.seq),
			Message: "gtmTransaction: untracked sync",
		})
	}

	records, err := store.GetActivityRecords("", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "milestone 2", records[0].Message)
	assert.Equal(t, "milestone 1", records[1].Message)
}

func TestUpdateDetailObjectReplacesInPlace(t *testing.T) {
	record := NewActivityRecord(ActivityCode, "replace test")
	d0 := NewActivityDetailRecord(DetailCode, 1)
	d0.Key = "key-0"
	d1 := NewActivityDetailRecord(DetailResult, 2)
	d1.Key = "key-1"
	d2 := NewActivityDetailRecord(DetailOutputData, 3)
	d2.Key = "key-2"
	record.AddDetailObject(d0)
	record.AddDetailObject(d1)
	record.AddDetailObject(d2)

	replacement := NewActivityDetailRecord(DetailResult, 9)
	replacement.Key = "key-1-updated"
	require.NoError(t, record.UpdateDetailObject(replacement, 1))

	objs := record.DetailObjects()
	require.Len(t, objs, 3)
	assert.Equal(t, "key-0", objs[0].Key)
	assert.Equal(t, "key-1-updated", objs[1].Key)
	assert.Equal(t, "key-2", objs[2].Key)
}
