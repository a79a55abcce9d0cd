package gitrepo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitmine.dev/labbook/internal/obslog"
)

func testLogger() *obslog.Logger {
	return obslog.Component(logrus.New(), "gitrepo_test")
}

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	dir := t.TempDir()
	r := Open(dir, testLogger())
	ctx := context.Background()
	require.NoError(t, r.Initialize(ctx))
	_, err := r.run(ctx, "config", "user.email", "test@example.com")
	require.NoError(t, err)
	_, err = r.run(ctx, "config", "user.name", "Test User")
	require.NoError(t, err)
	return r
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestInitializeAddCommit(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r.WorkingDir, "README.md", "hello\n")

	require.NoError(t, r.AddAll(context.Background()))
	commit, err := r.Commit(context.Background(), "initial commit")
	require.NoError(t, err)
	assert.Len(t, commit, 40)

	head, err := r.HeadCommit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, commit, head)
}

func TestCommitActivityRecordRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r.WorkingDir, "notebook.ipynb", "{}")

	commit, committedOn, err := r.CommitActivityRecord("_GTM_ACTIVITY_START_**\nmsg:test**\nmetadata:{}**\ntags:[]**\ndetails:**\n_GTM_ACTIVITY_END_")
	require.NoError(t, err)
	assert.NotEmpty(t, commit)
	assert.False(t, committedOn.IsZero())

	entry, err := r.LogEntry(commit)
	require.NoError(t, err)
	assert.Contains(t, entry.Message, "_GTM_ACTIVITY_START_")
}

func TestLogEntriesOrderingAndAfterExclusive(t *testing.T) {
	r := newTestRepo(t)

	var commits []string
	for i := 0; i < 3; i++ {
		writeFile(t, r.WorkingDir, "f.txt", string(rune('a'+i)))
		require.NoError(t, r.AddAll(context.Background()))
		c, err := r.Commit(context.Background(), "commit "+string(rune('a'+i)))
		require.NoError(t, err)
		commits = append(commits, c)
	}

	entries, err := r.LogEntries("", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, commits[2], entries[0].Commit)
	assert.Equal(t, commits[0], entries[2].Commit)

	after, err := r.LogEntries(commits[2], 10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, commits[1], after[0].Commit)
	assert.Equal(t, commits[0], after[1].Commit)
}

func TestBranchLifecycle(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r.WorkingDir, "f.txt", "v1")
	require.NoError(t, r.AddAll(context.Background()))
	_, err := r.Commit(context.Background(), "initial")
	require.NoError(t, err)

	require.NoError(t, r.CreateBranch(context.Background(), "feature-1"))
	branches, err := r.ListBranches(context.Background())
	require.NoError(t, err)
	assert.Contains(t, branches, "feature-1")

	require.NoError(t, r.CheckoutBranch(context.Background(), "feature-1"))
	current, err := r.CurrentBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "feature-1", current)
}

func TestStatusReportsUncommittedChanges(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r.WorkingDir, "f.txt", "v1")
	require.NoError(t, r.AddAll(context.Background()))
	_, err := r.Commit(context.Background(), "initial")
	require.NoError(t, err)

	writeFile(t, r.WorkingDir, "f.txt", "v2")
	entries, err := r.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f.txt", entries[0].Path)
}

func TestMain(m *testing.M) {
	if _, err := exec.LookPath("git"); err != nil {
		os.Exit(0)
	}
	os.Exit(m.Run())
}
