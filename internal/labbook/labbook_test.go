package labbook

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitmine.dev/labbook/internal/config"
	"gitmine.dev/labbook/internal/obslog"
)

func testLogger() *obslog.Logger {
	return obslog.Component(logrus.New(), "labbook_test")
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Core.WorkingDirectory = t.TempDir()
	return cfg
}

func TestNameValidation(t *testing.T) {
	invalid := []string{"", "-x", "x-", "x--y", strings.Repeat("a", 101), "my lab"}
	for _, name := range invalid {
		t.Run("invalid_"+name, func(t *testing.T) {
			assert.Error(t, ValidateName(name))
		})
	}

	valid := []string{"x", "9-sdfysc-2-42", strings.Repeat("a", 100)}
	for _, name := range valid {
		t.Run("valid_"+name, func(t *testing.T) {
			assert.NoError(t, ValidateName(name))
		})
	}
}

func TestNewCreatesSkeletonAndBranches(t *testing.T) {
	cfg := testConfig(t)
	lb, err := New(cfg, Identity{User: "alice", Owner: "alice", Name: "lb1"}, "a first labbook", testLogger())
	require.NoError(t, err)

	for _, dir := range []string{"code", "input", "output", ".gigantum/env", ".gigantum/activity/log", ".gigantum/favorites"} {
		info, err := os.Stat(filepath.Join(lb.RootPath, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	doc, err := readYAML(filepath.Join(lb.RootPath, gigantumDir, labbookYAMLFile))
	require.NoError(t, err)
	assert.Equal(t, "lb1", doc.LabBook.Name)

	ctx := context.Background()
	current, err := lb.repo.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, userBranch("alice"), current)

	branches, err := lb.repo.ListBranches(ctx)
	require.NoError(t, err)
	assert.Contains(t, branches, workspaceBranch)
	assert.Contains(t, branches, userBranch("alice"))

	entries, err := lb.repo.LogEntries("", 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Contains(t, entries[len(entries)-1].Message, "new empty LabBook")
}

func TestNewFailsIfDirectoryExists(t *testing.T) {
	cfg := testConfig(t)
	_, err := New(cfg, Identity{User: "alice", Owner: "alice", Name: "lb1"}, "", testLogger())
	require.NoError(t, err)

	_, err = New(cfg, Identity{User: "alice", Owner: "alice", Name: "lb1"}, "", testLogger())
	require.Error(t, err)
}

func TestCheckoutIDFormatAndUntrackedStatus(t *testing.T) {
	cfg := testConfig(t)
	lb, err := New(cfg, Identity{User: "test", Owner: "test", Name: "labbook1"}, "", testLogger())
	require.NoError(t, err)

	checkoutBytes, err := os.ReadFile(filepath.Join(lb.RootPath, gigantumDir, checkoutFile))
	require.NoError(t, err)

	parts := strings.Split(string(checkoutBytes), "-")
	require.Len(t, parts, 6)
	assert.Equal(t, "test", parts[0])
	assert.Equal(t, "test", parts[1])
	assert.Equal(t, "labbook1", parts[2])
	assert.Equal(t, "gm.workspace", parts[3])
	assert.Equal(t, checkoutIDLiteral, parts[4])
	assert.Len(t, parts[5], checkoutSuffixLen)

	ctx := context.Background()
	status, err := lb.repo.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, status)

	require.NoError(t, os.Remove(filepath.Join(lb.RootPath, gigantumDir, checkoutFile)))
	status, err = lb.repo.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, status)
}

func TestCheckoutIDRegeneratesLazilyWhenAbsent(t *testing.T) {
	cfg := testConfig(t)
	lb, err := New(cfg, Identity{User: "alice", Owner: "alice", Name: "lb1"}, "", testLogger())
	require.NoError(t, err)

	first, err := os.ReadFile(filepath.Join(lb.RootPath, gigantumDir, checkoutFile))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(lb.RootPath, gigantumDir, checkoutFile)))

	reloaded, err := FromDirectory(cfg, lb.RootPath, testLogger())
	require.NoError(t, err)

	second, err := os.ReadFile(filepath.Join(reloaded.RootPath, gigantumDir, checkoutFile))
	require.NoError(t, err)
	assert.NotEqual(t, string(first), string(second))
}

func TestFavoritesDensityAfterMixedOperations(t *testing.T) {
	cfg := testConfig(t)
	lb, err := New(cfg, Identity{User: "alice", Owner: "alice", Name: "lb1"}, "", testLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(lb.RootPath, "code", "a.py"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(lb.RootPath, "code", "b.py"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(lb.RootPath, "code", "c.py"), []byte("x"), 0o644))

	require.NoError(t, lb.CreateFavorite("code", "a.py", "first", false, nil))
	require.NoError(t, lb.CreateFavorite("code", "b.py", "second", false, nil))
	require.NoError(t, lb.CreateFavorite("code", "c.py", "third", false, nil))

	require.NoError(t, lb.RemoveFavorite("code", 1))

	favs, err := loadFavorites(lb, "code")
	require.NoError(t, err)
	require.Len(t, favs, 2)
	for i, f := range favs {
		assert.Equal(t, i, f.Index)
	}
}

func TestWalkdirHidesDotPaths(t *testing.T) {
	cfg := testConfig(t)
	lb, err := New(cfg, Identity{User: "alice", Owner: "alice", Name: "lb1"}, "", testLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(lb.RootPath, "code", "visible.py"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(lb.RootPath, "code", ".hidden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(lb.RootPath, "code", ".hidden", "x.py"), []byte("x"), 0o644))

	entries, err := lb.Walkdir("code", false)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, hiddenComponent(e.Key))
	}

	allEntries, err := lb.Walkdir("code", true)
	require.NoError(t, err)
	assert.Greater(t, len(allEntries), len(entries))
}

func TestSetUntrackedRewritesGitignore(t *testing.T) {
	cfg := testConfig(t)
	lb, err := New(cfg, Identity{User: "alice", Owner: "alice", Name: "lb1"}, "", testLogger())
	require.NoError(t, err)

	require.NoError(t, lb.SetUntracked("output"))

	data, err := os.ReadFile(filepath.Join(lb.RootPath, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "output/*")
	assert.Contains(t, string(data), "!output/.gitkeep")

	err = lb.SetUntracked("output")
	assert.Error(t, err)
}
