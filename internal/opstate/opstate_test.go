package opstate_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"gitmine.dev/labbook/internal/opstate"
)

func TestStartFinishTracksOutcome(t *testing.T) {
	tr := opstate.New(0)
	tr.Start("op-1", "alice|bob|proj", "publish")
	tr.Finish("op-1", nil)

	op := tr.Get("op-1")
	assert.NotNil(t, op)
	assert.Equal(t, opstate.StatusCompleted, op.Status)
	assert.NotNil(t, op.CompletedAt)

	tr.Start("op-2", "alice|bob|proj", "sync")
	tr.Finish("op-2", errors.New("merge conflict"))
	op = tr.Get("op-2")
	assert.Equal(t, opstate.StatusFailed, op.Status)
	assert.Equal(t, "merge conflict", op.Error)
}

func TestEvictsOldestWhenFull(t *testing.T) {
	tr := opstate.New(2)
	tr.Start("a", "k", "new")
	tr.Start("b", "k", "new")
	tr.Start("c", "k", "new")

	assert.Nil(t, tr.Get("a"))
	assert.NotNil(t, tr.Get("b"))
	assert.NotNil(t, tr.Get("c"))
	assert.Len(t, tr.List(), 2)
}

func TestSummarizeAggregatesByStatusAndOperation(t *testing.T) {
	tr := opstate.New(0)
	tr.Start("a", "k", "publish")
	tr.Finish("a", nil)
	tr.Start("b", "k", "publish")
	tr.Start("c", "k", "sync")

	stats := tr.Summarize()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[opstate.StatusCompleted])
	assert.Equal(t, 2, stats.ByStatus[opstate.StatusRunning])
	assert.Equal(t, 2, stats.ByOperation["publish"])
}
