// Package workflow implements C9: publish, sync, and remote clone over the
// Repository Adapter, plus GitLab project provisioning. Every LabBook has a
// global integration branch gm.workspace and per-user working branches
// gm.workspace-<username>.
package workflow

import (
	"context"
	"fmt"

	"gitmine.dev/labbook/internal/gitrepo"
	"gitmine.dev/labbook/internal/labbookerr"
	"gitmine.dev/labbook/internal/obslog"
)

const workspaceBranch = "gm.workspace"

func userBranch(username string) string { return workspaceBranch + "-" + username }

// Engine drives publish/sync/from_remote over a single Repo.
type Engine struct {
	repo *gitrepo.Repo
	log  *obslog.Logger
}

// New returns an Engine over repo.
func New(repo *gitrepo.Repo, log *obslog.Logger) *Engine {
	return &Engine{repo: repo, log: log}
}

// Publish requires the active branch to be gm.workspace-<username> and that
// gm.workspace exists locally. It garbage-collects (best-effort), fetches,
// fails if the user branch is behind remote, then merges the user branch
// into gm.workspace and pushes it, returning to the user branch last.
func (e *Engine) Publish(ctx context.Context, username, remote string) error {
	if remote == "" {
		remote = "origin"
	}
	branch := userBranch(username)

	current, err := e.repo.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if current != branch {
		return labbookerr.New(labbookerr.KindConflict, "workflow.Publish",
			fmt.Sprintf("active branch must be %s, got %s", branch, current), nil)
	}
	if !e.branchExists(ctx, workspaceBranch) {
		return labbookerr.New(labbookerr.KindConflict, "workflow.Publish", workspaceBranch+" branch does not exist locally", nil)
	}

	if err := e.repo.GC(ctx); err != nil {
		e.log.WithErr(err).Warnf("garbage collection failed before publish, continuing")
	}

	if err := e.repo.Fetch(ctx, remote); err != nil {
		return err
	}

	ahead, behind, err := e.repo.AheadBehind(ctx, remote+"/"+branch)
	if err != nil && labbookerr.KindOf(err) != labbookerr.KindInternal {
		return err
	}
	_ = ahead
	if err == nil && behind > 0 {
		return labbookerr.New(labbookerr.KindConflict, "workflow.Publish",
			fmt.Sprintf("%s is behind %s/%s by %d commits", branch, remote, branch, behind), nil)
	}

	if err := e.repo.CheckoutBranch(ctx, workspaceBranch); err != nil {
		return err
	}
	if err := e.verifyInSync(ctx, remote, workspaceBranch); err != nil {
		e.repo.CheckoutBranch(ctx, branch)
		return err
	}
	if err := e.repo.Merge(ctx, branch); err != nil {
		e.repo.CheckoutBranch(ctx, branch)
		return labbookerr.New(labbookerr.KindMerge, "workflow.Publish", "failed merging "+branch+" into "+workspaceBranch, err)
	}
	if err := e.repo.PushSetUpstream(ctx, remote, workspaceBranch); err != nil {
		e.repo.CheckoutBranch(ctx, branch)
		return labbookerr.New(labbookerr.KindRemote, "workflow.Publish", "push failed", err)
	}

	return e.repo.CheckoutBranch(ctx, branch)
}

// Sync requires the active branch to be the user branch. With no remote
// configured it performs a purely local sync: sweep-commit, then ensure
// gm.workspace can fast-forward from the user branch. With a remote, it
// sweep-commits, garbage-collects, pulls with a merge commit (preferring the
// remote's side when force is set), and on conflict aborts and hard-resets
// back to the pre-pull commit before failing with KindMerge. On success it
// merges the user branch into gm.workspace, pushes, and returns.
func (e *Engine) Sync(ctx context.Context, username, remote string, force bool) error {
	branch := userBranch(username)

	current, err := e.repo.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if current != branch {
		return labbookerr.New(labbookerr.KindConflict, "workflow.Sync",
			fmt.Sprintf("active branch must be %s, got %s", branch, current), nil)
	}

	if err := e.sweepCommit(ctx); err != nil {
		return err
	}

	if remote == "" {
		ahead, behind, err := e.repo.AheadBehind(ctx, workspaceBranch)
		if err != nil {
			return err
		}
		_ = ahead
		if behind > 0 {
			return labbookerr.New(labbookerr.KindConflict, "workflow.Sync",
				workspaceBranch+" is not fast-forwardable from "+branch, nil)
		}
		return nil
	}

	if err := e.repo.GC(ctx); err != nil {
		e.log.WithErr(err).Warnf("garbage collection failed before sync, continuing")
	}

	preSyncCommit, err := e.repo.HeadCommit(ctx)
	if err != nil {
		return err
	}

	if err := e.repo.PullMergeCommit(ctx, remote, workspaceBranch, force); err != nil {
		if abortErr := e.repo.MergeAbort(ctx); abortErr != nil {
			e.log.WithErr(abortErr).Warnf("merge --abort failed during sync conflict recovery")
		}
		if resetErr := e.repo.ResetHard(ctx, preSyncCommit); resetErr != nil {
			e.log.WithErr(resetErr).Errorf("reset --hard failed during sync conflict recovery")
		}
		return labbookerr.New(labbookerr.KindMerge, "workflow.Sync", "pull conflicted, rolled back to pre-sync state", err)
	}

	if err := e.repo.CheckoutBranch(ctx, workspaceBranch); err != nil {
		return err
	}
	if err := e.repo.Merge(ctx, branch); err != nil {
		e.repo.CheckoutBranch(ctx, branch)
		return labbookerr.New(labbookerr.KindMerge, "workflow.Sync", "failed merging "+branch+" into "+workspaceBranch, err)
	}
	if err := e.repo.Push(ctx, remote, workspaceBranch, false); err != nil {
		e.repo.CheckoutBranch(ctx, branch)
		return labbookerr.New(labbookerr.KindRemote, "workflow.Sync", "push failed", err)
	}

	return e.repo.CheckoutBranch(ctx, branch)
}

// FromRemote clones url to workingDir (which must not already exist), checks
// out gm.workspace, then creates or checks out gm.workspace-<user>.
func FromRemote(ctx context.Context, url, workingDir, user string, log *obslog.Logger) (*gitrepo.Repo, error) {
	repo, err := gitrepo.Clone(ctx, url, workingDir, log)
	if err != nil {
		return nil, err
	}
	if err := repo.CheckoutBranch(ctx, workspaceBranch); err != nil {
		return nil, err
	}

	branch := userBranch(user)
	engine := New(repo, log)
	if engine.branchExists(ctx, branch) {
		if err := repo.CheckoutBranch(ctx, branch); err != nil {
			return nil, err
		}
	} else {
		if err := repo.CreateBranch(ctx, branch); err != nil {
			return nil, err
		}
		if err := repo.CheckoutBranch(ctx, branch); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

func (e *Engine) branchExists(ctx context.Context, name string) bool {
	branches, err := e.repo.ListBranches(ctx)
	if err != nil {
		return false
	}
	for _, b := range branches {
		if b == name {
			return true
		}
	}
	return false
}

func (e *Engine) verifyInSync(ctx context.Context, remote, branch string) error {
	ahead, behind, err := e.repo.AheadBehind(ctx, remote+"/"+branch)
	if err != nil {
		// No upstream configured yet for gm.workspace: nothing to verify.
		return nil
	}
	_ = ahead
	if behind > 0 {
		return labbookerr.New(labbookerr.KindConflict, "workflow.Publish",
			fmt.Sprintf("%s is behind %s/%s, fetch first", branch, remote, branch), nil)
	}
	return nil
}

func (e *Engine) sweepCommit(ctx context.Context) error {
	status, err := e.repo.Status(ctx)
	if err != nil {
		return err
	}
	if len(status) == 0 {
		return nil
	}
	if err := e.repo.AddAll(ctx); err != nil {
		return err
	}
	_, err = e.repo.Commit(ctx, "Auto-commit on branch change")
	return err
}
