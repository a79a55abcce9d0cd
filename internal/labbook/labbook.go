package labbook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"gitmine.dev/labbook/internal/activitystore"
	"gitmine.dev/labbook/internal/config"
	"gitmine.dev/labbook/internal/detailstore"
	"gitmine.dev/labbook/internal/gitrepo"
	"gitmine.dev/labbook/internal/labbookerr"
	"gitmine.dev/labbook/internal/obslog"
)

const (
	checkoutFile      = ".checkout"
	gigantumDir       = ".gigantum"
	labbookYAMLFile   = "labbook.yaml"
	defaultGitignore  = ".DS_Store\n"
	gigantumGitignore = ".checkout\n"
	checkoutIDLiteral = "checkout"
	checkoutSuffixLen = 10

	workspaceBranch = "gm.workspace"
)

func userBranch(username string) string { return workspaceBranch + "-" + username }

type yamlDoc struct {
	LabBook struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"labbook"`
	Owner struct {
		Username string `yaml:"username"`
	} `yaml:"owner"`
}

// LabBook is a loaded, version-controlled project container: its identity,
// on-disk layout, git checkout, and the C1/C2 stores layered over it. A
// LabBook owns its stores; no component outside this package holds a
// reference back into them.
type LabBook struct {
	Identity    Identity
	RootPath    string
	ID          string
	Description string

	repo     *gitrepo.Repo
	details  *detailstore.Store
	activity *activitystore.Store
	cfg      config.Config
	log      *obslog.Logger
}

// Repo exposes the underlying Repository Adapter for callers (the
// Activity Monitor Pipeline, the Workflow Engine) that need direct git
// operations beyond the file methods this package provides.
func (lb *LabBook) Repo() *gitrepo.Repo { return lb.repo }

// Activity exposes the Activity Store layered over this LabBook's checkout.
func (lb *LabBook) Activity() *activitystore.Store { return lb.activity }

// newCheckoutID generates a fresh Checkout Context id of the form
// "<user>-<owner>-<name>-<branch>-checkout-<rand10>", namespaced to the
// integration branch rather than whichever user branch happens to be
// active, so the detail-store file family survives a checkout of
// gm.workspace-<username> back and forth.
func newCheckoutID(id Identity) (string, error) {
	suffix := make([]byte, checkoutSuffixLen/2)
	if _, err := rand.Read(suffix); err != nil {
		return "", labbookerr.New(labbookerr.KindInternal, "labbook.newCheckoutID", "could not generate checkout id", err)
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s-%s", id.User, id.Owner, id.Name, workspaceBranch, checkoutIDLiteral, hex.EncodeToString(suffix)), nil
}

func expandWorkingDir(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", labbookerr.New(labbookerr.KindInternal, "labbook.expandWorkingDir", "could not expand working directory", err)
	}
	return expanded, nil
}

// New creates a fresh LabBook: directory skeleton, .gitignore, labbook.yaml,
// repository initialization, skeleton commit, and the gm.workspace /
// gm.workspace-<username> branch pair, leaving the user's working branch
// checked out.
func New(cfg config.Config, id Identity, description string, log *obslog.Logger) (*LabBook, error) {
	if err := ValidateName(id.Name); err != nil {
		return nil, err
	}
	if err := ValidateName(id.Owner); err != nil {
		return nil, err
	}

	workingDir, err := expandWorkingDir(cfg.Core.WorkingDirectory)
	if err != nil {
		return nil, err
	}
	root := Path(workingDir, id)

	if _, err := os.Stat(root); err == nil {
		return nil, labbookerr.New(labbookerr.KindConflict, "labbook.New", "labbook directory already exists: "+root, nil)
	}

	for _, dir := range []string{
		filepath.Join(root, sectionCode),
		filepath.Join(root, sectionInput),
		filepath.Join(root, sectionOutput),
		filepath.Join(root, gigantumDir, "env"),
		filepath.Join(root, gigantumDir, "activity", "log"),
		filepath.Join(root, gigantumDir, "activity", "index"),
		filepath.Join(root, gigantumDir, "favorites"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, labbookerr.New(labbookerr.KindInternal, "labbook.New", "could not create skeleton directory", err)
		}
	}

	if err := os.WriteFile(filepath.Join(root, ".gitignore"), []byte(defaultGitignore), 0o644); err != nil {
		return nil, labbookerr.New(labbookerr.KindInternal, "labbook.New", "could not write .gitignore", err)
	}
	if err := os.WriteFile(filepath.Join(root, gigantumDir, ".gitignore"), []byte(gigantumGitignore), 0o644); err != nil {
		return nil, labbookerr.New(labbookerr.KindInternal, "labbook.New", "could not write .gigantum/.gitignore", err)
	}

	id_ := uuid.NewString()
	doc := yamlDoc{}
	doc.LabBook.ID = id_
	doc.LabBook.Name = id.Name
	doc.LabBook.Description = description
	doc.Owner.Username = id.Owner
	if err := writeYAML(filepath.Join(root, gigantumDir, labbookYAMLFile), doc); err != nil {
		return nil, err
	}

	repo := gitrepo.Open(root, log)
	ctx := context.Background()
	if err := repo.Initialize(ctx); err != nil {
		return nil, err
	}
	// Open the stores before the skeleton commit so the detail store's
	// metadata file is part of it and the new working tree is clean.
	lb, err := openStores(cfg, id, root, doc, repo, log)
	if err != nil {
		return nil, err
	}
	if err := repo.AddAll(ctx); err != nil {
		return nil, err
	}
	if _, err := repo.Commit(ctx, "Creating a new empty LabBook: "+id.Name); err != nil {
		return nil, err
	}

	if err := repo.CreateBranch(ctx, workspaceBranch); err != nil {
		return nil, err
	}
	if err := repo.CreateBranch(ctx, userBranch(id.User)); err != nil {
		return nil, err
	}
	if err := repo.CheckoutBranch(ctx, userBranch(id.User)); err != nil {
		return nil, err
	}

	log.Infof("created new labbook %s at %s", id.Key(), root)
	return lb, nil
}

// loadOrCreateCheckoutID reads the working copy's Checkout Context id,
// generating and persisting a fresh one if absent -- on first access after
// New, or after a clone that (correctly) never carried the untracked
// .checkout file across.
func loadOrCreateCheckoutID(root string, id Identity) (string, error) {
	path := filepath.Join(root, gigantumDir, checkoutFile)

	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", labbookerr.New(labbookerr.KindInternal, "labbook.loadOrCreateCheckoutID", "could not read checkout id", err)
	}

	checkoutID, err := newCheckoutID(id)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(checkoutID), 0o644); err != nil {
		return "", labbookerr.New(labbookerr.KindInternal, "labbook.loadOrCreateCheckoutID", "could not write checkout id", err)
	}
	return checkoutID, nil
}

func openStores(cfg config.Config, id Identity, root string, doc yamlDoc, repo *gitrepo.Repo, log *obslog.Logger) (*LabBook, error) {
	checkoutID, err := loadOrCreateCheckoutID(root, id)
	if err != nil {
		return nil, err
	}
	details, err := detailstore.Open(filepath.Join(root, gigantumDir, "activity", "log"), checkoutID, cfg.DetailDB.LogfileLimit, log)
	if err != nil {
		return nil, err
	}
	activity := activitystore.New(details, repo, cfg.DetailDB.CompressMinBytes, log)

	return &LabBook{
		Identity:    id,
		RootPath:    root,
		ID:          doc.LabBook.ID,
		Description: doc.LabBook.Description,
		repo:        repo,
		details:     details,
		activity:    activity,
		cfg:         cfg,
		log:         log,
	}, nil
}

// FromDirectory loads an existing LabBook rooted at path.
func FromDirectory(cfg config.Config, path string, log *obslog.Logger) (*LabBook, error) {
	doc, err := readYAML(filepath.Join(path, gigantumDir, labbookYAMLFile))
	if err != nil {
		return nil, err
	}

	parts := splitLabbookPath(path)
	id := Identity{User: parts.user, Owner: doc.Owner.Username, Name: doc.LabBook.Name}

	repo := gitrepo.Open(path, log)
	return openStores(cfg, id, path, doc, repo, log)
}

// FromName loads a LabBook addressed by (user, owner, name) under the
// configured working directory.
func FromName(cfg config.Config, user, owner, name string, log *obslog.Logger) (*LabBook, error) {
	workingDir, err := expandWorkingDir(cfg.Core.WorkingDirectory)
	if err != nil {
		return nil, err
	}
	path := Path(workingDir, Identity{User: user, Owner: owner, Name: name})
	return FromDirectory(cfg, path, log)
}

// FromKey loads a LabBook addressed by its "<user>|<owner>|<name>" key.
func FromKey(cfg config.Config, key string, log *obslog.Logger) (*LabBook, error) {
	id, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	return FromName(cfg, id.User, id.Owner, id.Name, log)
}

type pathParts struct{ user string }

func splitLabbookPath(path string) pathParts {
	// <workingDir>/<user>/<owner>/labbooks/<name>
	labbooks := filepath.Dir(path)
	owner := filepath.Dir(labbooks)
	user := filepath.Base(filepath.Dir(owner))
	return pathParts{user: user}
}

// Rename moves the LabBook's directory to reflect a new name, updating
// labbook.yaml and committing the change. Fails if the destination exists.
func (lb *LabBook) Rename(newName string) error {
	if err := ValidateName(newName); err != nil {
		return err
	}

	newRoot := filepath.Join(filepath.Dir(lb.RootPath), newName)
	if _, err := os.Stat(newRoot); err == nil {
		return labbookerr.New(labbookerr.KindConflict, "labbook.Rename", "destination already exists: "+newRoot, nil)
	}

	if err := os.Rename(lb.RootPath, newRoot); err != nil {
		return labbookerr.New(labbookerr.KindInternal, "labbook.Rename", "could not rename labbook directory", err)
	}

	lb.RootPath = newRoot
	lb.Identity.Name = newName
	lb.repo = gitrepo.Open(newRoot, lb.log)

	doc, err := readYAML(filepath.Join(newRoot, gigantumDir, labbookYAMLFile))
	if err != nil {
		return err
	}
	doc.LabBook.Name = newName
	if err := writeYAML(filepath.Join(newRoot, gigantumDir, labbookYAMLFile), doc); err != nil {
		return err
	}

	ctx := context.Background()
	if err := lb.repo.AddAll(ctx); err != nil {
		return err
	}
	_, err = lb.repo.Commit(ctx, "Renamed labbook to "+newName)
	return err
}

// sweepUncommittedChanges auto-commits any uncommitted working-tree
// changes, called defensively before any branch-changing operation.
func (lb *LabBook) sweepUncommittedChanges(ctx context.Context) error {
	status, err := lb.repo.Status(ctx)
	if err != nil {
		return err
	}
	if len(status) == 0 {
		return nil
	}
	if err := lb.repo.AddAll(ctx); err != nil {
		return err
	}
	_, err = lb.repo.Commit(ctx, "Auto-commit on branch change")
	return err
}

// CheckoutBranch switches to branch name. If isNew, the branch must not
// already exist; it is created from the current HEAD. Otherwise, any dirty
// working tree is swept into a commit first so the checkout is
// non-destructive.
func (lb *LabBook) CheckoutBranch(name string, isNew bool) error {
	ctx := context.Background()

	if isNew {
		branches, err := lb.repo.ListBranches(ctx)
		if err != nil {
			return err
		}
		for _, b := range branches {
			if b == name {
				return labbookerr.New(labbookerr.KindConflict, "labbook.CheckoutBranch", "branch already exists: "+name, nil)
			}
		}
		if err := lb.repo.CreateBranch(ctx, name); err != nil {
			return err
		}
		return lb.repo.CheckoutBranch(ctx, name)
	}

	if err := lb.sweepUncommittedChanges(ctx); err != nil {
		return err
	}
	return lb.repo.CheckoutBranch(ctx, name)
}

func writeYAML(path string, doc yamlDoc) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return labbookerr.New(labbookerr.KindInternal, "labbook.writeYAML", "could not marshal labbook.yaml", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return labbookerr.New(labbookerr.KindInternal, "labbook.writeYAML", "could not write labbook.yaml", err)
	}
	return nil
}

func readYAML(path string) (yamlDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return yamlDoc{}, labbookerr.New(labbookerr.KindNotFound, "labbook.readYAML", "could not read labbook.yaml", err)
	}
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return yamlDoc{}, labbookerr.New(labbookerr.KindIntegrity, "labbook.readYAML", "malformed labbook.yaml", err)
	}
	return doc, nil
}
