package labbook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gitmine.dev/labbook/internal/labbookerr"
)

// SetUntracked marks section as a large-file ("untracked") section by
// appending "<section>/*" and "!<section>/.gitkeep" to .gitignore. Refuses
// if the section is not empty (other than its .gitkeep) or is already
// untracked.
func (lb *LabBook) SetUntracked(section string) error {
	root, err := sectionRoot(lb, section)
	if err != nil {
		return err
	}

	gitignorePath := filepath.Join(lb.RootPath, ".gitignore")
	data, err := os.ReadFile(gitignorePath)
	if err != nil {
		return labbookerr.New(labbookerr.KindInternal, "labbook.SetUntracked", "could not read .gitignore", err)
	}
	ignorePattern := section + "/*"
	if strings.Contains(string(data), ignorePattern) {
		return labbookerr.New(labbookerr.KindConflict, "labbook.SetUntracked", "section already untracked: "+section, nil)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return labbookerr.New(labbookerr.KindInternal, "labbook.SetUntracked", "could not list section", err)
	}
	for _, e := range entries {
		if e.Name() != gitkeepFile {
			return labbookerr.New(labbookerr.KindValidation, "labbook.SetUntracked", "section is not empty: "+section, nil)
		}
	}

	appended := fmt.Sprintf("%s\n%s\n!%s/%s\n", string(data), ignorePattern, section, gitkeepFile)
	if err := os.WriteFile(gitignorePath, []byte(appended), 0o644); err != nil {
		return labbookerr.New(labbookerr.KindInternal, "labbook.SetUntracked", "could not write .gitignore", err)
	}
	return nil
}
