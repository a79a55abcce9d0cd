// Package labbook implements C4, the LabBook Core: identity, on-disk
// layout, lifecycle, branch management, and file/favorite operations for a
// version-controlled project container.
package labbook

import (
	"path/filepath"
	"regexp"
	"strings"

	"gitmine.dev/labbook/internal/labbookerr"
)

// Identity is a LabBook's three-part address: the local working-copy
// namespace (User), the LabBook's actual owner, and its Name.
type Identity struct {
	User  string
	Owner string
	Name  string
}

// Key renders the compact "<user>|<owner>|<name>" form used in coordinator
// keys and external APIs.
func (id Identity) Key() string {
	return id.User + "|" + id.Owner + "|" + id.Name
}

// ParseKey recovers an Identity from its Key() form.
func ParseKey(key string) (Identity, error) {
	parts := strings.Split(key, "|")
	if len(parts) != 3 {
		return Identity{}, labbookerr.New(labbookerr.KindValidation, "labbook.ParseKey", "malformed labbook key: "+key, nil)
	}
	return Identity{User: parts[0], Owner: parts[1], Name: parts[2]}, nil
}

// namePattern matches lowercase alphanumerics separated by single hyphens,
// forbidding leading/trailing hyphens and doubled hyphens.
var namePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

const maxNameLength = 100

// ValidateName enforces the LabBook and owner naming rule.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > maxNameLength || !namePattern.MatchString(name) {
		return labbookerr.New(labbookerr.KindValidation, "labbook.ValidateName", "invalid name: "+name, nil)
	}
	return nil
}

// Path computes the on-disk root of a LabBook under workingDir:
// <workingDir>/<user>/<owner>/labbooks/<name>.
func Path(workingDir string, id Identity) string {
	return filepath.Join(workingDir, id.User, id.Owner, "labbooks", id.Name)
}

const (
	sectionCode   = "code"
	sectionInput  = "input"
	sectionOutput = "output"
)

var validSections = map[string]bool{sectionCode: true, sectionInput: true, sectionOutput: true}

func validateSection(section string) error {
	if !validSections[section] {
		return labbookerr.New(labbookerr.KindValidation, "labbook.validateSection", "invalid section: "+section, nil)
	}
	return nil
}
