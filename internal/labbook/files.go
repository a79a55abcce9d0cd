package labbook

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gitmine.dev/labbook/internal/activitystore"
	"gitmine.dev/labbook/internal/labbookerr"
)

const gitkeepFile = ".gitkeep"

// FileEntry describes one file or directory under a section, as returned
// by Walkdir, Listdir, and InsertFile.
type FileEntry struct {
	Key        string // path relative to the section root
	IsDir      bool
	IsFavorite bool
}

// Makedir creates rel (and any missing parent directories) under the
// LabBook root, leaving a .gitkeep sentinel in every level created so
// empty directories survive a checkout. If createActivityRecord is true,
// the change is staged and committed as a milestone activity record.
func (lb *LabBook) Makedir(rel string, createActivityRecord bool) error {
	full := filepath.Join(lb.RootPath, rel)

	var created []string
	dir := full
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		created = append(created, dir)
		dir = filepath.Dir(dir)
		if dir == lb.RootPath || dir == "." || dir == string(filepath.Separator) {
			break
		}
	}

	if err := os.MkdirAll(full, 0o755); err != nil {
		return labbookerr.New(labbookerr.KindInternal, "labbook.Makedir", "could not create directory", err)
	}
	for _, d := range created {
		if err := os.WriteFile(filepath.Join(d, gitkeepFile), nil, 0o644); err != nil {
			return labbookerr.New(labbookerr.KindInternal, "labbook.Makedir", "could not write .gitkeep", err)
		}
	}

	if !createActivityRecord {
		return nil
	}

	ctx := context.Background()
	if err := lb.repo.AddAll(ctx); err != nil {
		return err
	}
	record := activitystore.NewActivityRecord(activitystore.ActivityMilestone, "Created directory "+rel)
	return lb.activity.CreateActivityRecord(record)
}

func sectionRoot(lb *LabBook, section string) (string, error) {
	if err := validateSection(section); err != nil {
		return "", err
	}
	return filepath.Join(lb.RootPath, section), nil
}

// validateWithinSection ensures dest (relative) does not escape section via
// ".." path traversal.
func validateWithinSection(dest string) error {
	cleaned := filepath.Clean(dest)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return labbookerr.New(labbookerr.KindValidation, "labbook.validateWithinSection", "destination escapes section: "+dest, nil)
	}
	return nil
}

// InsertFile copies src into section/dest (optionally renamed to
// baseFilename), stages and commits it, and returns its file entry.
func (lb *LabBook) InsertFile(section, src, dest, baseFilename string) (FileEntry, error) {
	root, err := sectionRoot(lb, section)
	if err != nil {
		return FileEntry{}, err
	}
	if err := validateWithinSection(dest); err != nil {
		return FileEntry{}, err
	}

	destRel := dest
	if baseFilename != "" {
		destRel = filepath.Join(dest, baseFilename)
	}
	destPath := filepath.Join(root, destRel)

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return FileEntry{}, labbookerr.New(labbookerr.KindInternal, "labbook.InsertFile", "could not create destination directory", err)
	}
	if err := copyFile(src, destPath); err != nil {
		return FileEntry{}, err
	}

	ctx := context.Background()
	if err := lb.repo.AddAll(ctx); err != nil {
		return FileEntry{}, err
	}
	if _, err := lb.repo.Commit(ctx, fmt.Sprintf("Added file %s to %s", destRel, section)); err != nil {
		return FileEntry{}, err
	}

	isFav, err := lb.isFavorite(section, destRel)
	if err != nil {
		return FileEntry{}, err
	}
	return FileEntry{Key: destRel, IsDir: false, IsFavorite: isFav}, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return labbookerr.New(labbookerr.KindInternal, "labbook.copyFile", "could not open source file", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return labbookerr.New(labbookerr.KindInternal, "labbook.copyFile", "could not create destination file", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return labbookerr.New(labbookerr.KindInternal, "labbook.copyFile", "could not copy file contents", err)
	}
	return nil
}

// DeleteFile removes rel under section. A directory may only be removed
// when directory is true.
func (lb *LabBook) DeleteFile(section, rel string, directory bool) error {
	root, err := sectionRoot(lb, section)
	if err != nil {
		return err
	}
	full := filepath.Join(root, rel)

	info, err := os.Stat(full)
	if err != nil {
		return labbookerr.New(labbookerr.KindNotFound, "labbook.DeleteFile", "path not found: "+rel, err)
	}
	if info.IsDir() && !directory {
		return labbookerr.New(labbookerr.KindValidation, "labbook.DeleteFile", "refusing to delete a directory without directory=true", nil)
	}

	if err := os.RemoveAll(full); err != nil {
		return labbookerr.New(labbookerr.KindInternal, "labbook.DeleteFile", "could not remove path", err)
	}

	ctx := context.Background()
	if err := lb.repo.AddAll(ctx); err != nil {
		return err
	}
	_, err = lb.repo.Commit(ctx, fmt.Sprintf("Deleted %s from %s", rel, section))
	return err
}

// MoveFile moves src to dest within section, staged and committed.
func (lb *LabBook) MoveFile(section, src, dest string) error {
	root, err := sectionRoot(lb, section)
	if err != nil {
		return err
	}
	if err := validateWithinSection(dest); err != nil {
		return err
	}

	srcPath := filepath.Join(root, src)
	destPath := filepath.Join(root, dest)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return labbookerr.New(labbookerr.KindInternal, "labbook.MoveFile", "could not create destination directory", err)
	}
	if err := os.Rename(srcPath, destPath); err != nil {
		return labbookerr.New(labbookerr.KindInternal, "labbook.MoveFile", "could not move file", err)
	}

	ctx := context.Background()
	if err := lb.repo.AddAll(ctx); err != nil {
		return err
	}
	_, err = lb.repo.Commit(ctx, fmt.Sprintf("Moved %s to %s in %s", src, dest, section))
	return err
}

// hiddenComponent reports whether any path component starts with a dot.
func hiddenComponent(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// Walkdir returns a sorted list of every entry under section. By default,
// hidden entries (a path component starting with '.', or rooted under
// .git/.gigantum) are omitted.
func (lb *LabBook) Walkdir(section string, showHidden bool) ([]FileEntry, error) {
	root, err := sectionRoot(lb, section)
	if err != nil {
		return nil, err
	}

	var entries []FileEntry
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if !showHidden && hiddenComponent(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		isFav, err := lb.isFavorite(section, rel)
		if err != nil {
			return err
		}
		entries = append(entries, FileEntry{Key: rel, IsDir: info.IsDir(), IsFavorite: isFav})
		return nil
	})
	if err != nil {
		return nil, labbookerr.New(labbookerr.KindInternal, "labbook.Walkdir", "could not walk section", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Listdir returns a single-level listing under section/basePath.
func (lb *LabBook) Listdir(section, basePath string) ([]FileEntry, error) {
	root, err := sectionRoot(lb, section)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(root, basePath)

	infos, err := os.ReadDir(full)
	if err != nil {
		return nil, labbookerr.New(labbookerr.KindNotFound, "labbook.Listdir", "base path does not exist: "+basePath, err)
	}

	entries := make([]FileEntry, 0, len(infos))
	for _, info := range infos {
		rel := filepath.Join(basePath, info.Name())
		isFav, err := lb.isFavorite(section, rel)
		if err != nil {
			return nil, err
		}
		entries = append(entries, FileEntry{Key: rel, IsDir: info.IsDir(), IsFavorite: isFav})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}
