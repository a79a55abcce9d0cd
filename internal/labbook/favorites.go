package labbook

import (
	"encoding/json"
	"os"
	"path/filepath"

	"gitmine.dev/labbook/internal/labbookerr"
)

// Favorite is one entry in a section's favorites list.
type Favorite struct {
	Index       int    `json:"index"`
	Key         string `json:"key"`
	Description string `json:"description"`
	IsDir       bool   `json:"is_dir"`
}

func favoritesPath(lb *LabBook, section string) string {
	return filepath.Join(lb.RootPath, gigantumDir, "favorites", section+".json")
}

func loadFavorites(lb *LabBook, section string) ([]Favorite, error) {
	data, err := os.ReadFile(favoritesPath(lb, section))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, labbookerr.New(labbookerr.KindInternal, "labbook.loadFavorites", "could not read favorites file", err)
	}
	var favs []Favorite
	if err := json.Unmarshal(data, &favs); err != nil {
		return nil, labbookerr.New(labbookerr.KindIntegrity, "labbook.loadFavorites", "malformed favorites file", err)
	}
	return favs, nil
}

func saveFavorites(lb *LabBook, section string, favs []Favorite) error {
	data, err := json.MarshalIndent(favs, "", "  ")
	if err != nil {
		return labbookerr.New(labbookerr.KindInternal, "labbook.saveFavorites", "could not marshal favorites", err)
	}
	if err := os.WriteFile(favoritesPath(lb, section), data, 0o644); err != nil {
		return labbookerr.New(labbookerr.KindInternal, "labbook.saveFavorites", "could not write favorites file", err)
	}
	return nil
}

func (lb *LabBook) isFavorite(section, key string) (bool, error) {
	favs, err := loadFavorites(lb, section)
	if err != nil {
		return false, err
	}
	for _, f := range favs {
		if f.Key == key {
			return true, nil
		}
	}
	return false, nil
}

// CreateFavorite marks key (a file or directory already present under
// section) as a favorite. Without position, the entry is appended;
// otherwise it is inserted at position (range-checked). Duplicates are
// refused.
func (lb *LabBook) CreateFavorite(section, key, description string, isDir bool, position *int) error {
	root, err := sectionRoot(lb, section)
	if err != nil {
		return err
	}

	info, err := os.Stat(filepath.Join(root, key))
	if err != nil {
		return labbookerr.New(labbookerr.KindNotFound, "labbook.CreateFavorite", "favorite target does not exist: "+key, err)
	}
	if info.IsDir() != isDir {
		return labbookerr.New(labbookerr.KindValidation, "labbook.CreateFavorite", "favorite target kind mismatch for "+key, nil)
	}

	favs, err := loadFavorites(lb, section)
	if err != nil {
		return err
	}
	for _, f := range favs {
		if f.Key == key {
			return labbookerr.New(labbookerr.KindConflict, "labbook.CreateFavorite", "already a favorite: "+key, nil)
		}
	}

	entry := Favorite{Key: key, Description: description, IsDir: isDir}

	if position == nil {
		entry.Index = len(favs)
		favs = append(favs, entry)
	} else {
		pos := *position
		if pos < 0 || pos > len(favs) {
			return labbookerr.New(labbookerr.KindValidation, "labbook.CreateFavorite", "position out of range", nil)
		}
		favs = append(favs[:pos], append([]Favorite{entry}, favs[pos:]...)...)
	}

	renumber(favs)
	return saveFavorites(lb, section, favs)
}

// RemoveFavorite removes the favorite at index and renumbers the remaining
// entries so indices stay dense (0..n-1, no gaps).
func (lb *LabBook) RemoveFavorite(section string, index int) error {
	favs, err := loadFavorites(lb, section)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(favs) {
		return labbookerr.New(labbookerr.KindValidation, "labbook.RemoveFavorite", "index out of range", nil)
	}

	favs = append(favs[:index], favs[index+1:]...)
	renumber(favs)
	return saveFavorites(lb, section, favs)
}

func renumber(favs []Favorite) {
	for i := range favs {
		favs[i].Index = i
	}
}
