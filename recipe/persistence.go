package recipe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// storeFile is the on-disk shape of recipes.json (spec §6).
type storeFile struct {
	ActiveID     RecipeID        `json:"active_id"`
	ActiveBackup *Recipe         `json:"active_backup"`
	All          *OrderedRecipes `json:"all"`
	Variables    Variables       `json:"variables"`
}

// RecipesFileName is the well-known name of the store's persisted file
// within the recipes root directory.
const RecipesFileName = "recipes.json"

// snapshot captures the store's fields for a transaction: mutate the
// returned clone, persist it, and only on success adopt it back into the
// live store. This keeps "in-memory unchanged on I/O failure" (spec §4.7
// step 5) a property of the call sequence rather than requiring manual
// undo logic.
func (s *Store) snapshot() *Store {
	clone := &Store{
		activeID:  s.activeID,
		all:       NewOrderedRecipes(),
		variables: make(Variables, len(s.variables)),
	}
	if s.activeBackup != nil {
		clone.activeBackup = s.activeBackup.Clone()
	}
	s.all.Range(func(id RecipeID, r *Recipe) bool {
		clone.all.Set(id, r.Clone())
		return true
	})
	for k, v := range s.variables {
		clone.variables[k] = v
	}
	return clone
}

// adopt replaces s's fields with candidate's. Caller must hold s's lock.
func (s *Store) adopt(candidate *Store) {
	s.activeID = candidate.activeID
	s.activeBackup = candidate.activeBackup
	s.all = candidate.all
	s.variables = candidate.variables
}

func (s *Store) toFile() *storeFile {
	return &storeFile{
		ActiveID:     s.activeID,
		ActiveBackup: s.activeBackup,
		All:          s.all,
		Variables:    s.variables,
	}
}

// Marshal renders the store in its on-disk JSON shape, pretty-printed.
func (s *Store) Marshal() ([]byte, error) {
	return json.MarshalIndent(s.toFile(), "", "  ")
}

// LoadStore reads and validates a store from recipes.json under root.
// Deserialization rejects active_id not present in all, per spec §6.
func LoadStore(root string) (*Store, error) {
	path := filepath.Join(root, RecipesFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if f.All == nil || !f.All.Has(f.ActiveID) {
		return nil, fmt.Errorf("parse %s: active_id %q not present in all", path, f.ActiveID)
	}
	if f.Variables == nil {
		f.Variables = make(Variables)
	}

	return &Store{
		activeID:     f.ActiveID,
		activeBackup: f.ActiveBackup,
		all:          f.All,
		variables:    f.Variables,
	}, nil
}

// writeAtomic writes data to path by writing to a sibling temp file and
// renaming it into place, so a crash mid-write never leaves recipes.json
// truncated or partially written.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".recipes-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
